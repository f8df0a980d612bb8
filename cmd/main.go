package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"pdf-chat-backend/internal/ai"
	"pdf-chat-backend/internal/config"
	"pdf-chat-backend/internal/logger"
	"pdf-chat-backend/internal/rag"
	"pdf-chat-backend/internal/telemetry"
	"pdf-chat-backend/middleware"
	"pdf-chat-backend/routes"
	"pdf-chat-backend/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	shutdownTracer, err := telemetry.InitTracer(cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal("Failed to initialize tracer:", err)
	}
	defer shutdownTracer()

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to initialize metrics:", err)
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()
	db := mongoClient.Database(cfg.DBName)

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	ctx := context.Background()

	gemini, err := ai.NewGeminiClient(ctx, ai.GeminiOptions{
		APIKey:         cfg.GeminiAPIKey,
		EmbeddingModel: cfg.EmbeddingModel,
		ChatModel:      cfg.GeminiModel,
		RequestsPerMin: cfg.GeminiRPM,
		Temperature:    float32(cfg.Temperature),
	})
	if err != nil {
		log.Fatal("Failed to initialize Gemini client:", err)
	}
	defer gemini.Close()

	chunker, err := rag.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		log.Fatal("Invalid chunking configuration:", err)
	}
	index, err := rag.NewVectorIndex(cfg.VectorDimensions)
	if err != nil {
		log.Fatal("Invalid index configuration:", err)
	}
	retriever, err := rag.NewRetriever(gemini, index, cfg.SimilarityThreshold)
	if err != nil {
		log.Fatal("Invalid retriever configuration:", err)
	}

	sessions := rag.NewSessionStore()
	store := services.NewStore(db)
	extractor := services.NewPDFExtractor(cfg.MaxFileSize)
	ingest := services.NewIngestService(store, extractor, chunker, gemini, index, metrics)

	composer, err := rag.NewComposer(retriever, gemini, sessions, ingest, rag.ComposerConfig{
		TopK:              cfg.TopK,
		HistoryTurns:      cfg.HistoryTurns,
		HistoryCharBudget: cfg.HistoryCharBudget,
		ContextCharBudget: cfg.ContextCharBudget,
		MaxOutputTokens:   cfg.MaxOutputTokens,
		GenerateTimeout:   cfg.GenerateTimeout,
		MaxRetries:        cfg.GenerateRetries,
		RetryBackoff:      cfg.GenerateBackoff,
	})
	if err != nil {
		log.Fatal("Invalid composer configuration:", err)
	}

	restoreState(ctx, store, sessions, ingest)

	queueClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer queueClient.Close()

	exportService := services.NewExportService(sessions)

	cleanup := services.NewCleanupService(sessions, store, ingest, cfg.SessionIdleTTL)
	if err := cleanup.Start(cfg.CleanupInterval); err != nil {
		log.Fatal("Failed to start cleanup scheduler:", err)
	}
	defer cleanup.Stop()

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.EnrichTrace())
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.RateLimitMiddleware(rdb, cfg))

	router.GET("/health", routes.Health())
	router.GET("/ready", routes.Ready(mongoClient, rdb))

	api := router.Group("/api/v1")
	{
		api.POST("/documents", routes.HandlePDFUpload(cfg, store, ingest, queueClient))
		api.GET("/documents", routes.ListDocuments(store))
		api.GET("/documents/:id", routes.GetDocument(store))
		api.DELETE("/documents/:id", routes.DeleteDocument(ingest))
		api.POST("/documents/:id/reprocess", routes.ReprocessDocument(cfg, store, ingest, queueClient))
		api.GET("/index/stats", routes.IndexStats(index))

		api.POST("/sessions", routes.CreateSession(sessions, store))
		api.GET("/sessions/:id", routes.GetSession(sessions))
		api.DELETE("/sessions/:id", routes.DeleteSession(sessions, store))
		api.POST("/sessions/:id/documents", routes.AttachDocuments(sessions, store))
		api.DELETE("/sessions/:id/documents/:docID", routes.DetachDocument(sessions, store))
		api.GET("/sessions/:id/messages", routes.GetMessages(sessions))
		api.GET("/sessions/:id/export", routes.ExportSession(exportService))

		api.POST("/ask", routes.Ask(composer, store, metrics))
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}

// restoreState reloads persisted sessions and rebuilds the vector index
// so a restart does not lose conversations or force re-embedding.
func restoreState(ctx context.Context, store *services.Store, sessions *rag.SessionStore, ingest *services.IngestService) {
	persisted, err := store.LoadSessions(ctx)
	if err != nil {
		logger.Error("Failed to load persisted sessions", "error", err)
	} else {
		for _, sess := range persisted {
			turns, err := store.LoadTurns(ctx, sess.ID, 0)
			if err != nil {
				logger.Error("Failed to load turns", "session_id", sess.ID, "error", err)
				continue
			}
			sessions.Restore(sess, turns)
		}
		logger.Info("Sessions restored", "count", len(persisted))
	}

	if err := ingest.SyncIndex(ctx); err != nil {
		logger.Error("Initial index sync failed", "error", err)
	}
}
