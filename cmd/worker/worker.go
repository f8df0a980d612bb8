package main

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"pdf-chat-backend/internal/ai"
	"pdf-chat-backend/internal/config"
	"pdf-chat-backend/internal/logger"
	"pdf-chat-backend/internal/queue"
	"pdf-chat-backend/internal/rag"
	"pdf-chat-backend/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer mongoClient.Disconnect(context.Background())
	db := mongoClient.Database(cfg.DBName)

	gemini, err := ai.NewGeminiClient(context.Background(), ai.GeminiOptions{
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
	// The worker keeps its own index so inserts validate dimensions; the
	// API process picks up finished documents through its index sync.
	index, err := rag.NewVectorIndex(cfg.VectorDimensions)
	if err != nil {
		log.Fatal("Invalid index configuration:", err)
	}

	store := services.NewStore(db)
	extractor := services.NewPDFExtractor(cfg.MaxFileSize)
	ingest := services.NewIngestService(store, extractor, chunker, gemini, index, nil)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(ingest)

	mux := asynq.NewServeMux()
	processor.Register(mux)

	logger.Info("Starting ingestion worker", "redis", redisOpt.Addr, "concurrency", 10)

	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
