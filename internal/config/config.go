package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI string
	DBName   string
	Port     string
	GinMode  string

	CORSOrigins []string

	// Upload limits
	MaxFileSize  int64
	AllowedTypes []string
	// Files at or under this size are processed in the request; larger
	// ones go through the task queue.
	SyncProcessingLimit int64
	FileStorageDir      string

	// Gemini
	GeminiAPIKey   string
	GeminiModel    string
	EmbeddingModel string
	GeminiRPM      int
	Temperature    float64

	// Chunking and retrieval
	ChunkSize           int
	ChunkOverlap        int
	VectorDimensions    int
	TopK                int
	SimilarityThreshold float64

	// Prompt budgets
	HistoryTurns      int
	HistoryCharBudget int
	ContextCharBudget int
	MaxOutputTokens   int
	GenerateTimeout   time.Duration
	GenerateRetries   int
	GenerateBackoff   time.Duration

	// HTTP rate limiting
	RateLimitReqs   int
	RateLimitWindow int

	// Session housekeeping
	SessionIdleTTL  time.Duration
	CleanupInterval time.Duration

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Tracing
	OTLPEndpoint string
	ServiceName  string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/pdf_chat"),
		DBName:   getEnv("DB_NAME", "pdf_chat"),
		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "debug"),

		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		MaxFileSize:         getEnvInt64("MAX_FILE_SIZE", 104857600), // 100MB
		AllowedTypes:        strings.Split(getEnv("ALLOWED_FILE_TYPES", "application/pdf"), ","),
		SyncProcessingLimit: getEnvInt64("SYNC_PROCESSING_LIMIT", 20971520), // 20MB
		FileStorageDir:      getEnv("FILE_STORAGE_DIR", "./storage"),

		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-004"),
		GeminiRPM:      getEnvInt("GEMINI_RPM", 60),
		Temperature:    getEnvFloat64("GEMINI_TEMPERATURE", 0.2),

		ChunkSize:           getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:        getEnvInt("CHUNK_OVERLAP", 200),
		VectorDimensions:    getEnvInt("VECTOR_DIM", 768),
		TopK:                getEnvInt("TOP_K", 5),
		SimilarityThreshold: getEnvFloat64("SIMILARITY_THRESHOLD", 0.7),

		HistoryTurns:      getEnvInt("HISTORY_TURNS", 10),
		HistoryCharBudget: getEnvInt("HISTORY_CHAR_BUDGET", 4000),
		ContextCharBudget: getEnvInt("CONTEXT_CHAR_BUDGET", 12000),
		MaxOutputTokens:   getEnvInt("MAX_OUTPUT_TOKENS", 1024),
		GenerateTimeout:   getEnvDuration("GENERATE_TIMEOUT", 30*time.Second),
		GenerateRetries:   getEnvInt("GENERATE_RETRIES", 2),
		GenerateBackoff:   getEnvDuration("GENERATE_BACKOFF", time.Second),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		SessionIdleTTL:  getEnvDuration("SESSION_IDLE_TTL", 24*time.Hour),
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", 15*time.Minute),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),
		ServiceName:  getEnv("SERVICE_NAME", "pdf-chat-backend"),
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}
	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("SIMILARITY_THRESHOLD must be within [0,1], got %v", cfg.SimilarityThreshold)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
