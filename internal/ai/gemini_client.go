package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"pdf-chat-backend/internal/logger"
	"pdf-chat-backend/internal/rag"
)

// GeminiClient wraps the Google Generative AI SDK with a circuit breaker
// and an RPM rate limiter shared by embedding and generation calls.
type GeminiClient struct {
	client         *genai.Client
	breaker        *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	embeddingModel string
	chatModel      string
	temperature    float32
}

type GeminiOptions struct {
	APIKey         string
	EmbeddingModel string
	ChatModel      string
	RequestsPerMin int
	Temperature    float32
}

func NewGeminiClient(ctx context.Context, opts GeminiOptions) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, &rag.ConfigurationError{Reason: "missing GEMINI_API_KEY"}
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	rpm := opts.RequestsPerMin
	if rpm <= 0 {
		rpm = 60
	}
	burst := rpm / 10
	if burst < 1 {
		burst = 1
	}
	rateLimiter := rate.NewLimiter(rate.Limit(float64(rpm)*0.9/60.0), burst)

	return &GeminiClient{
		client:         client,
		breaker:        breaker,
		rateLimiter:    rateLimiter,
		embeddingModel: opts.EmbeddingModel,
		chatModel:      opts.ChatModel,
		temperature:    opts.Temperature,
	}, nil
}

// Generate produces a completion for the already assembled prompt.
// Failures come back as GenerationError with transient classification so
// callers can decide whether a retry is worthwhile.
func (gc *GeminiClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.generate_content")
	defer span.End()
	span.SetAttributes(
		attribute.String("gemini.model", gc.chatModel),
		attribute.Int("gemini.prompt_chars", len(prompt)),
	)

	if err := gc.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return "", &rag.GenerationError{Err: err, Transient: true}
	}

	result, err := gc.breaker.Execute(func() (interface{}, error) {
		model := gc.client.GenerativeModel(gc.chatModel)
		model.SetTemperature(gc.temperature)
		if maxTokens > 0 {
			model.SetMaxOutputTokens(int32(maxTokens))
		}
		return model.GenerateContent(ctx, genai.Text(prompt))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			span.SetAttributes(attribute.Bool("gemini.circuit_breaker_open", true))
			return "", &rag.GenerationError{Err: err, Transient: true}
		}
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return "", &rag.GenerationError{Err: err, Transient: isTransientAPIError(err)}
	}

	resp := result.(*genai.GenerateContentResponse)
	text := extractText(resp)
	if text == "" {
		span.SetAttributes(attribute.Bool("gemini.empty_response", true))
		return "", &rag.GenerationError{Err: errors.New("model returned no text candidates"), Transient: false}
	}

	if resp.UsageMetadata != nil {
		span.SetAttributes(attribute.Int("gemini.total_tokens", int(resp.UsageMetadata.TotalTokenCount)))
	}
	return text, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// isTransientAPIError treats quota exhaustion and server-side failures as
// retryable, everything else (bad request, auth, safety block) as final.
func isTransientAPIError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

func (gc *GeminiClient) Close() error {
	if gc.client != nil {
		return gc.client.Close()
	}
	return nil
}
