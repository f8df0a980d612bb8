package ai

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	genai "github.com/google/generative-ai-go/genai"

	"pdf-chat-backend/internal/rag"
)

// Embed returns the embedding vector for the given text using the
// configured Google embedding model (text-embedding-004 by default).
func (gc *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.embed_content")
	defer span.End()
	span.SetAttributes(
		attribute.String("gemini.model", gc.embeddingModel),
		attribute.Int("gemini.text_chars", len(text)),
	)

	if err := gc.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return nil, &rag.EmbeddingError{Err: err, Transient: true}
	}

	result, err := gc.breaker.Execute(func() (interface{}, error) {
		model := gc.client.EmbeddingModel(gc.embeddingModel)
		return model.EmbedContent(ctx, genai.Text(text))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			span.SetAttributes(attribute.Bool("gemini.circuit_breaker_open", true))
			return nil, &rag.EmbeddingError{Err: err, Transient: true}
		}
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return nil, &rag.EmbeddingError{Err: err, Transient: isTransientAPIError(err)}
	}

	resp := result.(*genai.EmbedContentResponse)
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, &rag.EmbeddingError{Err: errors.New("no embedding returned"), Transient: false}
	}
	span.SetAttributes(attribute.Int("gemini.vector_dimensions", len(resp.Embedding.Values)))
	return resp.Embedding.Values, nil
}

// EmbedBatch embeds texts one by one, stopping at the first failure.
// Ingestion relies on this to abort a document without partial state.
func (gc *GeminiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := gc.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}
