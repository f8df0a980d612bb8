package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Embedder is the external embedding capability. Implementations must be
// deterministic for identical input within one index generation.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever turns a question into a ranked set of relevant chunks. It
// issues one search across the full candidate document set so scores stay
// comparable across documents.
type Retriever struct {
	embedder Embedder
	index    *VectorIndex
	minScore float64
}

// NewRetriever wires the embedding capability to the index. minScore is
// the similarity floor below which chunks are considered irrelevant.
func NewRetriever(embedder Embedder, index *VectorIndex, minScore float64) (*Retriever, error) {
	if embedder == nil || index == nil {
		return nil, &ConfigurationError{Reason: "retriever requires an embedder and an index"}
	}
	if minScore < 0 || minScore > 1 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("similarity threshold must be in [0,1], got %v", minScore)}
	}
	return &Retriever{embedder: embedder, index: index, minScore: minScore}, nil
}

// Retrieve embeds the query and returns up to k chunks from the given
// documents, ranked by similarity. An empty document set fails fast with
// NoCorpusError before any capability call. Results are deduplicated by
// chunk id and near-duplicate passages are dropped in rank order.
func (r *Retriever) Retrieve(ctx context.Context, query string, documentIDs []string, k int) ([]SearchHit, error) {
	if len(documentIDs) == 0 {
		return nil, &NoCorpusError{}
	}
	if k <= 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("top-k must be positive, got %d", k)}
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		var ee *EmbeddingError
		if errors.As(err, &ee) {
			return nil, err
		}
		return nil, &EmbeddingError{Err: err, Transient: errors.Is(err, context.DeadlineExceeded)}
	}

	// Over-fetch so that threshold and duplicate filtering still leave k
	// results when enough distinct passages exist.
	raw := r.index.Search(vec, documentIDs, 2*k)

	hits := make([]SearchHit, 0, k)
	seen := make(map[string]struct{}, len(raw))
	for _, h := range raw {
		if h.Score < r.minScore {
			continue
		}
		if _, ok := seen[h.ChunkID]; ok {
			continue
		}
		seen[h.ChunkID] = struct{}{}
		if isNearDuplicate(h.Text, hits) {
			continue
		}
		hits = append(hits, h)
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// isNearDuplicate reports whether text repeats a passage already kept.
// Overlapping chunk windows can surface the same content twice; a word
// Jaccard similarity of 0.8 or more counts as a duplicate.
func isNearDuplicate(text string, kept []SearchHit) bool {
	set := wordSet(text)
	for _, h := range kept {
		if jaccard(set, wordSet(h.Text)) >= 0.8 {
			return true
		}
	}
	return false
}

func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
