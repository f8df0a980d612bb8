package rag

import (
	"context"
	"errors"
	"testing"
)

type stubEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.vec, nil
}

func TestRetrieveEmptyCorpusFailsFast(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	emb := &stubEmbedder{vec: queryVec}
	r, err := NewRetriever(emb, ix, 0)
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Retrieve(context.Background(), "what is RLHF?", nil, 5)
	var noCorpus *NoCorpusError
	if !errors.As(err, &noCorpus) {
		t.Fatalf("expected NoCorpusError, got %v", err)
	}
	if emb.calls != 0 {
		t.Fatalf("embedder must not be called for an empty corpus, got %d calls", emb.calls)
	}
}

func TestRetrieveAppliesThreshold(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	if err := ix.Insert("docA", testChunks("docA", 0.95, 0.4, 0.85)); err != nil {
		t.Fatal(err)
	}
	r, err := NewRetriever(&stubEmbedder{vec: queryVec}, ix, 0.7)
	if err != nil {
		t.Fatal(err)
	}

	hits, err := r.Retrieve(context.Background(), "q", []string{"docA"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits above threshold, got %d", len(hits))
	}
	for _, h := range hits {
		if h.Score < 0.7 {
			t.Errorf("hit %s below threshold: %v", h.ChunkID, h.Score)
		}
	}
}

func TestRetrieveDropsNearDuplicatePassages(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	chunks := testChunks("docA", 0.9, 0.85)
	// Overlapping windows repeating the same passage.
	chunks[0].Text = "the attention mechanism weighs token pairs"
	chunks[1].Text = "the attention mechanism weighs token pairs"
	if err := ix.Insert("docA", chunks); err != nil {
		t.Fatal(err)
	}
	r, _ := NewRetriever(&stubEmbedder{vec: queryVec}, ix, 0)

	hits, err := r.Retrieve(context.Background(), "attention", []string{"docA"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected duplicate passage to be dropped, got %d hits", len(hits))
	}
	if hits[0].ChunkID != "docA_0" {
		t.Errorf("kept hit = %s, want the higher-ranked docA_0", hits[0].ChunkID)
	}
}

func TestRetrieveWrapsEmbeddingFailure(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	if err := ix.Insert("docA", testChunks("docA", 0.9)); err != nil {
		t.Fatal(err)
	}
	r, _ := NewRetriever(&stubEmbedder{err: errors.New("quota exhausted")}, ix, 0)

	_, err := r.Retrieve(context.Background(), "q", []string{"docA"}, 5)
	var embErr *EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("expected EmbeddingError, got %v", err)
	}
}

func TestRetrieveRespectsCandidateSet(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	if err := ix.Insert("docA", testChunks("docA", 0.9)); err != nil {
		t.Fatal(err)
	}
	if err := ix.Insert("docB", testChunks("docB", 0.95)); err != nil {
		t.Fatal(err)
	}
	r, _ := NewRetriever(&stubEmbedder{vec: queryVec}, ix, 0)

	hits, err := r.Retrieve(context.Background(), "q", []string{"docB"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.DocumentID != "docB" {
			t.Fatalf("retrieved chunk from outside the candidate set: %s", h.DocumentID)
		}
	}
}
