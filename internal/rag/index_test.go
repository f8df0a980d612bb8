package rag

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"testing"

	"pdf-chat-backend/models"
)

// vec2 builds a unit-length 2d vector whose cosine similarity with [1,0]
// equals sim.
func vec2(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

func testChunks(docID string, sims ...float64) []models.Chunk {
	chunks := make([]models.Chunk, len(sims))
	for i, s := range sims {
		chunks[i] = models.Chunk{
			ChunkID:    fmt.Sprintf("%s_%d", docID, i),
			DocumentID: docID,
			Seq:        i,
			Page:       1,
			Text:       fmt.Sprintf("%s chunk %d", docID, i),
			Vector:     vec2(s),
		}
	}
	return chunks
}

var queryVec = []float32{1, 0}

func TestSearchEmptyCandidateSetIsEmpty(t *testing.T) {
	ix, err := NewVectorIndex(2)
	if err != nil {
		t.Fatal(err)
	}
	if err := ix.Insert("docA", testChunks("docA", 0.9)); err != nil {
		t.Fatal(err)
	}
	if hits := ix.Search(queryVec, nil, 5); len(hits) != 0 {
		t.Fatalf("empty candidate set must yield empty result, got %d hits", len(hits))
	}
	if hits := ix.Search(queryVec, []string{}, 5); len(hits) != 0 {
		t.Fatalf("empty candidate set must yield empty result, got %d hits", len(hits))
	}
}

func TestSearchNeverLeaksOtherDocuments(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	if err := ix.Insert("docA", testChunks("docA", 0.5, 0.6)); err != nil {
		t.Fatal(err)
	}
	if err := ix.Insert("docB", testChunks("docB", 0.99)); err != nil {
		t.Fatal(err)
	}

	hits := ix.Search(queryVec, []string{"docA"}, 10)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	for _, h := range hits {
		if h.DocumentID != "docA" {
			t.Fatalf("hit %s leaked from document %s", h.ChunkID, h.DocumentID)
		}
	}
}

func TestInsertDuplicateChunkFailsAtomically(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	if err := ix.Insert("docA", testChunks("docA", 0.5)); err != nil {
		t.Fatal(err)
	}

	before := ix.Stats()

	// Batch with a fresh chunk and a duplicate: nothing may be applied.
	batch := testChunks("docA", 0.5, 0.6)
	err := ix.Insert("docA", batch)
	var dup *DuplicateChunkError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateChunkError, got %v", err)
	}
	if after := ix.Stats(); !reflect.DeepEqual(before, after) {
		t.Fatalf("failed insert mutated the index: before=%+v after=%+v", before, after)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	if err := ix.Insert("docA", testChunks("docA", 0.5)); err != nil {
		t.Fatal(err)
	}
	ix.Remove("docA")
	ix.Remove("docA")
	ix.Remove("never-existed")
	if stats := ix.Stats(); stats.TotalChunks != 0 {
		t.Fatalf("expected empty index, got %d chunks", stats.TotalChunks)
	}
}

func TestReingestionIsIdempotent(t *testing.T) {
	chunks := testChunks("docA", 0.4, 0.8, 0.6)

	ix, _ := NewVectorIndex(2)
	if err := ix.Insert("docA", chunks); err != nil {
		t.Fatal(err)
	}
	want := ix.Search(queryVec, []string{"docA"}, 3)

	for i := 0; i < 2; i++ {
		ix.Remove("docA")
		if err := ix.Insert("docA", chunks); err != nil {
			t.Fatalf("re-ingestion round %d: %v", i, err)
		}
	}

	got := ix.Search(queryVec, []string{"docA"}, 3)
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("re-ingested index differs: want %+v, got %+v", want, got)
	}
}

func TestSearchRankingAndTieBreak(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	// Two chunks with identical vectors: the earlier sequence index wins.
	if err := ix.Insert("docA", testChunks("docA", 0.7, 0.7, 0.9)); err != nil {
		t.Fatal(err)
	}

	hits := ix.Search(queryVec, []string{"docA"}, 3)
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	if hits[0].ChunkID != "docA_2" {
		t.Errorf("best hit = %s, want docA_2", hits[0].ChunkID)
	}
	if hits[1].ChunkID != "docA_0" || hits[2].ChunkID != "docA_1" {
		t.Errorf("tie not broken by sequence index: got %s then %s", hits[1].ChunkID, hits[2].ChunkID)
	}
}

func TestSearchHonorsK(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	if err := ix.Insert("docA", testChunks("docA", 0.1, 0.2, 0.3, 0.4)); err != nil {
		t.Fatal(err)
	}
	if hits := ix.Search(queryVec, []string{"docA"}, 2); len(hits) != 2 {
		t.Fatalf("expected k=2 hits, got %d", len(hits))
	}
	// Fewer candidates than k returns all of them.
	if hits := ix.Search(queryVec, []string{"docA"}, 100); len(hits) != 4 {
		t.Fatalf("expected all 4 hits, got %d", len(hits))
	}
}

func TestInsertRejectsDimensionMismatch(t *testing.T) {
	ix, _ := NewVectorIndex(3)
	err := ix.Insert("docA", testChunks("docA", 0.5)) // 2d vectors
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	if err := ix.Insert("stable", testChunks("stable", 0.9)); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			docID := fmt.Sprintf("doc%d", w)
			for i := 0; i < 50; i++ {
				ix.Remove(docID)
				if err := ix.Insert(docID, testChunks(docID, 0.5)); err != nil {
					t.Errorf("insert: %v", err)
					return
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				hits := ix.Search(queryVec, []string{"stable"}, 1)
				if len(hits) != 1 || hits[0].DocumentID != "stable" {
					t.Errorf("reader observed inconsistent state: %+v", hits)
					return
				}
			}
		}()
	}
	wg.Wait()
}
