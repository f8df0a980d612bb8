package rag

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestNewChunkerRejectsBadParams(t *testing.T) {
	cases := []struct {
		name    string
		size    int
		overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -10, 0},
		{"negative overlap", 100, -1},
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewChunker(tc.size, tc.overlap)
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestChunkEmptyTextYieldsNoChunks(t *testing.T) {
	c, err := NewChunker(500, 50)
	if err != nil {
		t.Fatal(err)
	}
	if chunks := c.Chunk("doc1", "", nil); len(chunks) != 0 {
		t.Fatalf("expected zero chunks for empty text, got %d", len(chunks))
	}
}

func TestChunkWindowsAndOverlap(t *testing.T) {
	c, err := NewChunker(500, 50)
	if err != nil {
		t.Fatal(err)
	}
	text := strings.Repeat("a", 1020)

	chunks := c.Chunk("transformer", text, nil)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	wantLens := []int{500, 500, 120}
	for i, ch := range chunks {
		if got := len([]rune(ch.Text)); got != wantLens[i] {
			t.Errorf("chunk %d: length = %d, want %d", i, got, wantLens[i])
		}
		if ch.Seq != i {
			t.Errorf("chunk %d: seq = %d", i, ch.Seq)
		}
	}

	// Adjacent chunks share exactly the configured overlap.
	for i := 1; i < len(chunks); i++ {
		shared := chunks[i-1].EndOffset - chunks[i].StartOffset
		if shared != 50 {
			t.Errorf("chunks %d/%d: shared span = %d, want 50", i-1, i, shared)
		}
	}

	if chunks[2].EndOffset != 1020 {
		t.Errorf("final chunk end = %d, want 1020 (never padded)", chunks[2].EndOffset)
	}
}

func TestChunkDeterminism(t *testing.T) {
	c, err := NewChunker(300, 60)
	if err != nil {
		t.Fatal(err)
	}
	text := strings.Repeat("attention is all you need. ", 100)
	boundaries := []int{0, 900, 1800}

	first := c.Chunk("doc1", text, boundaries)
	second := c.Chunk("doc1", text, boundaries)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("identical input produced different chunk sequences")
	}
}

func TestChunkPageAssignment(t *testing.T) {
	c, err := NewChunker(500, 50)
	if err != nil {
		t.Fatal(err)
	}
	text := strings.Repeat("b", 1020)

	// Page 1 starts at 0, page 2 at 600.
	chunks := c.Chunk("doc1", text, []int{0, 600})
	wantPages := []int{1, 1, 2} // starts 0, 450, 900
	for i, ch := range chunks {
		if ch.Page != wantPages[i] {
			t.Errorf("chunk %d (start %d): page = %d, want %d", i, ch.StartOffset, ch.Page, wantPages[i])
		}
	}
}

func TestChunkPageAssignmentWithTextlessPages(t *testing.T) {
	c, err := NewChunker(500, 50)
	if err != nil {
		t.Fatal(err)
	}
	text := strings.Repeat("b", 1020)

	// Pages that yield no text share their start offset with the next
	// page: page 1 is image-only, page 3 is blank. Text comes from pages
	// 2 and 4 only, yet chunks must cite the true PDF page numbers.
	chunks := c.Chunk("doc1", text, []int{0, 0, 600, 600})
	wantPages := []int{2, 2, 4} // starts 0, 450, 900
	if len(chunks) != len(wantPages) {
		t.Fatalf("expected %d chunks, got %d", len(wantPages), len(chunks))
	}
	for i, ch := range chunks {
		if ch.Page != wantPages[i] {
			t.Errorf("chunk %d (start %d): page = %d, want %d", i, ch.StartOffset, ch.Page, wantPages[i])
		}
	}
}

func TestChunkIDsAreStable(t *testing.T) {
	c, err := NewChunker(100, 20)
	if err != nil {
		t.Fatal(err)
	}
	chunks := c.Chunk("doc42", strings.Repeat("x", 250), nil)
	want := []string{"doc42_0", "doc42_1", "doc42_2"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, ch := range chunks {
		if ch.ChunkID != want[i] {
			t.Errorf("chunk %d: id = %q, want %q", i, ch.ChunkID, want[i])
		}
	}
}
