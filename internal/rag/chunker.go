package rag

import (
	"fmt"
	"sort"

	"pdf-chat-backend/models"
)

// Chunker splits extracted document text into overlapping windows with
// page and offset metadata. Identical input always yields identical chunk
// boundaries, so re-ingesting a document reproduces the same chunk ids.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker validates the window parameters. overlap must be smaller than
// size, both counted in runes.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("chunk size must be positive, got %d", size)}
	}
	if overlap < 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("overlap must be non-negative, got %d", overlap)}
	}
	if overlap >= size {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("overlap %d must be smaller than chunk size %d", overlap, size)}
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Chunk walks text producing windows of the configured size, each sharing
// the configured overlap with its predecessor. The final window may be
// shorter and is never padded. pageBoundaries holds the ordered rune
// offsets at which each page starts; a chunk is assigned the page that
// contains its start offset. Empty text yields zero chunks.
func (c *Chunker) Chunk(docID, text string, pageBoundaries []int) []models.Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	stride := c.size - c.overlap
	chunks := make([]models.Chunk, 0, len(runes)/stride+1)

	for start, seq := 0, 0; start < len(runes); start, seq = start+stride, seq+1 {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, models.Chunk{
			ChunkID:     fmt.Sprintf("%s_%d", docID, seq),
			DocumentID:  docID,
			Seq:         seq,
			Page:        pageForOffset(pageBoundaries, start),
			StartOffset: start,
			EndOffset:   end,
			Text:        string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}

	return chunks
}

// pageForOffset returns the 1-based page whose span contains offset.
// boundaries are the ordered rune offsets of page starts; an empty slice
// means the whole text is page 1.
func pageForOffset(boundaries []int, offset int) int {
	if len(boundaries) == 0 {
		return 1
	}
	// First boundary strictly greater than offset; the page is the one before it.
	i := sort.SearchInts(boundaries, offset+1)
	if i == 0 {
		return 1
	}
	return i
}
