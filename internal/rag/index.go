package rag

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"pdf-chat-backend/models"
)

// SearchHit is one retrieval candidate: a chunk with its similarity score.
type SearchHit struct {
	ChunkID    string
	DocumentID string
	Seq        int
	Page       int
	Text       string
	Score      float64
}

type indexEntry struct {
	chunkID string
	seq     int
	page    int
	text    string
	vector  []float32
	norm    float64
}

// VectorIndex is an in-memory vector store keyed by owning document.
// All documents share one embedding space, so scores are comparable
// across documents without per-document rescaling. Session isolation is
// enforced at query time through the candidate document set; there is one
// physical index for all sessions.
type VectorIndex struct {
	mu    sync.RWMutex
	dim   int
	byDoc map[string][]indexEntry
	docOf map[string]string // chunk id -> owning document id
}

// NewVectorIndex creates an index for vectors of the given dimensionality.
// The dimension is fixed by the embedding model; switching models requires
// a full rebuild.
func NewVectorIndex(dimension int) (*VectorIndex, error) {
	if dimension <= 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("vector dimension must be positive, got %d", dimension)}
	}
	return &VectorIndex{
		dim:   dimension,
		byDoc: make(map[string][]indexEntry),
		docOf: make(map[string]string),
	}, nil
}

// Insert adds a document's chunk vectors. The insert is atomic: it either
// registers every chunk or, on any validation failure, leaves the index
// untouched. Re-inserting an existing chunk id fails with
// DuplicateChunkError; callers re-ingesting a document must Remove first.
func (ix *VectorIndex) Insert(docID string, chunks []models.Chunk) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	seen := make(map[string]struct{}, len(chunks))
	for _, ch := range chunks {
		if len(ch.Vector) != ix.dim {
			return &ConfigurationError{Reason: fmt.Sprintf(
				"chunk %s vector has dimension %d, index expects %d", ch.ChunkID, len(ch.Vector), ix.dim)}
		}
		if _, ok := ix.docOf[ch.ChunkID]; ok {
			return &DuplicateChunkError{ChunkID: ch.ChunkID}
		}
		if _, ok := seen[ch.ChunkID]; ok {
			return &DuplicateChunkError{ChunkID: ch.ChunkID}
		}
		seen[ch.ChunkID] = struct{}{}
	}

	entries := make([]indexEntry, 0, len(chunks))
	for _, ch := range chunks {
		entries = append(entries, indexEntry{
			chunkID: ch.ChunkID,
			seq:     ch.Seq,
			page:    ch.Page,
			text:    ch.Text,
			vector:  ch.Vector,
			norm:    vectorNorm(ch.Vector),
		})
		ix.docOf[ch.ChunkID] = docID
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	ix.byDoc[docID] = append(ix.byDoc[docID], entries...)
	return nil
}

// Remove deletes every vector belonging to docID. Removing an absent
// document is a no-op.
func (ix *VectorIndex) Remove(docID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, e := range ix.byDoc[docID] {
		delete(ix.docOf, e.chunkID)
	}
	delete(ix.byDoc, docID)
}

// Has reports whether docID currently has vectors in the index.
func (ix *VectorIndex) Has(docID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.byDoc[docID]
	return ok
}

// Search scores every chunk owned by a candidate document against the
// query vector and returns the top k by cosine similarity. An empty
// candidate set yields an empty result; it never widens to the whole
// index. Ties are broken by earlier chunk sequence index, then document
// id, so results are deterministic.
func (ix *VectorIndex) Search(query []float32, candidateDocIDs []string, k int) []SearchHit {
	if len(candidateDocIDs) == 0 || k <= 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	queryNorm := vectorNorm(query)

	docs := append([]string(nil), candidateDocIDs...)
	sort.Strings(docs)

	var hits []SearchHit
	for _, docID := range docs {
		for _, e := range ix.byDoc[docID] {
			hits = append(hits, SearchHit{
				ChunkID:    e.chunkID,
				DocumentID: docID,
				Seq:        e.seq,
				Page:       e.page,
				Text:       e.text,
				Score:      cosine(query, queryNorm, e.vector, e.norm),
			})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Seq != hits[j].Seq {
			return hits[i].Seq < hits[j].Seq
		}
		return hits[i].DocumentID < hits[j].DocumentID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Stats reports current index contents.
func (ix *VectorIndex) Stats() models.IndexStats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	stats := models.IndexStats{ChunksPerDocument: make(map[string]int, len(ix.byDoc))}
	for docID, entries := range ix.byDoc {
		stats.ChunksPerDocument[docID] = len(entries)
		stats.TotalChunks += len(entries)
	}
	stats.UniqueDocuments = len(ix.byDoc)
	return stats
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, aNorm float64, b []float32, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (aNorm * bNorm)
}
