package services

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"pdf-chat-backend/internal/logger"
	"pdf-chat-backend/internal/rag"
	"pdf-chat-backend/internal/telemetry"
	"pdf-chat-backend/models"
)

// BatchEmbedder turns chunk texts into vectors, aborting on the first
// failure so a document is never half embedded.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// IngestService runs the document pipeline: extract, chunk, embed,
// persist, index. It also owns the document-id to filename mapping the
// answer composer uses for citations.
type IngestService struct {
	store     *Store
	extractor *PDFExtractor
	chunker   *rag.Chunker
	embedder  BatchEmbedder
	index     *rag.VectorIndex
	metrics   *telemetry.Metrics

	mu        sync.RWMutex
	filenames map[string]string
}

func NewIngestService(store *Store, extractor *PDFExtractor, chunker *rag.Chunker, embedder BatchEmbedder, index *rag.VectorIndex, metrics *telemetry.Metrics) *IngestService {
	return &IngestService{
		store:     store,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		metrics:   metrics,
		filenames: make(map[string]string),
	}
}

// Process ingests one uploaded document end to end. Any failure marks
// the document failed with the reason; the index is only touched once
// the full chunk set is embedded and persisted.
func (s *IngestService) Process(ctx context.Context, docID string) error {
	tracer := otel.Tracer("ingest")
	ctx, span := tracer.Start(ctx, "ingest.process")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", docID))

	start := time.Now()

	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	if err := s.store.UpdateDocumentStatus(ctx, docID, models.StatusProcessing, ""); err != nil {
		return err
	}

	chunks, pageCount, err := s.buildChunks(ctx, doc)
	if err != nil {
		logger.Error("Document processing failed", "document_id", docID, "error", err)
		s.store.UpdateDocumentStatus(context.Background(), docID, models.StatusFailed, err.Error())
		if s.metrics != nil {
			s.metrics.RecordPDFProcessing(time.Since(start).Seconds(), models.StatusFailed, 0)
		}
		return err
	}

	if err := s.store.ReplaceChunks(ctx, docID, chunks); err != nil {
		s.store.UpdateDocumentStatus(context.Background(), docID, models.StatusFailed, "failed to persist chunks")
		return err
	}

	// Re-ingestion replaces the document's chunks wholesale; chunk ids
	// are deterministic, so the rebuilt entries match the old ones.
	s.index.Remove(docID)
	if err := s.index.Insert(docID, chunks); err != nil {
		s.store.UpdateDocumentStatus(context.Background(), docID, models.StatusFailed, "failed to index chunks")
		return err
	}

	if err := s.store.MarkDocumentReady(ctx, docID, pageCount, len(chunks)); err != nil {
		return err
	}
	s.setFilename(docID, doc.Filename)

	if s.metrics != nil {
		s.metrics.RecordPDFProcessing(time.Since(start).Seconds(), models.StatusReady, len(chunks))
	}
	logger.Info("Document processed",
		"document_id", docID,
		"filename", doc.Filename,
		"pages", pageCount,
		"chunks", len(chunks),
		"duration", time.Since(start).String())
	return nil
}

func (s *IngestService) buildChunks(ctx context.Context, doc *models.Document) ([]models.Chunk, int, error) {
	extraction, err := s.extractor.ExtractText(ctx, doc.FilePath)
	if err != nil {
		return nil, 0, fmt.Errorf("extraction: %w", err)
	}

	chunks := s.chunker.Chunk(doc.ID, extraction.Text, extraction.PageBoundaries)
	if len(chunks) == 0 {
		return nil, 0, fmt.Errorf("document produced no chunks")
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, 0, fmt.Errorf("embedding: %w", err)
	}
	for i := range chunks {
		chunks[i].Vector = vectors[i]
	}
	return chunks, extraction.PageCount, nil
}

// Delete removes a document everywhere: index, store, disk, filename
// cache. Sessions keep the document id in their set; retrieval simply
// stops seeing its chunks.
func (s *IngestService) Delete(ctx context.Context, docID string) error {
	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	s.index.Remove(docID)
	if err := s.store.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	if doc.FilePath != "" {
		if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove stored file", "path", doc.FilePath, "error", err)
		}
	}

	s.mu.Lock()
	delete(s.filenames, docID)
	s.mu.Unlock()

	logger.Info("Document deleted", "document_id", docID, "filename", doc.Filename)
	return nil
}

// SyncIndex rebuilds the in-memory vector index from persisted chunks
// of ready documents. Called at startup and periodically to pick up
// documents processed by the worker.
func (s *IngestService) SyncIndex(ctx context.Context) error {
	docs, err := s.store.ListDocumentsByStatus(ctx, models.StatusReady)
	if err != nil {
		return err
	}

	indexed := s.index.Stats().ChunksPerDocument
	synced := 0
	for _, doc := range docs {
		s.setFilename(doc.ID, doc.Filename)
		if _, ok := indexed[doc.ID]; ok {
			continue
		}

		chunks, err := s.store.LoadChunks(ctx, doc.ID)
		if err != nil {
			logger.Error("Failed to load chunks for index sync", "document_id", doc.ID, "error", err)
			continue
		}
		if len(chunks) == 0 {
			continue
		}

		s.index.Remove(doc.ID)
		if err := s.index.Insert(doc.ID, chunks); err != nil {
			logger.Error("Failed to index document during sync", "document_id", doc.ID, "error", err)
			continue
		}
		synced++
	}

	if synced > 0 {
		logger.Info("Index sync complete", "documents_synced", synced, "total_ready", len(docs))
	}
	return nil
}

// Filename resolves a document id for citation display. Unknown ids
// fall back to the id itself.
func (s *IngestService) Filename(docID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if name, ok := s.filenames[docID]; ok {
		return name
	}
	return docID
}

func (s *IngestService) setFilename(docID, filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filenames[docID] = filename
}
