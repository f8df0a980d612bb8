package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"pdf-chat-backend/internal/logger"
	"pdf-chat-backend/services"
)

const (
	TaskIngestPDF = "pdf:ingest"
)

type IngestPayload struct {
	DocumentID string `json:"document_id"`
}

// NewIngestTask enqueues extraction, chunking and embedding for one
// uploaded document.
func NewIngestTask(documentID string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPayload{DocumentID: documentID})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestPDF,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	), nil
}

// TaskProcessor dispatches queued tasks to the ingestion service.
type TaskProcessor struct {
	ingest *services.IngestService
}

func NewTaskProcessor(ingest *services.IngestService) *TaskProcessor {
	return &TaskProcessor{ingest: ingest}
}

func (p *TaskProcessor) HandleIngestPDF(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	logger.Info("Processing queued document", "document_id", payload.DocumentID)

	if err := p.ingest.Process(ctx, payload.DocumentID); err != nil {
		if errors.Is(err, services.ErrDocumentNotFound) {
			logger.Warn("Queued document no longer exists", "document_id", payload.DocumentID)
			return asynq.SkipRetry
		}
		return err
	}
	return nil
}

// Register binds task handlers onto an asynq mux.
func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskIngestPDF, p.HandleIngestPDF)
}
