package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"pdf-chat-backend/internal/logger"
	"pdf-chat-backend/internal/rag"
)

// CleanupService runs periodic housekeeping: pruning idle sessions and
// syncing the vector index with documents the worker finished.
type CleanupService struct {
	scheduler *gocron.Scheduler
	sessions  *rag.SessionStore
	store     *Store
	ingest    *IngestService
	idleTTL   time.Duration
}

func NewCleanupService(sessions *rag.SessionStore, store *Store, ingest *IngestService, idleTTL time.Duration) *CleanupService {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()

	return &CleanupService{
		scheduler: s,
		sessions:  sessions,
		store:     store,
		ingest:    ingest,
		idleTTL:   idleTTL,
	}
}

// Start schedules the jobs and runs the scheduler in the background.
func (c *CleanupService) Start(interval time.Duration) error {
	if _, err := c.scheduler.Every(interval).Tag("session-prune").Do(c.pruneIdleSessions); err != nil {
		return err
	}
	if _, err := c.scheduler.Every(interval).Tag("index-sync").Do(c.syncIndex); err != nil {
		return err
	}
	c.scheduler.StartAsync()
	logger.Info("Cleanup scheduler started", "interval", interval.String(), "session_idle_ttl", c.idleTTL.String())
	return nil
}

func (c *CleanupService) Stop() {
	c.scheduler.Stop()
}

func (c *CleanupService) pruneIdleSessions() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-c.idleTTL)
	pruned := 0
	for _, id := range c.sessions.IdleSessions(cutoff) {
		if err := c.store.DeleteSession(ctx, id); err != nil {
			logger.Error("Failed to delete idle session", "session_id", id, "error", err)
			continue
		}
		c.sessions.Delete(id)
		pruned++
	}
	if pruned > 0 {
		logger.Info("Pruned idle sessions", "count", pruned)
	}
	return nil
}

func (c *CleanupService) syncIndex() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	return c.ingest.SyncIndex(ctx)
}
