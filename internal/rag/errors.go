package rag

import (
	"errors"
	"fmt"
)

// Session store errors.
var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
)

// ConfigurationError reports invalid chunking or retrieval parameters.
// It is fatal at setup time and never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Reason
}

// NoCorpusError is returned when a query targets a session with no
// associated documents.
type NoCorpusError struct {
	SessionID string
}

func (e *NoCorpusError) Error() string {
	if e.SessionID == "" {
		return "no documents available for retrieval"
	}
	return fmt.Sprintf("session %s has no associated documents", e.SessionID)
}

// DuplicateChunkError reports an insert of a chunk id that already exists.
// Re-ingestion must remove the document first.
type DuplicateChunkError struct {
	ChunkID string
}

func (e *DuplicateChunkError) Error() string {
	return fmt.Sprintf("chunk %s already indexed", e.ChunkID)
}

// EmbeddingError wraps an embedding capability failure. Transient failures
// (timeouts, rate limits) are eligible for retry; permanent ones are not.
type EmbeddingError struct {
	Err       error
	Transient bool
}

func (e *EmbeddingError) Error() string { return "embedding failed: " + e.Err.Error() }
func (e *EmbeddingError) Unwrap() error { return e.Err }

// GenerationError wraps a generation capability failure. SafeMessage is the
// user-facing fallback text; the raw provider error is logged, not exposed.
type GenerationError struct {
	Err         error
	Transient   bool
	SafeMessage string
}

func (e *GenerationError) Error() string { return "generation failed: " + e.Err.Error() }
func (e *GenerationError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a capability failure worth retrying.
func IsTransient(err error) bool {
	var ee *EmbeddingError
	if errors.As(err, &ee) {
		return ee.Transient
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Transient
	}
	return false
}
