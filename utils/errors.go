package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pdf-chat-backend/internal/rag"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	ErrorCode string      `json:"error_code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// RespondWithError sends a standardized error response
func RespondWithError(c *gin.Context, statusCode int, errorCode, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
	})
}

// RespondWithBadRequest sends a 400 Bad Request error
func RespondWithBadRequest(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusBadRequest, "bad_request", message, details)
}

// RespondWithNotFound sends a 404 Not Found error
func RespondWithNotFound(c *gin.Context, message string) {
	RespondWithError(c, http.StatusNotFound, "not_found", message, nil)
}

// RespondWithConflict sends a 409 Conflict error
func RespondWithConflict(c *gin.Context, message string) {
	RespondWithError(c, http.StatusConflict, "conflict", message, nil)
}

// RespondWithInternalError sends a 500 Internal Server Error
func RespondWithInternalError(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusInternalServerError, "internal_error", message, details)
}

// RespondWithPipelineError maps question-answering failures onto HTTP
// statuses. Internal error detail never reaches the client; only the
// user-safe message does.
func RespondWithPipelineError(c *gin.Context, err error) {
	var (
		noCorpus *rag.NoCorpusError
		embErr   *rag.EmbeddingError
		genErr   *rag.GenerationError
		cfgErr   *rag.ConfigurationError
	)

	switch {
	case errors.Is(err, rag.ErrSessionNotFound):
		RespondWithNotFound(c, "session not found")
	case errors.As(err, &noCorpus):
		RespondWithError(c, http.StatusConflict, "no_documents",
			"attach at least one document to the session before asking questions", nil)
	case errors.As(err, &embErr):
		status := http.StatusBadGateway
		if embErr.Transient {
			status = http.StatusServiceUnavailable
		}
		RespondWithError(c, status, "embedding_failed",
			"could not process the question right now, please retry", nil)
	case errors.As(err, &genErr):
		status := http.StatusBadGateway
		if genErr.Transient {
			status = http.StatusServiceUnavailable
		}
		msg := genErr.SafeMessage
		if msg == "" {
			msg = "answer generation failed, please retry"
		}
		RespondWithError(c, status, "generation_failed", msg, nil)
	case errors.As(err, &cfgErr):
		RespondWithInternalError(c, "service misconfigured", nil)
	default:
		RespondWithInternalError(c, "unexpected error", nil)
	}
}
