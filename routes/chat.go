package routes

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pdf-chat-backend/internal/logger"
	"pdf-chat-backend/internal/rag"
	"pdf-chat-backend/internal/telemetry"
	"pdf-chat-backend/models"
	"pdf-chat-backend/services"
	"pdf-chat-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateSession opens a new conversation. The caller may pin an id;
// otherwise one is generated.
func CreateSession(sessions *rag.SessionStore, store *services.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CreateSessionRequest
		// Body is optional for this endpoint.
		_ = c.ShouldBindJSON(&req)

		id := req.SessionID
		if id == "" {
			id = uuid.NewString()
		}

		sess, err := sessions.Create(id)
		if err != nil {
			if errors.Is(err, rag.ErrSessionExists) {
				utils.RespondWithConflict(c, "session already exists")
				return
			}
			utils.RespondWithInternalError(c, "Failed to create session", nil)
			return
		}

		if err := store.SaveSession(c.Request.Context(), sess); err != nil {
			logger.Error("Failed to persist session", "session_id", id, "error", err)
		}
		c.JSON(http.StatusCreated, sess)
	}
}

// GetSession returns the session record with its document set.
func GetSession(sessions *rag.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := sessions.Get(c.Param("id"))
		if err != nil {
			utils.RespondWithNotFound(c, "session not found")
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// DeleteSession drops the session and its history.
func DeleteSession(sessions *rag.SessionStore, store *services.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := sessions.Get(id); err != nil {
			utils.RespondWithNotFound(c, "session not found")
			return
		}
		if err := store.DeleteSession(c.Request.Context(), id); err != nil {
			utils.RespondWithInternalError(c, "Failed to delete session", nil)
			return
		}
		sessions.Delete(id)
		c.JSON(http.StatusOK, gin.H{"message": "session deleted"})
	}
}

// AttachDocuments adds ready documents to the session's candidate set.
// Documents still processing or failed are rejected.
func AttachDocuments(sessions *rag.SessionStore, store *services.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var req models.SessionDocumentsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "document_ids is required", err.Error())
			return
		}

		for _, docID := range req.DocumentIDs {
			doc, err := store.GetDocument(c.Request.Context(), docID)
			if err != nil {
				if errors.Is(err, services.ErrDocumentNotFound) {
					utils.RespondWithNotFound(c, fmt.Sprintf("document %s not found", docID))
					return
				}
				utils.RespondWithInternalError(c, "Failed to look up document", nil)
				return
			}
			if doc.Status != models.StatusReady {
				utils.RespondWithConflict(c, fmt.Sprintf("document %s is not ready (status: %s)", docID, doc.Status))
				return
			}
		}

		for _, docID := range req.DocumentIDs {
			if err := sessions.AddDocument(id, docID); err != nil {
				utils.RespondWithNotFound(c, "session not found")
				return
			}
		}

		sess, _ := sessions.Get(id)
		if err := store.SaveSession(c.Request.Context(), sess); err != nil {
			logger.Error("Failed to persist session", "session_id", id, "error", err)
		}
		c.JSON(http.StatusOK, sess)
	}
}

// DetachDocument removes one document from the session's candidate set.
func DetachDocument(sessions *rag.SessionStore, store *services.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := sessions.RemoveDocument(id, c.Param("docID")); err != nil {
			utils.RespondWithNotFound(c, "session not found")
			return
		}
		sess, _ := sessions.Get(id)
		if err := store.SaveSession(c.Request.Context(), sess); err != nil {
			logger.Error("Failed to persist session", "session_id", id, "error", err)
		}
		c.JSON(http.StatusOK, sess)
	}
}

// Ask runs the full question pipeline and returns the grounded answer
// with citations.
func Ask(composer *rag.Composer, store *services.Store, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "session_id and message are required", err.Error())
			return
		}

		ans, err := composer.Answer(c.Request.Context(), req.SessionID, req.Message)
		if err != nil {
			var genErr *rag.GenerationError
			if errors.As(err, &genErr) && ans != nil {
				// The fallback pair is already in history; mirror the
				// exact same turns, timestamps included.
				persistTurns(c, store, req.SessionID, ans.Turns)
				if metrics != nil {
					metrics.RecordQuestion("failed")
				}
			}
			utils.RespondWithPipelineError(c, err)
			return
		}

		persistTurns(c, store, req.SessionID, ans.Turns)
		if metrics != nil {
			outcome := "answered"
			if len(ans.Citations) == 0 {
				outcome = "fallback"
			}
			metrics.RecordQuestion(outcome)
		}

		c.JSON(http.StatusOK, models.AskResponse{
			Answer:    ans.Text,
			Sources:   ans.Citations,
			SessionID: req.SessionID,
			Timestamp: time.Now(),
		})
	}
}

func persistTurns(c *gin.Context, store *services.Store, sessionID string, turns []models.Turn) {
	if len(turns) == 0 {
		return
	}
	if err := store.AppendTurns(c.Request.Context(), turns...); err != nil {
		logger.Error("Failed to persist turns", "session_id", sessionID, "error", err)
	}
}

// GetMessages returns the session's turns oldest first, with skip/limit
// paging over the full history.
func GetMessages(sessions *rag.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		skip := 0
		if s, err := strconv.Atoi(c.DefaultQuery("skip", "0")); err == nil && s > 0 {
			skip = s
		}
		limit := 0
		if l, err := strconv.Atoi(c.DefaultQuery("limit", "0")); err == nil && l > 0 {
			limit = l
		}

		turns, err := sessions.History(id, 0)
		if err != nil {
			utils.RespondWithNotFound(c, "session not found")
			return
		}
		total := len(turns)
		if skip >= total {
			turns = nil
		} else {
			turns = turns[skip:]
		}
		if limit > 0 && len(turns) > limit {
			turns = turns[:limit]
		}
		if turns == nil {
			turns = []models.Turn{}
		}
		c.JSON(http.StatusOK, gin.H{"session_id": id, "messages": turns, "total": total, "count": len(turns)})
	}
}

// ExportSession downloads the transcript as JSON or an Excel workbook.
func ExportSession(export *services.ExportService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		format := c.DefaultQuery("format", "json")

		switch format {
		case "json":
			data, err := export.ExportJSON(c.Request.Context(), id)
			if err != nil {
				utils.RespondWithNotFound(c, "session not found")
				return
			}
			c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=transcript-%s.json", id))
			c.Data(http.StatusOK, "application/json", data)
		case "excel":
			data, err := export.ExportExcel(c.Request.Context(), id)
			if err != nil {
				utils.RespondWithNotFound(c, "session not found")
				return
			}
			c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=transcript-%s.xlsx", id))
			c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
		default:
			utils.RespondWithBadRequest(c, "format must be json or excel", nil)
		}
	}
}
