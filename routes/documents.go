package routes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pdf-chat-backend/internal/config"
	"pdf-chat-backend/internal/queue"
	"pdf-chat-backend/internal/rag"
	"pdf-chat-backend/models"
	"pdf-chat-backend/services"
	"pdf-chat-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// HandlePDFUpload accepts a PDF, stores it and either processes it in
// the request (small files) or enqueues it for the worker.
func HandlePDFUpload(cfg *config.Config, store *services.Store, ingest *services.IngestService, queueClient *asynq.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseMultipartForm(cfg.MaxFileSize); err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "file_too_large", "File size exceeds maximum limit", nil)
			return
		}

		file, header, err := c.Request.FormFile("pdf")
		if err != nil {
			utils.RespondWithBadRequest(c, "No PDF file provided", nil)
			return
		}
		defer file.Close()

		ct := header.Header.Get("Content-Type")
		if !strings.Contains(ct, "pdf") && !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_file_type", "Only PDF files are allowed", nil)
			return
		}
		if header.Size > cfg.MaxFileSize {
			utils.RespondWithError(c, http.StatusBadRequest, "file_too_large", "File size exceeds maximum limit", nil)
			return
		}

		// Basic PDF header validation without loading the whole file
		headerBuf := make([]byte, 5)
		if _, err := io.ReadFull(file, headerBuf); err != nil || string(headerBuf[:4]) != "%PDF" {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_pdf", "File does not appear to be a valid PDF", nil)
			return
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			utils.RespondWithInternalError(c, "Failed to reset file for saving", nil)
			return
		}

		docID := uuid.NewString()

		uploadDir := filepath.Join(cfg.FileStorageDir, "pdfs")
		if err := os.MkdirAll(uploadDir, 0755); err != nil {
			utils.RespondWithInternalError(c, "Failed to create upload directory", nil)
			return
		}

		filePath := filepath.Join(uploadDir, fmt.Sprintf("%s.pdf", docID))
		dst, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to open destination", nil)
			return
		}
		if _, err := io.Copy(dst, io.LimitReader(file, cfg.MaxFileSize)); err != nil {
			dst.Close()
			os.Remove(filePath)
			utils.RespondWithInternalError(c, "Failed to save file", nil)
			return
		}
		dst.Close()

		doc := &models.Document{
			ID:         docID,
			Filename:   header.Filename,
			FilePath:   filePath,
			SizeBytes:  header.Size,
			Status:     models.StatusPending,
			UploadedAt: time.Now(),
		}
		if err := store.InsertDocument(c.Request.Context(), doc); err != nil {
			os.Remove(filePath)
			utils.RespondWithInternalError(c, "Failed to create document record", nil)
			return
		}

		// Small files finish within the request; the session can use the
		// document immediately.
		if header.Size <= cfg.SyncProcessingLimit {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
			defer cancel()
			if err := ingest.Process(ctx, docID); err != nil {
				c.JSON(http.StatusAccepted, models.UploadResponse{
					ID:       docID,
					Filename: header.Filename,
					Status:   models.StatusFailed,
					Message:  "processing failed, see document status for details",
				})
				return
			}
			c.JSON(http.StatusCreated, models.UploadResponse{
				ID:       docID,
				Filename: header.Filename,
				Status:   models.StatusReady,
				Message:  "document processed and ready",
			})
			return
		}

		task, err := queue.NewIngestTask(docID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to create processing task", nil)
			return
		}
		info, err := queueClient.Enqueue(task)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to enqueue processing task", nil)
			return
		}

		c.JSON(http.StatusAccepted, models.UploadResponse{
			ID:       docID,
			Filename: header.Filename,
			Status:   models.StatusPending,
			TaskID:   info.ID,
			Message:  "document accepted for processing",
		})
	}
}

// ReprocessDocument re-runs ingestion from the stored file, typically
// after a failure. The same size split as upload applies: small files
// finish within the request, large ones are re-enqueued.
func ReprocessDocument(cfg *config.Config, store *services.Store, ingest *services.IngestService, queueClient *asynq.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID := c.Param("id")
		doc, err := store.GetDocument(c.Request.Context(), docID)
		if err != nil {
			if err == services.ErrDocumentNotFound {
				utils.RespondWithNotFound(c, "document not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to retrieve document", nil)
			return
		}
		if doc.Status == models.StatusProcessing {
			utils.RespondWithConflict(c, "document is already being processed")
			return
		}
		if _, err := os.Stat(doc.FilePath); err != nil {
			utils.RespondWithError(c, http.StatusConflict, "file_missing",
				"stored file is no longer available, re-upload the document", nil)
			return
		}

		if doc.SizeBytes <= cfg.SyncProcessingLimit {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
			defer cancel()
			if err := ingest.Process(ctx, docID); err != nil {
				c.JSON(http.StatusAccepted, models.UploadResponse{
					ID:       docID,
					Filename: doc.Filename,
					Status:   models.StatusFailed,
					Message:  "reprocessing failed, see document status for details",
				})
				return
			}
			c.JSON(http.StatusOK, models.UploadResponse{
				ID:       docID,
				Filename: doc.Filename,
				Status:   models.StatusReady,
				Message:  "document reprocessed and ready",
			})
			return
		}

		if err := store.UpdateDocumentStatus(c.Request.Context(), docID, models.StatusPending, ""); err != nil {
			utils.RespondWithInternalError(c, "Failed to reset document status", nil)
			return
		}
		task, err := queue.NewIngestTask(docID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to create processing task", nil)
			return
		}
		info, err := queueClient.Enqueue(task)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to enqueue processing task", nil)
			return
		}

		c.JSON(http.StatusAccepted, models.UploadResponse{
			ID:       docID,
			Filename: doc.Filename,
			Status:   models.StatusPending,
			TaskID:   info.ID,
			Message:  "document queued for reprocessing",
		})
	}
}

// GetDocument returns one document's metadata and processing status.
func GetDocument(store *services.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := store.GetDocument(c.Request.Context(), c.Param("id"))
		if err != nil {
			if err == services.ErrDocumentNotFound {
				utils.RespondWithNotFound(c, "document not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to retrieve document", nil)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

// ListDocuments lists all documents, newest first.
func ListDocuments(store *services.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		docs, err := store.ListDocuments(c.Request.Context())
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to retrieve documents", nil)
			return
		}
		if docs == nil {
			docs = []models.Document{}
		}
		c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
	}
}

// DeleteDocument removes a document from the corpus, its chunks and its
// stored file.
func DeleteDocument(ingest *services.IngestService) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := ingest.Delete(c.Request.Context(), c.Param("id"))
		if err != nil {
			if err == services.ErrDocumentNotFound {
				utils.RespondWithNotFound(c, "document not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to delete document", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "document deleted"})
	}
}

// IndexStats reports what the in-memory vector index currently holds.
func IndexStats(index *rag.VectorIndex) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, index.Stats())
	}
}
