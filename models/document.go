package models

import "time"

// Document processing status values. A document is immutable once ready,
// except for status transitions.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Document is one uploaded PDF tracked by the corpus.
type Document struct {
	ID           string     `bson:"_id" json:"id"`
	Filename     string     `bson:"filename" json:"filename"`
	FilePath     string     `bson:"file_path" json:"-"`
	SizeBytes    int64      `bson:"size_bytes" json:"size_bytes"`
	PageCount    int        `bson:"page_count" json:"page_count"`
	ChunkCount   int        `bson:"chunk_count" json:"chunk_count"`
	Status       string     `bson:"status" json:"status"`
	ErrorMessage string     `bson:"error_message,omitempty" json:"error_message,omitempty"`
	UploadedAt   time.Time  `bson:"uploaded_at" json:"uploaded_at"`
	ProcessedAt  *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// Chunk is a contiguous text span from one document, the unit of embedding
// and retrieval. Offsets are rune offsets into the extracted document text.
type Chunk struct {
	ChunkID     string    `bson:"chunk_id" json:"chunk_id"`
	DocumentID  string    `bson:"document_id" json:"document_id"`
	Seq         int       `bson:"seq" json:"seq"`
	Page        int       `bson:"page" json:"page"`
	StartOffset int       `bson:"start_offset" json:"start_offset"`
	EndOffset   int       `bson:"end_offset" json:"end_offset"`
	Text        string    `bson:"text" json:"text"`
	Compressed  bool      `bson:"compressed,omitempty" json:"-"`
	Compression string    `bson:"compression,omitempty" json:"-"`
	Vector      []float32 `bson:"vector,omitempty" json:"-"`
}

// UploadResponse is returned after a successful PDF upload.
type UploadResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	TaskID   string `json:"task_id,omitempty"`
	Message  string `json:"message"`
}

// IndexStats summarizes the in-memory vector index contents.
type IndexStats struct {
	TotalChunks       int            `json:"total_chunks"`
	UniqueDocuments   int            `json:"unique_documents"`
	ChunksPerDocument map[string]int `json:"chunks_per_document"`
}
