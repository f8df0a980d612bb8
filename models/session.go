package models

import "time"

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session groups a conversation with the set of documents it may query.
// The turn log lives in the session store; this struct is the plain-data
// shape handed to the persistence layer.
type Session struct {
	ID          string    `bson:"_id" json:"session_id"`
	DocumentIDs []string  `bson:"document_ids" json:"document_ids"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}

// Turn is one user or assistant message. Turns are append-only and never
// mutated after creation.
type Turn struct {
	SessionID string           `bson:"session_id" json:"-"`
	Role      string           `bson:"role" json:"role"`
	Content   string           `bson:"content" json:"content"`
	Citations []SourceCitation `bson:"citations,omitempty" json:"citations,omitempty"`
	CreatedAt time.Time        `bson:"created_at" json:"created_at"`
}

// SourceCitation attributes part of an answer to a source document.
// RelevanceScore is the document's best chunk similarity, in [0,1].
type SourceCitation struct {
	Filename       string  `bson:"filename" json:"filename"`
	RelevanceScore float64 `bson:"relevance_score" json:"relevance_score"`
}

// AskRequest is the chat query payload.
type AskRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message" binding:"required,min=1,max=2000"`
}

// AskResponse carries the grounded answer and its citations.
type AskResponse struct {
	Answer    string           `json:"answer"`
	Sources   []SourceCitation `json:"sources"`
	SessionID string           `json:"session_id"`
	Timestamp time.Time        `json:"timestamp"`
}

// CreateSessionRequest optionally pins the session identifier; when empty a
// new one is generated.
type CreateSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// SessionDocumentsRequest attaches documents to a session.
type SessionDocumentsRequest struct {
	DocumentIDs []string `json:"document_ids" binding:"required,min=1"`
}
