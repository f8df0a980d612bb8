package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pdf-chat-backend/models"
	"pdf-chat-backend/utils"
)

var ErrDocumentNotFound = errors.New("document not found")

// Store is the Mongo persistence layer for documents, chunks, sessions
// and turns. The vector index is rebuilt from the chunks collection at
// startup, so everything needed to serve answers survives a restart.
type Store struct {
	documents *mongo.Collection
	chunks    *mongo.Collection
	sessions  *mongo.Collection
	turns     *mongo.Collection
}

func NewStore(db *mongo.Database) *Store {
	return &Store{
		documents: db.Collection("documents"),
		chunks:    db.Collection("chunks"),
		sessions:  db.Collection("sessions"),
		turns:     db.Collection("turns"),
	}
}

func (s *Store) InsertDocument(ctx context.Context, doc *models.Document) error {
	_, err := s.documents.InsertOne(ctx, doc)
	return err
}

func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := s.documents.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (s *Store) ListDocuments(ctx context.Context) ([]models.Document, error) {
	cursor, err := s.documents.Find(ctx, bson.M{},
		options.Find().SetSort(bson.M{"uploaded_at": -1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) ListDocumentsByStatus(ctx context.Context, status string) ([]models.Document, error) {
	cursor, err := s.documents.Find(ctx, bson.M{"status": status},
		options.Find().SetSort(bson.M{"uploaded_at": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// UpdateDocumentStatus records a status transition. The error message is
// cleared on every transition except into failed.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id, status, errorMessage string) error {
	update := bson.M{"status": status, "error_message": errorMessage}
	res, err := s.documents.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": update})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// MarkDocumentReady finalizes a processed document.
func (s *Store) MarkDocumentReady(ctx context.Context, id string, pageCount, chunkCount int) error {
	now := time.Now()
	_, err := s.documents.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"status":        models.StatusReady,
		"error_message": "",
		"page_count":    pageCount,
		"chunk_count":   chunkCount,
		"processed_at":  now,
	}})
	return err
}

// DeleteDocument removes the document record and all its chunks.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.chunks.DeleteMany(ctx, bson.M{"document_id": id}); err != nil {
		return err
	}
	_, err := s.documents.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// ReplaceChunks swaps a document's chunk set in one pass. Chunk text is
// compressed before storage; vectors are stored as-is so the index can
// be rebuilt without re-embedding.
func (s *Store) ReplaceChunks(ctx context.Context, docID string, chunks []models.Chunk) error {
	if _, err := s.chunks.DeleteMany(ctx, bson.M{"document_id": docID}); err != nil {
		return err
	}

	docs := make([]interface{}, 0, len(chunks))
	for _, ch := range chunks {
		stored := ch
		compressed, algorithm, err := utils.CompressText(ch.Text)
		if err != nil {
			return fmt.Errorf("compress chunk %s: %w", ch.ChunkID, err)
		}
		if algorithm != utils.CompressionNone {
			stored.Text = string(compressed)
			stored.Compressed = true
			stored.Compression = string(algorithm)
		}
		docs = append(docs, stored)
	}
	if len(docs) == 0 {
		return nil
	}
	_, err := s.chunks.InsertMany(ctx, docs)
	return err
}

// LoadChunks returns a document's chunks in sequence order with text
// decompressed.
func (s *Store) LoadChunks(ctx context.Context, docID string) ([]models.Chunk, error) {
	cursor, err := s.chunks.Find(ctx, bson.M{"document_id": docID},
		options.Find().SetSort(bson.M{"seq": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var chunks []models.Chunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, err
	}

	for i := range chunks {
		if !chunks[i].Compressed {
			continue
		}
		text, err := utils.DecompressText([]byte(chunks[i].Text), utils.CompressionAlgorithm(chunks[i].Compression))
		if err != nil {
			return nil, fmt.Errorf("decompress chunk %s: %w", chunks[i].ChunkID, err)
		}
		chunks[i].Text = text
		chunks[i].Compressed = false
		chunks[i].Compression = ""
	}
	return chunks, nil
}

func (s *Store) SaveSession(ctx context.Context, sess models.Session) error {
	_, err := s.sessions.ReplaceOne(ctx,
		bson.M{"_id": sess.ID},
		sess,
		options.Replace().SetUpsert(true))
	return err
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.turns.DeleteMany(ctx, bson.M{"session_id": id}); err != nil {
		return err
	}
	_, err := s.sessions.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// AppendTurns persists a turn pair.
func (s *Store) AppendTurns(ctx context.Context, turns ...models.Turn) error {
	docs := make([]interface{}, len(turns))
	for i, t := range turns {
		docs[i] = t
	}
	_, err := s.turns.InsertMany(ctx, docs)
	return err
}

func (s *Store) LoadSessions(ctx context.Context) ([]models.Session, error) {
	cursor, err := s.sessions.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []models.Session
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Store) LoadTurns(ctx context.Context, sessionID string, limit int) ([]models.Turn, error) {
	opts := options.Find().SetSort(bson.M{"created_at": 1})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cursor, err := s.turns.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var turns []models.Turn
	if err := cursor.All(ctx, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}
