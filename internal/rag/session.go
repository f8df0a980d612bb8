package rag

import (
	"sort"
	"sync"
	"time"

	"pdf-chat-backend/models"
)

type sessionEntry struct {
	mu         sync.Mutex
	sess       models.Session
	turns      []models.Turn
	lastActive time.Time
}

// SessionStore holds per-session conversation state: the associated
// document-id set and the append-only turn log. Mutations on one session
// are serialized through its entry lock; different sessions proceed in
// parallel.
type SessionStore struct {
	mu      sync.RWMutex
	entries map[string]*sessionEntry
}

func NewSessionStore() *SessionStore {
	return &SessionStore{entries: make(map[string]*sessionEntry)}
}

// Create registers a new session. Creating an id that already exists
// fails with ErrSessionExists.
func (s *SessionStore) Create(id string) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; ok {
		return models.Session{}, ErrSessionExists
	}
	now := time.Now()
	e := &sessionEntry{
		sess:       models.Session{ID: id, CreatedAt: now, UpdatedAt: now},
		lastActive: now,
	}
	s.entries[id] = e
	return e.sess, nil
}

// Restore seeds a session and its turns, used when reloading persisted
// state at startup. Existing sessions are left untouched.
func (s *SessionStore) Restore(sess models.Session, turns []models.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[sess.ID]; ok {
		return
	}
	s.entries[sess.ID] = &sessionEntry{sess: sess, turns: turns, lastActive: sess.UpdatedAt}
}

func (s *SessionStore) lookup(id string) (*sessionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// Get returns a snapshot of the session record.
func (s *SessionStore) Get(id string) (models.Session, error) {
	e, err := s.lookup(id)
	if err != nil {
		return models.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e), nil
}

// Delete drops the session and its history. Deleting an absent session is
// a no-op.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// AddDocument associates a document with the session; adding an already
// associated document is a no-op.
func (s *SessionStore) AddDocument(id, docID string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.sess.DocumentIDs {
		if existing == docID {
			return nil
		}
	}
	e.sess.DocumentIDs = append(e.sess.DocumentIDs, docID)
	e.touch()
	return nil
}

// RemoveDocument detaches a document from the session; idempotent.
func (s *SessionStore) RemoveDocument(id, docID string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.sess.DocumentIDs[:0]
	for _, existing := range e.sess.DocumentIDs {
		if existing != docID {
			kept = append(kept, existing)
		}
	}
	e.sess.DocumentIDs = kept
	e.touch()
	return nil
}

// History returns the most recent turns in creation order,
// most-recent-last. limit <= 0 returns everything.
func (s *SessionStore) History(id string, limit int) ([]models.Turn, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	turns := e.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]models.Turn(nil), turns...), nil
}

// IdleSessions lists sessions with no activity since the cutoff.
func (s *SessionStore) IdleSessions(cutoff time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, e := range s.entries {
		e.mu.Lock()
		idle := e.lastActive.Before(cutoff)
		e.mu.Unlock()
		if idle {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SessionHandle holds a session's lock for the duration of one query, so
// concurrent queries against the same session append their turn pairs in
// arrival order without interleaving.
type SessionHandle struct {
	entry *sessionEntry
}

// Acquire locks the session for exclusive use. The caller must Release.
func (s *SessionStore) Acquire(id string) (*SessionHandle, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	return &SessionHandle{entry: e}, nil
}

func (h *SessionHandle) Release() {
	h.entry.mu.Unlock()
}

// Session returns a snapshot of the locked session.
func (h *SessionHandle) Session() models.Session {
	return snapshot(h.entry)
}

// DocumentIDs returns the locked session's document set.
func (h *SessionHandle) DocumentIDs() []string {
	return append([]string(nil), h.entry.sess.DocumentIDs...)
}

// History returns the last limit turns, most-recent-last.
func (h *SessionHandle) History(limit int) []models.Turn {
	turns := h.entry.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]models.Turn(nil), turns...)
}

// AppendTurnPair appends the user/assistant pair atomically. Turns are
// only ever appended in pairs so history can never hold a question
// without its answer.
func (h *SessionHandle) AppendTurnPair(user, assistant models.Turn) {
	h.entry.turns = append(h.entry.turns, user, assistant)
	h.entry.touch()
}

func (e *sessionEntry) touch() {
	now := time.Now()
	e.sess.UpdatedAt = now
	e.lastActive = now
}

func snapshot(e *sessionEntry) models.Session {
	sess := e.sess
	sess.DocumentIDs = append([]string(nil), e.sess.DocumentIDs...)
	return sess
}
