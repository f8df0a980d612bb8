package rag

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"pdf-chat-backend/models"
)

func TestCreateDuplicateSessionFails(t *testing.T) {
	s := NewSessionStore()
	if _, err := s.Create("s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("s1"); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestSessionNotFound(t *testing.T) {
	s := NewSessionStore()
	if _, err := s.Get("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := s.History("missing", 0); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("History: expected ErrSessionNotFound, got %v", err)
	}
	if err := s.AddDocument("missing", "doc1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("AddDocument: expected ErrSessionNotFound, got %v", err)
	}
}

func TestDocumentSetMutations(t *testing.T) {
	s := NewSessionStore()
	s.Create("s1")

	s.AddDocument("s1", "doc1")
	s.AddDocument("s1", "doc2")
	s.AddDocument("s1", "doc1") // no-op

	sess, err := s.Get("s1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sess.DocumentIDs, []string{"doc1", "doc2"}) {
		t.Fatalf("document set = %v", sess.DocumentIDs)
	}

	s.RemoveDocument("s1", "doc1")
	s.RemoveDocument("s1", "doc1") // idempotent
	s.RemoveDocument("s1", "never-attached")

	sess, _ = s.Get("s1")
	if !reflect.DeepEqual(sess.DocumentIDs, []string{"doc2"}) {
		t.Fatalf("document set after removal = %v", sess.DocumentIDs)
	}
}

func TestDeleteSessionIsIdempotent(t *testing.T) {
	s := NewSessionStore()
	s.Create("s1")
	s.Delete("s1")
	s.Delete("s1")
	if _, err := s.Get("s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected deleted session to be gone, got %v", err)
	}
}

func TestHistoryOrderAndLimit(t *testing.T) {
	s := NewSessionStore()
	s.Create("s1")

	for i := 0; i < 3; i++ {
		h, err := s.Acquire("s1")
		if err != nil {
			t.Fatal(err)
		}
		h.AppendTurnPair(
			models.Turn{SessionID: "s1", Role: models.RoleUser, Content: fmt.Sprintf("q%d", i)},
			models.Turn{SessionID: "s1", Role: models.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
		)
		h.Release()
	}

	all, err := s.History("s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 6 {
		t.Fatalf("expected 6 turns, got %d", len(all))
	}
	if all[0].Content != "q0" || all[5].Content != "a2" {
		t.Fatalf("history out of order: first=%q last=%q", all[0].Content, all[5].Content)
	}

	last, _ := s.History("s1", 2)
	if len(last) != 2 || last[0].Content != "q2" || last[1].Content != "a2" {
		t.Fatalf("limited history = %+v", last)
	}
}

func TestHistoryNeverHoldsUnpairedTurns(t *testing.T) {
	s := NewSessionStore()
	s.Create("s1")

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				h, err := s.Acquire("s1")
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				h.AppendTurnPair(
					models.Turn{Role: models.RoleUser, Content: fmt.Sprintf("w%d q%d", w, i)},
					models.Turn{Role: models.RoleAssistant, Content: fmt.Sprintf("w%d a%d", w, i)},
				)
				h.Release()
			}
		}(w)
	}
	wg.Wait()

	turns, err := s.History("s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns)%2 != 0 {
		t.Fatalf("odd turn count %d", len(turns))
	}
	for i := 0; i < len(turns); i += 2 {
		if turns[i].Role != models.RoleUser || turns[i+1].Role != models.RoleAssistant {
			t.Fatalf("turn %d/%d roles = %s/%s", i, i+1, turns[i].Role, turns[i+1].Role)
		}
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	s := NewSessionStore()
	s.Create("s1")

	h, _ := s.Acquire("s1")
	h.AppendTurnPair(
		models.Turn{Role: models.RoleUser, Content: "q"},
		models.Turn{Role: models.RoleAssistant, Content: "a"},
	)
	h.Release()

	turns, _ := s.History("s1", 0)
	turns[0].Content = "mutated"

	fresh, _ := s.History("s1", 0)
	if fresh[0].Content != "q" {
		t.Fatal("History leaked internal turn slice")
	}
}

func TestRestoreSkipsExistingSessions(t *testing.T) {
	s := NewSessionStore()
	s.Create("s1")
	s.AddDocument("s1", "doc1")

	s.Restore(models.Session{ID: "s1"}, []models.Turn{{Role: models.RoleUser, Content: "stale"}})

	sess, _ := s.Get("s1")
	if !reflect.DeepEqual(sess.DocumentIDs, []string{"doc1"}) {
		t.Fatalf("restore overwrote a live session: %v", sess.DocumentIDs)
	}

	s.Restore(models.Session{ID: "s2", DocumentIDs: []string{"doc9"}}, []models.Turn{
		{Role: models.RoleUser, Content: "q"},
		{Role: models.RoleAssistant, Content: "a"},
	})
	turns, err := s.History("s2", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 {
		t.Fatalf("restored history = %d turns", len(turns))
	}
}

func TestIdleSessions(t *testing.T) {
	s := NewSessionStore()
	s.Create("old")
	s.Create("fresh")

	cutoff := time.Now().Add(time.Minute)
	ids := s.IdleSessions(cutoff)
	if !reflect.DeepEqual(ids, []string{"fresh", "old"}) {
		t.Fatalf("idle sessions = %v", ids)
	}

	if ids := s.IdleSessions(time.Now().Add(-time.Minute)); len(ids) != 0 {
		t.Fatalf("expected no idle sessions, got %v", ids)
	}
}
