package rag

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"pdf-chat-backend/models"
)

type stubGenerator struct {
	reply      string
	err        error
	calls      int
	lastPrompt string
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	g.calls++
	g.lastPrompt = prompt
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type stubResolver map[string]string

func (r stubResolver) Filename(docID string) string {
	if name, ok := r[docID]; ok {
		return name
	}
	return docID
}

func testComposerConfig() ComposerConfig {
	return ComposerConfig{
		TopK:              5,
		HistoryTurns:      10,
		HistoryCharBudget: 4000,
		ContextCharBudget: 4000,
		MaxOutputTokens:   1024,
		GenerateTimeout:   time.Second,
	}
}

func newTestComposer(t *testing.T, ix *VectorIndex, gen Generator, resolver stubResolver, cfg ComposerConfig) (*Composer, *SessionStore) {
	t.Helper()
	r, err := NewRetriever(&stubEmbedder{vec: queryVec}, ix, 0)
	if err != nil {
		t.Fatal(err)
	}
	sessions := NewSessionStore()
	c, err := NewComposer(r, gen, sessions, resolver, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return c, sessions
}

func TestAnswerEmptyCorpusNeverCallsGenerator(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	gen := &stubGenerator{reply: "unused"}
	c, sessions := newTestComposer(t, ix, gen, stubResolver{}, testComposerConfig())

	if _, err := sessions.Create("s1"); err != nil {
		t.Fatal(err)
	}

	_, err := c.Answer(context.Background(), "s1", "what is RLHF?")
	var noCorpus *NoCorpusError
	if !errors.As(err, &noCorpus) {
		t.Fatalf("expected NoCorpusError, got %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("generator must not be called, got %d calls", gen.calls)
	}
	if turns, _ := sessions.History("s1", 0); len(turns) != 0 {
		t.Fatalf("no turns may be appended on NoCorpusError, got %d", len(turns))
	}
}

func TestAnswerCitationAttribution(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	if err := ix.Insert("doc-t", testChunks("doc-t", 0.5, 0.87, 0.3)); err != nil {
		t.Fatal(err)
	}
	gen := &stubGenerator{reply: "Attention weighs token pairs."}
	c, sessions := newTestComposer(t, ix, gen, stubResolver{"doc-t": "transformer.pdf"}, testComposerConfig())

	sessions.Create("s1")
	sessions.AddDocument("s1", "doc-t")

	ans, err := c.Answer(context.Background(), "s1", "attention mechanism")
	if err != nil {
		t.Fatal(err)
	}
	if len(ans.Citations) != 1 {
		t.Fatalf("expected one citation per document, got %d", len(ans.Citations))
	}
	cit := ans.Citations[0]
	if cit.Filename != "transformer.pdf" {
		t.Errorf("citation filename = %q", cit.Filename)
	}
	// One citation per document, carrying the best chunk score.
	if math.Abs(cit.RelevanceScore-0.87) > 1e-3 {
		t.Errorf("citation score = %v, want ~0.87 (highest chunk, not an average)", cit.RelevanceScore)
	}
}

func TestAnswerCitationsOrderedByScore(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	if err := ix.Insert("doc-a", testChunks("doc-a", 0.9)); err != nil {
		t.Fatal(err)
	}
	if err := ix.Insert("doc-b", testChunks("doc-b", 0.95)); err != nil {
		t.Fatal(err)
	}
	gen := &stubGenerator{reply: "answer"}
	c, sessions := newTestComposer(t, ix, gen, stubResolver{"doc-a": "a.pdf", "doc-b": "b.pdf"}, testComposerConfig())

	sessions.Create("s1")
	sessions.AddDocument("s1", "doc-a")
	sessions.AddDocument("s1", "doc-b")

	ans, err := c.Answer(context.Background(), "s1", "q")
	if err != nil {
		t.Fatal(err)
	}
	if len(ans.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(ans.Citations))
	}
	if ans.Citations[0].Filename != "b.pdf" || ans.Citations[1].Filename != "a.pdf" {
		t.Fatalf("citations not ordered by relevance: %+v", ans.Citations)
	}
}

func TestAnswerFallbackWhenNothingRelevant(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	if err := ix.Insert("doc-a", testChunks("doc-a", 0.1)); err != nil {
		t.Fatal(err)
	}
	gen := &stubGenerator{reply: "unused"}

	r, err := NewRetriever(&stubEmbedder{vec: queryVec}, ix, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	sessions := NewSessionStore()
	c, err := NewComposer(r, gen, sessions, stubResolver{}, testComposerConfig())
	if err != nil {
		t.Fatal(err)
	}

	sessions.Create("s1")
	sessions.AddDocument("s1", "doc-a")

	ans, err := c.Answer(context.Background(), "s1", "something unrelated")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != noContextAnswer {
		t.Errorf("fallback text = %q", ans.Text)
	}
	if len(ans.Citations) != 0 {
		t.Errorf("fallback answer must not fabricate sources: %+v", ans.Citations)
	}
	if gen.calls != 0 {
		t.Errorf("generator must not run without retrieved context")
	}

	turns, _ := sessions.History("s1", 0)
	if len(turns) != 2 {
		t.Fatalf("expected the turn pair to be appended, got %d turns", len(turns))
	}
}

func TestAnswerGenerationFailureAppendsFallbackPair(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	if err := ix.Insert("doc-a", testChunks("doc-a", 0.9)); err != nil {
		t.Fatal(err)
	}
	gen := &stubGenerator{err: &GenerationError{Err: context.DeadlineExceeded, Transient: true}}
	c, sessions := newTestComposer(t, ix, gen, stubResolver{"doc-a": "a.pdf"}, testComposerConfig())

	sessions.Create("s1")
	sessions.AddDocument("s1", "doc-a")

	ans, err := c.Answer(context.Background(), "s1", "why did it time out?")
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if genErr.SafeMessage == "" {
		t.Error("generation error must carry a user-safe message")
	}

	turns, _ := sessions.History("s1", 0)
	if len(turns) != 2 {
		t.Fatalf("expected user+assistant pair, got %d turns", len(turns))
	}
	if ans == nil || !reflect.DeepEqual(ans.Turns, turns) {
		t.Errorf("fallback answer must carry the appended pair: %+v", ans)
	}
	if turns[0].Role != models.RoleUser || turns[0].Content != "why did it time out?" {
		t.Errorf("unexpected user turn: %+v", turns[0])
	}
	if turns[1].Role != models.RoleAssistant || turns[1].Content != generationFailedAnswer {
		t.Errorf("unexpected assistant turn: %+v", turns[1])
	}
	if len(turns[1].Citations) != 0 {
		t.Errorf("fallback turn must have no citations: %+v", turns[1].Citations)
	}
}

func TestAnswerReturnsTheAppendedTurnPair(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	if err := ix.Insert("doc-a", testChunks("doc-a", 0.9)); err != nil {
		t.Fatal(err)
	}
	gen := &stubGenerator{reply: "grounded answer"}
	c, sessions := newTestComposer(t, ix, gen, stubResolver{"doc-a": "a.pdf"}, testComposerConfig())

	sessions.Create("s1")
	sessions.AddDocument("s1", "doc-a")

	ans, err := c.Answer(context.Background(), "s1", "q")
	if err != nil {
		t.Fatal(err)
	}

	// Callers mirror history to storage from Answer.Turns, so the pair
	// must match the in-memory history exactly, timestamps included.
	turns, _ := sessions.History("s1", 0)
	if len(ans.Turns) != 2 {
		t.Fatalf("expected the appended pair on the answer, got %d turns", len(ans.Turns))
	}
	if !reflect.DeepEqual(ans.Turns, turns) {
		t.Errorf("answer turns diverge from session history:\n%+v\nvs\n%+v", ans.Turns, turns)
	}
	if !ans.Turns[0].CreatedAt.Equal(ans.Turns[1].CreatedAt) {
		t.Errorf("turn pair must share one timestamp")
	}
}

func TestAnswerRetriesTransientGenerationFailures(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	if err := ix.Insert("doc-a", testChunks("doc-a", 0.9)); err != nil {
		t.Fatal(err)
	}

	gen := &flakyGenerator{failures: 2, reply: "recovered"}
	cfg := testComposerConfig()
	cfg.MaxRetries = 3
	cfg.RetryBackoff = time.Millisecond
	c, sessions := newTestComposer(t, ix, gen, stubResolver{"doc-a": "a.pdf"}, cfg)

	sessions.Create("s1")
	sessions.AddDocument("s1", "doc-a")

	ans, err := c.Answer(context.Background(), "s1", "q")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != "recovered" {
		t.Errorf("answer = %q", ans.Text)
	}
	if gen.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", gen.calls)
	}
}

type flakyGenerator struct {
	failures int
	reply    string
	calls    int
}

func (g *flakyGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	g.calls++
	if g.calls <= g.failures {
		return "", &GenerationError{Err: errors.New("rate limited"), Transient: true}
	}
	return g.reply, nil
}

func TestPromptIncludesSourcesAndHistoryWindow(t *testing.T) {
	ix, _ := NewVectorIndex(2)
	chunks := testChunks("doc-a", 0.9)
	chunks[0].Text = "self-attention compares every token pair"
	chunks[0].Page = 3
	if err := ix.Insert("doc-a", chunks); err != nil {
		t.Fatal(err)
	}

	gen := &stubGenerator{reply: "answer"}
	cfg := testComposerConfig()
	cfg.HistoryCharBudget = 40
	c, sessions := newTestComposer(t, ix, gen, stubResolver{"doc-a": "attention.pdf"}, cfg)

	sessions.Create("s1")
	sessions.AddDocument("s1", "doc-a")

	// Seed history through the public pipeline.
	if _, err := c.Answer(context.Background(), "s1", "this is a rather long opening question that blows the budget"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Answer(context.Background(), "s1", "short one"); err != nil {
		t.Fatal(err)
	}

	prompt := gen.lastPrompt
	if !strings.Contains(prompt, "[Source 1: attention.pdf - page 3]") {
		t.Errorf("prompt missing labeled source block:\n%s", prompt)
	}
	if !strings.Contains(prompt, "self-attention compares every token pair") {
		t.Errorf("prompt missing chunk text")
	}
	if strings.Contains(prompt, "blows the budget") {
		t.Errorf("oldest turns must be dropped first when over budget:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Question: short one") {
		t.Errorf("prompt missing the question:\n%s", prompt)
	}
}
