package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"pdf-chat-backend/models"
)

// Generator is the external generation capability.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// DocumentResolver maps a document id to its original filename for
// citation display.
type DocumentResolver interface {
	Filename(docID string) string
}

// ComposerConfig bounds prompt construction and generation.
type ComposerConfig struct {
	TopK              int
	HistoryTurns      int
	HistoryCharBudget int
	ContextCharBudget int
	MaxOutputTokens   int
	GenerateTimeout   time.Duration
	// Extra attempts on transient generation failures. Zero means the
	// caller decides whether to retry.
	MaxRetries   int
	RetryBackoff time.Duration
}

const systemPrompt = `You are an assistant that answers questions about the user's uploaded PDF documents.
Answer using only the provided context. Do not use outside knowledge or guess.
When the context does not contain the answer, say so plainly.
Keep answers concise and mention which source they come from.`

// Deterministic fallback texts. The first is used when retrieval finds
// nothing relevant, the second when the generation capability fails.
const (
	noContextAnswer = "I couldn't find anything relevant to your question in the documents attached to this session. " +
		"Try rephrasing the question, or attach documents that cover this topic."
	generationFailedAnswer = "I wasn't able to generate an answer right now. Please try again in a moment."
)

// Answer is the grounded response with per-source relevance attribution.
// Turns is the exact user/assistant pair appended to the session,
// timestamps included; callers mirroring history to storage must persist
// these rather than rebuild the pair.
type Answer struct {
	Text      string
	Citations []models.SourceCitation
	Turns     []models.Turn
}

// Composer runs the full answer pipeline: retrieve, build a bounded
// prompt from context chunks and prior turns, generate, attribute
// citations, and append the turn pair to the session.
type Composer struct {
	retriever *Retriever
	generator Generator
	sessions  *SessionStore
	docs      DocumentResolver
	cfg       ComposerConfig
}

func NewComposer(retriever *Retriever, generator Generator, sessions *SessionStore, docs DocumentResolver, cfg ComposerConfig) (*Composer, error) {
	if retriever == nil || generator == nil || sessions == nil || docs == nil {
		return nil, &ConfigurationError{Reason: "composer requires retriever, generator, session store and document resolver"}
	}
	if cfg.TopK <= 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("top-k must be positive, got %d", cfg.TopK)}
	}
	if cfg.HistoryTurns < 0 || cfg.HistoryCharBudget < 0 || cfg.ContextCharBudget <= 0 {
		return nil, &ConfigurationError{Reason: "prompt budgets must be non-negative and context budget positive"}
	}
	if cfg.MaxRetries < 0 {
		return nil, &ConfigurationError{Reason: "retry count must be non-negative"}
	}
	return &Composer{retriever: retriever, generator: generator, sessions: sessions, docs: docs, cfg: cfg}, nil
}

// Answer serializes the whole query on the session lock, so concurrent
// questions against one session land in history in arrival order.
//
// The turn pair is appended only once a complete or fallback answer
// exists: retrieval and embedding failures leave the session untouched,
// while a generation failure appends the pair with a user-safe fallback
// text and still surfaces a GenerationError. In that case the returned
// Answer is non-nil and carries the appended fallback pair.
func (c *Composer) Answer(ctx context.Context, sessionID, question string) (*Answer, error) {
	h, err := c.sessions.Acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	docIDs := h.DocumentIDs()
	if len(docIDs) == 0 {
		return nil, &NoCorpusError{SessionID: sessionID}
	}

	hits, err := c.retriever.Retrieve(ctx, question, docIDs, c.cfg.TopK)
	if err != nil {
		return nil, err
	}

	if len(hits) == 0 {
		ans := &Answer{Text: noContextAnswer, Citations: []models.SourceCitation{}}
		appendPair(h, sessionID, question, ans)
		return ans, nil
	}

	prompt := c.buildPrompt(h.History(c.cfg.HistoryTurns), question, hits)

	text, err := c.generate(ctx, prompt)
	if err != nil {
		ge := &GenerationError{Err: err, Transient: IsTransient(err), SafeMessage: generationFailedAnswer}
		var inner *GenerationError
		if errors.As(err, &inner) {
			ge.Err = inner.Err
			ge.Transient = inner.Transient
		}
		fallback := &Answer{Text: generationFailedAnswer, Citations: []models.SourceCitation{}}
		appendPair(h, sessionID, question, fallback)
		return fallback, ge
	}

	ans := &Answer{Text: text, Citations: c.citations(hits)}
	appendPair(h, sessionID, question, ans)
	return ans, nil
}

// generate invokes the capability under the configured timeout, retrying
// only transient failures up to MaxRetries with linear backoff.
func (c *Composer) generate(ctx context.Context, prompt string) (string, error) {
	attempt := func() (string, error) {
		gctx := ctx
		if c.cfg.GenerateTimeout > 0 {
			var cancel context.CancelFunc
			gctx, cancel = context.WithTimeout(ctx, c.cfg.GenerateTimeout)
			defer cancel()
		}
		text, err := c.generator.Generate(gctx, prompt, c.cfg.MaxOutputTokens)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", &GenerationError{Err: err, Transient: true}
		}
		return text, err
	}

	text, err := attempt()
	for retry := 0; err != nil && IsTransient(err) && retry < c.cfg.MaxRetries; retry++ {
		select {
		case <-ctx.Done():
			return "", &GenerationError{Err: ctx.Err(), Transient: true}
		case <-time.After(c.cfg.RetryBackoff * time.Duration(retry+1)):
		}
		text, err = attempt()
	}
	return text, err
}

// buildPrompt assembles system instructions, a sliding window of prior
// turns and the retrieved chunks labeled by source filename.
func (c *Composer) buildPrompt(history []models.Turn, question string, hits []SearchHit) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")

	if window := historyWindow(history, c.cfg.HistoryCharBudget); len(window) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, t := range window {
			if t.Role == models.RoleAssistant {
				b.WriteString("Assistant: ")
			} else {
				b.WriteString("User: ")
			}
			b.WriteString(t.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Context from the attached documents:\n")
	used := 0
	for i, h := range hits {
		block := fmt.Sprintf("[Source %d: %s - page %d]\n%s\n\n", i+1, c.docs.Filename(h.DocumentID), h.Page, h.Text)
		// Whole blocks only; always keep the top-ranked chunk.
		if i > 0 && used+len(block) > c.cfg.ContextCharBudget {
			break
		}
		b.WriteString(block)
		used += len(block)
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n")
	return b.String()
}

// historyWindow keeps the newest whole turns that fit the character
// budget, oldest dropped first, never cut mid-turn.
func historyWindow(history []models.Turn, budget int) []models.Turn {
	if budget <= 0 {
		return history
	}
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := len(history[i].Content)
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	return history[start:]
}

// citations deduplicates the retrieved chunks into one entry per source
// document, scored by that document's best chunk (never an average), and
// ordered by relevance.
func (c *Composer) citations(hits []SearchHit) []models.SourceCitation {
	best := make(map[string]float64)
	for _, h := range hits {
		if score, ok := best[h.DocumentID]; !ok || h.Score > score {
			best[h.DocumentID] = h.Score
		}
	}

	out := make([]models.SourceCitation, 0, len(best))
	for docID, score := range best {
		out = append(out, models.SourceCitation{
			Filename:       c.docs.Filename(docID),
			RelevanceScore: clampScore(score),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		return out[i].Filename < out[j].Filename
	})
	return out
}

// clampScore maps cosine similarity onto the [0,1] display scale.
// Negative similarities carry no useful relevance signal.
func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func appendPair(h *SessionHandle, sessionID, question string, ans *Answer) {
	now := time.Now()
	pair := []models.Turn{
		{SessionID: sessionID, Role: models.RoleUser, Content: question, CreatedAt: now},
		{SessionID: sessionID, Role: models.RoleAssistant, Content: ans.Text, Citations: ans.Citations, CreatedAt: now},
	}
	h.AppendTurnPair(pair[0], pair[1])
	ans.Turns = pair
}
