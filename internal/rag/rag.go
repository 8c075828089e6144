package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"edumate-rag/internal/models"
)

var (
	ErrEmptyQuestion = errors.New("question cannot be empty")
	ErrRetrieval     = errors.New("failed to retrieve course materials")
)

type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]models.SearchResult, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Options struct {
	// TopK is the number of chunks retrieved per question.
	TopK int
	// HistoryTurns caps how many past exchanges go into the prompt, 0 means all.
	HistoryTurns int
}

// RAG answers questions from retrieved course materials and keeps per-session
// conversation history.
type RAG struct {
	retriever Retriever
	llm       Generator
	memory    *Memory
	opts      Options
}

func NewRAG(retriever Retriever, llm Generator, memory *Memory, opts Options) *RAG {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if memory == nil {
		memory = NewMemory()
	}
	return &RAG{retriever: retriever, llm: llm, memory: memory, opts: opts}
}

// Query answers one question for a session. Generation failures do not fail the
// query; they produce a fixed answer and OutcomeGenerationFailed.
func (r *RAG) Query(ctx context.Context, sessionID, question string) (*models.QueryResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	conv := r.memory.session(sessionID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	logger := log.With().Str("session", sessionID).Logger()
	logger.Info().Str("question", question).Msg("Processing question")

	docs, err := r.retriever.Search(ctx, question, r.opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	if len(docs) == 0 {
		logger.Info().Msg("No relevant documents found")
		return &models.QueryResult{
			Question:         question,
			Answer:           models.NoContextAnswer,
			Sources:          []string{},
			ConversationTurn: conv.studentTurns(),
			Outcome:          models.OutcomeNoContext,
		}, nil
	}
	logger.Debug().Int("documents", len(docs)).Msg("Retrieved documents")

	prompt := BuildPrompt(FormatHistory(conv.recent(r.opts.HistoryTurns)), BuildContext(docs), question)

	outcome := models.OutcomeAnswered
	answer, err := r.llm.Generate(ctx, prompt)
	if err != nil {
		logger.Error().Err(err).Msg("Error generating answer")
		answer = models.GenerationErrorAnswer
		outcome = models.OutcomeGenerationFailed
	}

	conv.append(question, answer)

	sources := Sources(docs)
	logger.Info().Strs("sources", sources).Str("outcome", string(outcome)).Msg("Answer generated")

	return &models.QueryResult{
		Question:         question,
		Answer:           answer,
		Sources:          sources,
		NumContextDocs:   len(docs),
		ConversationTurn: conv.studentTurns(),
		Outcome:          outcome,
	}, nil
}

// Search exposes raw retrieval without touching any conversation.
func (r *RAG) Search(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	if k <= 0 {
		k = r.opts.TopK
	}
	return r.retriever.Search(ctx, query, k)
}

func (r *RAG) ClearMemory(sessionID string) {
	r.memory.Clear(sessionID)
	log.Info().Str("session", sessionID).Msg("Conversation memory cleared")
}

func (r *RAG) ConversationHistory(sessionID string) []models.Turn {
	return r.memory.Turns(sessionID)
}

func (r *RAG) MemorySummary(sessionID string) models.MemorySummary {
	return r.memory.Summary(sessionID)
}

// BuildContext tags each chunk with its source and keeps retrieval order.
func BuildContext(docs []models.SearchResult) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = fmt.Sprintf("[%s] %s", d.Metadata.Source, d.Content)
	}
	return strings.Join(parts, models.ContextSeparator)
}

func FormatHistory(turns []models.Turn) string {
	if len(turns) == 0 {
		return models.NoHistoryPlaceholder
	}
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		switch t.Role {
		case models.RoleStudent:
			b.WriteString("Student: ")
		default:
			b.WriteString("Assistant: ")
		}
		b.WriteString(t.Content)
	}
	return b.String()
}

func BuildPrompt(history, contextText, question string) string {
	return fmt.Sprintf(models.QueryPromptTemplate, history, contextText, question)
}

// Sources lists distinct source names in first-seen order.
func Sources(docs []models.SearchResult) []string {
	seen := make(map[string]bool, len(docs))
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		if !seen[d.Metadata.Source] {
			seen[d.Metadata.Source] = true
			out = append(out, d.Metadata.Source)
		}
	}
	return out
}

// ActiveSessions is the number of conversations held in memory.
func (r *RAG) ActiveSessions() int {
	return r.memory.Sessions()
}
