package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"edumate-rag/internal/chromemdb"
	"edumate-rag/internal/embedding"
	"edumate-rag/internal/index"
	"edumate-rag/internal/models"
)

type fakeLLM struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (f *fakeLLM) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("answer %d", len(f.prompts)), nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type failingRetriever struct{}

func (failingRetriever) Search(context.Context, string, int) ([]models.SearchResult, error) {
	return nil, fmt.Errorf("%w: collection unavailable", index.ErrSearch)
}

func newStore(t *testing.T, docs ...models.Chunk) *chromemdb.VectorDBManager {
	t.Helper()
	store, err := chromemdb.NewVectorDBManager("", models.CollectionName, false, embedding.NewHashEmbedFunc(128))
	if err != nil {
		t.Fatal(err)
	}
	for i, d := range docs {
		if err := store.Add(context.Background(), index.RecordID(d.Metadata, i), d); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func courseStore(t *testing.T) *chromemdb.VectorDBManager {
	return newStore(t,
		models.Chunk{Content: "Photosynthesis turns light into chemical energy.", Metadata: models.ChunkMetadata{Source: "biology", ChunkIndex: 0}},
		models.Chunk{Content: "Chlorophyll absorbs light in photosynthesis.", Metadata: models.ChunkMetadata{Source: "biology", ChunkIndex: 1}},
		models.Chunk{Content: "Light travels at a finite speed.", Metadata: models.ChunkMetadata{Source: "physics", ChunkIndex: 0}},
		models.Chunk{Content: "The Roman empire fell in 476.", Metadata: models.ChunkMetadata{Source: "history", ChunkIndex: 0}},
	)
}

func TestQuery_EmptyQuestion(t *testing.T) {
	r := NewRAG(courseStore(t), &fakeLLM{}, nil, Options{})

	for _, q := range []string{"", "   ", "\n\t"} {
		if _, err := r.Query(context.Background(), "s", q); !errors.Is(err, ErrEmptyQuestion) {
			t.Errorf("Query(%q) err = %v, want ErrEmptyQuestion", q, err)
		}
	}
}

func TestQuery_EmptyIndexSkipsLLM(t *testing.T) {
	llm := &fakeLLM{}
	r := NewRAG(newStore(t), llm, nil, Options{})

	res, err := r.Query(context.Background(), "s", "What is photosynthesis?")
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if res.Answer != models.NoContextAnswer {
		t.Errorf("Answer = %q", res.Answer)
	}
	if res.Sources == nil || len(res.Sources) != 0 {
		t.Errorf("Sources = %#v, want empty non-nil slice", res.Sources)
	}
	if res.Outcome != models.OutcomeNoContext || res.NumContextDocs != 0 {
		t.Errorf("result = %+v", res)
	}
	if llm.calls() != 0 {
		t.Errorf("LLM called %d times, want 0", llm.calls())
	}
	if s := r.MemorySummary("s"); s.TotalMessages != 0 {
		t.Errorf("history changed: %+v", s)
	}
}

func TestQuery_AnswersWithContext(t *testing.T) {
	llm := &fakeLLM{}
	r := NewRAG(courseStore(t), llm, nil, Options{TopK: 3})

	res, err := r.Query(context.Background(), "s", "  How does photosynthesis use light?  ")
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if res.Question != "How does photosynthesis use light?" {
		t.Errorf("Question = %q", res.Question)
	}
	if res.Answer != "answer 1" || res.Outcome != models.OutcomeAnswered {
		t.Errorf("result = %+v", res)
	}
	if res.NumContextDocs != 3 {
		t.Errorf("NumContextDocs = %d, want 3", res.NumContextDocs)
	}
	if res.ConversationTurn != 1 {
		t.Errorf("ConversationTurn = %d, want 1", res.ConversationTurn)
	}
	if len(res.Sources) == 0 || res.Sources[0] != "biology" {
		t.Errorf("Sources = %v, want biology first", res.Sources)
	}
	seen := map[string]bool{}
	for _, s := range res.Sources {
		if seen[s] {
			t.Errorf("duplicate source %q", s)
		}
		seen[s] = true
	}

	prompt := llm.prompts[0]
	for _, want := range []string{
		"[biology] ",
		models.ContextSeparator,
		"Student Question: How does photosynthesis use light?",
		models.NoHistoryPlaceholder,
		"I don't have this information in the course materials.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestQuery_TurnsIncrementAndHistoryInPrompt(t *testing.T) {
	llm := &fakeLLM{}
	r := NewRAG(courseStore(t), llm, nil, Options{})
	ctx := context.Background()

	first, err := r.Query(ctx, "s", "What is photosynthesis?")
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Query(ctx, "s", "Tell me more")
	if err != nil {
		t.Fatal(err)
	}
	if first.ConversationTurn != 1 || second.ConversationTurn != 2 {
		t.Errorf("turns = %d, %d, want 1, 2", first.ConversationTurn, second.ConversationTurn)
	}
	wantHistory := "Student: What is photosynthesis?\nAssistant: answer 1"
	if !strings.Contains(llm.prompts[1], wantHistory) {
		t.Errorf("second prompt missing history %q:\n%s", wantHistory, llm.prompts[1])
	}
}

func TestQuery_GenerationFailure(t *testing.T) {
	llm := &fakeLLM{err: errors.New("503 from provider")}
	r := NewRAG(courseStore(t), llm, nil, Options{})

	res, err := r.Query(context.Background(), "s", "What is light?")
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if res.Answer != models.GenerationErrorAnswer || res.Outcome != models.OutcomeGenerationFailed {
		t.Errorf("result = %+v", res)
	}
	if res.ConversationTurn != 1 {
		t.Errorf("ConversationTurn = %d, want 1", res.ConversationTurn)
	}
	turns := r.ConversationHistory("s")
	if len(turns) != 2 || turns[1].Content != models.GenerationErrorAnswer {
		t.Errorf("history = %+v", turns)
	}
}

func TestQuery_RetrievalFailure(t *testing.T) {
	llm := &fakeLLM{}
	r := NewRAG(failingRetriever{}, llm, nil, Options{})

	_, err := r.Query(context.Background(), "s", "anything")
	if !errors.Is(err, ErrRetrieval) || !errors.Is(err, index.ErrSearch) {
		t.Fatalf("err = %v, want ErrRetrieval wrapping ErrSearch", err)
	}
	if llm.calls() != 0 {
		t.Error("LLM should not be called after retrieval failure")
	}
	if s := r.MemorySummary("s"); s.TotalMessages != 0 {
		t.Errorf("history changed: %+v", s)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	r := NewRAG(courseStore(t), &fakeLLM{}, nil, Options{})
	ctx := context.Background()
	questions := []string{"What is light?", "Student: tricky prefix", "Assistant: another one", "Who fell in 476?"}

	for _, q := range questions {
		if _, err := r.Query(ctx, "s", q); err != nil {
			t.Fatal(err)
		}
	}

	turns := r.ConversationHistory("s")
	if len(turns) != 2*len(questions) {
		t.Fatalf("len(turns) = %d, want %d", len(turns), 2*len(questions))
	}
	for i, q := range questions {
		st, as := turns[2*i], turns[2*i+1]
		if st.Role != models.RoleStudent || st.Content != q {
			t.Errorf("turn %d = %+v, want student %q", 2*i, st, q)
		}
		if as.Role != models.RoleAssistant || as.Content != fmt.Sprintf("answer %d", i+1) {
			t.Errorf("turn %d = %+v", 2*i+1, as)
		}
	}
	if s := r.MemorySummary("s"); s.TotalTurns != len(questions) || s.TotalMessages != 2*len(questions) || s.Status != models.MemoryStatusActive {
		t.Errorf("summary = %+v", s)
	}
}

func TestClearMemory(t *testing.T) {
	r := NewRAG(courseStore(t), &fakeLLM{}, nil, Options{})
	if _, err := r.Query(context.Background(), "s", "What is light?"); err != nil {
		t.Fatal(err)
	}

	r.ClearMemory("s")

	s := r.MemorySummary("s")
	want := models.MemorySummary{TotalTurns: 0, TotalMessages: 0, Status: models.MemoryStatusEmpty}
	if s != want {
		t.Errorf("summary = %+v, want %+v", s, want)
	}
	if len(r.ConversationHistory("s")) != 0 {
		t.Error("history not empty after clear")
	}

	res, err := r.Query(context.Background(), "s", "What is light?")
	if err != nil {
		t.Fatal(err)
	}
	if res.ConversationTurn != 1 {
		t.Errorf("ConversationTurn after clear = %d, want 1", res.ConversationTurn)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	r := NewRAG(courseStore(t), &fakeLLM{}, nil, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := r.Query(ctx, "alice", "What is light?"); err != nil {
			t.Fatal(err)
		}
	}
	res, err := r.Query(ctx, "bob", "What is light?")
	if err != nil {
		t.Fatal(err)
	}
	if res.ConversationTurn != 1 {
		t.Errorf("bob turn = %d, want 1", res.ConversationTurn)
	}

	if got := r.ActiveSessions(); got != 2 {
		t.Errorf("ActiveSessions() = %d, want 2", got)
	}

	r.ClearMemory("bob")
	if s := r.MemorySummary("alice"); s.TotalTurns != 3 {
		t.Errorf("alice turns = %d after clearing bob, want 3", s.TotalTurns)
	}
	if got := r.ActiveSessions(); got != 1 {
		t.Errorf("ActiveSessions() after clear = %d, want 1", got)
	}
}

func TestEmptySessionIDUsesDefault(t *testing.T) {
	r := NewRAG(courseStore(t), &fakeLLM{}, nil, Options{})
	if _, err := r.Query(context.Background(), "", "What is light?"); err != nil {
		t.Fatal(err)
	}
	if s := r.MemorySummary(models.DefaultSession); s.TotalTurns != 1 {
		t.Errorf("default session turns = %d, want 1", s.TotalTurns)
	}
}

func TestHistoryWindow(t *testing.T) {
	llm := &fakeLLM{}
	r := NewRAG(courseStore(t), llm, nil, Options{HistoryTurns: 1})
	ctx := context.Background()

	for _, q := range []string{"first question about light", "second question about light", "third question about light"} {
		if _, err := r.Query(ctx, "s", q); err != nil {
			t.Fatal(err)
		}
	}
	last := llm.prompts[2]
	if strings.Contains(last, "Student: first question") {
		t.Error("prompt includes exchange outside the window")
	}
	if !strings.Contains(last, "Student: second question about light") {
		t.Error("prompt missing most recent exchange")
	}
	if s := r.MemorySummary("s"); s.TotalTurns != 3 {
		t.Errorf("window must not trim stored history, turns = %d", s.TotalTurns)
	}
}

func TestConcurrentQueriesSameSession(t *testing.T) {
	r := NewRAG(courseStore(t), &fakeLLM{}, nil, Options{})
	const n = 20

	var wg sync.WaitGroup
	turns := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Query(context.Background(), "shared", fmt.Sprintf("question %d about light", i))
			if err != nil {
				t.Error(err)
				return
			}
			turns[i] = res.ConversationTurn
		}(i)
	}
	wg.Wait()

	sort.Ints(turns)
	for i, got := range turns {
		if got != i+1 {
			t.Fatalf("turn numbers = %v, want 1..%d", turns, n)
		}
	}
	history := r.ConversationHistory("shared")
	for i := 0; i < len(history); i += 2 {
		if history[i].Role != models.RoleStudent || history[i+1].Role != models.RoleAssistant {
			t.Fatalf("interleaved history at %d: %+v", i, history[i:i+2])
		}
	}
}

func TestSources(t *testing.T) {
	docs := []models.SearchResult{
		{Metadata: models.ChunkMetadata{Source: "b"}},
		{Metadata: models.ChunkMetadata{Source: "a"}},
		{Metadata: models.ChunkMetadata{Source: "b"}},
	}
	got := Sources(docs)
	if strings.Join(got, ",") != "b,a" {
		t.Errorf("Sources() = %v, want [b a]", got)
	}
}

func TestBuildContext(t *testing.T) {
	got := BuildContext([]models.SearchResult{
		{Content: "one", Metadata: models.ChunkMetadata{Source: "x"}},
		{Content: "two", Metadata: models.ChunkMetadata{Source: "y"}},
	})
	want := "[x] one\n\n---\n\n[y] two"
	if got != want {
		t.Errorf("BuildContext() = %q, want %q", got, want)
	}
}
