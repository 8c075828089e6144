package models

type Role string

const (
	RoleStudent   Role = "student"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Outcome tells callers how an answer was produced.
type Outcome string

const (
	OutcomeAnswered         Outcome = "answered"
	OutcomeNoContext        Outcome = "no_context"
	OutcomeGenerationFailed Outcome = "generation_failed"
)

type QueryResult struct {
	Question         string   `json:"question"`
	Answer           string   `json:"answer"`
	Sources          []string `json:"sources"`
	NumContextDocs   int      `json:"num_context_docs"`
	ConversationTurn int      `json:"conversation_turn"`
	Outcome          Outcome  `json:"outcome"`
}

const (
	MemoryStatusActive = "active"
	MemoryStatusEmpty  = "empty"
)

type MemorySummary struct {
	TotalTurns    int    `json:"total_turns"`
	TotalMessages int    `json:"total_messages"`
	Status        string `json:"status"`
}
