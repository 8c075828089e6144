package rag

import (
	"sync"

	"edumate-rag/internal/models"
)

// conversation is one session's ordered turns. Its mutex is held for a whole
// query so that retrieve, generate and append happen as one step.
type conversation struct {
	mu    sync.Mutex
	turns []models.Turn
}

func (c *conversation) append(question, answer string) {
	c.turns = append(c.turns,
		models.Turn{Role: models.RoleStudent, Content: question},
		models.Turn{Role: models.RoleAssistant, Content: answer},
	)
}

func (c *conversation) studentTurns() int {
	n := 0
	for _, t := range c.turns {
		if t.Role == models.RoleStudent {
			n++
		}
	}
	return n
}

// recent returns the last n exchanges, or everything when n <= 0.
func (c *conversation) recent(n int) []models.Turn {
	if n <= 0 || 2*n >= len(c.turns) {
		return c.turns
	}
	return c.turns[len(c.turns)-2*n:]
}

// Memory maps session ids to conversations.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*conversation
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*conversation)}
}

func sessionKey(id string) string {
	if id == "" {
		return models.DefaultSession
	}
	return id
}

// session returns the conversation for id, creating it. Only queries create sessions.
func (m *Memory) session(id string) *conversation {
	id = sessionKey(id)
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.sessions[id]
	if !ok {
		c = &conversation{}
		m.sessions[id] = c
	}
	return c
}

// lookup returns nil for unknown sessions.
func (m *Memory) lookup(id string) *conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionKey(id)]
}

// Turns returns a copy of the session's history.
func (m *Memory) Turns(id string) []models.Turn {
	c := m.lookup(id)
	if c == nil {
		return []models.Turn{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Clear forgets the session entirely.
func (m *Memory) Clear(id string) {
	m.mu.Lock()
	c := m.sessions[sessionKey(id)]
	delete(m.sessions, sessionKey(id))
	m.mu.Unlock()

	if c != nil {
		c.mu.Lock()
		c.turns = nil
		c.mu.Unlock()
	}
}

func (m *Memory) Summary(id string) models.MemorySummary {
	s := models.MemorySummary{Status: models.MemoryStatusEmpty}
	c := m.lookup(id)
	if c == nil {
		return s
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s.TotalTurns = c.studentTurns()
	s.TotalMessages = len(c.turns)
	if s.TotalMessages > 0 {
		s.Status = models.MemoryStatusActive
	}
	return s
}

// Sessions is the number of live sessions.
func (m *Memory) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
