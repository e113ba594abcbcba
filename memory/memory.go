// Package memory keeps a bounded rolling conversation history per session.
package memory

import (
	"strings"
	"sync"
	"time"

	"docqa/types"
)

const (
	DefaultMaxHistory   = 10
	DefaultContextTurns = 3

	answerPreviewRunes = 200
)

// Memory stores at most 2*maxHistory turns per session, dropping the oldest
// first. Sessions never see each other's turns.
type Memory struct {
	maxHistory int
	now        func() time.Time

	mu            sync.RWMutex
	conversations map[string][]types.Turn
}

func New(maxHistory int) *Memory {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Memory{
		maxHistory:    maxHistory,
		now:           time.Now,
		conversations: make(map[string][]types.Turn),
	}
}

func (m *Memory) AddMessage(sessionID string, role types.Role, content string, sources []string) {
	if sources == nil {
		sources = []string{}
	}
	turn := types.Turn{
		Role:      role,
		Content:   content,
		Timestamp: m.now(),
		Sources:   sources,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	turns := append(m.conversations[sessionID], turn)
	if limit := 2 * m.maxHistory; len(turns) > limit {
		kept := make([]types.Turn, limit)
		copy(kept, turns[len(turns)-limit:])
		turns = kept
	}
	m.conversations[sessionID] = turns
}

// GetConversationContext renders the last n exchanges as
// "Previous Question:" / "Previous Answer:" lines. Answers are cut to their
// first 200 characters.
func (m *Memory) GetConversationContext(sessionID string, n int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := m.conversations[sessionID]
	if len(turns) == 0 || n <= 0 {
		return ""
	}
	if len(turns) > 2*n {
		turns = turns[len(turns)-2*n:]
	}

	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case types.RoleUser:
			parts = append(parts, "Previous Question: "+t.Content)
		case types.RoleAssistant:
			parts = append(parts, "Previous Answer: "+preview(t.Content)+"...")
		}
	}
	return strings.Join(parts, "\n")
}

// GetFullConversation returns a copy of the session history, oldest first.
func (m *Memory) GetFullConversation(sessionID string) []types.Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	turns := m.conversations[sessionID]
	out := make([]types.Turn, len(turns))
	copy(out, turns)
	return out
}

func (m *Memory) ClearConversation(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, sessionID)
}

// ActiveConversations counts sessions with at least one stored turn.
func (m *Memory) ActiveConversations() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= answerPreviewRunes {
		return s
	}
	return string(r[:answerPreviewRunes])
}
