// Package conversation holds the ordered chat history of a session.
package conversation

import (
	"sync"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// History is an append-only, chronologically ordered list of turns.
// It is cleared only by Reset. All methods are safe for concurrent use.
type History struct {
	mu    sync.RWMutex
	turns []Turn
	now   func() time.Time
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{now: time.Now}
}

// Append adds turns in order and returns the index of the first one.
func (h *History) Append(turns ...Turn) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	first := len(h.turns)
	for _, t := range turns {
		if t.Timestamp.IsZero() {
			t.Timestamp = h.now()
		}
		h.turns = append(h.turns, t)
	}
	return first
}

// AppendExchange records a user message and the assistant reply together.
// It returns the index of the assistant turn.
func (h *History) AppendExchange(user, assistant string) int {
	first := h.Append(
		Turn{Role: RoleUser, Content: user},
		Turn{Role: RoleAssistant, Content: assistant},
	)
	return first + 1
}

// Snapshot returns a copy of all turns.
func (h *History) Snapshot() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Last returns the most recent turn with the given role.
func (h *History) Last(role Role) (Turn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := len(h.turns) - 1; i >= 0; i-- {
		if h.turns[i].Role == role {
			return h.turns[i], true
		}
	}
	return Turn{}, false
}

// Reset removes every turn.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}
