package llm

import (
	"sync"

	"concierge/core"
)

// retainWindows is how many windows of turns History keeps in memory.
const retainWindows = 4

// Mark identifies the pending user turn of one reasoning call.
type Mark struct {
	index int
	id    uint64
}

// History is the reasoning history of a conversation. A user turn is
// appended by Begin before the call and either kept by Commit or removed by
// Rollback, so a failed turn leaves no entries behind.
type History struct {
	mu      sync.Mutex
	turns   []core.Turn
	window  int
	nextID  uint64
	pending uint64
}

func NewHistory(window int) *History {
	return &History{window: clampWindow(window)}
}

// Begin appends the user turn and returns its mark together with the
// trailing window that precedes it.
func (h *History) Begin(utterance string) (Mark, []core.Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	window := h.windowLocked(len(h.turns))
	h.nextID++
	m := Mark{index: len(h.turns), id: h.nextID}
	h.pending = m.id
	h.turns = append(h.turns, core.NewTurn(core.RoleUser, utterance))
	return m, window
}

// Commit appends the agent turn for m and, when note is non-empty, the
// index-reference note after it. It reports false if m is no longer pending.
func (h *History) Commit(m Mark, reply string, note string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending != m.id || m.id == 0 {
		return false
	}
	h.pending = 0
	h.turns = append(h.turns, core.NewTurn(core.RoleAgent, reply))
	if note != "" {
		h.turns = append(h.turns, core.NewTurn(core.RoleAgent, note))
	}
	// nothing is pending here, so no outstanding mark indexes the dropped turns
	if limit := h.window * retainWindows; len(h.turns) > limit {
		h.turns = append([]core.Turn(nil), h.turns[len(h.turns)-limit:]...)
	}
	return true
}

// Rollback removes the pending user turn of m, if it is still pending.
func (h *History) Rollback(m Mark) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending != m.id || m.id == 0 {
		return false
	}
	h.pending = 0
	if m.index <= len(h.turns) {
		h.turns = h.turns[:m.index]
	}
	return true
}

// Window returns the trailing turns that would accompany the next request.
func (h *History) Window() []core.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.windowLocked(len(h.turns))
}

func (h *History) windowLocked(end int) []core.Turn {
	start := end - h.window
	if start < 0 {
		start = 0
	}
	out := make([]core.Turn, end-start)
	copy(out, h.turns[start:end])
	return out
}

// Turns returns a copy of the retained history.
func (h *History) Turns() []core.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]core.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
	h.pending = 0
}
