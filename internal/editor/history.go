package editor

import "github.com/starford/funnelsim/internal/models"

// DefaultHistoryLimit is the number of undo steps kept per funnel.
const DefaultHistoryLimit = 50

// history is a bounded stack of pre-mutation snapshots. Once the limit is
// exceeded the oldest entry is evicted.
type history struct {
	entries []models.Graph
	limit   int
}

func newHistory(limit int) history {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return history{limit: limit}
}

// push stores g. The caller must hand over a graph nobody else references.
func (h *history) push(g models.Graph) {
	h.entries = append(h.entries, g)
	if over := len(h.entries) - h.limit; over > 0 {
		clear(h.entries[:over])
		h.entries = h.entries[over:]
	}
}

func (h *history) pop() (models.Graph, bool) {
	n := len(h.entries)
	if n == 0 {
		return models.Graph{}, false
	}
	g := h.entries[n-1]
	h.entries[n-1] = models.Graph{}
	h.entries = h.entries[:n-1]
	return g, true
}

func (h *history) len() int {
	return len(h.entries)
}

func (h *history) clear() {
	h.entries = nil
}
