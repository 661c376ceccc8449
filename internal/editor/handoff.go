package editor

import (
	"sync"

	"github.com/starford/funnelsim/internal/models"
)

// Handoff carries a graph from an import or template into the next "new"
// funnel that is opened. Take empties it.
type Handoff struct {
	mu    sync.Mutex
	graph *models.Graph
}

// Put replaces the buffered graph.
func (h *Handoff) Put(g models.Graph) {
	c := g.Clone()
	h.mu.Lock()
	h.graph = &c
	h.mu.Unlock()
}

// Take returns and clears the buffered graph.
func (h *Handoff) Take() (models.Graph, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.graph == nil {
		return models.Graph{}, false
	}
	g := *h.graph
	h.graph = nil
	return g, true
}

// Pending reports whether a graph is waiting.
func (h *Handoff) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.graph != nil
}
