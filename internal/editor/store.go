// Package editor implements the funnel editor core: the graph state store with
// its bounded undo history, the property panel and the canvas mediator.
package editor

import (
	"log/slog"
	"slices"

	"github.com/starford/funnelsim/internal/models"
)

// Store holds the live graph of exactly one funnel.
//
// Store is not safe for concurrent use. Every mutation is expected to run on
// a single event loop (see the session package), which gives the store a
// total order of operations without locking.
//
// Operations that reference a node that no longer exists are dropped
// silently; they report false but never fail.
type Store struct {
	logger *slog.Logger

	funnelID   string
	generation uint64

	nodes []models.Node
	edges []models.Edge

	selection *models.Node
	preview   *models.PreviewContent

	history    history
	dragOrigin map[string]models.Position
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for dropped operations.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithHistoryLimit overrides the number of undo steps kept.
func WithHistoryLimit(n int) Option {
	return func(s *Store) {
		s.history = newHistory(n)
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		logger:  slog.Default(),
		history: newHistory(DefaultHistoryLimit),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.nodes = []models.Node{}
	s.edges = []models.Edge{}
	return s
}

// FunnelID returns the id of the funnel currently loaded.
func (s *Store) FunnelID() string { return s.funnelID }

// Generation increases every time the store is reset for another funnel.
func (s *Store) Generation() uint64 { return s.generation }

// Nodes returns a copy of the node set.
func (s *Store) Nodes() []models.Node { return models.CloneNodes(s.nodes) }

// Edges returns a copy of the edge set.
func (s *Store) Edges() []models.Edge { return models.CloneEdges(s.edges) }

// Snapshot returns a copy of the whole graph.
func (s *Store) Snapshot() models.Graph {
	return models.Graph{Nodes: s.Nodes(), Edges: s.Edges()}
}

// Selected returns the selected node, if any.
func (s *Store) Selected() (models.Node, bool) {
	if s.selection == nil {
		return models.Node{}, false
	}
	return s.selection.Clone(), true
}

// Preview returns the current preview content, or nil.
func (s *Store) Preview() *models.PreviewContent {
	if s.preview == nil {
		return nil
	}
	p := *s.preview
	return &p
}

// HistoryLen returns the number of undoable steps.
func (s *Store) HistoryLen() int { return s.history.len() }

// Node returns a copy of the node with the given id.
func (s *Store) Node(id string) (models.Node, bool) {
	i := s.indexOf(id)
	if i < 0 {
		return models.Node{}, false
	}
	return s.nodes[i].Clone(), true
}

// HasNode reports whether id is present in the node set.
func (s *Store) HasNode(id string) bool { return s.indexOf(id) >= 0 }

// SetFunnelID switches the store to another funnel. A different id wipes
// nodes, edges, selection, history and preview before it is recorded.
func (s *Store) SetFunnelID(id string) {
	if id == s.funnelID {
		return
	}
	s.reset()
	s.funnelID = id
}

// Reset returns the store to its initial, funnel-less state.
func (s *Store) Reset() {
	s.reset()
	s.funnelID = ""
}

func (s *Store) reset() {
	s.nodes = []models.Node{}
	s.edges = []models.Edge{}
	s.selection = nil
	s.preview = nil
	s.history.clear()
	s.dragOrigin = nil
	s.generation++
}

// ReplaceNodes bulk-loads the node set. It establishes a new baseline and
// is not undoable. Duplicate ids are dropped, selection is cleared and edges
// left without an endpoint are pruned.
func (s *Store) ReplaceNodes(nodes []models.Node) {
	out := make([]models.Node, 0, len(nodes))
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			s.logger.Debug("editor: duplicate node dropped on load", slog.String("node_id", n.ID))
			continue
		}
		seen[n.ID] = struct{}{}
		c := n.Clone()
		c.Selected = false
		out = append(out, c)
	}
	s.nodes = out
	s.selection = nil
	s.dragOrigin = nil
	s.pruneEdges()
}

// ReplaceEdges bulk-loads the edge set. Edges with a missing endpoint or a
// duplicate id are dropped. Not undoable.
func (s *Store) ReplaceEdges(edges []models.Edge) {
	out := make([]models.Edge, 0, len(edges))
	seen := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		if _, dup := seen[e.ID]; dup || e.ID == "" {
			continue
		}
		if !s.HasNode(e.Source) || !s.HasNode(e.Target) {
			s.logger.Debug("editor: dangling edge dropped on load", slog.String("edge_id", e.ID))
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	s.edges = out
	s.dragOrigin = nil
}

// AddNode appends n. A node whose id is already present is dropped.
func (s *Store) AddNode(n models.Node) bool {
	if n.ID == "" || s.HasNode(n.ID) {
		s.logger.Debug("editor: add node dropped", slog.String("node_id", n.ID))
		return false
	}
	s.pushHistory()
	c := n.Clone()
	c.Selected = false
	s.nodes = append(s.nodes, c)
	return true
}

// UpdateNodeData shallow-merges patch into the node's data.
func (s *Store) UpdateNodeData(id string, patch models.Data) bool {
	i := s.indexOf(id)
	if i < 0 || len(patch) == 0 {
		s.logger.Debug("editor: update dropped", slog.String("node_id", id))
		return false
	}
	s.pushHistory()
	s.nodes[i].Data = s.nodes[i].Data.Merge(patch)
	s.refreshSelection()
	return true
}

// ApplyAt is UpdateNodeData guarded by the funnel generation captured when
// an asynchronous task started. Completions that outlived their funnel, or
// whose node was deleted meanwhile, are rejected.
func (s *Store) ApplyAt(generation uint64, id string, patch models.Data) bool {
	if generation != s.generation {
		s.logger.Debug("editor: stale completion rejected",
			slog.String("node_id", id),
			slog.Uint64("generation", generation),
			slog.Uint64("current", s.generation))
		return false
	}
	return s.UpdateNodeData(id, patch)
}

// DeleteNode removes a node and every edge touching it.
func (s *Store) DeleteNode(id string) bool {
	if !s.HasNode(id) {
		return false
	}
	s.pushHistory()
	s.removeNode(id)
	return true
}

// UnselectNode clears every selection flag. Not undoable.
func (s *Store) UnselectNode() {
	for i := range s.nodes {
		s.nodes[i].Selected = false
	}
	s.selection = nil
}

// SetPreviewContent sets or, with nil, clears the preview. Not undoable.
func (s *Store) SetPreviewContent(p *models.PreviewContent) {
	if p == nil {
		s.preview = nil
		return
	}
	c := *p
	s.preview = &c
}

// UndoLastAction restores nodes and edges to the most recent snapshot.
// Selection and preview keep their current value; a selection whose node
// does not exist in the restored graph is cleared.
func (s *Store) UndoLastAction() bool {
	g, ok := s.history.pop()
	if !ok {
		return false
	}
	s.nodes = g.Nodes
	s.edges = g.Edges
	s.dragOrigin = nil

	selected := ""
	if s.selection != nil {
		selected = s.selection.ID
	}
	for i := range s.nodes {
		s.nodes[i].Selected = s.nodes[i].ID == selected
	}
	s.refreshSelection()
	return true
}

// ApplyNodeChanges applies a batch of node changes atomically.
//
// A batch pushes exactly one snapshot when it completes a drag of an existing
// node; every other batch leaves history alone. Frames of an ongoing drag
// never push. The snapshot recorded on release is the current graph with each
// dragged node back at the position it had before its first frame.
func (s *Store) ApplyNodeChanges(changes []NodeChange) {
	completes := false
	for _, c := range changes {
		if !s.HasNode(c.ID) {
			continue
		}
		switch {
		case c.completesDrag():
			completes = true
			s.recordDragOrigin(c.ID)
		case c.duringDrag():
			s.recordDragOrigin(c.ID)
		}
	}
	if completes {
		s.history.push(s.dragSnapshot())
		s.dragOrigin = nil
	}

	for _, c := range changes {
		i := s.indexOf(c.ID)
		if i < 0 {
			continue
		}
		switch c.Type {
		case NodeChangePosition:
			if c.Position != nil {
				s.nodes[i].Position = *c.Position
			}
		case NodeChangeSelect:
			s.setSelected(i, c.Selected)
		case NodeChangeDimensions:
			if c.Dimensions != nil {
				d := *c.Dimensions
				s.nodes[i].Size = &d
			}
		case NodeChangeRemove:
			s.removeNode(c.ID)
		}
	}
	s.refreshSelection()
}

// ApplyEdgeChanges applies a batch of edge changes atomically. A batch that
// adds or removes at least one edge pushes one snapshot; selection-only
// batches do not.
func (s *Store) ApplyEdgeChanges(changes []EdgeChange) {
	content := false
	for _, c := range changes {
		switch c.Type {
		case EdgeChangeAdd:
			content = content || s.canAddEdge(c.Item)
		case EdgeChangeRemove:
			content = content || s.indexOfEdge(c.ID) >= 0
		}
	}
	if content {
		s.pushHistory()
	}

	for _, c := range changes {
		switch c.Type {
		case EdgeChangeAdd:
			if s.canAddEdge(c.Item) {
				s.edges = append(s.edges, *c.Item)
			} else {
				s.logger.Debug("editor: edge add dropped")
			}
		case EdgeChangeRemove:
			s.edges = slices.DeleteFunc(s.edges, func(e models.Edge) bool { return e.ID == c.ID })
		case EdgeChangeSelect:
			if i := s.indexOfEdge(c.ID); i >= 0 {
				s.edges[i].Selected = c.Selected
			}
		}
	}
}

// HasConnection reports whether an edge with the same endpoints and handles exists.
func (s *Store) HasConnection(e models.Edge) bool {
	return slices.ContainsFunc(s.edges, func(x models.Edge) bool {
		return x.Source == e.Source && x.Target == e.Target &&
			x.SourceHandle == e.SourceHandle && x.TargetHandle == e.TargetHandle
	})
}

func (s *Store) canAddEdge(e *models.Edge) bool {
	return e != nil && e.ID != "" && s.indexOfEdge(e.ID) < 0 &&
		s.HasNode(e.Source) && s.HasNode(e.Target)
}

// pushHistory records the current graph before a content mutation. A drag in
// progress keeps its origin.
func (s *Store) pushHistory() {
	s.history.push(s.Snapshot())
}

// recordDragOrigin remembers where id stood before its drag began.
func (s *Store) recordDragOrigin(id string) {
	if _, ok := s.dragOrigin[id]; ok {
		return
	}
	if s.dragOrigin == nil {
		s.dragOrigin = make(map[string]models.Position)
	}
	s.dragOrigin[id] = s.nodes[s.indexOf(id)].Position
}

func (s *Store) dragSnapshot() models.Graph {
	g := s.Snapshot()
	for i := range g.Nodes {
		if p, ok := s.dragOrigin[g.Nodes[i].ID]; ok {
			g.Nodes[i].Position = p
		}
	}
	return g
}

func (s *Store) removeNode(id string) {
	s.nodes = slices.DeleteFunc(s.nodes, func(n models.Node) bool { return n.ID == id })
	delete(s.dragOrigin, id)
	s.pruneEdges()
	if s.selection != nil && s.selection.ID == id {
		s.selection = nil
	}
}

// pruneEdges drops edges whose source or target is gone.
func (s *Store) pruneEdges() {
	s.edges = slices.DeleteFunc(s.edges, func(e models.Edge) bool {
		return !s.HasNode(e.Source) || !s.HasNode(e.Target)
	})
}

func (s *Store) setSelected(i int, selected bool) {
	if !selected {
		s.nodes[i].Selected = false
		if s.selection != nil && s.selection.ID == s.nodes[i].ID {
			s.selection = nil
		}
		return
	}
	for j := range s.nodes {
		s.nodes[j].Selected = j == i
	}
	n := s.nodes[i].Clone()
	s.selection = &n
}

// refreshSelection re-reads the cached selection from the node set so that
// it never points at a stale or missing node.
func (s *Store) refreshSelection() {
	if s.selection == nil {
		return
	}
	i := s.indexOf(s.selection.ID)
	if i < 0 {
		s.selection = nil
		return
	}
	n := s.nodes[i].Clone()
	s.selection = &n
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.nodes, func(n models.Node) bool { return n.ID == id })
}

func (s *Store) indexOfEdge(id string) int {
	return slices.IndexFunc(s.edges, func(e models.Edge) bool { return e.ID == id })
}
