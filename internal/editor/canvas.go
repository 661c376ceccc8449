package editor

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/starford/funnelsim/internal/blocks"
	"github.com/starford/funnelsim/internal/models"
)

// NewFunnelID is the funnel id of an unsaved funnel.
const NewFunnelID = "new"

// Point is a screen-space coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the canvas transform. Bounds is the canvas element's origin on
// screen; X and Y are the pan offset.
type Viewport struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Zoom   float64 `json:"zoom"`
	Bounds Point   `json:"bounds"`
}

// Project maps a screen point into graph space.
func (v Viewport) Project(p Point) models.Position {
	zoom := v.Zoom
	if zoom <= 0 {
		zoom = 1
	}
	return models.Position{
		X: (p.X - v.Bounds.X - v.X) / zoom,
		Y: (p.Y - v.Bounds.Y - v.Y) / zoom,
	}
}

// Connection is a handle-to-handle link requested by the user.
type Connection struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// IDGenerator hands out node ids. Ids are never reused for the lifetime of
// the generator, across funnels.
type IDGenerator struct {
	n atomic.Uint64
}

// Next returns the next id.
func (g *IDGenerator) Next() string {
	return fmt.Sprintf("dnd-node_%d", g.n.Add(1)-1)
}

var processIDs IDGenerator

// Canvas translates pointer interactions into store mutations.
type Canvas struct {
	registry *blocks.Registry
	store    *Store
	ids      *IDGenerator
	handoff  *Handoff
	logger   *slog.Logger
	viewport Viewport
}

// CanvasOption configures a Canvas.
type CanvasOption func(*Canvas)

// WithIDGenerator replaces the process-wide node id generator.
func WithIDGenerator(g *IDGenerator) CanvasOption {
	return func(c *Canvas) { c.ids = g }
}

// WithHandoff sets the buffer consumed when a new funnel is opened.
func WithHandoff(h *Handoff) CanvasOption {
	return func(c *Canvas) { c.handoff = h }
}

// WithCanvasLogger sets the canvas logger.
func WithCanvasLogger(l *slog.Logger) CanvasOption {
	return func(c *Canvas) { c.logger = l }
}

// NewCanvas binds a canvas to a registry and a store.
func NewCanvas(reg *blocks.Registry, store *Store, opts ...CanvasOption) *Canvas {
	c := &Canvas{
		registry: reg,
		store:    store,
		ids:      &processIDs,
		logger:   slog.Default(),
		viewport: Viewport{Zoom: 1},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.handoff == nil {
		c.handoff = &Handoff{}
	}
	return c
}

// Handoff returns the canvas's handoff buffer.
func (c *Canvas) Handoff() *Handoff { return c.handoff }

// Viewport returns the current transform.
func (c *Canvas) Viewport() Viewport { return c.viewport }

// SetViewport records the transform used by OnDrop.
func (c *Canvas) SetViewport(v Viewport) { c.viewport = v }

// OnDrop places a block of the given kind at a screen position. An empty or
// unknown kind is ignored. It returns the new node id.
func (c *Canvas) OnDrop(kind string, at Point) (string, bool) {
	if kind == "" {
		return "", false
	}
	d, ok := c.registry.Lookup(kind)
	if !ok {
		c.logger.Debug("editor: drop of unknown kind ignored", slog.String("kind", kind))
		return "", false
	}

	id := c.nextFreeID()
	data := models.Data{}
	if !d.IsNote {
		data[models.FieldLabel] = d.Label
	}
	node := models.Node{
		ID:       id,
		Kind:     d.Kind,
		Position: c.viewport.Project(at),
		Data:     data,
	}
	if !c.store.AddNode(node) {
		return "", false
	}
	return id, true
}

// OnConnect adds an edge between two existing nodes. Self-loops and exact
// duplicates are rejected.
func (c *Canvas) OnConnect(conn Connection) (string, bool) {
	if conn.Source == "" || conn.Target == "" || conn.Source == conn.Target {
		return "", false
	}
	if !c.store.HasNode(conn.Source) || !c.store.HasNode(conn.Target) {
		return "", false
	}
	e := models.Edge{
		ID:           uuid.NewString(),
		Source:       conn.Source,
		Target:       conn.Target,
		SourceHandle: conn.SourceHandle,
		TargetHandle: conn.TargetHandle,
	}
	if c.store.HasConnection(e) {
		return "", false
	}
	c.store.ApplyEdgeChanges([]EdgeChange{{Type: EdgeChangeAdd, Item: &e}})
	return e.ID, true
}

// OnViewportLoad hydrates a freshly opened "new" funnel from the handoff
// buffer. The buffer is consumed; other funnel ids leave it untouched.
func (c *Canvas) OnViewportLoad(funnelID string) bool {
	if funnelID != NewFunnelID {
		return false
	}
	g, ok := c.handoff.Take()
	if !ok {
		return false
	}
	c.store.ReplaceNodes(g.Nodes)
	c.store.ReplaceEdges(g.Edges)
	return true
}

func (c *Canvas) nextFreeID() string {
	for {
		id := c.ids.Next()
		if !c.store.HasNode(id) {
			return id
		}
	}
}
