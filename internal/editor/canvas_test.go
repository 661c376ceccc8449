package editor

import (
	"testing"

	"github.com/starford/funnelsim/internal/blocks"
	"github.com/starford/funnelsim/internal/models"
)

func newCanvas(t *testing.T) (*Canvas, *Store) {
	t.Helper()
	s := NewStore()
	return NewCanvas(blocks.Default(), s, WithIDGenerator(&IDGenerator{})), s
}

func TestViewport_Project(t *testing.T) {
	v := Viewport{X: 100, Y: 50, Zoom: 2, Bounds: Point{X: 10, Y: 20}}
	got := v.Project(Point{X: 310, Y: 270})
	want := models.Position{X: 100, Y: 100}
	if got != want {
		t.Fatalf("project = %+v, want %+v", got, want)
	}
	if got := (Viewport{}).Project(Point{X: 3, Y: 4}); got != (models.Position{X: 3, Y: 4}) {
		t.Fatalf("zero zoom project = %+v", got)
	}
}

func TestOnDrop(t *testing.T) {
	c, s := newCanvas(t)
	c.SetViewport(Viewport{Zoom: 1, Bounds: Point{X: 10, Y: 10}})

	id, ok := c.OnDrop("checkout", Point{X: 110, Y: 60})
	if !ok || id != "dnd-node_0" {
		t.Fatalf("drop = %q, %v", id, ok)
	}
	n, _ := s.Node(id)
	if n.Kind != "checkout" || n.Position != (models.Position{X: 100, Y: 50}) {
		t.Fatalf("node = %+v", n)
	}
	if n.Data[models.FieldLabel] != "Checkout" {
		t.Errorf("label = %q", n.Data[models.FieldLabel])
	}
	if s.HistoryLen() != 1 {
		t.Error("drop is not undoable")
	}
}

func TestOnDrop_Ignored(t *testing.T) {
	c, s := newCanvas(t)
	for _, kind := range []string{"", "teleporter"} {
		if _, ok := c.OnDrop(kind, Point{}); ok {
			t.Errorf("drop of %q accepted", kind)
		}
	}
	if len(s.Nodes()) != 0 || s.HistoryLen() != 0 {
		t.Fatal("ignored drop mutated the store")
	}
}

func TestOnDrop_IDsNeverReused(t *testing.T) {
	c, s := newCanvas(t)
	a, _ := c.OnDrop("notes", Point{})
	s.DeleteNode(a)
	s.SetFunnelID("other")
	b, _ := c.OnDrop("notes", Point{})
	if a == b {
		t.Fatalf("id %s reused", a)
	}
}

func TestOnDrop_SkipsLoadedIDs(t *testing.T) {
	c, s := newCanvas(t)
	s.ReplaceNodes([]models.Node{node("dnd-node_0", "notes", 0, 0), node("dnd-node_1", "notes", 0, 0)})
	id, ok := c.OnDrop("notes", Point{})
	if !ok || id != "dnd-node_2" {
		t.Fatalf("drop = %q, %v, want dnd-node_2", id, ok)
	}
}

func TestOnConnect(t *testing.T) {
	c, s := newCanvas(t)
	a, _ := c.OnDrop("landing-page", Point{})
	b, _ := c.OnDrop("checkout", Point{})

	id, ok := c.OnConnect(Connection{Source: a, Target: b})
	if !ok || id == "" {
		t.Fatal("connect rejected")
	}
	if _, ok := c.OnConnect(Connection{Source: a, Target: b}); ok {
		t.Fatal("duplicate connection accepted")
	}
	if _, ok := c.OnConnect(Connection{Source: a, Target: a}); ok {
		t.Fatal("self-loop accepted")
	}
	if _, ok := c.OnConnect(Connection{Source: a, Target: "ghost"}); ok {
		t.Fatal("dangling connection accepted")
	}
	if got := len(s.Edges()); got != 1 {
		t.Fatalf("edges = %d, want 1", got)
	}

	s.UndoLastAction()
	if len(s.Edges()) != 0 {
		t.Fatal("connect is not undoable")
	}
}

func TestOnViewportLoad_HandoffOneShot(t *testing.T) {
	c, s := newCanvas(t)
	c.Handoff().Put(models.Graph{
		Nodes: []models.Node{node("x", "notes", 0, 0), node("y", "notes", 0, 0)},
		Edges: []models.Edge{{ID: "e", Source: "x", Target: "y"}},
	})

	if c.OnViewportLoad("saved-id") {
		t.Fatal("handoff consumed for an existing funnel")
	}
	if !c.Handoff().Pending() {
		t.Fatal("handoff emptied by a non-new funnel")
	}

	s.SetFunnelID(NewFunnelID)
	if !c.OnViewportLoad(NewFunnelID) {
		t.Fatal("handoff not consumed")
	}
	if len(s.Nodes()) != 2 || len(s.Edges()) != 1 {
		t.Fatalf("loaded %d nodes, %d edges", len(s.Nodes()), len(s.Edges()))
	}
	if s.HistoryLen() != 0 {
		t.Fatal("hydration is undoable")
	}
	if c.OnViewportLoad(NewFunnelID) {
		t.Fatal("handoff consumed twice")
	}
}
