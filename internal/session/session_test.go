package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/funnelsim/internal/apperr"
	"github.com/starford/funnelsim/internal/blocks"
	"github.com/starford/funnelsim/internal/editor"
	"github.com/starford/funnelsim/internal/models"
	"github.com/starford/funnelsim/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) PublishEditorEvent(sessionID, kind string) {
	r.mu.Lock()
	r.events = append(r.events, kind)
	r.mu.Unlock()
}

func (r *recorder) has(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == kind {
			return true
		}
	}
	return false
}

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithLogger(testutil.Logger())}, opts...)
	m := NewManager(blocks.Default(), opts...)
	t.Cleanup(m.CloseAll)
	return m
}

func TestSession_DoRunsInOrder(t *testing.T) {
	m := newManager(t)
	s := m.Create()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(ctx, func(ed *Editor) error {
				ed.Canvas.OnDrop("notes", editor.Point{})
				return nil
			})
		}()
	}
	wg.Wait()

	st, err := s.State(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Nodes) != 50 {
		t.Fatalf("nodes = %d, want 50", len(st.Nodes))
	}
}

func TestSession_DoReturnsError(t *testing.T) {
	s := newManager(t).Create()
	want := errors.New("boom")
	if err := s.Do(context.Background(), func(*Editor) error { return want }); !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestSession_ClosedRejects(t *testing.T) {
	s := newManager(t).Create()
	s.Close()
	s.Close()
	if err := s.Do(context.Background(), func(*Editor) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestSession_OpenNewConsumesHandoff(t *testing.T) {
	s := newManager(t).Create()
	ctx := context.Background()

	_ = s.Do(ctx, func(ed *Editor) error {
		ed.Canvas.Handoff().Put(models.Graph{Nodes: []models.Node{{ID: "a", Kind: "notes"}}})
		return nil
	})
	if err := s.OpenNew(ctx); err != nil {
		t.Fatal(err)
	}
	st, _ := s.State(ctx)
	if st.FunnelID != editor.NewFunnelID || len(st.Nodes) != 1 {
		t.Fatalf("state = %+v", st)
	}
}

func TestSession_OpenSameFunnelKeepsHistory(t *testing.T) {
	s := newManager(t).Create()
	ctx := context.Background()
	f := &models.Funnel{ID: "f1", Nodes: []models.Node{{ID: "a", Kind: "notes", Data: models.Data{}}}}

	if changed, _ := s.Open(ctx, f); !changed {
		t.Fatal("first open reported no change")
	}
	_ = s.Do(ctx, func(ed *Editor) error {
		ed.Store.UpdateNodeData("a", models.Data{models.FieldNotesText: "hi"})
		return nil
	})
	if changed, _ := s.Open(ctx, f); changed {
		t.Fatal("reopening the same funnel reloaded it")
	}
	st, _ := s.State(ctx)
	if st.HistoryLen != 1 || st.Nodes[0].Data[models.FieldNotesText] != "hi" {
		t.Fatalf("state = %+v", st)
	}
}

func TestSession_AttachFilePublishes(t *testing.T) {
	rec := &recorder{}
	s := newManager(t, WithPublisher(rec)).Create()
	ctx := context.Background()

	_ = s.Do(ctx, func(ed *Editor) error {
		id, _ := ed.Canvas.OnDrop("image-upload", editor.Point{})
		ed.Store.ApplyNodeChanges([]editor.NodeChange{editor.Select(id, true)})
		return nil
	})
	started, err := s.AttachFile(ctx, editor.File{Name: "a.png", Type: "image/png", Body: strings.NewReader("x")})
	if err != nil || !started {
		t.Fatalf("attach = %v, %v", started, err)
	}

	testutil.Eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		st, _ := s.State(ctx)
		return st.Selected != nil && st.Selected.Data[models.FieldFileSrc] != ""
	}, "file never attached")
	testutil.Eventually(t, time.Second, 10*time.Millisecond, func() bool {
		return rec.has("file.attached")
	}, "file.attached not published")
}

func TestSession_DispatchPublishesOnlyApplied(t *testing.T) {
	rec := &recorder{}
	s := newManager(t, WithPublisher(rec)).Create()
	ctx := context.Background()
	barrier := func() {
		if err := s.Do(ctx, func(*Editor) error { return nil }); err != nil {
			t.Fatal(err)
		}
	}

	s.Dispatch(func() bool { return false })
	barrier()
	if rec.has("file.attached") {
		t.Fatal("discarded completion published file.attached")
	}

	s.Dispatch(func() bool { return true })
	barrier()
	if !rec.has("file.attached") {
		t.Fatal("applied completion not published")
	}
}

func TestSession_MutatePublishesOnlyChanges(t *testing.T) {
	rec := &recorder{}
	s := newManager(t, WithPublisher(rec)).Create()
	ctx := context.Background()

	_, _ = s.Mutate(ctx, "graph.undo", func(ed *Editor) bool { return ed.Store.UndoLastAction() })
	if rec.has("graph.undo") {
		t.Fatal("no-op undo published an event")
	}
	_, _ = s.Mutate(ctx, "node.added", func(ed *Editor) bool {
		_, ok := ed.Canvas.OnDrop("notes", editor.Point{})
		return ok
	})
	if !rec.has("node.added") {
		t.Fatal("node.added not published")
	}
}

func TestManager_GetUnknown(t *testing.T) {
	m := newManager(t)
	if _, err := m.Get("nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := m.Close("nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("close err = %v, want ErrNotFound", err)
	}
}

func TestManager_SharedIDGenerator(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 2; i++ {
		s := m.Create()
		_ = s.Do(ctx, func(ed *Editor) error {
			id, _ := ed.Canvas.OnDrop("notes", editor.Point{})
			ids = append(ids, id)
			return nil
		})
	}
	if ids[0] == ids[1] {
		t.Fatalf("sessions produced the same node id %s", ids[0])
	}
}

func TestManager_Reap(t *testing.T) {
	m := newManager(t, WithTTL(time.Minute))
	idle := m.Create()
	fresh := m.Create()

	idle.lastUsed.Store(time.Now().Add(-2 * time.Minute).UnixNano())
	if n := m.Reap(time.Now()); n != 1 {
		t.Fatalf("reaped = %d, want 1", n)
	}
	if _, err := m.Get(idle.ID()); err == nil {
		t.Fatal("idle session still registered")
	}
	if _, err := m.Get(fresh.ID()); err != nil {
		t.Fatalf("fresh session reaped: %v", err)
	}
	select {
	case <-idle.Done():
	case <-time.After(time.Second):
		t.Fatal("reaped session loop still running")
	}
}

func TestManager_RunClosesOnCancel(t *testing.T) {
	m := newManager(t)
	s := m.Create()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}
	if m.Len() != 0 {
		t.Fatal("sessions left after shutdown")
	}
	<-s.Done()
}
