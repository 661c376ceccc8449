// Package session runs editor sessions. Each session owns one store and
// executes every operation on it from a single goroutine.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/starford/funnelsim/internal/blocks"
	"github.com/starford/funnelsim/internal/editor"
	"github.com/starford/funnelsim/internal/models"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session: closed")

// Publisher receives editor change notifications.
type Publisher interface {
	PublishEditorEvent(sessionID, kind string)
}

// Editor bundles the components a session command may use.
type Editor struct {
	Registry *blocks.Registry
	Store    *editor.Store
	Panel    *editor.Panel
	Canvas   *editor.Canvas
}

// State is a point-in-time view of a session.
type State struct {
	SessionID  string                 `json:"session_id"`
	FunnelID   string                 `json:"funnel_id"`
	Generation uint64                 `json:"generation"`
	Nodes      []models.Node          `json:"nodes"`
	Edges      []models.Edge          `json:"edges"`
	Selected   *models.Node           `json:"selected,omitempty"`
	Preview    *models.PreviewContent `json:"preview,omitempty"`
	HistoryLen int                    `json:"history_len"`
	Viewport   editor.Viewport        `json:"viewport"`
}

// Session is one editor tab.
//
// Concurrency model: a single loop goroutine owns the editor. Do submits a
// command and waits for it; file-read completions are posted without waiting
// and run in the order they arrive.
type Session struct {
	id        string
	ed        *Editor
	logger    *slog.Logger
	publisher Publisher

	cmdCh    chan func()
	lastUsed atomic.Int64

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

func newSession(id string, reg *blocks.Registry, cfg settings) *Session {
	logger := cfg.logger.With(slog.String("session_id", id))
	store := editor.NewStore(
		editor.WithLogger(logger),
		editor.WithHistoryLimit(cfg.historyLimit),
	)
	s := &Session{
		id:        id,
		logger:    logger,
		publisher: cfg.publisher,
		cmdCh:     make(chan func(), 64),
		stopCh:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	s.ed = &Editor{
		Registry: reg,
		Store:    store,
		Panel: editor.NewPanel(reg, store,
			editor.WithPanelLogger(logger),
			editor.WithMaxUploadBytes(cfg.maxUpload)),
		Canvas: editor.NewCanvas(reg, store,
			editor.WithCanvasLogger(logger),
			editor.WithIDGenerator(cfg.ids)),
	}
	s.touch()

	go s.run()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.stopCh:
			return
		case cmd := <-s.cmdCh:
			cmd()
		}
	}
}

// Do runs fn on the session loop and returns its error.
func (s *Session) Do(ctx context.Context, fn func(*Editor) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.touch()

	done := make(chan error, 1)
	cmd := func() { done <- fn(s.ed) }

	select {
	case s.cmdCh <- cmd:
	case <-s.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-s.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Mutate runs fn and publishes kind when it reports a change.
func (s *Session) Mutate(ctx context.Context, kind string, fn func(*Editor) bool) (bool, error) {
	return s.Apply(ctx, kind, func(ed *Editor) (bool, error) {
		return fn(ed), nil
	})
}

// Apply is Mutate for commands that can fail. Nothing is published on error.
func (s *Session) Apply(ctx context.Context, kind string, fn func(*Editor) (bool, error)) (bool, error) {
	var changed bool
	err := s.Do(ctx, func(ed *Editor) error {
		var err error
		changed, err = fn(ed)
		return err
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.publish(kind)
	}
	return changed, nil
}

// Dispatch posts fn to the loop without waiting. It is the editor.Dispatcher
// used by asynchronous file reads; file.attached is published only when fn
// applied its change.
func (s *Session) Dispatch(fn func() bool) {
	if s.closed.Load() {
		return
	}
	select {
	case s.cmdCh <- func() {
		if fn() {
			s.publish("file.attached")
		}
	}:
	case <-s.stopped:
	}
}

// State returns a snapshot of the editor.
func (s *Session) State(ctx context.Context) (State, error) {
	var st State
	err := s.Do(ctx, func(ed *Editor) error {
		st = State{
			SessionID:  s.id,
			FunnelID:   ed.Store.FunnelID(),
			Generation: ed.Store.Generation(),
			Nodes:      ed.Store.Nodes(),
			Edges:      ed.Store.Edges(),
			Preview:    ed.Store.Preview(),
			HistoryLen: ed.Store.HistoryLen(),
			Viewport:   ed.Canvas.Viewport(),
		}
		if n, ok := ed.Store.Selected(); ok {
			st.Selected = &n
		}
		return nil
	})
	return st, err
}

// OpenNew switches the session to an unsaved funnel and hydrates it from the
// handoff buffer when one is pending.
func (s *Session) OpenNew(ctx context.Context) error {
	_, err := s.Mutate(ctx, "funnel.opened", func(ed *Editor) bool {
		ed.Store.SetFunnelID(editor.NewFunnelID)
		ed.Canvas.OnViewportLoad(editor.NewFunnelID)
		return true
	})
	return err
}

// Open loads a persisted funnel. Opening the funnel that is already loaded
// keeps the live graph and its history.
func (s *Session) Open(ctx context.Context, f *models.Funnel) (bool, error) {
	return s.Mutate(ctx, "funnel.opened", func(ed *Editor) bool {
		if ed.Store.FunnelID() == f.ID {
			return false
		}
		ed.Store.SetFunnelID(f.ID)
		ed.Store.ReplaceNodes(f.Nodes)
		ed.Store.ReplaceEdges(f.Edges)
		return true
	})
}

// AttachFile starts an asynchronous upload into the selected node.
func (s *Session) AttachFile(ctx context.Context, f editor.File) (bool, error) {
	var started bool
	err := s.Do(ctx, func(ed *Editor) error {
		started = ed.Panel.AttachFile(f, s.Dispatch)
		return nil
	})
	return started, err
}

// Close stops the loop. It is safe to call more than once.
func (s *Session) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.stopCh)
		s.logger.Debug("session: closed")
	}
	<-s.stopped
}

// Done is closed once the loop has exited.
func (s *Session) Done() <-chan struct{} { return s.stopped }

func (s *Session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *Session) publish(kind string) {
	if s.publisher != nil {
		s.publisher.PublishEditorEvent(s.id, kind)
	}
}
