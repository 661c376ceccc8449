// Package importer turns funnel documents dropped into the workspace
// imports directory into stored funnels.
package importer

import (
	"context"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/funnelsim/internal/models"
	"github.com/starford/funnelsim/internal/storage"
)

// Directories relative to the workspace root.
const (
	Dir          = "imports"
	ProcessedDir = "imports/processed"
	FailedDir    = "imports/failed"
)

const settleDelay = 200 * time.Millisecond

// Service creates funnels from documents.
type Service interface {
	Import(ctx context.Context, fileName string, data []byte) (*models.Funnel, error)
}

// EventCallback is called after each processed document.
// kind is "imported" or "failed"; id is the new funnel id when imported.
type EventCallback func(kind, file, id string)

// Importer processes documents from the imports directory.
type Importer struct {
	svc    Service
	store  storage.Provider
	logger *slog.Logger
	cb     EventCallback
}

// New creates an importer. cb may be nil.
func New(svc Service, store storage.Provider, logger *slog.Logger, cb EventCallback) *Importer {
	return &Importer{svc: svc, store: store, logger: logger, cb: cb}
}

// Sync imports every document already waiting in the imports directory and
// returns how many were imported.
func (im *Importer) Sync(ctx context.Context) int {
	files, err := im.store.List(Dir)
	if err != nil {
		im.logger.Warn("importer: list failed", slog.String("error", err.Error()))
		return 0
	}
	n := 0
	for _, f := range files {
		if im.process(ctx, path.Base(f.Path)) {
			n++
		}
	}
	return n
}

// Watch imports documents as they appear until ctx is cancelled. Writes are
// allowed to settle briefly before a file is read.
func (im *Importer) Watch(ctx context.Context) error {
	dir, err := im.store.Abs(Dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}

	im.logger.Info("importer: watching", slog.String("dir", dir))
	im.Sync(ctx)

	pending := make(map[string]struct{})
	var settleTimer *time.Timer
	var settleCh <-chan time.Time

	schedule := func() {
		if settleTimer == nil {
			settleTimer = time.NewTimer(settleDelay)
			settleCh = settleTimer.C
		} else {
			settleTimer.Reset(settleDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if settleTimer != nil {
				settleTimer.Stop()
			}
			im.logger.Info("importer: stopped")
			return nil

		case <-settleCh:
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			clear(pending)
			sort.Strings(names)
			for _, name := range names {
				im.process(ctx, name)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if name[0] == '.' || !storage.IsFunnelDocument(name) {
				continue
			}
			if info, statErr := os.Stat(ev.Name); statErr != nil || info.IsDir() {
				continue
			}
			pending[name] = struct{}{}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			im.logger.Error("importer: watch error", slog.String("error", watchErr.Error()))
		}
	}
}

// process imports one file and moves it to processed/ or failed/.
func (im *Importer) process(ctx context.Context, name string) bool {
	src := path.Join(Dir, name)
	logger := im.logger.With(slog.String("file", src))

	data, err := im.store.Read(src)
	if err != nil {
		// Already moved by an earlier pass.
		logger.Debug("importer: read skipped", slog.String("error", err.Error()))
		return false
	}

	f, err := im.svc.Import(ctx, name, data)
	if err != nil {
		logger.Warn("importer: import failed", slog.String("error", err.Error()))
		if mvErr := im.store.Move(src, path.Join(FailedDir, name)); mvErr != nil {
			logger.Error("importer: move to failed", slog.String("error", mvErr.Error()))
		}
		if im.cb != nil {
			im.cb("failed", name, "")
		}
		return false
	}

	if mvErr := im.store.Move(src, path.Join(ProcessedDir, name)); mvErr != nil {
		logger.Error("importer: move to processed", slog.String("error", mvErr.Error()))
	}
	logger.Info("importer: imported", slog.String("funnel_id", f.ID), slog.String("name", f.Name))
	if im.cb != nil {
		im.cb("imported", name, f.ID)
	}
	return true
}
