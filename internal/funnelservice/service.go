// Package funnelservice coordinates funnel persistence, documents and
// change notifications.
package funnelservice

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/funnelsim/internal/apperr"
	"github.com/starford/funnelsim/internal/blocks"
	"github.com/starford/funnelsim/internal/checksum"
	"github.com/starford/funnelsim/internal/funnelfile"
	"github.com/starford/funnelsim/internal/models"
	"github.com/starford/funnelsim/internal/repo"
)

// DefaultName is used for funnels saved without a name.
const DefaultName = "Untitled funnel"

// Notifier receives funnel lifecycle events.
type Notifier interface {
	PublishFunnelEvent(kind, id string)
}

// Service coordinates the repository and funnel documents.
type Service struct {
	repo     repo.Funnels
	registry *blocks.Registry
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets where funnel events are published.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new funnel service.
func NewService(r repo.Funnels, reg *blocks.Registry, opts ...Option) *Service {
	s := &Service{
		repo:     r,
		registry: reg,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the block registry the service validates against.
func (s *Service) Registry() *blocks.Registry { return s.registry }

// Get loads one funnel.
func (s *Service) Get(ctx context.Context, id string) (*models.Funnel, error) {
	return s.repo.Get(ctx, id)
}

// List returns paginated funnel summaries filtered by name.
func (s *Service) List(ctx context.Context, limit, offset int, query string) ([]models.FunnelSummary, int, error) {
	return s.repo.List(ctx, limit, offset, strings.TrimSpace(query))
}

// Create persists a new funnel with a fresh id.
func (s *Service) Create(ctx context.Context, name string, g models.Graph) (*models.Funnel, error) {
	name = normalizeName(name)
	if err := s.validate(name, g); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	f := &models.Funnel{
		ID:        uuid.NewString(),
		Name:      name,
		Nodes:     persistedNodes(g.Nodes),
		Edges:     persistedEdges(g.Edges),
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.Checksum = Checksum(f)
	if err := s.repo.Insert(ctx, f); err != nil {
		return nil, err
	}
	s.logger.Info("funnel created", slog.String("funnel_id", f.ID), slog.Int("nodes", len(f.Nodes)))
	s.notify("created", f.ID)
	return f, nil
}

// Update replaces a funnel's name and graph with optimistic concurrency:
// a non-empty ifMatch must equal the stored checksum. An empty name keeps
// the current one.
func (s *Service) Update(ctx context.Context, id, name string, g models.Graph, ifMatch string) (*models.Funnel, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" && ifMatch != existing.Checksum {
		return nil, fmt.Errorf("funnelservice: update %s: %w", id, apperr.ErrConflict)
	}
	if strings.TrimSpace(name) == "" {
		name = existing.Name
	}
	name = normalizeName(name)
	if err := s.validate(name, g); err != nil {
		return nil, err
	}

	f := &models.Funnel{
		ID:        id,
		Name:      name,
		Nodes:     persistedNodes(g.Nodes),
		Edges:     persistedEdges(g.Edges),
		CreatedAt: existing.CreatedAt,
		UpdatedAt: s.now().UTC(),
	}
	f.Checksum = Checksum(f)
	if err := s.repo.Update(ctx, f); err != nil {
		return nil, err
	}
	s.notify("updated", f.ID)
	return f, nil
}

// Delete removes a funnel.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.notify("deleted", id)
	return nil
}

// Import parses a funnel document and stores it as a new funnel. A document
// without a name is named after the file.
func (s *Service) Import(ctx context.Context, fileName string, data []byte) (*models.Funnel, error) {
	doc, err := funnelfile.Load(fileName, data, s.registry)
	if err != nil {
		return nil, err
	}
	name := doc.Name
	if strings.TrimSpace(name) == "" {
		base := filepath.Base(fileName)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return s.Create(ctx, name, doc.Graph())
}

// Ping checks the repository.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) validate(name string, g models.Graph) error {
	err := validation.Errors{
		"name":  validation.Validate(name, validation.Required, validation.RuneLength(1, 200)),
		"nodes": validation.Validate(g.Nodes, validation.Each(validation.By(s.knownKind))),
	}.Filter()
	if err != nil {
		return fmt.Errorf("funnelservice: %v: %w", err, apperr.ErrInvalid)
	}
	return nil
}

func (s *Service) knownKind(v any) error {
	n, ok := v.(models.Node)
	if !ok {
		return nil
	}
	if n.ID == "" {
		return fmt.Errorf("node without id")
	}
	if _, ok := s.registry.Lookup(n.Kind); !ok {
		return fmt.Errorf("node %s has unknown kind %q", n.ID, n.Kind)
	}
	return nil
}

func (s *Service) notify(kind, id string) {
	if s.notifier != nil {
		s.notifier.PublishFunnelEvent(kind, id)
	}
}

// Checksum is the SHA-256 of the funnel's name and graph. It is the ETag
// clients send back in If-Match.
func Checksum(f *models.Funnel) string {
	return checksum.JSON(struct {
		Name  string        `json:"name"`
		Nodes []models.Node `json:"nodes"`
		Edges []models.Edge `json:"edges"`
	}{f.Name, f.Nodes, f.Edges})
}

func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultName
	}
	return name
}

// persistedNodes drops transient selection state.
func persistedNodes(nodes []models.Node) []models.Node {
	out := models.CloneNodes(nodes)
	for i := range out {
		out[i].Selected = false
	}
	return out
}

func persistedEdges(edges []models.Edge) []models.Edge {
	out := models.CloneEdges(edges)
	for i := range out {
		out[i].Selected = false
	}
	return out
}
