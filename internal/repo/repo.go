// Package repo persists funnels in SQLite or PostgreSQL.
package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/starford/funnelsim/internal/models"
)

// Funnels defines the persistence operations for funnels.
// Consumers should depend on this interface rather than a concrete driver.
type Funnels interface {
	Insert(ctx context.Context, f *models.Funnel) error
	Get(ctx context.Context, id string) (*models.Funnel, error)
	Update(ctx context.Context, f *models.Funnel) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit, offset int, query string) ([]models.FunnelSummary, int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Verify both drivers satisfy Funnels at compile time.
var (
	_ Funnels = (*SQLite)(nil)
	_ Funnels = (*Postgres)(nil)
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open opens the configured driver. dsn is a file path for sqlite and a
// connection string for postgres.
func Open(ctx context.Context, driver, dsn string) (Funnels, error) {
	switch driver {
	case "", DriverSQLite:
		return OpenSQLite(dsn)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("repo: unknown driver %q", driver)
	}
}

func encodeGraph(f *models.Funnel) (nodes, edges []byte, err error) {
	nodes, err = json.Marshal(models.CloneNodes(f.Nodes))
	if err != nil {
		return nil, nil, fmt.Errorf("repo: encode nodes: %w", err)
	}
	edges, err = json.Marshal(models.CloneEdges(f.Edges))
	if err != nil {
		return nil, nil, fmt.Errorf("repo: encode edges: %w", err)
	}
	return nodes, edges, nil
}

func decodeGraph(f *models.Funnel, nodes, edges []byte) error {
	if err := json.Unmarshal(nodes, &f.Nodes); err != nil {
		return fmt.Errorf("repo: decode nodes of %s: %w", f.ID, err)
	}
	if err := json.Unmarshal(edges, &f.Edges); err != nil {
		return fmt.Errorf("repo: decode edges of %s: %w", f.ID, err)
	}
	f.Nodes = models.CloneNodes(f.Nodes)
	f.Edges = models.CloneEdges(f.Edges)
	return nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
