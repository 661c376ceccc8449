package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/starford/funnelsim/internal/apperr"
	"github.com/starford/funnelsim/internal/models"
)

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS funnels (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    nodes      JSONB NOT NULL DEFAULT '[]',
    edges      JSONB NOT NULL DEFAULT '[]',
    node_count INTEGER NOT NULL DEFAULT 0,
    checksum   TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_funnels_updated_at ON funnels(updated_at);
`

const pgUniqueViolation = "23505"

// Postgres stores funnels in PostgreSQL via a pgx pool.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("repo: connect postgres: %w", err)
	}
	p := NewPostgres(pool)
	if err := p.CreateSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// CreateSchema creates the funnels table if it does not exist.
func (p *Postgres) CreateSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("repo: apply postgres schema: %w", err)
	}
	return nil
}

// DropSchema drops the funnels table.
func (p *Postgres) DropSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `DROP TABLE IF EXISTS funnels`)
	return err
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}

// Ping checks the connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// Insert stores a new funnel.
func (p *Postgres) Insert(ctx context.Context, f *models.Funnel) error {
	nodes, edges, err := encodeGraph(f)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO funnels (id, name, nodes, edges, node_count, checksum, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, f.ID, f.Name, nodes, edges, len(f.Nodes), f.Checksum, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("repo: insert %s: %w", f.ID, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("repo: insert %s: %w", f.ID, err)
	}
	return nil
}

// Get loads one funnel.
func (p *Postgres) Get(ctx context.Context, id string) (*models.Funnel, error) {
	var (
		f            models.Funnel
		nodes, edges []byte
	)
	err := p.db.QueryRow(ctx, `
		SELECT id, name, nodes, edges, checksum, created_at, updated_at
		FROM funnels WHERE id = $1
	`, id).Scan(&f.ID, &f.Name, &nodes, &edges, &f.Checksum, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("repo: get %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("repo: get %s: %w", id, err)
	}
	if err := decodeGraph(&f, nodes, edges); err != nil {
		return nil, err
	}
	return &f, nil
}

// Update replaces name, graph and checksum of an existing funnel.
func (p *Postgres) Update(ctx context.Context, f *models.Funnel) error {
	nodes, edges, err := encodeGraph(f)
	if err != nil {
		return err
	}
	tag, err := p.db.Exec(ctx, `
		UPDATE funnels
		SET name = $1, nodes = $2, edges = $3, node_count = $4, checksum = $5, updated_at = $6
		WHERE id = $7
	`, f.Name, nodes, edges, len(f.Nodes), f.Checksum, f.UpdatedAt, f.ID)
	if err != nil {
		return fmt.Errorf("repo: update %s: %w", f.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo: update %s: %w", f.ID, apperr.ErrNotFound)
	}
	return nil
}

// Delete removes a funnel.
func (p *Postgres) Delete(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM funnels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repo: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo: delete %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// List returns funnel summaries, most recently updated first, optionally
// filtered by a case-insensitive name substring.
func (p *Postgres) List(ctx context.Context, limit, offset int, query string) ([]models.FunnelSummary, int, error) {
	limit, offset = clampPage(limit, offset)
	pattern := "%" + query + "%"

	var total int
	if err := p.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM funnels WHERE name ILIKE $1`, pattern,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repo: count funnels: %w", err)
	}

	rows, err := p.db.Query(ctx, `
		SELECT id, name, node_count, checksum, updated_at
		FROM funnels WHERE name ILIKE $1
		ORDER BY updated_at DESC, id
		LIMIT $2 OFFSET $3
	`, pattern, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("repo: list funnels: %w", err)
	}
	defer rows.Close()

	out := []models.FunnelSummary{}
	for rows.Next() {
		var s models.FunnelSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.NodeCount, &s.Checksum, &s.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}
