package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/funnelsim/internal/apperr"
	"github.com/starford/funnelsim/internal/models"
)

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS funnels (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	nodes      TEXT NOT NULL DEFAULT '[]',
	edges      TEXT NOT NULL DEFAULT '[]',
	node_count INTEGER NOT NULL DEFAULT 0,
	checksum   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_funnels_updated_at ON funnels(updated_at);
`

// SQLite stores funnels in a local database file.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("repo: open sqlite: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("repo: ping sqlite: %w", err)
	}
	if _, err := conn.Exec(sqliteSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("repo: apply sqlite schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *SQLite) Close() error {
	return db.conn.Close()
}

// Ping checks the connection.
func (db *SQLite) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Insert stores a new funnel.
func (db *SQLite) Insert(ctx context.Context, f *models.Funnel) error {
	nodes, edges, err := encodeGraph(f)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO funnels (id, name, nodes, edges, node_count, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.Name, string(nodes), string(edges), len(f.Nodes), f.Checksum, f.CreatedAt.UTC(), f.UpdatedAt.UTC())
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("repo: insert %s: %w", f.ID, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("repo: insert %s: %w", f.ID, err)
	}
	return nil
}

// Get loads one funnel.
func (db *SQLite) Get(ctx context.Context, id string) (*models.Funnel, error) {
	var (
		f            models.Funnel
		nodes, edges string
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, name, nodes, edges, checksum, created_at, updated_at
		FROM funnels WHERE id = ?
	`, id).Scan(&f.ID, &f.Name, &nodes, &edges, &f.Checksum, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repo: get %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("repo: get %s: %w", id, err)
	}
	if err := decodeGraph(&f, []byte(nodes), []byte(edges)); err != nil {
		return nil, err
	}
	return &f, nil
}

// Update replaces name, graph and checksum of an existing funnel.
func (db *SQLite) Update(ctx context.Context, f *models.Funnel) error {
	nodes, edges, err := encodeGraph(f)
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE funnels
		SET name = ?, nodes = ?, edges = ?, node_count = ?, checksum = ?, updated_at = ?
		WHERE id = ?
	`, f.Name, string(nodes), string(edges), len(f.Nodes), f.Checksum, f.UpdatedAt.UTC(), f.ID)
	if err != nil {
		return fmt.Errorf("repo: update %s: %w", f.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("repo: update %s: %w", f.ID, apperr.ErrNotFound)
	}
	return nil
}

// Delete removes a funnel.
func (db *SQLite) Delete(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM funnels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("repo: delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("repo: delete %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// List returns funnel summaries, most recently updated first, optionally
// filtered by a name substring.
func (db *SQLite) List(ctx context.Context, limit, offset int, query string) ([]models.FunnelSummary, int, error) {
	limit, offset = clampPage(limit, offset)
	pattern := "%" + query + "%"

	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM funnels WHERE name LIKE ?`, pattern,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repo: count funnels: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, name, node_count, checksum, updated_at
		FROM funnels WHERE name LIKE ?
		ORDER BY updated_at DESC, id
		LIMIT ? OFFSET ?
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
