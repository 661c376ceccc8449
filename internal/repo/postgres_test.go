package repo_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/starford/funnelsim/internal/apperr"
	"github.com/starford/funnelsim/internal/repo"
)

// Runs only when FUNNELSIM_TEST_POSTGRES_DSN points at a disposable database.
func testPostgres(t *testing.T) *repo.Postgres {
	t.Helper()
	dsn := os.Getenv("FUNNELSIM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FUNNELSIM_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	p, err := repo.OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(func() {
		_ = p.DropSchema(context.Background())
		p.Close()
	})
	return p
}

func TestPostgres_RoundTrip(t *testing.T) {
	p := testPostgres(t)
	ctx := context.Background()
	f := sampleFunnel("pg1", "Launch", time.Now().UTC().Truncate(time.Millisecond))

	if err := p.Insert(ctx, f); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := p.Insert(ctx, f); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("duplicate err = %v", err)
	}
	got, err := p.Get(ctx, "pg1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Nodes) != 2 || len(got.Edges) != 1 {
		t.Fatalf("graph = %d nodes, %d edges", len(got.Nodes), len(got.Edges))
	}

	items, total, err := p.List(ctx, 10, 0, "LAUNCH")
	if err != nil || total != 1 || len(items) != 1 {
		t.Fatalf("List = %+v, %d, %v", items, total, err)
	}

	if err := p.Delete(ctx, "pg1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := p.Get(ctx, "pg1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("get after delete err = %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := repo.Open(context.Background(), "mongo", ""); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
