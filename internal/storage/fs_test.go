package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func tempWorkspace(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempWorkspace(t)
	content := []byte(`{"name":"Launch"}`)
	if err := s.Write("exports/funnel-launch.json", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("exports/funnel-launch.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestDelete(t *testing.T) {
	s := tempWorkspace(t)
	_ = s.Write("exports/old.json", []byte("{}"))
	if err := s.Delete("exports/old.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("exports/old.json"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestMove(t *testing.T) {
	s := tempWorkspace(t)
	_ = s.Write("imports/a.yaml", []byte("name: a"))
	if err := s.Move("imports/a.yaml", "imports/processed/a.yaml"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, err := s.Read("imports/processed/a.yaml")
	if err != nil {
		t.Fatalf("Read after move: %v", err)
	}
	if string(got) != "name: a" {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read("imports/a.yaml"); err == nil {
		t.Error("old path should not exist")
	}
}

func TestList_OnlyDocumentsAtTopLevel(t *testing.T) {
	s := tempWorkspace(t)
	_ = s.Write("exports/b.json", []byte("{}"))
	_ = s.Write("exports/a.yml", []byte("name: a"))
	_ = s.Write("exports/readme.txt", []byte("not a funnel"))
	_ = s.Write("exports/nested/c.json", []byte("{}"))

	items, err := s.List("exports")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	if items[0].Path != "exports/a.yml" || items[1].Path != "exports/b.json" {
		t.Errorf("paths = %s, %s", items[0].Path, items[1].Path)
	}
	if items[1].Checksum == "" || items[1].Size != 2 {
		t.Errorf("metadata = %+v", items[1])
	}
}

func TestList_MissingDir(t *testing.T) {
	items, err := tempWorkspace(t).List("exports")
	if err != nil || len(items) != 0 {
		t.Fatalf("List = %v, %v", items, err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempWorkspace(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.json",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteLeavesNoTemp(t *testing.T) {
	s := tempWorkspace(t)
	_ = s.Write("exports/f.json", []byte("original"))
	if err := s.Write("exports/f.json", []byte("updated")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("exports/f.json")
	if string(got) != "updated" {
		t.Errorf("expected updated content, got %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, "exports", ".funnelsim-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestIsFunnelDocument(t *testing.T) {
	for name, want := range map[string]bool{
		"a.json": true, "b.YAML": true, "c.yml": true, "d.md": false, "json": false,
	} {
		if got := IsFunnelDocument(name); got != want {
			t.Errorf("IsFunnelDocument(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	if _, err := NewFS("/tmp/funnelsim-does-not-exist-" + t.Name()); err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "funnelsim-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	if _, err := NewFS(f.Name()); err == nil {
		t.Error("expected error when root is a file")
	}
}
