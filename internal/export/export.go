// Package export renders funnels for download: the portable JSON document
// and a per-block details report in flow order.
package export

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"unicode"

	"github.com/starford/funnelsim/internal/apperr"
	"github.com/starford/funnelsim/internal/funnelfile"
	"github.com/starford/funnelsim/internal/models"
	"github.com/starford/funnelsim/internal/storage"
)

// Dir is the workspace directory exports are written to.
const Dir = "exports"

// Slug lowercases name and joins its words with dashes. Characters that are
// unsafe in file names are dropped.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
			dash = false
		case unicode.IsSpace(r) || r == '-':
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "funnel"
	}
	return s
}

// FileName returns the download name of a funnel's JSON export.
func FileName(name string) string {
	return "funnel-" + Slug(name) + ".json"
}

// JSON encodes the funnel as an indented `{name, nodes, edges}` document.
func JSON(name string, g models.Graph) ([]byte, error) {
	data, err := funnelfile.FromGraph(name, g).Encode(funnelfile.JSON)
	if err != nil {
		return nil, fmt.Errorf("export: encode %q: %w", name, err)
	}
	return data, nil
}

// Writer stores exports in the workspace.
type Writer struct {
	store storage.Provider
}

// NewWriter creates a writer over store.
func NewWriter(store storage.Provider) *Writer {
	return &Writer{store: store}
}

// Write encodes the funnel and writes it atomically under Dir. It returns
// the workspace-relative path.
func (w *Writer) Write(name string, g models.Graph) (string, error) {
	data, err := JSON(name, g)
	if err != nil {
		return "", err
	}
	p := path.Join(Dir, FileName(name))
	if err := w.store.Write(p, data); err != nil {
		return "", fmt.Errorf("export: write %s: %w", p, err)
	}
	return p, nil
}

// List returns the exports present in the workspace.
func (w *Writer) List() ([]storage.FileInfo, error) {
	return w.store.List(Dir)
}

// Read returns the bytes of one export by file name.
func (w *Writer) Read(fileName string) ([]byte, error) {
	if err := checkName(fileName); err != nil {
		return nil, err
	}
	data, err := w.store.Read(path.Join(Dir, fileName))
	if err != nil {
		return nil, notFound(fileName, err)
	}
	return data, nil
}

// Delete removes one export by file name.
func (w *Writer) Delete(fileName string) error {
	if err := checkName(fileName); err != nil {
		return err
	}
	if err := w.store.Delete(path.Join(Dir, fileName)); err != nil {
		return notFound(fileName, err)
	}
	return nil
}

func checkName(fileName string) error {
	if fileName == "" || fileName != path.Base(fileName) || !storage.IsFunnelDocument(fileName) {
		return fmt.Errorf("export: file name %q: %w", fileName, apperr.ErrInvalid)
	}
	return nil
}

func notFound(fileName string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("export: %s: %w", fileName, apperr.ErrNotFound)
	}
	return err
}
