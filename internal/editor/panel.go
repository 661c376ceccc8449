package editor

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/starford/funnelsim/internal/blocks"
	"github.com/starford/funnelsim/internal/models"
)

// DefaultMaxUploadBytes caps files embedded into a node.
const DefaultMaxUploadBytes = 10 << 20

var fieldTitles = map[models.Field]string{
	models.FieldLabel:       "Label",
	models.FieldDescription: "Description",
	models.FieldNotesText:   "Notes",
	models.FieldURL:         "URL / Link",
	models.FieldFileSrc:     "File",
	models.FieldValue:       "Value",
	models.FieldSubject:     "E-mail subject",
	models.FieldSendTime:    "Send time",
	models.FieldMessage:     "Message",
}

// FieldView is one editable input of the property panel.
type FieldView struct {
	Field       models.Field `json:"field"`
	Title       string       `json:"title"`
	Value       string       `json:"value"`
	Placeholder string       `json:"placeholder,omitempty"`
	Accept      string       `json:"accept,omitempty"`
}

// File is an upload handed to AttachFile.
type File struct {
	Name string
	Type string
	Body io.Reader
}

// Dispatcher posts fn back onto the loop that owns the store. fn reports
// whether it changed the store.
type Dispatcher func(fn func() bool)

// Panel edits the data of the selected node.
type Panel struct {
	registry  *blocks.Registry
	store     *Store
	logger    *slog.Logger
	maxUpload int64
}

// PanelOption configures a Panel.
type PanelOption func(*Panel)

// WithPanelLogger sets the panel logger.
func WithPanelLogger(l *slog.Logger) PanelOption {
	return func(p *Panel) { p.logger = l }
}

// WithMaxUploadBytes sets the largest file AttachFile accepts.
func WithMaxUploadBytes(n int64) PanelOption {
	return func(p *Panel) {
		if n > 0 {
			p.maxUpload = n
		}
	}
}

// NewPanel binds a panel to a registry and a store.
func NewPanel(reg *blocks.Registry, store *Store, opts ...PanelOption) *Panel {
	p := &Panel{
		registry:  reg,
		store:     store,
		logger:    slog.Default(),
		maxUpload: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fields lists the inputs for the selected node. It is empty when nothing
// is selected or the node's kind is not in the registry.
func (p *Panel) Fields() []FieldView {
	n, ok := p.store.Selected()
	if !ok {
		return nil
	}
	d, ok := p.registry.Lookup(n.Kind)
	if !ok {
		return nil
	}

	fields := d.Fields()
	out := make([]FieldView, 0, len(fields))
	for _, f := range fields {
		v := FieldView{Field: f, Title: fieldTitles[f], Value: n.Data[f]}
		switch f {
		case models.FieldDescription:
			if v.Value == "" {
				v.Value = d.Description
			}
		case models.FieldURL:
			v.Placeholder = d.LinkExample
		case models.FieldFileSrc:
			v.Value = n.Data[models.FieldFileName]
			v.Accept = d.Accept
		case models.FieldLabel:
			v.Placeholder = d.Label
		}
		out = append(out, v)
	}
	return out
}

// Edit writes one field of the selected node. Fields outside the kind's
// variant, and the file fields owned by AttachFile, are ignored.
func (p *Panel) Edit(field models.Field, value string) bool {
	n, ok := p.store.Selected()
	if !ok {
		return false
	}
	d, ok := p.registry.Lookup(n.Kind)
	if !ok || !d.Allows(field) || isFileField(field) {
		p.logger.Debug("editor: field edit ignored",
			slog.String("node_id", n.ID),
			slog.String("field", string(field)))
		return false
	}
	return p.store.UpdateNodeData(n.ID, models.Data{field: value})
}

// AttachFile embeds f into the selected node as a data URL.
//
// The read runs on its own goroutine. On completion the patch is posted
// through dispatch and applied only if the same funnel is still loaded and
// the node still exists. Several reads in flight land in completion order.
// AttachFile must be called from the loop that owns the store.
func (p *Panel) AttachFile(f File, dispatch Dispatcher) bool {
	n, ok := p.store.Selected()
	if !ok || f.Body == nil {
		return false
	}
	d, ok := p.registry.Lookup(n.Kind)
	if !ok || !d.HasFile {
		return false
	}

	gen := p.store.Generation()
	nodeID := n.ID
	limit := p.maxUpload
	logger := p.logger.With(slog.String("node_id", nodeID), slog.String("file", f.Name))

	go func() {
		patch, err := readFile(f, limit)
		if err != nil {
			logger.Warn("editor: file read failed", slog.String("error", err.Error()))
			return
		}
		dispatch(func() bool {
			if !p.store.ApplyAt(gen, nodeID, patch) {
				logger.Debug("editor: file completion discarded")
				return false
			}
			return true
		})
	}()
	return true
}

func readFile(f File, limit int64) (models.Data, error) {
	raw, err := io.ReadAll(io.LimitReader(f.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("file exceeds %d bytes", limit)
	}

	mimeType := f.Type
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(f.Name))
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(raw)
	}

	var buf bytes.Buffer
	buf.Grow(len("data:;base64,") + len(mimeType) + base64.StdEncoding.EncodedLen(len(raw)))
	buf.WriteString("data:")
	buf.WriteString(mimeType)
	buf.WriteString(";base64,")
	buf.WriteString(base64.StdEncoding.EncodeToString(raw))

	return models.Data{
		models.FieldFileSrc:  buf.String(),
		models.FieldFileName: f.Name,
		models.FieldFileType: mimeType,
	}, nil
}

func isFileField(f models.Field) bool {
	return f == models.FieldFileSrc || f == models.FieldFileName || f == models.FieldFileType
}
