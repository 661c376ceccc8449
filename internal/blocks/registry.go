// Package blocks holds the catalog of funnel block kinds.
package blocks

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/funnelsim/internal/models"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Descriptor describes one block kind: how it looks and which fields it carries.
type Descriptor struct {
	Kind        string `yaml:"kind" json:"kind"`
	Label       string `yaml:"label" json:"label"`
	Icon        string `yaml:"icon" json:"icon"`
	Color       string `yaml:"color" json:"color"`
	Description string `yaml:"description" json:"description"`
	Extra       string `yaml:"extra" json:"extra,omitempty"`
	LinkExample string `yaml:"link_example" json:"link_example,omitempty"`
	Accept      string `yaml:"accept" json:"accept,omitempty"`

	HasLink        bool `yaml:"has_link" json:"has_link"`
	HasDescription bool `yaml:"has_description" json:"has_description"`
	HasValue       bool `yaml:"has_value" json:"has_value"`
	HasEmail       bool `yaml:"has_email" json:"has_email"`
	HasSendTime    bool `yaml:"has_send_time" json:"has_send_time"`
	HasWhatsApp    bool `yaml:"has_whatsapp" json:"has_whatsapp"`
	HasFile        bool `yaml:"has_file" json:"has_file"`
	IsNote         bool `yaml:"is_note" json:"is_note"`
}

// Validate checks a single catalog entry.
func (d Descriptor) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Kind, validation.Required),
		validation.Field(&d.Label, validation.Required),
		validation.Field(&d.Color, validation.Required),
		validation.Field(&d.HasSendTime, validation.When(d.HasSendTime && !d.HasEmail,
			validation.Empty.Error("requires has_email"))),
	)
}

// Fields returns the editable fields of the kind in panel order.
// The file input is represented by FieldFileSrc.
func (d Descriptor) Fields() []models.Field {
	var out []models.Field
	if !d.IsNote {
		out = append(out, models.FieldLabel)
	}
	if d.HasDescription {
		out = append(out, models.FieldDescription)
	}
	if d.IsNote {
		out = append(out, models.FieldNotesText)
	}
	if d.HasLink {
		out = append(out, models.FieldURL)
	}
	if d.HasFile {
		out = append(out, models.FieldFileSrc)
	}
	if d.HasValue {
		out = append(out, models.FieldValue)
	}
	if d.HasEmail {
		out = append(out, models.FieldSubject)
	}
	if d.HasSendTime {
		out = append(out, models.FieldSendTime)
	}
	if d.HasWhatsApp {
		out = append(out, models.FieldMessage)
	}
	return out
}

// Allows reports whether nodes of this kind may carry field f.
func (d Descriptor) Allows(f models.Field) bool {
	if d.HasFile && (f == models.FieldFileName || f == models.FieldFileType) {
		return true
	}
	for _, allowed := range d.Fields() {
		if allowed == f {
			return true
		}
	}
	return false
}

// Registry is an immutable, ordered set of descriptors.
type Registry struct {
	ordered []Descriptor
	byKind  map[string]int
}

// Parse builds a registry from a YAML catalog.
func Parse(data []byte) (*Registry, error) {
	var entries []Descriptor
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("blocks: parse catalog: %w", err)
	}
	return New(entries)
}

// New builds a registry from descriptors, rejecting invalid or duplicate kinds.
func New(entries []Descriptor) (*Registry, error) {
	r := &Registry{
		ordered: make([]Descriptor, 0, len(entries)),
		byKind:  make(map[string]int, len(entries)),
	}
	for _, d := range entries {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("blocks: kind %q: %w", d.Kind, err)
		}
		if _, dup := r.byKind[d.Kind]; dup {
			return nil, fmt.Errorf("blocks: duplicate kind %q", d.Kind)
		}
		r.byKind[d.Kind] = len(r.ordered)
		r.ordered = append(r.ordered, d)
	}
	return r, nil
}

var loadDefault = sync.OnceValue(func() *Registry {
	r, err := Parse(catalogYAML)
	if err != nil {
		panic(err)
	}
	return r
})

// Default returns the registry built from the embedded catalog.
func Default() *Registry {
	return loadDefault()
}

// Lookup returns the descriptor for kind. ok is false for unknown kinds.
func (r *Registry) Lookup(kind string) (Descriptor, bool) {
	i, ok := r.byKind[kind]
	if !ok {
		return Descriptor{}, false
	}
	return r.ordered[i], true
}

// All returns every descriptor in catalog order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Search filters descriptors by a case-insensitive label substring.
// An empty term returns the whole catalog.
func (r *Registry) Search(term string) []Descriptor {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return r.All()
	}
	var out []Descriptor
	for _, d := range r.ordered {
		if strings.Contains(strings.ToLower(d.Label), term) {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of kinds.
func (r *Registry) Len() int {
	return len(r.ordered)
}
