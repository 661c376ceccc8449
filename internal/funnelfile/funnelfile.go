// Package funnelfile reads and writes portable funnel documents.
//
// A document is `{name, nodes, edges}` in JSON or YAML. Nodes use the canvas
// wire shape: the block kind travels as "type" and data values may be any
// scalar.
package funnelfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/starford/funnelsim/internal/apperr"
	"github.com/starford/funnelsim/internal/blocks"
	"github.com/starford/funnelsim/internal/models"
)

// Format is a document encoding.
type Format string

// Supported formats.
const (
	JSON Format = "json"
	YAML Format = "yaml"
)

// Document is a portable funnel.
type Document struct {
	Name  string    `json:"name" yaml:"name"`
	Nodes []NodeDoc `json:"nodes" yaml:"nodes"`
	Edges []EdgeDoc `json:"edges" yaml:"edges"`
}

// NodeDoc is a node as it appears in a document.
type NodeDoc struct {
	ID       string          `json:"id" yaml:"id"`
	Type     string          `json:"type" yaml:"type"`
	Position models.Position `json:"position" yaml:"position"`
	Width    *float64        `json:"width,omitempty" yaml:"width,omitempty"`
	Height   *float64        `json:"height,omitempty" yaml:"height,omitempty"`
	Data     map[string]any  `json:"data" yaml:"data"`
}

// EdgeDoc is an edge as it appears in a document.
type EdgeDoc struct {
	ID           string `json:"id" yaml:"id"`
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`
}

// FormatOf picks the format from a file name. Unknown extensions are JSON.
func FormatOf(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return YAML
	}
	return JSON
}

// Parse decodes a document. Errors wrap apperr.ErrInvalid.
func Parse(data []byte, format Format) (*Document, error) {
	var doc Document
	var err error
	switch format {
	case YAML:
		err = yaml.Unmarshal(data, &doc)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		err = dec.Decode(&doc)
	}
	if err != nil {
		return nil, fmt.Errorf("funnelfile: decode %s: %v: %w", format, err, apperr.ErrInvalid)
	}
	return &doc, nil
}

// Validate checks the document against the block registry: every node has
// a unique id and a registered type, and every edge joins existing nodes.
func (d *Document) Validate(reg *blocks.Registry) error {
	ids := make(map[string]struct{}, len(d.Nodes))
	for i, n := range d.Nodes {
		err := validation.ValidateStruct(&n,
			validation.Field(&n.ID, validation.Required),
			validation.Field(&n.Type, validation.Required, validation.By(func(v any) error {
				if _, ok := reg.Lookup(v.(string)); !ok {
					return fmt.Errorf("unknown block type %q", v)
				}
				return nil
			})),
		)
		if err != nil {
			return fmt.Errorf("funnelfile: node %d: %v: %w", i, err, apperr.ErrInvalid)
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("funnelfile: duplicate node id %q: %w", n.ID, apperr.ErrInvalid)
		}
		ids[n.ID] = struct{}{}
	}

	edgeIDs := make(map[string]struct{}, len(d.Edges))
	for i, e := range d.Edges {
		if _, ok := ids[e.Source]; !ok {
			return fmt.Errorf("funnelfile: edge %d: unknown source %q: %w", i, e.Source, apperr.ErrInvalid)
		}
		if _, ok := ids[e.Target]; !ok {
			return fmt.Errorf("funnelfile: edge %d: unknown target %q: %w", i, e.Target, apperr.ErrInvalid)
		}
		if e.ID == "" {
			continue
		}
		if _, dup := edgeIDs[e.ID]; dup {
			return fmt.Errorf("funnelfile: duplicate edge id %q: %w", e.ID, apperr.ErrInvalid)
		}
		edgeIDs[e.ID] = struct{}{}
	}
	return nil
}

// Load parses and validates a document named name.
func Load(name string, data []byte, reg *blocks.Registry) (*Document, error) {
	doc, err := Parse(data, FormatOf(name))
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(reg); err != nil {
		return nil, err
	}
	return doc, nil
}

// Graph converts the document into editor types. Edges without an id get
// one; data keys outside the known field set are dropped.
func (d *Document) Graph() models.Graph {
	g := models.Graph{
		Nodes: make([]models.Node, 0, len(d.Nodes)),
		Edges: make([]models.Edge, 0, len(d.Edges)),
	}
	for _, n := range d.Nodes {
		node := models.Node{
			ID:       n.ID,
			Kind:     n.Type,
			Position: n.Position,
			Data:     models.Data{},
		}
		if n.Width != nil && n.Height != nil {
			node.Size = &models.Size{Width: *n.Width, Height: *n.Height}
		}
		for k, v := range n.Data {
			f := models.Field(k)
			if !f.Known() || v == nil {
				continue
			}
			node.Data[f] = scalar(v)
		}
		g.Nodes = append(g.Nodes, node)
	}
	for _, e := range d.Edges {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		g.Edges = append(g.Edges, models.Edge{
			ID:           id,
			Source:       e.Source,
			Target:       e.Target,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
		})
	}
	return g
}

// FromGraph builds a document. Transient selection state is not written.
func FromGraph(name string, g models.Graph) *Document {
	doc := &Document{
		Name:  name,
		Nodes: make([]NodeDoc, 0, len(g.Nodes)),
		Edges: make([]EdgeDoc, 0, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		nd := NodeDoc{
			ID:       n.ID,
			Type:     n.Kind,
			Position: n.Position,
			Data:     make(map[string]any, len(n.Data)),
		}
		if n.Size != nil {
			w, h := n.Size.Width, n.Size.Height
			nd.Width, nd.Height = &w, &h
		}
		for k, v := range n.Data {
			nd.Data[string(k)] = v
		}
		doc.Nodes = append(doc.Nodes, nd)
	}
	for _, e := range g.Edges {
		doc.Edges = append(doc.Edges, EdgeDoc{
			ID:           e.ID,
			Source:       e.Source,
			Target:       e.Target,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
		})
	}
	return doc
}

// Encode serialises the document. JSON output is indented.
func (d *Document) Encode(format Format) ([]byte, error) {
	switch format {
	case YAML:
		return yaml.Marshal(d)
	default:
		return json.MarshalIndent(d, "", "  ")
	}
}

func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
