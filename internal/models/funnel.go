// Package models defines the domain types for the funnel simulator.
package models

import (
	"maps"
	"time"
)

// Field names one entry of a node's data payload.
type Field string

// Data fields. The set a node may carry depends on its kind.
const (
	FieldLabel       Field = "label"
	FieldDescription Field = "description"
	FieldURL         Field = "url"
	FieldValue       Field = "value"
	FieldSubject     Field = "subject"
	FieldSendTime    Field = "sendTime"
	FieldMessage     Field = "message"
	FieldFileSrc     Field = "fileSrc"
	FieldFileName    Field = "fileName"
	FieldFileType    Field = "fileType"
	FieldNotesText   Field = "notesText"
)

// KnownFields lists every field in display order.
var KnownFields = []Field{
	FieldLabel, FieldDescription, FieldNotesText, FieldURL,
	FieldFileSrc, FieldFileName, FieldFileType,
	FieldValue, FieldSubject, FieldSendTime, FieldMessage,
}

// Known reports whether f is one of the declared fields.
func (f Field) Known() bool {
	for _, k := range KnownFields {
		if k == f {
			return true
		}
	}
	return false
}

// Data is the per-kind payload of a node.
type Data map[Field]string

// Clone returns an independent copy of d.
func (d Data) Clone() Data {
	if d == nil {
		return Data{}
	}
	return maps.Clone(d)
}

// Merge copies every key of patch into d, keeping keys patch does not mention.
func (d Data) Merge(patch Data) Data {
	out := d.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Position is a point in graph space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size overrides a node's rendered dimensions.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Node is one funnel block placed on the canvas.
type Node struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Position Position `json:"position"`
	Size     *Size    `json:"size,omitempty"`
	Data     Data     `json:"data"`
	Selected bool     `json:"selected,omitempty"`
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	c := n
	c.Data = n.Data.Clone()
	if n.Size != nil {
		s := *n.Size
		c.Size = &s
	}
	return c
}

// Label returns the user label, or fallback when none is set.
func (n Node) Label(fallback string) string {
	if l := n.Data[FieldLabel]; l != "" {
		return l
	}
	return fallback
}

// Edge is a directed connection between two nodes.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
	Selected     bool   `json:"selected,omitempty"`
}

// Graph is the node and edge set of one funnel.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Clone returns a deep copy of g with non-nil slices.
func (g Graph) Clone() Graph {
	return Graph{Nodes: CloneNodes(g.Nodes), Edges: CloneEdges(g.Edges)}
}

// CloneNodes deep-copies a node slice. The result is never nil.
func CloneNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

// CloneEdges copies an edge slice. The result is never nil.
func CloneEdges(edges []Edge) []Edge {
	out := make([]Edge, len(edges))
	copy(out, edges)
	return out
}

// Funnel is the persisted unit holding exactly one graph.
type Funnel struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Nodes     []Node    `json:"nodes"`
	Edges     []Edge    `json:"edges"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Graph returns a deep copy of the funnel's nodes and edges.
func (f *Funnel) Graph() Graph {
	return Graph{Nodes: CloneNodes(f.Nodes), Edges: CloneEdges(f.Edges)}
}

// FunnelSummary is the lightweight form returned by list operations.
type FunnelSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	NodeCount int       `json:"node_count"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PreviewContent points at a piece of content shown in the preview modal.
type PreviewContent struct {
	Type string `json:"type"`
	Src  string `json:"src"`
}
