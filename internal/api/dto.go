package api

import (
	"github.com/starford/funnelsim/internal/blocks"
	"github.com/starford/funnelsim/internal/editor"
	"github.com/starford/funnelsim/internal/export"
	"github.com/starford/funnelsim/internal/models"
	"github.com/starford/funnelsim/internal/session"
	"github.com/starford/funnelsim/internal/storage"
)

// BlockListResponse wraps the block catalog.
type BlockListResponse struct {
	Blocks []blocks.Descriptor `json:"blocks" validate:"required"`
}

// FunnelRequest is the request body for creating or replacing a funnel.
type FunnelRequest struct {
	Name  string        `json:"name" example:"Black Friday"`
	Nodes []models.Node `json:"nodes"`
	Edges []models.Edge `json:"edges"`
}

func (req FunnelRequest) graph() models.Graph {
	g := models.Graph{Nodes: req.Nodes, Edges: req.Edges}
	if g.Nodes == nil {
		g.Nodes = []models.Node{}
	}
	if g.Edges == nil {
		g.Edges = []models.Edge{}
	}
	return g
}

// FunnelListResponse wraps paginated funnel listings.
type FunnelListResponse struct {
	Funnels []models.FunnelSummary `json:"funnels" validate:"required"`
	Total   int                    `json:"total" example:"42" validate:"required"`
}

// ExportWriteResponse is returned after writing an export to the workspace.
type ExportWriteResponse struct {
	Path string `json:"path" example:"exports/funnel-black-friday.json" validate:"required"`
}

// ExportListResponse lists the exports in the workspace.
type ExportListResponse struct {
	Exports []storage.FileInfo `json:"exports" validate:"required"`
}

// ReportResponse is the block details report.
type ReportResponse = export.Report

// SessionResponse is returned when a session is created.
type SessionResponse struct {
	ID string `json:"id" validate:"required"`
}

// StateResponse is the full editor state of a session.
type StateResponse = session.State

// OpenRequest selects the funnel a session edits. "new" opens an unsaved funnel.
type OpenRequest struct {
	FunnelID string `json:"funnel_id" example:"new" validate:"required"`
}

// DropRequest places a block dragged from the palette.
type DropRequest struct {
	Kind string  `json:"kind" example:"landing-page" validate:"required"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// DropResponse reports the id of a dropped node.
type DropResponse struct {
	NodeID string `json:"node_id,omitempty"`
	Added  bool   `json:"added"`
}

// ConnectResponse reports the id of a new edge.
type ConnectResponse struct {
	EdgeID string `json:"edge_id,omitempty"`
	Added  bool   `json:"added"`
}

// NodeChangesRequest is a batch of canvas node changes.
type NodeChangesRequest struct {
	Changes []editor.NodeChange `json:"changes"`
}

// EdgeChangesRequest is a batch of canvas edge changes.
type EdgeChangesRequest struct {
	Changes []editor.EdgeChange `json:"changes"`
}

// FieldEditRequest sets one property of the selected node.
type FieldEditRequest struct {
	Field models.Field `json:"field" example:"label" validate:"required"`
	Value string       `json:"value"`
}

// FieldsResponse lists the editable fields of the selected node.
type FieldsResponse struct {
	Fields []editor.FieldView `json:"fields" validate:"required"`
}

// AppliedResponse reports whether an operation changed the editor.
type AppliedResponse struct {
	Applied bool `json:"applied"`
}

// SaveRequest persists the session's graph.
type SaveRequest struct {
	Name    string `json:"name" example:"Black Friday"`
	IfMatch string `json:"if_match,omitempty"`
}
