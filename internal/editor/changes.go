package editor

import "github.com/starford/funnelsim/internal/models"

// NodeChangeType identifies an incremental node change.
type NodeChangeType string

// Node change types emitted by the canvas.
const (
	NodeChangePosition   NodeChangeType = "position"
	NodeChangeSelect     NodeChangeType = "select"
	NodeChangeDimensions NodeChangeType = "dimensions"
	NodeChangeRemove     NodeChangeType = "remove"
)

// NodeChange is one incremental change to the node set.
//
// Position changes are emitted once per animation frame while a node is
// dragged (Dragging=true) and once more when the pointer is released
// (Dragging=false). Only the release is history-significant.
type NodeChange struct {
	Type       NodeChangeType   `json:"type"`
	ID         string           `json:"id"`
	Position   *models.Position `json:"position,omitempty"`
	Dragging   *bool            `json:"dragging,omitempty"`
	Selected   bool             `json:"selected,omitempty"`
	Dimensions *models.Size     `json:"dimensions,omitempty"`
}

func (c NodeChange) completesDrag() bool {
	return c.Type == NodeChangePosition && c.Dragging != nil && !*c.Dragging
}

func (c NodeChange) duringDrag() bool {
	return c.Type == NodeChangePosition && c.Dragging != nil && *c.Dragging
}

// EdgeChangeType identifies an incremental edge change.
type EdgeChangeType string

// Edge change types.
const (
	EdgeChangeAdd    EdgeChangeType = "add"
	EdgeChangeRemove EdgeChangeType = "remove"
	EdgeChangeSelect EdgeChangeType = "select"
)

// EdgeChange is one incremental change to the edge set. Item is required for adds.
type EdgeChange struct {
	Type     EdgeChangeType `json:"type"`
	ID       string         `json:"id,omitempty"`
	Item     *models.Edge   `json:"item,omitempty"`
	Selected bool           `json:"selected,omitempty"`
}

// Move builds a position change. dragging reports whether the pointer is still down.
func Move(id string, to models.Position, dragging bool) NodeChange {
	return NodeChange{Type: NodeChangePosition, ID: id, Position: &to, Dragging: &dragging}
}

// Select builds a selection change.
func Select(id string, selected bool) NodeChange {
	return NodeChange{Type: NodeChangeSelect, ID: id, Selected: selected}
}
