package export

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/starford/funnelsim/internal/blocks"
	"github.com/starford/funnelsim/internal/models"
)

// Detail is one labelled value of a block.
type Detail struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Entry describes one block of the report.
type Entry struct {
	NodeID  string   `json:"node_id"`
	Kind    string   `json:"kind"`
	Title   string   `json:"title"`
	Details []Detail `json:"details"`
}

// Report lists the details of every block that has any, in flow order.
type Report struct {
	Name    string  `json:"name"`
	Entries []Entry `json:"entries"`
}

var reportFields = []struct {
	field models.Field
	key   string
}{
	{models.FieldURL, "URL/Link"},
	{models.FieldFileName, "File"},
	{models.FieldValue, "Value"},
	{models.FieldSubject, "E-mail subject"},
	{models.FieldMessage, "Message"},
	{models.FieldNotesText, "Content"},
}

// BuildReport collects block details. Nodes of unknown kind, and nodes with
// no details, are skipped.
func BuildReport(reg *blocks.Registry, name string, g models.Graph) Report {
	r := Report{Name: name, Entries: []Entry{}}
	for _, n := range FlowOrder(g) {
		d, ok := reg.Lookup(n.Kind)
		if !ok {
			continue
		}
		var details []Detail
		for _, rf := range reportFields {
			if v := n.Data[rf.field]; v != "" {
				details = append(details, Detail{Key: rf.key, Value: v})
			}
		}
		if len(details) == 0 {
			continue
		}
		r.Entries = append(r.Entries, Entry{
			NodeID:  n.ID,
			Kind:    n.Kind,
			Title:   n.Label(d.Label),
			Details: details,
		})
	}
	return r
}

// Text renders the report as plain text.
func (r Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Funnel block details: %s\n", r.Name)
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "\n%s\n", e.Title)
		for _, d := range e.Details {
			fmt.Fprintf(&b, "  %s: %s\n", d.Key, d.Value)
		}
	}
	return b.String()
}

// FlowOrder sorts nodes so that every node comes after the nodes flowing
// into it. Ties are broken by canvas order. Nodes on a cycle stay together,
// in canvas order, where the cycle sorts.
func FlowOrder(g models.Graph) []models.Node {
	if len(g.Nodes) == 0 {
		return []models.Node{}
	}

	dg := simple.NewDirectedGraph()
	ids := make(map[string]int64, len(g.Nodes))
	for i, n := range g.Nodes {
		if _, dup := ids[n.ID]; dup {
			continue
		}
		ids[n.ID] = int64(i)
		dg.AddNode(simple.Node(i))
	}
	for _, e := range g.Edges {
		from, ok1 := ids[e.Source]
		to, ok2 := ids[e.Target]
		if !ok1 || !ok2 || from == to || dg.HasEdgeFromTo(from, to) {
			continue
		}
		dg.SetEdge(dg.NewEdge(dg.Node(from), dg.Node(to)))
	}

	sorted, err := topo.SortStabilized(dg, byID)
	var cycles topo.Unorderable
	if err != nil && !errors.As(err, &cycles) {
		return models.CloneNodes(g.Nodes)
	}

	out := make([]models.Node, 0, len(g.Nodes))
	next := 0
	for _, gn := range sorted {
		if gn != nil {
			out = append(out, g.Nodes[gn.ID()].Clone())
			continue
		}
		if next >= len(cycles) {
			continue
		}
		component := cycles[next]
		next++
		byID(component)
		for _, cn := range component {
			out = append(out, g.Nodes[cn.ID()].Clone())
		}
	}
	return out
}

func byID(nodes []graph.Node) {
	slices.SortFunc(nodes, func(a, b graph.Node) int { return cmp.Compare(a.ID(), b.ID()) })
}
