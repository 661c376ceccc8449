package mcpserver

import (
	"fmt"
	"strings"

	"github.com/starford/funnelsim/internal/blocks"
)

// DocumentContract describes the portable funnel document that LLM consumers
// should produce when creating or importing funnels.
const DocumentContract = `# Funnel Document Contract

Every funnel handed to funnelsim MUST follow this structure (JSON shown; YAML
with the same keys is accepted too).

## Structure

` + "```" + `json
{
  "name": "Black Friday",
  "nodes": [
    {
      "id": "lp",
      "type": "landing-page",
      "position": {"x": 0, "y": 0},
      "data": {"label": "Home", "url": "https://mysite.com/offer"}
    },
    {
      "id": "pay",
      "type": "direct-checkout",
      "position": {"x": 320, "y": 0},
      "data": {"value": "97"}
    }
  ],
  "edges": [
    {"id": "e1", "source": "lp", "target": "pay"}
  ]
}
` + "```" + `

## Rules

1. **` + "`" + `type` + "`" + ` must be a block kind from the catalog** (see the
   ` + "`" + `funnelsim://block-catalog` + "`" + ` resource or the ` + "`" + `list_blocks` + "`" + ` tool).
2. **Node ids are unique** within the document. Edge endpoints must name existing nodes.
3. **Edge ids** are optional; missing ids are generated.
4. **Data keys** are ` + "`" + `label, description, url, value, subject, sendTime, message, notesText` + "`" + `.
   Unknown keys are dropped. Only keys the block kind supports are editable later.
5. **Positions** are graph-space coordinates; layout is up to you.
6. Do not send ` + "`" + `fileSrc` + "`" + `: embedded files are attached from the editor.
`

// CatalogMarkdown renders the block catalog as a Markdown table.
func CatalogMarkdown(reg *blocks.Registry) string {
	var b strings.Builder
	b.WriteString("# Block Catalog\n\n")
	b.WriteString("| kind | label | fields | description |\n")
	b.WriteString("|------|-------|--------|-------------|\n")
	for _, d := range reg.All() {
		fields := make([]string, 0, 4)
		for _, f := range d.Fields() {
			fields = append(fields, string(f))
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
			d.Kind, d.Label, strings.Join(fields, ", "), strings.ReplaceAll(d.Description, "|", "/"))
	}
	return b.String()
}
