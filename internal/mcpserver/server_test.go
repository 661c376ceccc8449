package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/funnelsim/internal/blocks"
	"github.com/starford/funnelsim/internal/export"
	"github.com/starford/funnelsim/internal/funnelservice"
	"github.com/starford/funnelsim/internal/testutil"
)

const launchDoc = `{"name":"Launch","nodes":[
 {"id":"lp","type":"landing-page","position":{"x":0,"y":0},"data":{"url":"https://a.test"}},
 {"id":"pay","type":"direct-checkout","position":{"x":300,"y":0},"data":{"value":97}}
],"edges":[{"id":"e1","source":"lp","target":"pay"}]}`

func testServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir, store := testutil.TestWorkspace(t)
	svc := funnelservice.NewService(testutil.TestDB(t), blocks.Default(),
		funnelservice.WithLogger(testutil.Logger()))
	return New(svc, export.NewWriter(store)), dir
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper; call the handlers.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_blocks":
		result, err = srv.listBlocks(ctx, req)
	case "list_funnels":
		result, err = srv.listFunnels(ctx, req)
	case "get_funnel":
		result, err = srv.getFunnel(ctx, req)
	case "create_funnel":
		result, err = srv.createFunnel(ctx, req)
	case "import_funnel":
		result, err = srv.importFunnel(ctx, req)
	case "export_funnel":
		result, err = srv.exportFunnel(ctx, req)
	case "funnel_report":
		result, err = srv.funnelReport(ctx, req)
	case "get_document_contract":
		result, err = srv.getDocumentContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// createdID extracts the id from "created: <id> (<name>)".
func createdID(t *testing.T, text string) string {
	t.Helper()
	fields := strings.Fields(text)
	if len(fields) < 2 {
		t.Fatalf("unexpected result %q", text)
	}
	return fields[1]
}

func TestListBlocks(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "list_blocks", map[string]any{"query": "checkout"})
	var got []blocks.Descriptor
	if err := json.Unmarshal([]byte(resultText(r)), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("no checkout blocks")
	}
	for _, d := range got {
		if !strings.Contains(strings.ToLower(d.Label), "checkout") {
			t.Errorf("unexpected block %s", d.Kind)
		}
	}
}

func TestCreateAndGetFunnel(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "create_funnel", map[string]any{"document": launchDoc})
	if r.IsError {
		t.Fatalf("create failed: %s", resultText(r))
	}
	id := createdID(t, resultText(r))

	r = callTool(t, srv, "get_funnel", map[string]any{"id": id})
	text := resultText(r)
	if !strings.Contains(text, `"name": "Launch"`) || !strings.Contains(text, `"type": "direct-checkout"`) {
		t.Errorf("get result = %q", text)
	}

	r = callTool(t, srv, "list_funnels", map[string]any{})
	if !strings.Contains(resultText(r), `"total": 1`) {
		t.Errorf("list result = %q", resultText(r))
	}
}

func TestCreateFunnel_YAMLAndNameOverride(t *testing.T) {
	srv, _ := testServer(t)
	doc := "nodes:\n  - id: n\n    type: notes\n    position: {x: 0, y: 0}\n    data: {notesText: hi}\nedges: []\n"
	r := callTool(t, srv, "create_funnel", map[string]any{"document": doc, "name": "Scratch"})
	if r.IsError {
		t.Fatalf("create failed: %s", resultText(r))
	}
	if !strings.HasSuffix(resultText(r), "(Scratch)") {
		t.Errorf("result = %q", resultText(r))
	}
}

func TestCreateFunnel_Invalid(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "create_funnel", map[string]any{
		"document": `{"nodes":[{"id":"a","type":"teleporter"}]}`,
	})
	if !r.IsError {
		t.Error("expected error for unknown block kind")
	}
}

func TestGetFunnelMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_funnel", map[string]any{"id": "nope"})
	if !r.IsError {
		t.Error("expected error for missing funnel")
	}
}

func TestExportAndReport(t *testing.T) {
	srv, dir := testServer(t)
	id := createdID(t, resultText(callTool(t, srv, "create_funnel", map[string]any{"document": launchDoc})))

	r := callTool(t, srv, "export_funnel", map[string]any{"id": id})
	if resultText(r) != "exported: exports/funnel-launch.json" {
		t.Errorf("export result = %q", resultText(r))
	}
	if _, err := os.Stat(filepath.Join(dir, "exports", "funnel-launch.json")); err != nil {
		t.Errorf("export missing on disk: %v", err)
	}

	r = callTool(t, srv, "funnel_report", map[string]any{"id": id})
	text := resultText(r)
	lp := strings.Index(text, "URL/Link: https://a.test")
	pay := strings.Index(text, "Value: 97")
	if lp < 0 || pay < 0 || lp > pay {
		t.Errorf("report = %q", text)
	}
}

func TestImportFunnel_DataURI(t *testing.T) {
	srv, _ := testServer(t)
	uri := "data:application/json;base64," + base64.StdEncoding.EncodeToString([]byte(launchDoc))

	r := callTool(t, srv, "import_funnel", map[string]any{"url": uri})
	if r.IsError {
		t.Fatalf("import failed: %s", resultText(r))
	}
	if !strings.HasSuffix(resultText(r), "(Launch)") {
		t.Errorf("result = %q", resultText(r))
	}
}

func TestImportFunnel_Rejected(t *testing.T) {
	srv, _ := testServer(t)
	cases := map[string]map[string]any{
		"plain data uri": {"url": "data:application/json,{}"},
		"unknown mime":   {"url": "data:image/png;base64,AAAA"},
		"bad scheme":     {"url": "ftp://example.com/f.json"},
		"loopback":       {"url": "http://127.0.0.1/f.json"},
		"bad extension": {
			"url":      "data:application/json;base64," + base64.StdEncoding.EncodeToString([]byte(launchDoc)),
			"filename": "funnel.exe",
		},
	}
	for name, args := range cases {
		if r := callTool(t, srv, "import_funnel", args); !r.IsError {
			t.Errorf("%s: expected error, got %q", name, resultText(r))
		}
	}
}

func TestCatalogResource(t *testing.T) {
	srv, _ := testServer(t)
	contents, err := srv.readCatalogResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	text := contents[0].(mcp.TextResourceContents).Text
	if !strings.Contains(text, "| landing-page | Landing Page |") {
		t.Errorf("catalog missing landing page row:\n%s", text)
	}

	r := callTool(t, srv, "get_document_contract", nil)
	if !strings.Contains(resultText(r), catalogURI) {
		t.Error("contract does not point at the catalog resource")
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := sanitizeFilename("../../etc/pass wd.json"); got != "pass_wd.json" {
		t.Errorf("sanitize = %q", got)
	}
}
