// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes funnelsim tools for LLM integration via stdio transport.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/funnelsim/internal/blocks"
	"github.com/starford/funnelsim/internal/export"
	"github.com/starford/funnelsim/internal/funnelfile"
	"github.com/starford/funnelsim/internal/funnelservice"
)

const catalogURI = "funnelsim://block-catalog"

// Server wraps the MCP server with funnelsim tools.
type Server struct {
	mcp      *server.MCPServer
	svc      *funnelservice.Service
	exports  *export.Writer
	registry *blocks.Registry
}

// New creates a new MCP server with all funnelsim tools registered.
func New(svc *funnelservice.Service, exports *export.Writer) *Server {
	s := &Server{svc: svc, exports: exports, registry: svc.Registry()}

	s.mcp = server.NewMCPServer(
		"funnelsim",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_blocks",
		mcp.WithDescription("List the block kinds a funnel can use, optionally filtered by label."),
		mcp.WithString("query", mcp.Description("Case-insensitive label filter")),
	), s.listBlocks)

	s.mcp.AddTool(mcp.NewTool("list_funnels",
		mcp.WithDescription("List stored funnels, most recently updated first."),
		mcp.WithString("query", mcp.Description("Optional name filter")),
		mcp.WithNumber("limit", mcp.Description("Page size (default 50)")),
	), s.listFunnels)

	s.mcp.AddTool(mcp.NewTool("get_funnel",
		mcp.WithDescription("Read a stored funnel as a portable funnel document."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Funnel id")),
	), s.getFunnel)

	s.mcp.AddTool(mcp.NewTool("create_funnel",
		mcp.WithDescription("Create a funnel from a funnel document. "+
			"The document MUST follow the funnel document contract; read it first via "+
			"the get_document_contract tool."),
		mcp.WithString("document", mcp.Required(), mcp.Description("Funnel document as JSON or YAML")),
		mcp.WithString("name", mcp.Description("Overrides the document name")),
	), s.createFunnel)

	s.mcp.AddTool(mcp.NewTool("import_funnel",
		mcp.WithDescription("Import a funnel document from an http(s) URL or a base64 data URI."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Document location")),
		mcp.WithString("filename", mcp.Description("Name used for format detection and as fallback funnel name")),
	), s.importFunnel)

	s.mcp.AddTool(mcp.NewTool("export_funnel",
		mcp.WithDescription("Write a funnel's JSON document to the exports directory."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Funnel id")),
	), s.exportFunnel)

	s.mcp.AddTool(mcp.NewTool("funnel_report",
		mcp.WithDescription("Per-block details of a funnel in flow order."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Funnel id")),
	), s.funnelReport)

	s.mcp.AddTool(mcp.NewTool("get_document_contract",
		mcp.WithDescription("Returns the funnel document contract. "+
			"Call this before creating funnels to ensure correct structure."),
	), s.getDocumentContract)

	// Resource: block catalog.
	s.mcp.AddResource(
		mcp.NewResource(catalogURI, "Block Catalog",
			mcp.WithResourceDescription("Every block kind with its editable fields."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readCatalogResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listBlocks(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.registry.Search(req.GetString("query", ""))), nil
}

func (s *Server) listFunnels(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, total, err := s.svc.List(ctx, req.GetInt("limit", 0), 0, req.GetString("query", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"funnels": items, "total": total}), nil
}

func (s *Server) getFunnel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	f, err := s.svc.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	data, err := export.JSON(f.Name, f.Graph())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) createFunnel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	document, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data := []byte(document)
	fileName := "document.yaml"
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		fileName = "document.json"
	}

	doc, err := funnelfile.Load(fileName, data, s.registry)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name := req.GetString("name", doc.Name)
	f, err := s.svc.Create(ctx, name, doc.Graph())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s (%s)", f.ID, f.Name)), nil
}

func (s *Server) exportFunnel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	f, err := s.svc.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	p, err := s.exports.Write(f.Name, f.Graph())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("exported: %s", p)), nil
}

func (s *Server) funnelReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	f, err := s.svc.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	return mcp.NewToolResultText(export.BuildReport(s.registry, f.Name, f.Graph()).Text()), nil
}

func (s *Server) getDocumentContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DocumentContract), nil
}

func (s *Server) readCatalogResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      catalogURI,
			MIMEType: "text/markdown",
			Text:     CatalogMarkdown(s.registry),
		},
	}, nil
}
