package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/funnelsim/internal/blocks"
	"github.com/starford/funnelsim/internal/editor"
	"github.com/starford/funnelsim/internal/export"
	"github.com/starford/funnelsim/internal/funnelservice"
	"github.com/starford/funnelsim/internal/session"
)

// Handler holds API route handlers.
type Handler struct {
	svc       *funnelservice.Service
	sessions  *session.Manager
	exports   *export.Writer
	registry  *blocks.Registry
	maxUpload int64
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = editor.DefaultMaxUploadBytes
	}
	return &Handler{
		svc:       deps.Funnels,
		sessions:  deps.Sessions,
		exports:   deps.Exports,
		registry:  deps.Funnels.Registry(),
		maxUpload: maxUpload,
	}
}

// ListBlocks handles GET /api/blocks.
//
//	@Summary		List block kinds, optionally filtered by label
//	@Tags			blocks
//	@Produce		json
//	@Param			q	query		string	false	"Label filter"
//	@Success		200	{object}	BlockListResponse
//	@Security		BearerAuth
//	@Router			/blocks [get]
func (h *Handler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BlockListResponse{Blocks: h.registry.Search(r.URL.Query().Get("q"))})
}

// GetBlock handles GET /api/blocks/{kind}.
//
//	@Summary		Get one block kind
//	@Tags			blocks
//	@Produce		json
//	@Param			kind	path		string	true	"Block kind"
//	@Success		200		{object}	blocks.Descriptor
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{kind} [get]
func (h *Handler) GetBlock(w http.ResponseWriter, r *http.Request) {
	d, ok := h.registry.Lookup(chi.URLParam(r, "kind"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ListFunnels handles GET /api/funnels.
//
//	@Summary		List funnels with optional pagination and name filter
//	@Tags			funnels
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			q		query		string	false	"Name filter"
//	@Success		200		{object}	FunnelListResponse
//	@Security		BearerAuth
//	@Router			/funnels [get]
func (h *Handler) ListFunnels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.List(r.Context(), limit, offset, q.Get("q"))
	if err != nil {
		writeError(w, "list funnels", err)
		return
	}
	writeJSON(w, http.StatusOK, FunnelListResponse{Funnels: items, Total: total})
}

// GetFunnel handles GET /api/funnels/{id}.
//
//	@Summary		Get a funnel
//	@Tags			funnels
//	@Produce		json
//	@Param			id	path		string	true	"Funnel id"
//	@Success		200	{object}	models.Funnel
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/funnels/{id} [get]
func (h *Handler) GetFunnel(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get funnel", err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(f.Checksum))
	writeJSON(w, http.StatusOK, f)
}

// CreateFunnel handles POST /api/funnels.
//
//	@Summary		Create a funnel
//	@Tags			funnels
//	@Accept			json
//	@Produce		json
//	@Param			body	body		FunnelRequest	true	"Funnel to create"
//	@Success		201		{object}	models.Funnel
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/funnels [post]
func (h *Handler) CreateFunnel(w http.ResponseWriter, r *http.Request) {
	var req FunnelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	f, err := h.svc.Create(r.Context(), req.Name, req.graph())
	if err != nil {
		writeError(w, "create funnel", err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(f.Checksum))
	writeJSON(w, http.StatusCreated, f)
}

// UpdateFunnel handles PUT /api/funnels/{id}.
//
//	@Summary		Replace a funnel with optimistic concurrency
//	@Tags			funnels
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string			true	"Funnel id"
//	@Param			If-Match	header		string			false	"SHA-256 checksum for optimistic concurrency"
//	@Param			body		body		FunnelRequest	true	"Updated funnel"
//	@Success		200			{object}	models.Funnel
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/funnels/{id} [put]
func (h *Handler) UpdateFunnel(w http.ResponseWriter, r *http.Request) {
	var req FunnelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)

	f, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), req.Name, req.graph(), ifMatch)
	if err != nil {
		writeError(w, "update funnel", err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(f.Checksum))
	writeJSON(w, http.StatusOK, f)
}

// DeleteFunnel handles DELETE /api/funnels/{id}.
//
//	@Summary		Delete a funnel
//	@Tags			funnels
//	@Param			id	path	string	true	"Funnel id"
//	@Success		204	"Funnel deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/funnels/{id} [delete]
func (h *Handler) DeleteFunnel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete funnel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DownloadExport handles GET /api/funnels/{id}/export.
//
//	@Summary		Download a funnel as a JSON document
//	@Tags			exports
//	@Produce		json
//	@Param			id	path	string	true	"Funnel id"
//	@Success		200	"Funnel document"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/funnels/{id}/export [get]
func (h *Handler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "export funnel", err)
		return
	}
	data, err := export.JSON(f.Name, f.Graph())
	if err != nil {
		writeError(w, "export funnel", err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(f.Name)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// WriteExport handles POST /api/funnels/{id}/export.
//
//	@Summary		Write a funnel's JSON document to the exports directory
//	@Tags			exports
//	@Produce		json
//	@Param			id	path		string	true	"Funnel id"
//	@Success		201	{object}	ExportWriteResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/funnels/{id}/export [post]
func (h *Handler) WriteExport(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "write export", err)
		return
	}
	p, err := h.exports.Write(f.Name, f.Graph())
	if err != nil {
		writeError(w, "write export", err)
		return
	}
	slog.Info("export written", slog.String("funnel_id", f.ID), slog.String("path", p))
	writeJSON(w, http.StatusCreated, ExportWriteResponse{Path: p})
}

// Report handles GET /api/funnels/{id}/report.
//
//	@Summary		Block details report in flow order
//	@Tags			exports
//	@Produce		json
//	@Produce		plain
//	@Param			id		path		string	true	"Funnel id"
//	@Param			format	query		string	false	"Output format"	Enums(json, text)
//	@Success		200		{object}	ReportResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/funnels/{id}/report [get]
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "funnel report", err)
		return
	}
	rep := export.BuildReport(h.registry, f.Name, f.Graph())
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(rep.Text()))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ListExports handles GET /api/exports.
//
//	@Summary		List exports written to the workspace
//	@Tags			exports
//	@Produce		json
//	@Success		200	{object}	ExportListResponse
//	@Security		BearerAuth
//	@Router			/exports [get]
func (h *Handler) ListExports(w http.ResponseWriter, r *http.Request) {
	items, err := h.exports.List()
	if err != nil {
		writeError(w, "list exports", err)
		return
	}
	writeJSON(w, http.StatusOK, ExportListResponse{Exports: items})
}

// GetExport handles GET /api/exports/{name}.
//
//	@Summary		Download an export from the workspace
//	@Tags			exports
//	@Produce		json
//	@Param			name	path	string	true	"Export file name"
//	@Success		200		"Funnel document"
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/exports/{name} [get]
func (h *Handler) GetExport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	data, err := h.exports.Read(name)
	if err != nil {
		writeError(w, "read export", err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// DeleteExport handles DELETE /api/exports/{name}.
//
//	@Summary		Delete an export from the workspace
//	@Tags			exports
//	@Param			name	path	string	true	"Export file name"
//	@Success		204		"Export deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/exports/{name} [delete]
func (h *Handler) DeleteExport(w http.ResponseWriter, r *http.Request) {
	if err := h.exports.Delete(chi.URLParam(r, "name")); err != nil {
		writeError(w, "delete export", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Live handles GET /api/health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /api/health/ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		slog.Warn("readiness check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
