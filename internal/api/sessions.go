package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/funnelsim/internal/apperr"
	"github.com/starford/funnelsim/internal/editor"
	"github.com/starford/funnelsim/internal/funnelfile"
	"github.com/starford/funnelsim/internal/models"
	"github.com/starford/funnelsim/internal/session"
)

// session resolves the {sid} URL parameter, writing the error response when
// there is no such session.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "sid"))
	if err != nil {
		writeError(w, "get session", err)
		return nil, false
	}
	return s, true
}

func (h *Handler) writeState(w http.ResponseWriter, r *http.Request, s *session.Session) {
	st, err := s.State(r.Context())
	if err != nil {
		writeError(w, "session state", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// CreateSession handles POST /api/sessions.
//
//	@Summary		Start an editor session
//	@Tags			sessions
//	@Produce		json
//	@Success		201	{object}	SessionResponse
//	@Security		BearerAuth
//	@Router			/sessions [post]
func (h *Handler) CreateSession(w http.ResponseWriter, _ *http.Request) {
	s := h.sessions.Create()
	writeJSON(w, http.StatusCreated, SessionResponse{ID: s.ID()})
}

// CloseSession handles DELETE /api/sessions/{sid}.
//
//	@Summary		End an editor session
//	@Tags			sessions
//	@Param			sid	path	string	true	"Session id"
//	@Success		204	"Session closed"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid} [delete]
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(chi.URLParam(r, "sid")); err != nil {
		writeError(w, "close session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetState handles GET /api/sessions/{sid}.
//
//	@Summary		Current editor state
//	@Tags			sessions
//	@Produce		json
//	@Param			sid	path		string	true	"Session id"
//	@Success		200	{object}	StateResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid} [get]
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.writeState(w, r, s)
}

// OpenFunnel handles POST /api/sessions/{sid}/open.
//
//	@Summary		Load a funnel into the editor
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			sid		path		string		true	"Session id"
//	@Param			body	body		OpenRequest	true	"Funnel to open"
//	@Success		200		{object}	StateResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/open [post]
func (h *Handler) OpenFunnel(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req OpenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FunnelID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("funnel_id is required"))
		return
	}

	if req.FunnelID == editor.NewFunnelID {
		if err := s.OpenNew(r.Context()); err != nil {
			writeError(w, "open funnel", err)
			return
		}
		h.writeState(w, r, s)
		return
	}

	f, err := h.svc.Get(r.Context(), req.FunnelID)
	if err != nil {
		writeError(w, "open funnel", err)
		return
	}
	if _, err := s.Open(r.Context(), f); err != nil {
		writeError(w, "open funnel", err)
		return
	}
	h.writeState(w, r, s)
}

// Handoff handles POST /api/sessions/{sid}/handoff.
//
//	@Summary		Stage a funnel document for the next "new" funnel
//	@Tags			sessions
//	@Accept			json
//	@Param			sid		path	string	true	"Session id"
//	@Success		204		"Staged"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/handoff [post]
func (h *Handler) Handoff(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	doc, err := funnelfile.Load("handoff.json", body, h.registry)
	if err != nil {
		writeError(w, "handoff", err)
		return
	}
	g := doc.Graph()
	err = s.Do(r.Context(), func(ed *session.Editor) error {
		ed.Canvas.Handoff().Put(g)
		return nil
	})
	if err != nil {
		writeError(w, "handoff", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetViewport handles POST /api/sessions/{sid}/viewport.
//
//	@Summary		Update the canvas viewport transform
//	@Tags			sessions
//	@Accept			json
//	@Param			sid		path	string			true	"Session id"
//	@Param			body	body	editor.Viewport	true	"Viewport"
//	@Success		204		"Updated"
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/viewport [post]
func (h *Handler) SetViewport(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var v editor.Viewport
	if !decodeJSON(w, r, &v) {
		return
	}
	err := s.Do(r.Context(), func(ed *session.Editor) error {
		ed.Canvas.SetViewport(v)
		return nil
	})
	if err != nil {
		writeError(w, "set viewport", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Drop handles POST /api/sessions/{sid}/drop.
//
//	@Summary		Drop a block from the palette onto the canvas
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			sid		path		string		true	"Session id"
//	@Param			body	body		DropRequest	true	"Kind and screen position"
//	@Success		200		{object}	DropResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/drop [post]
func (h *Handler) Drop(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req DropRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var resp DropResponse
	_, err := s.Mutate(r.Context(), "node.added", func(ed *session.Editor) bool {
		resp.NodeID, resp.Added = ed.Canvas.OnDrop(req.Kind, editor.Point{X: req.X, Y: req.Y})
		return resp.Added
	})
	if err != nil {
		writeError(w, "drop", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Connect handles POST /api/sessions/{sid}/connect.
//
//	@Summary		Connect two node handles
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			sid		path		string				true	"Session id"
//	@Param			body	body		editor.Connection	true	"Connection"
//	@Success		200		{object}	ConnectResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/connect [post]
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var conn editor.Connection
	if !decodeJSON(w, r, &conn) {
		return
	}
	var resp ConnectResponse
	_, err := s.Mutate(r.Context(), "edge.added", func(ed *session.Editor) bool {
		resp.EdgeID, resp.Added = ed.Canvas.OnConnect(conn)
		return resp.Added
	})
	if err != nil {
		writeError(w, "connect", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// NodeChanges handles POST /api/sessions/{sid}/node-changes.
//
//	@Summary		Apply a batch of canvas node changes
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			sid		path		string				true	"Session id"
//	@Param			body	body		NodeChangesRequest	true	"Changes"
//	@Success		200		{object}	StateResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/node-changes [post]
func (h *Handler) NodeChanges(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req NodeChangesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	_, err := s.Mutate(r.Context(), "nodes.changed", func(ed *session.Editor) bool {
		ed.Store.ApplyNodeChanges(req.Changes)
		return len(req.Changes) > 0
	})
	if err != nil {
		writeError(w, "node changes", err)
		return
	}
	h.writeState(w, r, s)
}

// EdgeChanges handles POST /api/sessions/{sid}/edge-changes.
//
//	@Summary		Apply a batch of canvas edge changes
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			sid		path		string				true	"Session id"
//	@Param			body	body		EdgeChangesRequest	true	"Changes"
//	@Success		200		{object}	StateResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/edge-changes [post]
func (h *Handler) EdgeChanges(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req EdgeChangesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	_, err := s.Mutate(r.Context(), "edges.changed", func(ed *session.Editor) bool {
		ed.Store.ApplyEdgeChanges(req.Changes)
		return len(req.Changes) > 0
	})
	if err != nil {
		writeError(w, "edge changes", err)
		return
	}
	h.writeState(w, r, s)
}

// UpdateNodeData handles POST /api/sessions/{sid}/nodes/{nid}/data.
//
//	@Summary		Merge data into a node
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			sid		path		string				true	"Session id"
//	@Param			nid		path		string				true	"Node id"
//	@Param			body	body		map[string]string	true	"Field patch"
//	@Success		200		{object}	AppliedResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/nodes/{nid}/data [post]
func (h *Handler) UpdateNodeData(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var raw map[string]string
	if !decodeJSON(w, r, &raw) {
		return
	}
	nodeID := chi.URLParam(r, "nid")
	patch := make(models.Data, len(raw))
	for k, v := range raw {
		patch[models.Field(k)] = v
	}

	applied, err := s.Apply(r.Context(), "node.updated", func(ed *session.Editor) (bool, error) {
		n, ok := ed.Store.Node(nodeID)
		if !ok {
			return false, fmt.Errorf("api: node %s: %w", nodeID, apperr.ErrNotFound)
		}
		d, _ := ed.Registry.Lookup(n.Kind)
		for f := range patch {
			if !f.Known() || !d.Allows(f) {
				return false, fmt.Errorf("api: field %q not editable on %s: %w", f, n.Kind, apperr.ErrInvalid)
			}
		}
		return ed.Store.UpdateNodeData(nodeID, patch), nil
	})
	if err != nil {
		writeError(w, "update node data", err)
		return
	}
	writeJSON(w, http.StatusOK, AppliedResponse{Applied: applied})
}

// DeleteNode handles DELETE /api/sessions/{sid}/nodes/{nid}.
//
//	@Summary		Delete a node and its edges
//	@Tags			sessions
//	@Produce		json
//	@Param			sid	path		string	true	"Session id"
//	@Param			nid	path		string	true	"Node id"
//	@Success		200	{object}	AppliedResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/nodes/{nid} [delete]
func (h *Handler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	nodeID := chi.URLParam(r, "nid")
	applied, err := s.Mutate(r.Context(), "node.deleted", func(ed *session.Editor) bool {
		return ed.Store.DeleteNode(nodeID)
	})
	if err != nil {
		writeError(w, "delete node", err)
		return
	}
	writeJSON(w, http.StatusOK, AppliedResponse{Applied: applied})
}

// Unselect handles POST /api/sessions/{sid}/unselect.
//
//	@Summary		Clear the node selection
//	@Tags			sessions
//	@Param			sid	path	string	true	"Session id"
//	@Success		204	"Cleared"
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/unselect [post]
func (h *Handler) Unselect(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	_, err := s.Mutate(r.Context(), "selection.cleared", func(ed *session.Editor) bool {
		ed.Store.UnselectNode()
		return true
	})
	if err != nil {
		writeError(w, "unselect", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Undo handles POST /api/sessions/{sid}/undo.
//
//	@Summary		Undo the last content change
//	@Tags			sessions
//	@Produce		json
//	@Param			sid	path		string	true	"Session id"
//	@Success		200	{object}	StateResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/undo [post]
func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	undone, err := s.Mutate(r.Context(), "undo", func(ed *session.Editor) bool {
		return ed.Store.UndoLastAction()
	})
	if err != nil {
		writeError(w, "undo", err)
		return
	}
	w.Header().Set("X-Undo-Applied", strconv.FormatBool(undone))
	h.writeState(w, r, s)
}

var previewTypes = []any{
	editor.PreviewLanding, editor.PreviewVSL, editor.PreviewCheckout,
	editor.PreviewImage, editor.PreviewVideo, editor.PreviewAudio, editor.PreviewPDF,
}

// SetPreview handles POST /api/sessions/{sid}/preview.
//
//	@Summary		Open the preview modal with explicit content
//	@Tags			sessions
//	@Accept			json
//	@Param			sid		path	string					true	"Session id"
//	@Param			body	body	models.PreviewContent	true	"Preview content"
//	@Success		204		"Set"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/preview [post]
func (h *Handler) SetPreview(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var p models.PreviewContent
	if !decodeJSON(w, r, &p) {
		return
	}
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Type, validation.Required, validation.In(previewTypes...)),
		validation.Field(&p.Src, validation.Required),
	)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	h.setPreview(w, r, s, &p)
}

// ClearPreview handles DELETE /api/sessions/{sid}/preview.
//
//	@Summary		Close the preview modal
//	@Tags			sessions
//	@Param			sid	path	string	true	"Session id"
//	@Success		204	"Cleared"
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/preview [delete]
func (h *Handler) ClearPreview(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.setPreview(w, r, s, nil)
}

func (h *Handler) setPreview(w http.ResponseWriter, r *http.Request, s *session.Session, p *models.PreviewContent) {
	_, err := s.Mutate(r.Context(), "preview.changed", func(ed *session.Editor) bool {
		ed.Store.SetPreviewContent(p)
		return true
	})
	if err != nil {
		writeError(w, "set preview", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExpandPreview handles POST /api/sessions/{sid}/nodes/{nid}/preview.
//
//	@Summary		Preview a node's content
//	@Tags			sessions
//	@Produce		json
//	@Param			sid	path		string	true	"Session id"
//	@Param			nid	path		string	true	"Node id"
//	@Success		200	{object}	models.PreviewContent
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/nodes/{nid}/preview [post]
func (h *Handler) ExpandPreview(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	nodeID := chi.URLParam(r, "nid")
	var content models.PreviewContent
	_, err := s.Apply(r.Context(), "preview.changed", func(ed *session.Editor) (bool, error) {
		n, ok := ed.Store.Node(nodeID)
		if !ok {
			return false, fmt.Errorf("api: node %s: %w", nodeID, apperr.ErrNotFound)
		}
		p, ok := editor.PreviewFor(ed.Registry, n)
		if !ok {
			return false, fmt.Errorf("api: node %s has nothing to preview: %w", nodeID, apperr.ErrInvalid)
		}
		content = p
		ed.Store.SetPreviewContent(&p)
		return true, nil
	})
	if err != nil {
		writeError(w, "expand preview", err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

// GetFields handles GET /api/sessions/{sid}/fields.
//
//	@Summary		Editable fields of the selected node
//	@Tags			sessions
//	@Produce		json
//	@Param			sid	path		string	true	"Session id"
//	@Success		200	{object}	FieldsResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/fields [get]
func (h *Handler) GetFields(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var fields []editor.FieldView
	err := s.Do(r.Context(), func(ed *session.Editor) error {
		fields = ed.Panel.Fields()
		return nil
	})
	if err != nil {
		writeError(w, "fields", err)
		return
	}
	if fields == nil {
		fields = []editor.FieldView{}
	}
	writeJSON(w, http.StatusOK, FieldsResponse{Fields: fields})
}

// EditField handles POST /api/sessions/{sid}/fields.
//
//	@Summary		Edit one field of the selected node
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			sid		path		string				true	"Session id"
//	@Param			body	body		FieldEditRequest	true	"Field and value"
//	@Success		200		{object}	AppliedResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/fields [post]
func (h *Handler) EditField(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req FieldEditRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	applied, err := s.Mutate(r.Context(), "node.updated", func(ed *session.Editor) bool {
		return ed.Panel.Edit(req.Field, req.Value)
	})
	if err != nil {
		writeError(w, "edit field", err)
		return
	}
	if !applied {
		writeJSON(w, http.StatusBadRequest, errorBody("field is not editable on the selected block"))
		return
	}
	writeJSON(w, http.StatusOK, AppliedResponse{Applied: true})
}

// Save handles POST /api/sessions/{sid}/save.
//
//	@Summary		Persist the session's graph
//	@Description	Saving an unsaved ("new") funnel creates it and switches the session to the new id.
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			sid		path		string		true	"Session id"
//	@Param			body	body		SaveRequest	true	"Name and optional checksum"
//	@Success		200		{object}	models.Funnel
//	@Success		201		{object}	models.Funnel
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/save [post]
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SaveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	f, created, err := h.save(r.Context(), s, req)
	if err != nil {
		writeError(w, "save", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.Header().Set("ETag", strconv.Quote(f.Checksum))
	writeJSON(w, status, f)
}

func (h *Handler) save(ctx context.Context, s *session.Session, req SaveRequest) (*models.Funnel, bool, error) {
	var (
		funnelID string
		g        models.Graph
	)
	err := s.Do(ctx, func(ed *session.Editor) error {
		funnelID = ed.Store.FunnelID()
		g = ed.Store.Snapshot()
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if funnelID != "" && funnelID != editor.NewFunnelID {
		f, err := h.svc.Update(ctx, funnelID, req.Name, g, req.IfMatch)
		return f, false, err
	}

	f, err := h.svc.Create(ctx, req.Name, g)
	if err != nil {
		return nil, false, err
	}
	if _, err := s.Open(ctx, f); err != nil {
		return nil, false, err
	}
	return f, true, nil
}
