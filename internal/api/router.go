package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/funnelsim/internal/export"
	"github.com/starford/funnelsim/internal/funnelservice"
	"github.com/starford/funnelsim/internal/session"
)

// Deps are the services the API serves.
type Deps struct {
	Funnels  *funnelservice.Service
	Sessions *session.Manager
	Exports  *export.Writer

	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler

	AuthEnabled    bool
	Token          string
	MaxUploadBytes int64
}

// NewRouter creates a chi router with all API routes mounted.
// Health probes stay outside the auth guard.
func NewRouter(deps Deps) chi.Router {
	h := NewHandler(deps)

	r := chi.NewRouter()
	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(deps.AuthEnabled, deps.Token))

		// Block catalog.
		r.Get("/blocks", h.ListBlocks)
		r.Get("/blocks/{kind}", h.GetBlock)

		// Funnels CRUD.
		r.Get("/funnels", h.ListFunnels)
		r.Post("/funnels", h.CreateFunnel)
		r.Get("/funnels/{id}", h.GetFunnel)
		r.Put("/funnels/{id}", h.UpdateFunnel)
		r.Delete("/funnels/{id}", h.DeleteFunnel)

		// Exports.
		r.Get("/funnels/{id}/export", h.DownloadExport)
		r.Post("/funnels/{id}/export", h.WriteExport)
		r.Get("/funnels/{id}/report", h.Report)
		r.Get("/exports", h.ListExports)
		r.Get("/exports/{name}", h.GetExport)
		r.Delete("/exports/{name}", h.DeleteExport)

		// Editor sessions.
		r.Post("/sessions", h.CreateSession)
		r.Route("/sessions/{sid}", func(r chi.Router) {
			r.Get("/", h.GetState)
			r.Delete("/", h.CloseSession)
			r.Post("/open", h.OpenFunnel)
			r.Post("/handoff", h.Handoff)
			r.Post("/viewport", h.SetViewport)
			r.Post("/drop", h.Drop)
			r.Post("/connect", h.Connect)
			r.Post("/node-changes", h.NodeChanges)
			r.Post("/edge-changes", h.EdgeChanges)
			r.Post("/nodes/{nid}/data", h.UpdateNodeData)
			r.Delete("/nodes/{nid}", h.DeleteNode)
			r.Post("/nodes/{nid}/preview", h.ExpandPreview)
			r.Post("/unselect", h.Unselect)
			r.Post("/undo", h.Undo)
			r.Post("/preview", h.SetPreview)
			r.Delete("/preview", h.ClearPreview)
			r.Get("/fields", h.GetFields)
			r.Post("/fields", h.EditField)
			r.Post("/attachments", h.AttachFile)
			r.Post("/save", h.Save)
		})

		// SSE endpoint (protected by same auth middleware).
		if deps.Events != nil {
			r.Get("/events", deps.Events.ServeHTTP)
		}
	})

	return r
}
