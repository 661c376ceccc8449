package api

import (
	"bytes"
	"io"
	"net/http"

	"github.com/starford/funnelsim/internal/editor"
)

// multipartOverhead is allowed on top of the file size limit for headers and
// boundaries.
const multipartOverhead = 1 << 20

// AttachFile handles POST /api/sessions/{sid}/attachments (multipart/form-data, field "file").
//
//	@Summary		Attach a file to the selected upload block
//	@Description	The file is read asynchronously; the node is updated when the read completes.
//	@Tags			sessions
//	@Accept			multipart/form-data
//	@Param			sid		path		string	true	"Session id"
//	@Param			file	formData	file	true	"File to embed"
//	@Success		202		"Read started"
//	@Failure		400		{object}	errResponse
//	@Failure		413		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/attachments [post]
func (h *Handler) AttachFile(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)

	if err := r.ParseMultipartForm(h.maxUpload + multipartOverhead); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	if header.Size > h.maxUpload {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("file too large"))
		return
	}

	// The request body is gone once the handler returns; the read runs later.
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	// Generic types carry no information; let the panel sniff instead.
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "application/octet-stream" {
		mimeType = ""
	}

	started, err := s.AttachFile(r.Context(), editor.File{
		Name: header.Filename,
		Type: mimeType,
		Body: bytes.NewReader(data),
	})
	if err != nil {
		writeError(w, "attach file", err)
		return
	}
	if !started {
		writeJSON(w, http.StatusBadRequest, errorBody("selected block does not accept files"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
