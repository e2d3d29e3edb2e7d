package studio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/texstudio/editor"
	"github.com/hazyhaar/texstudio/horosafe"
	"github.com/hazyhaar/texstudio/imgsrc"
	"github.com/hazyhaar/texstudio/shield"
	"github.com/hazyhaar/texstudio/surface"
)

// Handler returns the chi router for the studio API.
func (s *Studio) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(s.limiter, s.cfg.MaxUploadBytes()) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]any{"status": "ok", "sessions": s.sessions.len()})
	})

	r.Get("/api/textures", s.handleListTextures)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{sid}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteSession)
			r.Get("/state", s.handleState)
			r.Post("/image", s.handleUpload)
			r.Post("/mode", s.handleMode)
			r.Post("/pointer", s.handlePointer)
			r.Post("/tool/complete", s.handleComplete)
			r.Post("/tool/cancel", s.handleEdit(func(ed *editor.Controller) { ed.Cancel() }))
			r.Post("/tool/clear", s.handleEdit(func(ed *editor.Controller) { ed.ClearTool() }))
			r.Put("/brush", s.handleBrush)
			r.Get("/selections", s.handleSelections)
			r.Put("/selections/{id}/active", s.handleActivateSelection)
			r.Delete("/selections/{id}", s.handleRemoveSelection)
			r.Post("/textures", s.handleApplyTexture)
			r.Post("/transform", s.handleTransform)
			r.Post("/crop", s.handleCrop)
			r.Post("/undo", s.handleStep(s.Undo))
			r.Post("/redo", s.handleStep(s.Redo))
			r.Post("/clear", s.handleEdit(func(ed *editor.Controller) { ed.Clear() }))
			r.Get("/export", s.handleExport)
		})
	})

	if s.cfg.Admin.User != "" {
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/textures", s.handleAdminAddTexture)
			r.Patch("/textures/{id}", s.handleAdminUpdateTexture)
			r.Delete("/textures/{id}", s.handleAdminRemoveTexture)
			r.Get("/watermark", s.handleGetWatermark)
			r.Put("/watermark", s.handleSetWatermark)
			r.Get("/stats", s.handleStats)
			if s.signer != nil {
				r.Post("/login", s.handleLogin)
				r.Post("/logout", s.handleLogout)
			}
		})
	}
	return r
}

// --- Sessions ---

func (s *Studio) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.CreateSession(r.Context(), nil)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, 201, info)
}

func (s *Studio) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.DeleteSession(r.Context(), chi.URLParam(r, "sid")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}

func (s *Studio) handleState(w http.ResponseWriter, r *http.Request) {
	info, err := s.SessionState(r.Context(), chi.URLParam(r, "sid"))
	respond(w, info, err)
}

func (s *Studio) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, uploadStatus(err), fmt.Errorf("multipart field \"file\": %w", err))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	info, err := s.UploadImage(r.Context(), chi.URLParam(r, "sid"), data)
	respond(w, info, err)
}

func (s *Studio) handleMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tool string `json:"tool"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	action, ok := editor.ParseTool(req.Tool)
	if !ok {
		writeError(w, 400, fmt.Errorf("unknown tool %q (use polygon or brush)", req.Tool))
		return
	}
	info, err := s.EditErr(r.Context(), chi.URLParam(r, "sid"), func(ed *editor.Controller) error {
		if action == editor.ActionTogglePolygon {
			return ed.TogglePolygon()
		}
		return ed.ToggleBrush()
	})
	respond(w, info, err)
}

func (s *Studio) handlePointer(w http.ResponseWriter, r *http.Request) {
	var ev editor.PointerEvent
	if !readJSON(w, r, &ev) {
		return
	}
	switch ev.Type {
	case editor.PointerDown, editor.PointerMove, editor.PointerUp:
	default:
		writeError(w, 400, fmt.Errorf("unknown pointer type %q", ev.Type))
		return
	}
	info, err := s.Edit(r.Context(), chi.URLParam(r, "sid"), func(ed *editor.Controller) { ed.Pointer(ev) })
	respond(w, info, err)
}

func (s *Studio) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Color string `json:"color"`
	}
	if !readOptionalJSON(w, r, &req) {
		return
	}
	res, err := s.CompleteTool(r.Context(), chi.URLParam(r, "sid"), req.Color)
	respond(w, res, err)
}

func (s *Studio) handleEdit(fn func(*editor.Controller)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := s.Edit(r.Context(), chi.URLParam(r, "sid"), fn)
		respond(w, info, err)
	}
}

func (s *Studio) handleBrush(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Width float64 `json:"width"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	info, err := s.Edit(r.Context(), chi.URLParam(r, "sid"), func(ed *editor.Controller) { ed.SetBrushWidth(req.Width) })
	respond(w, info, err)
}

func (s *Studio) handleSelections(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	var list any
	_, err := s.Edit(r.Context(), sid, func(ed *editor.Controller) { list = ed.Selections() })
	respond(w, list, err)
}

func (s *Studio) handleActivateSelection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, err := s.Edit(r.Context(), chi.URLParam(r, "sid"), func(ed *editor.Controller) { ed.SetActiveSelection(id) })
	respond(w, info, err)
}

func (s *Studio) handleRemoveSelection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, err := s.Edit(r.Context(), chi.URLParam(r, "sid"), func(ed *editor.Controller) { ed.RemoveSelection(id) })
	respond(w, info, err)
}

func (s *Studio) handleApplyTexture(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TextureID string `json:"texture_id"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.TextureID == "" {
		writeError(w, 400, errors.New("texture_id is required"))
		return
	}
	res, err := s.ApplyTexture(r.Context(), chi.URLParam(r, "sid"), req.TextureID)
	respond(w, res, err)
}

func (s *Studio) handleTransform(w http.ResponseWriter, r *http.Request) {
	var t editor.Transform
	if !readJSON(w, r, &t) {
		return
	}
	var applied bool
	info, err := s.Edit(r.Context(), chi.URLParam(r, "sid"), func(ed *editor.Controller) { applied = ed.Transform(t) })
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, 200, StepResult{OK: applied, State: info.State})
}

func (s *Studio) handleCrop(w http.ResponseWriter, r *http.Request) {
	var rect surface.Rect
	if !readJSON(w, r, &rect) {
		return
	}
	info, err := s.EditErr(r.Context(), chi.URLParam(r, "sid"), func(ed *editor.Controller) error {
		return ed.Crop(&rect)
	})
	respond(w, info, err)
}

func (s *Studio) handleStep(fn func(context.Context, string) (*StepResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := fn(r.Context(), chi.URLParam(r, "sid"))
		respond(w, res, err)
	}
}

func (s *Studio) handleExport(w http.ResponseWriter, r *http.Request) {
	f, err := imgsrc.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, 415, err)
		return
	}
	res, err := s.Export(r.Context(), chi.URLParam(r, "sid"), f)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", res.MIME)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(200)
	w.Write(res.Data)
}

// --- Catalog ---

func (s *Studio) handleListTextures(w http.ResponseWriter, r *http.Request) {
	list, err := s.catalog.List(r.Context())
	respond(w, list, err)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, 200, v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, editor.ErrTextureNotFound):
		return 404
	case errors.Is(err, editor.ErrNoImage):
		return 409
	case errors.Is(err, editor.ErrUnsupportedFormat), errors.Is(err, imgsrc.ErrUnsupportedFormat):
		return 415
	case errors.Is(err, horosafe.ErrSSRF), errors.Is(err, horosafe.ErrUnsafeScheme):
		return 400
	case errors.Is(err, horosafe.ErrTooLarge):
		return 413
	case errors.Is(err, ErrTooManySessions):
		return 503
	}
	return 500
}

// uploadStatus distinguishes an oversized body from a malformed form.
func uploadStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return 413
	}
	return 400
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, 400, fmt.Errorf("invalid JSON body: %w", err))
		return false
	}
	return true
}

// readOptionalJSON accepts an empty body.
func readOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, 400, fmt.Errorf("invalid JSON body: %w", err))
	return false
}
