package studio

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/texstudio/auth"
	"github.com/hazyhaar/texstudio/catalog"
	"github.com/hazyhaar/texstudio/horosafe"
	"github.com/hazyhaar/texstudio/imgsrc"
	"github.com/hazyhaar/texstudio/kit"
	"github.com/hazyhaar/texstudio/shield"
)

// requireAdmin accepts a signed admin token when token login is enabled,
// and otherwise HTTP basic auth against the configured bcrypt hash.
func (s *Studio) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok := auth.FromRequest(r); tok != "" && s.signer != nil {
			c, err := s.signer.Verify(tok)
			if err == nil && c.Role == "admin" {
				next.ServeHTTP(w, r.WithContext(kit.WithRole(r.Context(), c.Role)))
				return
			}
			shield.GetLogger(r.Context()).Warn("studio: admin token rejected", "error", err)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Admin.User)) != 1 ||
			bcrypt.CompareHashAndPassword([]byte(s.cfg.Admin.PasswordHash), []byte(pass)) != nil {
			shield.GetLogger(r.Context()).Warn("studio: admin auth failed", "user", user)
			w.Header().Set("WWW-Authenticate", `Basic realm="texstudio admin"`)
			writeJSON(w, 401, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(kit.WithRole(r.Context(), "admin")))
	})
}

// handleLogin trades basic credentials for a bearer token and cookie.
func (s *Studio) handleLogin(w http.ResponseWriter, r *http.Request) {
	tok, exp, err := s.signer.Issue(s.cfg.Admin.User, "admin")
	if err != nil {
		writeError(w, 500, err)
		return
	}
	auth.SetCookie(w, tok, exp, s.cfg.Admin.SecureCookie)
	writeJSON(w, 200, map[string]any{"token": tok, "expires_at": exp.UTC().Format(time.RFC3339)})
}

func (s *Studio) handleLogout(w http.ResponseWriter, _ *http.Request) {
	auth.ClearCookie(w)
	writeJSON(w, 200, map[string]string{"status": "logged_out"})
}

// handleAdminAddTexture accepts multipart name, category and file.
func (s *Studio) handleAdminAddTexture(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		writeError(w, 400, errors.New("name is required"))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, uploadStatus(err), fmt.Errorf("multipart field \"file\": %w", err))
		return
	}
	defer file.Close()

	img, _, err := imgsrc.Decode(file, imgsrc.WithPixelLimit(s.cfg.Editor.MaxPixels))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	t, err := catalog.TextureFromImage(s.catalog.NewTextureID(), name, r.FormValue("category"), img)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if err := s.catalog.Add(r.Context(), t); err != nil {
		writeError(w, 500, err)
		return
	}
	s.catalogChanged(r.Context(), t.ID, "add")

	stored, err := s.catalog.Get(r.Context(), t.ID)
	if err != nil || stored == nil {
		writeJSON(w, 201, t)
		return
	}
	writeJSON(w, 201, stored)
}

func (s *Studio) handleAdminUpdateTexture(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var p catalog.Patch
	if !readJSON(w, r, &p) {
		return
	}
	if p.ID != nil {
		if err := horosafe.ValidateIdentifier(*p.ID); err != nil {
			writeError(w, 400, err)
			return
		}
	}
	if err := s.catalog.Update(r.Context(), id, p); err != nil {
		writeError(w, 500, err)
		return
	}
	s.catalogChanged(r.Context(), id, "update")

	if p.ID != nil {
		id = *p.ID
	}
	t, err := s.catalog.Get(r.Context(), id)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if t == nil {
		writeJSON(w, 200, map[string]string{"status": "unchanged"})
		return
	}
	writeJSON(w, 200, t)
}

func (s *Studio) handleAdminRemoveTexture(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.catalog.Remove(r.Context(), id); err != nil {
		writeError(w, 500, err)
		return
	}
	s.catalogChanged(r.Context(), id, "remove")
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}

func (s *Studio) handleGetWatermark(w http.ResponseWriter, r *http.Request) {
	text, err := s.Watermark(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"text": text})
}

func (s *Studio) handleSetWatermark(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.SetWatermark(r.Context(), req.Text); err != nil {
		writeError(w, 500, err)
		return
	}
	text, _ := s.Watermark(r.Context())
	writeJSON(w, 200, map[string]string{"text": text})
}

// handleStats summarises the studio metrics over ?window= (default 24h).
func (s *Studio) handleStats(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, 400, fmt.Errorf("window %q: must be a positive duration", v))
			return
		}
		window = d
	}
	stats, err := s.Stats(r.Context(), window)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, stats)
}
