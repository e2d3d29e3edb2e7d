package auth

import (
	"net/http"
	"strings"
	"time"
)

// CookieName holds the admin token in browsers.
const CookieName = "texstudio_admin"

// FromRequest returns the bearer token, falling back to the admin cookie.
func FromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// SetCookie stores tok in an HttpOnly cookie scoped to the admin API.
func SetCookie(w http.ResponseWriter, tok string, expires time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    tok,
		Path:     "/api/admin",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCookie expires the admin cookie.
func ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Path:     "/api/admin",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
