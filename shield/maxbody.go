package shield

import (
	"net/http"
	"strings"
)

// MaxBody limits request bodies: multipart uploads are capped at maxUpload,
// everything else at maxJSON. Requests without a body pass through.
func MaxBody(maxJSON, maxUpload int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.Body != http.NoBody {
				limit := maxJSON
				if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
					limit = maxUpload
				}
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
