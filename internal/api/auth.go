package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	apperrors "github.com/vault-snapshots/internal/errors"
)

// CronSecretHeader carries the shared ingest secret
const CronSecretHeader = "X-Cron-Secret"

// authorized reports whether r carries the shared secret, either in the X-Cron-Secret header
// or as a bearer token. An empty secret leaves the endpoint open.
func authorized(r *http.Request, secret string) bool {
	if secret == "" {
		return true
	}
	if header := r.Header.Get(CronSecretHeader); header != "" && secretEqual(header, secret) {
		return true
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok && secretEqual(strings.TrimSpace(token), secret) {
		return true
	}
	return false
}

func secretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// SharedSecretMiddleware rejects unauthorized requests with 401 before the handler runs.
func SharedSecretMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authorized(r, secret) {
				respondServiceError(w, r, apperrors.NewUnauthorizedError("missing or invalid ingest secret"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
