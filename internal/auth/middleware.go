package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

const unauthorizedBody = `{"error":"unauthorized","reason":"Authentication required."}`

// Middleware rejects requests without a valid bearer token. Preflight
// requests pass through.
func Middleware(v Validator, logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeUnauthorized(w)
			return
		}
		claims, err := v.ValidateToken(token)
		if err != nil {
			logger.Debug("Rejected bearer token", "path", r.URL.Path, "error", err)
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="touchdb"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(unauthorizedBody))
}
