package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type contextKey string

const (
	// APIKeyHeader is the header used to pass the API key
	APIKeyHeader = "X-API-Key"

	apiKeyLabelKey contextKey = "api_key_label"
)

// AuthConfig configures API key authentication
type AuthConfig struct {
	// APIKeys maps each accepted key to a label used in logs
	APIKeys map[string]string

	// PublicPaths bypass authentication
	PublicPaths map[string]bool
}

// APIKeyLabel returns the label of the key that authenticated the request
func APIKeyLabel(ctx context.Context) (string, bool) {
	label, ok := ctx.Value(apiKeyLabelKey).(string)
	return label, ok
}

// APIKeyAuth rejects requests without a valid key in X-API-Key or an
// "Authorization: Bearer" header with 401
func APIKeyAuth(cfg AuthConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.PublicPaths[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if key == "" {
				WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			label, ok := matchAPIKey(cfg.APIKeys, key)
			if !ok {
				logger.Warn("invalid API key",
					zap.String("path", r.URL.Path),
					zap.String("ip", ClientIP(r)),
				)
				WriteError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyLabelKey, label)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// matchAPIKey compares in constant time against every configured key
func matchAPIKey(keys map[string]string, provided string) (string, bool) {
	found := ""
	ok := false
	for key, label := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(provided)) == 1 {
			found, ok = label, true
		}
	}
	return found, ok
}
