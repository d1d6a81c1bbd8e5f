package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func newTestAuthConfig() AuthConfig {
	return AuthConfig{
		APIKeys: map[string]string{
			"test-key-123":  "test-app",
			"admin-key-456": "admin",
		},
		PublicPaths: map[string]bool{
			"/health":  true,
			"/metrics": true,
		},
	}
}

func labelHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		label, _ := APIKeyLabel(r.Context())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(label))
	})
}

func TestAPIKeyAuth(t *testing.T) {
	handler := APIKeyAuth(newTestAuthConfig(), zap.NewNop())(labelHandler())

	tests := []struct {
		name      string
		path      string
		method    string
		header    string
		value     string
		wantCode  int
		wantLabel string
	}{
		{name: "header key", path: "/v1/contracts/0x1/interactions", header: APIKeyHeader, value: "test-key-123", wantCode: http.StatusOK, wantLabel: "test-app"},
		{name: "bearer token", path: "/v1/contracts/0x1/interactions", header: "Authorization", value: "Bearer admin-key-456", wantCode: http.StatusOK, wantLabel: "admin"},
		{name: "missing key", path: "/v1/contracts/0x1/interactions", wantCode: http.StatusUnauthorized},
		{name: "invalid key", path: "/v1/contracts/0x1/interactions", header: APIKeyHeader, value: "wrong", wantCode: http.StatusUnauthorized},
		{name: "public path", path: "/health", wantCode: http.StatusOK},
		{name: "preflight", path: "/v1/contracts/0x1/interactions", method: http.MethodOptions, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req := httptest.NewRequest(method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.wantCode == http.StatusOK && rec.Body.String() != tt.wantLabel {
				t.Errorf("expected label %q, got %q", tt.wantLabel, rec.Body.String())
			}
			if tt.wantCode == http.StatusUnauthorized {
				var body ErrorResponse
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode body: %v", err)
				}
				if body.Error == "" {
					t.Error("expected error message")
				}
			}
		})
	}
}

func TestMatchAPIKey(t *testing.T) {
	keys := newTestAuthConfig().APIKeys
	if label, ok := matchAPIKey(keys, "admin-key-456"); !ok || label != "admin" {
		t.Errorf("expected admin, got %q %v", label, ok)
	}
	if _, ok := matchAPIKey(keys, "admin-key-45"); ok {
		t.Error("prefix of a key must not match")
	}
	if _, ok := matchAPIKey(nil, "anything"); ok {
		t.Error("no keys must match nothing")
	}
}
