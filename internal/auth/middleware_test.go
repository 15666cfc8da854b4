package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireBearer(t *testing.T) {
	ts := newTestTokenService(t)
	valid, err := ts.Generate("ci-runner")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var seen string
	h := RequireBearer(ts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClientFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantClient string
	}{
		{"valid token", "Bearer " + valid, http.StatusNoContent, "ci-runner"},
		{"scheme is case insensitive", "bearer " + valid, http.StatusNoContent, "ci-runner"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, ""},
		{"bad token", "Bearer nope", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantClient, seen)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), "unauthorized")
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestClientFromContext_Anonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := ClientFromContext(req.Context())
	assert.False(t, ok)
}
