package server_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/laph/internal/auth"
	"github.com/sakif/laph/internal/executor"
	"github.com/sakif/laph/internal/repair"
	"github.com/sakif/laph/internal/server"
	"github.com/sakif/laph/internal/service"
)

type stubLoop struct{}

func (stubLoop) Run(_ context.Context, task string) (*repair.Result, error) {
	return &repair.Result{Status: repair.StatusSuccess, Code: "print('ok')", Iterations: 1}, nil
}

type stubExecutor struct{}

func (stubExecutor) Execute(_ context.Context, _ executor.ExecutionRequest) executor.ExecutionResult {
	return executor.ExecutionResult{Stdout: "ok\n"}
}

func newTestServer(t *testing.T, tokens *auth.TokenService) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := server.New(server.Config{Port: 0, Metrics: true}, server.Deps{
		Runs:   service.NewRunService(stubLoop{}, nil, logger),
		Code:   service.NewCodeService(stubExecutor{}, logger),
		Tokens: tokens,
	}, logger)
	return srv.Handler()
}

func do(h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	rr := do(newTestServer(t, nil), http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, nil)
	do(h, http.MethodGet, "/healthz", "", "")

	rr := do(h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "laph_requests_total")
}

func TestOpenAPI(t *testing.T) {
	h := newTestServer(t, nil)

	rr := do(h, http.MethodPost, "/api/runs", `{"task":"say ok"}`, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"SUCCESS"`)

	rr = do(h, http.MethodPost, "/api/execute", `{"code":"print('ok')"}`, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	// Persistence is disabled, so every lookup misses and the list is empty.
	rr = do(h, http.MethodGet, "/api/runs/whatever", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(h, http.MethodGet, "/api/runs", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestBearerAuth(t *testing.T) {
	tokens, err := auth.NewTokenService("server-test-secret-0123456789", time.Hour)
	require.NoError(t, err)
	h := newTestServer(t, tokens)

	rr := do(h, http.MethodPost, "/api/analyze", `{"code":"print(1)"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := tokens.Generate("ci")
	require.NoError(t, err)
	rr = do(h, http.MethodPost, "/api/analyze", `{"code":"print(1)"}`, token)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Probes stay open.
	rr = do(h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

