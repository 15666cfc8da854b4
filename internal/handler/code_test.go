package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/laph/internal/executor"
	"github.com/sakif/laph/internal/handler"
	"github.com/sakif/laph/internal/service"
)

// MockExecutor implements a fast, mock executor for handler testing without a sandbox.
type MockExecutor struct {
	CapturedReq executor.ExecutionRequest
	ReturnRes   executor.ExecutionResult
}

func (m *MockExecutor) Execute(ctx context.Context, req executor.ExecutionRequest) executor.ExecutionResult {
	m.CapturedReq = req
	return m.ReturnRes
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newCodeHandler(exec executor.Executor) *handler.CodeHandler {
	logger := testLogger()
	return handler.NewCodeHandler(service.NewCodeService(exec, logger), logger)
}

func post(t *testing.T, h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func TestCodeHandler_HandleExecute(t *testing.T) {
	t.Run("valid execution", func(t *testing.T) {
		mockExec := &MockExecutor{
			ReturnRes: executor.ExecutionResult{
				Stdout:   "Hello World\n",
				ExitCode: 0,
				Duration: 100 * time.Millisecond,
			},
		}
		h := newCodeHandler(mockExec)

		rr := post(t, h.HandleExecute, "/api/execute", `{"code":"print('Hello World')"}`)

		assert.Equal(t, http.StatusOK, rr.Code)

		var res executor.ExecutionResult
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.Equal(t, "Hello World\n", res.Stdout)
		assert.Equal(t, 0, res.ExitCode)
		assert.Equal(t, "print('Hello World')", mockExec.CapturedReq.Code)
	})

	t.Run("failing program is still 200", func(t *testing.T) {
		mockExec := &MockExecutor{ReturnRes: executor.Failure("Code execution timed out after 8s", 8*time.Second)}
		h := newCodeHandler(mockExec)

		rr := post(t, h.HandleExecute, "/api/execute", `{"code":"while True: pass"}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		var res executor.ExecutionResult
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.Equal(t, executor.ExitInfrastructure, res.ExitCode)
		assert.Contains(t, res.Stderr, "timed out")
	})

	t.Run("invalid request body", func(t *testing.T) {
		h := newCodeHandler(&MockExecutor{})

		rr := post(t, h.HandleExecute, "/api/execute", `{"invalid_json":`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "invalid_json")
	})

	t.Run("empty code", func(t *testing.T) {
		mockExec := &MockExecutor{}
		h := newCodeHandler(mockExec)

		rr := post(t, h.HandleExecute, "/api/execute", `{"code":""}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "validation_error")
		assert.Empty(t, mockExec.CapturedReq.Code, "nothing should run")
	})
}

func TestCodeHandler_HandleAnalyze(t *testing.T) {
	h := newCodeHandler(&MockExecutor{})

	t.Run("flags and blocks network code", func(t *testing.T) {
		rr := post(t, h.HandleAnalyze, "/api/analyze", `{"code":"import socket\nsocket.socket()"}`)
		require.Equal(t, http.StatusOK, rr.Code)

		var res service.Analysis
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.NotEmpty(t, res.Report.Warnings)
		assert.False(t, res.Verdict.Safe)
	})

	t.Run("policy allows network", func(t *testing.T) {
		rr := post(t, h.HandleAnalyze, "/api/analyze",
			`{"code":"import socket\nsocket.socket()","allowNetwork":true}`)
		require.Equal(t, http.StatusOK, rr.Code)

		var res service.Analysis
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.True(t, res.Verdict.Safe)
	})

	t.Run("empty code", func(t *testing.T) {
		rr := post(t, h.HandleAnalyze, "/api/analyze", `{"code":""}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestCodeHandler_HandleExtract(t *testing.T) {
	h := newCodeHandler(&MockExecutor{})

	body, _ := json.Marshal(map[string]string{
		"text": "Sure!\n```python\nprint(\"hi\")\n```\nEnjoy.",
	})
	rr := post(t, h.HandleExtract, "/api/extract", string(body))
	require.Equal(t, http.StatusOK, rr.Code)

	var res service.Extraction
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Equal(t, `print("hi")`, res.Code)
	assert.True(t, res.Validation.Valid)
}
