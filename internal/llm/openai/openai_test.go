package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/laph/internal/llm"
)

func sseChunk(content string) string {
	payload := map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"created": 1,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index": 0,
			"delta": map[string]any{"content": content},
		}},
	}
	b, _ := json.Marshal(payload)
	return "data: " + string(b) + "\n\n"
}

func newTestClient(url string) *Client {
	return New(Config{
		BaseURL:        url + "/v1",
		APIKey:         "test-key",
		Model:          "test-model",
		RequestTimeout: 5 * time.Second,
		SystemPrompt:   "You write Python.",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStream_SSE(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("print("))
		fmt.Fprint(w, sseChunk(""))
		fmt.Fprint(w, sseChunk("'hi')"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var chunks []llm.Chunk
	c := newTestClient(srv.URL)
	text, err := llm.Collect(context.Background(), c.Stream(context.Background(), "task"), func(ch llm.Chunk) {
		chunks = append(chunks, ch)
	})

	require.NoError(t, err)
	assert.Equal(t, "print('hi')", text)
	assert.Len(t, chunks, 2)
	assert.Equal(t, "test-model", body["model"])
	assert.Equal(t, true, body["stream"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestStream_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	var chunks []llm.Chunk
	c := newTestClient(srv.URL)
	_, err := llm.Collect(context.Background(), c.Stream(context.Background(), "task"), func(ch llm.Chunk) {
		chunks = append(chunks, ch)
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].IsError())
}
