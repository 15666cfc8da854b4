package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollect(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		chunks  []Chunk
		want    string
		wantErr error
		seen    int
	}{
		{
			name:   "concatenates text",
			chunks: []Chunk{{Text: "Hello, "}, {Text: "World"}},
			want:   "Hello, World",
			seen:   2,
		},
		{
			name:   "empty stream",
			chunks: nil,
			want:   "",
			seen:   0,
		},
		{
			name:    "error stops collection",
			chunks:  []Chunk{{Text: "partial"}, {Err: boom}},
			want:    "partial",
			wantErr: boom,
			seen:    2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen := 0
			got, err := Collect(context.Background(), Static(tt.chunks...).Stream(context.Background(), "p"), func(Chunk) { seen++ })
			assert.Equal(t, tt.want, got)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.seen, seen)
		})
	}
}

func TestCollect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// A stream that never produces anything.
	never := make(chan Chunk)

	_, err := Collect(ctx, never, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChunkDisplay(t *testing.T) {
	assert.Equal(t, "text", Chunk{Text: "text"}.Display())
	assert.Equal(t, "[LLM ERROR] connection refused", Chunk{Err: errors.New("connection refused")}.Display())
	assert.True(t, Chunk{Err: errors.New("x")}.IsError())
	assert.False(t, Chunk{Text: "x"}.IsError())
}
