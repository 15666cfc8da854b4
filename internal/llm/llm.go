// Package llm defines the streaming text-generation contract the repair loop
// consumes, independent of which backend serves it.
//
// STREAMS:
// A Generator hands back a receive-only channel. Every value on it is either
// a fragment of text or, at most once and always last, an error. The producer
// closes the channel when it is done; a closed channel without an error chunk
// means the backend finished normally. Consumers must keep reading until the
// channel closes or their context is cancelled, otherwise the producer blocks.
//
// Older tooling recognised failures by a "[LLM ERROR]" prefix in the text
// itself. That prefix survives only for display (see Chunk.Display); nothing
// in this module inspects text to detect an error.
package llm

import (
	"context"
	"strings"
)

// Sentinel prefixes an error when it is rendered as text for a human.
const Sentinel = "[LLM ERROR]"

// Source names the role a stream was requested for.
type Source string

const (
	SourceThinker    Source = "thinker"
	SourceCoder      Source = "coder"
	SourceSummariser Source = "summariser"
	SourceVision     Source = "vision"
)

// Chunk is one unit of a generation stream.
type Chunk struct {
	Text string
	Err  error
}

// IsError reports whether the chunk carries a failure rather than text.
func (c Chunk) IsError() bool {
	return c.Err != nil
}

// Display renders the chunk for a terminal or log line.
func (c Chunk) Display() string {
	if c.Err != nil {
		return Sentinel + " " + c.Err.Error()
	}
	return c.Text
}

// Generator produces a stream of text for a prompt.
type Generator interface {
	Stream(ctx context.Context, prompt string) <-chan Chunk
}

// Collect drains a stream into a single string, calling onChunk (when
// non-nil) for every chunk as it arrives. It returns the first error chunk,
// or ctx.Err() when the context ends before the stream closes.
func Collect(ctx context.Context, stream <-chan Chunk, onChunk func(Chunk)) (string, error) {
	var b strings.Builder
	for {
		select {
		case chunk, ok := <-stream:
			if !ok {
				if err := ctx.Err(); err != nil {
					return b.String(), err
				}
				return b.String(), nil
			}
			if onChunk != nil {
				onChunk(chunk)
			}
			if chunk.Err != nil {
				return b.String(), chunk.Err
			}
			b.WriteString(chunk.Text)
		case <-ctx.Done():
			return b.String(), ctx.Err()
		}
	}
}

// Send delivers a chunk unless ctx ends first. It reports whether the chunk
// was delivered; producers stop when it returns false.
func Send(ctx context.Context, out chan<- Chunk, chunk Chunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// Func adapts an ordinary function to a Generator.
type Func func(ctx context.Context, prompt string) <-chan Chunk

// Stream calls f.
func (f Func) Stream(ctx context.Context, prompt string) <-chan Chunk {
	return f(ctx, prompt)
}

// Static returns a Generator whose every stream yields the given chunks in order.
func Static(chunks ...Chunk) Generator {
	return Func(func(ctx context.Context, _ string) <-chan Chunk {
		out := make(chan Chunk)
		go func() {
			defer close(out)
			for _, c := range chunks {
				if !Send(ctx, out, c) {
					return
				}
			}
		}()
		return out
	})
}
