package repair

import (
	"github.com/sakif/laph/internal/llm"
	"github.com/sakif/laph/internal/model"
)

// Observer receives progress as it happens. Calls are made synchronously from
// the goroutine running the loop, so implementations must not block for long.
type Observer interface {
	// OnChunk is called for every fragment a generator produces, error
	// fragments included.
	OnChunk(chunk llm.Chunk, source llm.Source)
	// OnIteration is called once per finished slot.
	OnIteration(rec model.IterationRecord)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) OnChunk(llm.Chunk, llm.Source)     {}
func (NopObserver) OnIteration(model.IterationRecord) {}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Chunk     func(chunk llm.Chunk, source llm.Source)
	Iteration func(rec model.IterationRecord)
}

func (o ObserverFuncs) OnChunk(chunk llm.Chunk, source llm.Source) {
	if o.Chunk != nil {
		o.Chunk(chunk, source)
	}
}

func (o ObserverFuncs) OnIteration(rec model.IterationRecord) {
	if o.Iteration != nil {
		o.Iteration(rec)
	}
}
