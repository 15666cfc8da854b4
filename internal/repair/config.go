package repair

import "time"

// Config bounds and paces a Loop. It is copied at construction.
type Config struct {
	// MaxIterations is the budget of iteration slots.
	MaxIterations int
	// InitialDelay is the first backoff after a generation failure.
	InitialDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// IterationDelay is the pause after a failed execution.
	IterationDelay time.Duration
	// MaxGenerationRetries is how many times one slot may be retried after
	// generation failures before the slot is given up.
	MaxGenerationRetries int
	// MaxContextBytes caps the code and stderr carried into the next prompt.
	// Zero means unbounded.
	MaxContextBytes int
	// StaleAfter is how long a persisted run may go without a save before
	// it is presumed orphaned and may be resumed by another Run. Zero
	// resumes only runs that were cleanly interrupted.
	StaleAfter time.Duration
}

// DefaultConfig returns the stock pacing: ten slots, 1s..10s backoff.
func DefaultConfig() Config {
	return Config{
		MaxIterations:        10,
		InitialDelay:         time.Second,
		MaxDelay:             10 * time.Second,
		IterationDelay:       time.Second,
		MaxGenerationRetries: 5,
		MaxContextBytes:      16 * 1024,
		StaleAfter:           time.Hour,
	}
}
