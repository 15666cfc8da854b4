package process

import (
	"time"
)

// Config holds the resource limits for local process execution.
// A Runner copies it at construction; it cannot change afterwards.
type Config struct {
	// Interpreter is the program used to run the source file.
	Interpreter string
	// CPULimit is the CPU time the child may consume (rounded up to whole seconds).
	// Enforced by the OS; the child is killed when it is exceeded.
	CPULimit time.Duration
	// MemoryLimitMB caps the child's virtual address space. Zero disables the cap.
	MemoryLimitMB int
	// Timeout is the wall-clock ceiling enforced by the parent.
	Timeout time.Duration
	// TempDir is where source files are materialised. Empty means os.TempDir().
	TempDir string
}

// DefaultConfig provides sensible defaults for a Python sandbox.
func DefaultConfig() Config {
	return Config{
		Interpreter: "python3",
		// 5 seconds of CPU
		CPULimit: 5 * time.Second,
		// 256 MB of address space
		MemoryLimitMB: 256,
		// 8 seconds on the wall clock
		Timeout: 8 * time.Second,
	}
}
