package docker

import (
	"time"
)

// Config holds the configuration for Docker execution.
type Config struct {
	// Image is the Docker image to use for execution.
	Image string
	// MemoryLimitMB is the maximum amount of memory the container can use.
	MemoryLimitMB int
	// CPULimit is the number of CPUs the container can use.
	CPULimit float64
	// Timeout is the maximum amount of time the execution can take.
	Timeout time.Duration
	// PoolSize is the number of pre-warmed containers to maintain.
	PoolSize int
	// Interpreter is the program invoked inside the container.
	Interpreter string
}

// DefaultConfig provides sensible defaults for a Python sandbox.
func DefaultConfig() Config {
	return Config{
		// Use a lightweight python image
		Image: "python:3.12-alpine",
		// 256 MB memory limit
		MemoryLimitMB: 256,
		// 0.5 CPU shares
		CPULimit: 0.5,
		// 8 second wall clock
		Timeout:     8 * time.Second,
		PoolSize:    3,
		Interpreter: "python",
	}
}

func (c Config) memoryBytes() int64 {
	return int64(c.MemoryLimitMB) * 1024 * 1024
}
