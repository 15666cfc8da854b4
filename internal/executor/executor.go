// Package executor defines the sandbox contract the repair loop runs programs through.
//
// Backends live in sub-packages:
//   - executor/process runs the interpreter as a local child process under
//     CPU, address-space and wall-clock limits (the default)
//   - executor/docker runs it inside a pre-warmed, network-less container
package executor

import (
	"context"
	"time"
)

// ExitInfrastructure is the synthetic exit code for failures that are not
// the program's fault: wall-clock timeout, spawn failure, I/O errors.
const ExitInfrastructure = -1

// ExecutionRequest represents a request to execute Python code.
type ExecutionRequest struct {
	Code string `json:"code"`
}

// ExecutionResult represents the output and status of the code execution.
// Exactly one is produced per execution and it is never mutated afterwards.
type ExecutionResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether the program ran to completion with status zero.
func (r ExecutionResult) Succeeded() bool {
	return r.ExitCode == 0
}

// Executor represents the core interface for running code in an isolated environment.
//
// Implementations never return an error: infrastructure failures come back
// in-band as ExitCode == ExitInfrastructure with the reason in Stderr, so the
// caller handles every outcome the same way.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) ExecutionResult
}

// Failure builds the result for an infrastructure failure.
func Failure(message string, duration time.Duration) ExecutionResult {
	return ExecutionResult{
		Stderr:   "[Execution Error] " + message,
		ExitCode: ExitInfrastructure,
		Duration: duration,
	}
}
