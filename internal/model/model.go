// Package model defines the data structures shared by the repair loop, the
// resume store and the HTTP API.
package model

import (
	"time"

	"github.com/sakif/laph/internal/executor"
	"github.com/sakif/laph/internal/sanitizer"
)

// Task is the natural-language description a run works towards.
type Task struct {
	Description string `json:"description"`
}

// IterationRecord captures one pass through the loop. Only the previous
// record's Code and Result.Stderr feed into the next prompt.
type IterationRecord struct {
	Index             int                       `json:"index"`
	Spec              string                    `json:"spec"`
	RawReply          string                    `json:"rawReply,omitempty"`
	Code              string                    `json:"code"`
	Valid             bool                      `json:"valid"`
	ValidationMessage string                    `json:"validationMessage,omitempty"`
	Warnings          []sanitizer.Warning       `json:"warnings"`
	Result            *executor.ExecutionResult `json:"result,omitempty"`
	GenerationRetries int                       `json:"generationRetries"`
	StartedAt         time.Time                 `json:"startedAt"`
}

// Succeeded reports whether the iteration's program exited cleanly.
func (r IterationRecord) Succeeded() bool {
	return r.Result != nil && r.Result.Succeeded()
}

// RepairState is the loop's working memory between iterations. An empty
// LastCode or LastError means there is nothing to carry forward.
type RepairState struct {
	Iteration  int           `json:"iteration"`
	LastCode   string        `json:"lastCode,omitempty"`
	LastError  string        `json:"lastError,omitempty"`
	RetryDelay time.Duration `json:"retryDelay"`
}

// RunStatus is the lifecycle of a persisted run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunInterrupted RunStatus = "interrupted"
	RunSucceeded   RunStatus = "succeeded"
	RunFailed      RunStatus = "failed"
)

// Run is the persisted record used to resume a task after an interruption.
type Run struct {
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	Status    RunStatus `json:"status"`
	Iteration int       `json:"iteration"`
	LastCode  string    `json:"lastCode,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	// FinalCode is set once the run succeeds.
	FinalCode string    `json:"finalCode,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// State returns the resumable part of the run.
func (r Run) State() RepairState {
	return RepairState{
		Iteration: r.Iteration,
		LastCode:  r.LastCode,
		LastError: r.LastError,
	}
}
