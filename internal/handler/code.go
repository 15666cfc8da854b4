// Package handler contains the HTTP request handlers for the laph API.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse the incoming HTTP request (path params, query, JSON body)
//  2. Call the service layer
//  3. Write the HTTP response (status code, headers, JSON body)
//
// Handlers hold no business logic. They depend on small interfaces rather
// than concrete services so tests can drive them with fakes.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/laph/internal/executor"
	"github.com/sakif/laph/internal/sanitizer"
	"github.com/sakif/laph/internal/service"
)

// CodeService runs the individual pipeline stages.
type CodeService interface {
	Execute(ctx context.Context, code string) (*executor.ExecutionResult, error)
	Analyze(code string, policy sanitizer.Policy) (*service.Analysis, error)
	Extract(ctx context.Context, text string) (*service.Extraction, error)
}

var _ CodeService = (*service.CodeService)(nil)

// CodeHandler exposes execution, analysis and extraction on their own.
type CodeHandler struct {
	code   CodeService
	logger *slog.Logger
}

// NewCodeHandler creates a new CodeHandler.
func NewCodeHandler(code CodeService, logger *slog.Logger) *CodeHandler {
	return &CodeHandler{
		code:   code,
		logger: logger,
	}
}

type executeRequest struct {
	Code string `json:"code"`
}

// HandleExecute runs a program once in the sandbox.
//
// POST /api/execute {"code": "..."} → 200 with the ExecutionResult. A failing
// program is still a 200: the exit code is the answer.
func (h *CodeHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	result, err := h.code.Execute(r.Context(), req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type analyzeRequest struct {
	Code         string `json:"code"`
	AllowFileOps bool   `json:"allowFileOps"`
	AllowNetwork bool   `json:"allowNetwork"`
}

// HandleAnalyze screens a program without running it.
//
// POST /api/analyze {"code": "...", "allowFileOps": false, "allowNetwork": false}
func (h *CodeHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	analysis, err := h.code.Analyze(req.Code, sanitizer.Policy{
		AllowFileOps: req.AllowFileOps,
		AllowNetwork: req.AllowNetwork,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

type extractRequest struct {
	Text string `json:"text"`
}

// HandleExtract pulls the program out of a model reply.
//
// POST /api/extract {"text": "..."}
func (h *CodeHandler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	extraction, err := h.code.Extract(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, extraction)
}
