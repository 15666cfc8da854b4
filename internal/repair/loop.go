// Package repair drives the generate, extract, execute, evaluate cycle.
//
// THE STATE MACHINE:
// A run owns a budget of iteration slots. Each slot asks the thinker for a
// specification and the coder for a program, extracts and validates the code,
// and runs it in the sandbox. Exit status zero ends the run with SUCCESS;
// anything else carries the program and its stderr into the next slot's
// prompts. Running out of slots ends the run with FAILURE.
//
// A generation failure is retried in the same slot after an exponential
// backoff. The backoff resets only once a slot has produced both a
// specification and a program, so a dependency that keeps failing sees
// 1s, 2s, 4s, 8s, 10s, 10s... between attempts. A slot that keeps failing
// past MaxGenerationRetries is given up and counts against the budget, so a
// run always terminates.
//
// PERSISTENCE:
// With a repository attached, every finished slot is saved. A cancelled run
// is marked "interrupted" and the next Run for the same task claims it and
// resumes from the slot after the last one saved. A run whose process died
// without saving that mark is claimed once it has gone StaleAfter without a
// save. A claim is atomic, so concurrent Runs of one task never share a
// record.
package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sakif/laph/internal/apperror"
	"github.com/sakif/laph/internal/executor"
	"github.com/sakif/laph/internal/extractor"
	"github.com/sakif/laph/internal/llm"
	"github.com/sakif/laph/internal/model"
	"github.com/sakif/laph/internal/observability"
	"github.com/sakif/laph/internal/repository"
	"github.com/sakif/laph/internal/sanitizer"
)

var tracer = otel.Tracer("laph.repair")

// Status is the terminal state of a run.
type Status string

const (
	StatusSuccess   Status = "SUCCESS"
	StatusFailure   Status = "FAILURE"
	StatusCancelled Status = "CANCELLED"
)

// Iteration outcome labels.
const (
	outcomeSolved    = "solved"
	outcomeFailed    = "execution_failed"
	outcomeExhausted = "generation_exhausted"
)

// ErrNoSolution is returned when the iteration budget runs out.
var ErrNoSolution = apperror.ErrNoSolution

// errSlotExhausted marks a slot that never produced a program.
var errSlotExhausted = errors.New("repair: generation retries exhausted")

// Result is what a run produced.
type Result struct {
	Status     Status                  `json:"status"`
	Code       string                  `json:"code,omitempty"`
	Iterations int                     `json:"iterations"`
	RunID      string                  `json:"runId,omitempty"`
	Records    []model.IterationRecord `json:"records"`
}

// Prompts renders the thinker and coder prompts. *prompt.Set satisfies it.
type Prompts interface {
	Thinker(task, code, errText string) string
	Coder(spec, code, errText string) string
}

// Loop runs repair sessions. A Loop is safe for concurrent Run calls as long
// as its collaborators are.
type Loop struct {
	config   Config
	thinker  llm.Generator
	coder    llm.Generator
	prompts  Prompts
	executor executor.Executor
	logger   *slog.Logger

	observer Observer
	runs     repository.RunRepository
	sleep    SleepFunc
}

// Option customises a Loop.
type Option func(*Loop)

// WithObserver streams chunks and finished iterations to o.
func WithObserver(o Observer) Option {
	return func(l *Loop) { l.observer = o }
}

// WithRepository persists runs so they can be listed and resumed.
func WithRepository(runs repository.RunRepository) Option {
	return func(l *Loop) { l.runs = runs }
}

// WithSleep replaces the clock used for backoff and pacing.
func WithSleep(sleep SleepFunc) Option {
	return func(l *Loop) { l.sleep = sleep }
}

// New creates a Loop.
func New(cfg Config, thinker, coder llm.Generator, prompts Prompts, exec executor.Executor, logger *slog.Logger, opts ...Option) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultConfig().InitialDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.MaxGenerationRetries < 0 {
		cfg.MaxGenerationRetries = 0
	}

	l := &Loop{
		config:   cfg,
		thinker:  thinker,
		coder:    coder,
		prompts:  prompts,
		executor: exec,
		logger:   logger,
		observer: NopObserver{},
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the loop's pacing.
func (l *Loop) Config() Config {
	return l.config
}

// Run repairs task until a program exits with status zero or the budget is
// spent. It returns ErrNoSolution (wrapped) on FAILURE and ctx.Err() when the
// context ends first; the Result is populated in every case.
func (l *Loop) Run(ctx context.Context, task string) (*Result, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, apperror.ValidationFailed("task", "task is required")
	}

	ctx, span := tracer.Start(ctx, "repair.run",
		trace.WithAttributes(attribute.Int("max_iterations", l.config.MaxIterations)))
	defer span.End()

	observability.ActiveRuns.Inc()
	defer observability.ActiveRuns.Dec()

	run := l.open(ctx, task)
	state := run.State()
	result := &Result{RunID: run.ID}

	bo := newBackOff(l.config.InitialDelay, l.config.MaxDelay)

	for idx := state.Iteration + 1; idx <= l.config.MaxIterations; idx++ {
		if err := ctx.Err(); err != nil {
			return l.cancelled(ctx, span, run, state, result, err)
		}

		l.logger.Info("iteration started",
			slog.Int("iteration", idx),
			slog.Int("max_iterations", l.config.MaxIterations),
		)

		rec, err := l.iterate(ctx, idx, task, &state, bo)
		if err != nil && !errors.Is(err, errSlotExhausted) {
			return l.cancelled(ctx, span, run, state, result, err)
		}

		result.Records = append(result.Records, rec)
		result.Iterations = idx
		state.Iteration = idx
		l.notify(rec)

		switch {
		case err != nil:
			observability.IterationsTotal.WithLabelValues(outcomeExhausted).Inc()
			l.logger.Error("giving up on iteration after repeated generation failures",
				slog.Int("iteration", idx),
				slog.Int("attempts", rec.GenerationRetries),
			)
		case rec.Succeeded():
			observability.IterationsTotal.WithLabelValues(outcomeSolved).Inc()
			l.logger.Info("program succeeded", slog.Int("iteration", idx))
			run.FinalCode = rec.Code
			l.save(ctx, run, state, rec, model.RunSucceeded)

			result.Status = StatusSuccess
			result.Code = rec.Code
			observability.RunsTotal.WithLabelValues(string(StatusSuccess)).Inc()
			span.SetAttributes(attribute.Int("iterations", idx), attribute.String("status", string(StatusSuccess)))
			return result, nil
		default:
			observability.IterationsTotal.WithLabelValues(outcomeFailed).Inc()
			state.LastCode = head(rec.Code, l.config.MaxContextBytes)
			state.LastError = tail(rec.Result.Stderr, l.config.MaxContextBytes)
			l.logger.Warn("program failed",
				slog.Int("iteration", idx),
				slog.Int("exit_code", rec.Result.ExitCode),
			)
		}

		l.save(ctx, run, state, rec, model.RunRunning)

		if err == nil && idx < l.config.MaxIterations {
			if err := l.sleep(ctx, l.config.IterationDelay); err != nil {
				return l.cancelled(ctx, span, run, state, result, err)
			}
		}
	}

	l.logger.Error("no solution found", slog.Int("iterations", l.config.MaxIterations))
	l.save(ctx, run, state, model.IterationRecord{}, model.RunFailed)

	result.Status = StatusFailure
	if result.Iterations == 0 {
		result.Iterations = state.Iteration
	}
	observability.RunsTotal.WithLabelValues(string(StatusFailure)).Inc()
	span.SetAttributes(attribute.Int("iterations", result.Iterations), attribute.String("status", string(StatusFailure)))
	span.SetStatus(codes.Error, "no solution")
	return result, fmt.Errorf("repair: %w", apperror.NoSolution(l.config.MaxIterations))
}

// iterate fills one slot. A failed attempt (generation error or a panic
// anywhere in the slot's body) is retried here with backoff; after
// MaxGenerationRetries retries it returns errSlotExhausted. Any other error
// is the context ending.
func (l *Loop) iterate(ctx context.Context, idx int, task string, state *model.RepairState, bo backoff.BackOff) (model.IterationRecord, error) {
	ctx, span := tracer.Start(ctx, "repair.iteration", trace.WithAttributes(attribute.Int("iteration", idx)))
	defer span.End()

	rec := model.IterationRecord{Index: idx, StartedAt: time.Now()}

	for {
		err := l.attempt(ctx, task, state, &rec)
		if err == nil {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rec, ctxErr
		}

		rec.GenerationRetries++
		l.logger.Error("iteration attempt failed",
			slog.Int("iteration", idx),
			slog.Int("attempt", rec.GenerationRetries),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)

		exhausted := rec.GenerationRetries > l.config.MaxGenerationRetries
		if exhausted && idx == l.config.MaxIterations {
			return rec, errSlotExhausted
		}

		delay := bo.NextBackOff()
		state.RetryDelay = delay
		observability.BackoffSeconds.Observe(delay.Seconds())
		l.logger.Info("retrying after backoff", slog.Duration("delay", delay))
		if err := l.sleep(ctx, delay); err != nil {
			return rec, err
		}
		if exhausted {
			return rec, errSlotExhausted
		}
	}
	bo.Reset()
	state.RetryDelay = l.config.InitialDelay

	span.SetAttributes(attribute.Int("exit_code", rec.Result.ExitCode))
	return rec, nil
}

// attempt runs the body of one slot: thinker, coder, extraction, sanitizer
// and sandbox. It fills rec afresh each time. A panic anywhere in between is
// reported as an error so the slot can be retried.
func (l *Loop) attempt(ctx context.Context, task string, state *model.RepairState, rec *model.IterationRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("repair: recovered from panic: %v", r)
		}
	}()

	*rec = model.IterationRecord{
		Index:             rec.Index,
		StartedAt:         rec.StartedAt,
		GenerationRetries: rec.GenerationRetries,
	}

	spec, err := l.generate(ctx, l.thinker, llm.SourceThinker,
		l.prompts.Thinker(task, state.LastCode, state.LastError))
	if err != nil {
		return apperror.GenerationFailed(string(llm.SourceThinker), err)
	}
	rec.Spec = spec
	l.logger.Info("specification generated", slog.String("spec", spec))

	raw, err := l.generate(ctx, l.coder, llm.SourceCoder,
		l.prompts.Coder(spec, state.LastCode, state.LastError))
	if err != nil {
		return apperror.GenerationFailed(string(llm.SourceCoder), err)
	}
	rec.RawReply = raw

	rec.Code = l.candidate(ctx, raw, rec)
	l.logger.Info("code generated", slog.String("code", rec.Code))

	for _, w := range sanitizer.Analyze(rec.Code).Warnings {
		rec.Warnings = append(rec.Warnings, w)
		l.logger.Warn(w.String(), slog.String("pattern", w.PatternID))
	}

	res := l.executor.Execute(ctx, executor.ExecutionRequest{Code: rec.Code})
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.Result = &res

	l.logger.Info("execution finished",
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("duration", res.Duration),
		slog.String("stdout", res.Stdout),
		slog.String("stderr", res.Stderr),
	)
	return nil
}

// generate drains one stream, forwarding every chunk to the observer.
func (l *Loop) generate(ctx context.Context, gen llm.Generator, source llm.Source, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "repair.generate", trace.WithAttributes(attribute.String("source", string(source))))
	defer span.End()

	// Cancelling on return stops a producer we stopped reading from.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	text, err := llm.Collect(ctx, gen.Stream(ctx, prompt), func(c llm.Chunk) {
		l.observer.OnChunk(c, source)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

// candidate extracts code from the coder's reply. When the extracted code
// fails validation the raw reply is executed instead, byte for byte, so the
// interpreter's own error feeds the next iteration.
func (l *Loop) candidate(ctx context.Context, raw string, rec *model.IterationRecord) string {
	code := extractor.Extract(raw)
	v := extractor.Validate(ctx, code)
	rec.Valid = v.Valid
	rec.ValidationMessage = v.Message
	if v.Valid {
		return code
	}
	l.logger.Warn("code validation failed, using raw reply",
		slog.String("reason", string(v.Reason)),
		slog.String("message", v.Message),
	)
	return raw
}

// notify hands a finished slot to the observer. A panicking observer is
// logged and otherwise ignored.
func (l *Loop) notify(rec model.IterationRecord) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("observer panicked",
				slog.Int("iteration", rec.Index),
				slog.String("error", fmt.Sprint(r)),
			)
		}
	}()
	l.observer.OnIteration(rec)
}

// cancelled marks the run interrupted so a later Run of the same task can
// claim and resume it.
func (l *Loop) cancelled(ctx context.Context, span trace.Span, run *model.Run, state model.RepairState, result *Result, err error) (*Result, error) {
	l.logger.Warn("run interrupted", slog.String("error", err.Error()))
	l.save(ctx, run, state, model.IterationRecord{}, model.RunInterrupted)

	result.Status = StatusCancelled
	observability.RunsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	span.SetStatus(codes.Error, err.Error())
	return result, err
}
