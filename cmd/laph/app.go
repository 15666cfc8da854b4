package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/laph/internal/config"
	"github.com/sakif/laph/internal/executor"
	"github.com/sakif/laph/internal/executor/docker"
	"github.com/sakif/laph/internal/executor/process"
	"github.com/sakif/laph/internal/llm"
	"github.com/sakif/laph/internal/llm/ollama"
	"github.com/sakif/laph/internal/llm/openai"
	"github.com/sakif/laph/internal/prompt"
	"github.com/sakif/laph/internal/repair"
	"github.com/sakif/laph/internal/repository/sqlite"
	"github.com/sakif/laph/internal/runlog"
)

// app is the composition root shared by the subcommands. Everything it
// opens is released by Close.
type app struct {
	cfg    *config.Config
	log    *runlog.Log
	logger *slog.Logger

	exec    executor.Executor
	closers []io.Closer
}

// setup loads configuration and opens the run log. console forces the log
// onto stderr as well (serve wants that); otherwise --verbose decides.
func setup(flags globalFlags, console bool) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	rc := runlog.Config{Path: cfg.Log.Path, Level: level}
	if console || flags.verbose {
		rc.Console = os.Stderr
	}
	l, err := runlog.Open(rc)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: l, logger: l.Logger()}
	a.closers = append(a.closers, l)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// executor returns the configured sandbox backend, building it on first use
// so the loop and the code service share one container pool.
func (a *app) executor() (executor.Executor, error) {
	if a.exec != nil {
		return a.exec, nil
	}
	exec, err := a.newExecutor()
	if err != nil {
		return nil, err
	}
	a.exec = exec
	return exec, nil
}

func (a *app) newExecutor() (executor.Executor, error) {
	sb := a.cfg.Sandbox
	switch sb.Backend {
	case "docker":
		dc := docker.DefaultConfig()
		dc.Image = sb.Docker.Image
		dc.PoolSize = sb.Docker.PoolSize
		dc.CPULimit = sb.Docker.CPUs
		dc.MemoryLimitMB = sb.MemoryLimitMB
		dc.Timeout = sb.Timeout
		exec, err := docker.New(dc, a.logger)
		if err != nil {
			return nil, fmt.Errorf("starting docker sandbox: %w", err)
		}
		a.closers = append(a.closers, exec)
		return exec, nil
	default:
		return process.New(process.Config{
			Interpreter:   sb.Interpreter,
			CPULimit:      sb.CPULimit,
			MemoryLimitMB: sb.MemoryLimitMB,
			Timeout:       sb.Timeout,
		}, a.logger), nil
	}
}

// generator builds a streaming client for one model on the configured provider.
func (a *app) generator(model string) llm.Generator {
	c := a.cfg.LLM
	if c.Provider == "openai" {
		return openai.New(openai.Config{
			BaseURL:        c.ResolvedBaseURL(),
			APIKey:         c.APIKey,
			Model:          model,
			RequestTimeout: c.RequestTimeout,
		}, a.logger)
	}
	return ollama.New(ollama.Config{
		BaseURL:        c.ResolvedBaseURL(),
		Model:          model,
		RequestTimeout: c.RequestTimeout,
	}, a.logger)
}

// prompts loads the role templates. A missing file is fatal.
func (a *app) prompts() (*prompt.Set, error) {
	return prompt.Load(a.cfg.Prompts.Dir)
}

// repository opens the resume store, or returns nil when storage is disabled.
func (a *app) repository() (*sqlite.DB, error) {
	path := a.cfg.Storage.Path
	if path == "" {
		return nil, nil
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sqlite.New(path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db)
	return db, nil
}

// loop assembles the repair loop with everything the config asks for.
func (a *app) loop(opts ...repair.Option) (*repair.Loop, *sqlite.DB, error) {
	prompts, err := a.prompts()
	if err != nil {
		return nil, nil, err
	}
	exec, err := a.executor()
	if err != nil {
		return nil, nil, err
	}
	db, err := a.repository()
	if err != nil {
		return nil, nil, err
	}
	if db != nil {
		opts = append(opts, repair.WithRepository(db))
	}

	cfg := repair.Config{
		MaxIterations:        a.cfg.Loop.MaxIterations,
		InitialDelay:         a.cfg.Retry.InitialDelay,
		MaxDelay:             a.cfg.Retry.MaxDelay,
		IterationDelay:       a.cfg.Retry.IterationDelay,
		MaxGenerationRetries: a.cfg.Retry.MaxGenerationRetries,
		MaxContextBytes:      a.cfg.Loop.MaxContextBytes,
		StaleAfter:           a.cfg.Loop.StaleAfter,
	}

	models := a.cfg.LLM.Models
	loop := repair.New(cfg,
		a.generator(models.Thinker),
		a.generator(models.Coder),
		prompts, exec, a.logger, opts...)
	return loop, db, nil
}
