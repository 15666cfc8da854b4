package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	switch c.Sandbox.Backend {
	case "process", "docker":
		// valid
	default:
		errs = append(errs, fmt.Errorf("sandbox.backend must be \"process\" or \"docker\", got %q", c.Sandbox.Backend))
	}
	if c.Sandbox.Interpreter == "" {
		errs = append(errs, fmt.Errorf("sandbox.interpreter is required"))
	}
	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.timeout must be > 0, got %s", c.Sandbox.Timeout))
	}
	if c.Sandbox.CPULimit < 0 {
		errs = append(errs, fmt.Errorf("sandbox.cpu_limit must be >= 0, got %s", c.Sandbox.CPULimit))
	}
	if c.Sandbox.MemoryLimitMB < 0 {
		errs = append(errs, fmt.Errorf("sandbox.memory_limit_mb must be >= 0, got %d", c.Sandbox.MemoryLimitMB))
	}
	if c.Sandbox.Backend == "docker" && c.Sandbox.Docker.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.docker.pool_size must be > 0, got %d", c.Sandbox.Docker.PoolSize))
	}

	if c.Retry.InitialDelay <= 0 {
		errs = append(errs, fmt.Errorf("retry.initial_delay must be > 0, got %s", c.Retry.InitialDelay))
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		errs = append(errs, fmt.Errorf("retry.max_delay (%s) must be >= retry.initial_delay (%s)", c.Retry.MaxDelay, c.Retry.InitialDelay))
	}
	if c.Retry.IterationDelay < 0 {
		errs = append(errs, fmt.Errorf("retry.iteration_delay must be >= 0, got %s", c.Retry.IterationDelay))
	}
	if c.Retry.MaxGenerationRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_generation_retries must be >= 0, got %d", c.Retry.MaxGenerationRetries))
	}

	if c.Loop.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("loop.max_iterations must be > 0, got %d", c.Loop.MaxIterations))
	}
	if c.Loop.MaxContextBytes < 0 {
		errs = append(errs, fmt.Errorf("loop.max_context_bytes must be >= 0, got %d", c.Loop.MaxContextBytes))
	}
	if c.Loop.StaleAfter < 0 {
		errs = append(errs, fmt.Errorf("loop.stale_after must be >= 0, got %s", c.Loop.StaleAfter))
	}

	switch c.LLM.Provider {
	case "ollama":
		// valid
	case "openai":
		if c.LLM.APIKey == "" && c.LLM.APIKeyFile == "" && c.LLM.BaseURL == "" {
			errs = append(errs, fmt.Errorf("llm.api_key or llm.base_url is required when llm.provider is \"openai\""))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be \"ollama\" or \"openai\", got %q", c.LLM.Provider))
	}
	if c.LLM.Models.Thinker == "" {
		errs = append(errs, fmt.Errorf("llm.models.thinker is required"))
	}
	if c.LLM.Models.Coder == "" {
		errs = append(errs, fmt.Errorf("llm.models.coder is required"))
	}

	if c.Prompts.Dir == "" {
		errs = append(errs, fmt.Errorf("prompts.dir is required"))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}
	if c.Server.JWTSecret != "" && len(c.Server.JWTSecret) < 16 {
		errs = append(errs, fmt.Errorf("server.jwt_secret must be at least 16 characters"))
	}

	return errors.Join(errs...)
}

// ParseLevel maps a level name onto slog.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown level %q", s)
	}
}
