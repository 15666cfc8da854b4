package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, LAPH_CONFIG env, ./laph.yaml)
//  3. LAPH_* environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. LAPH_CONFIG environment variable
// 3. ./laph.yaml in the current directory
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("LAPH_CONFIG"); envPath != "" {
		return envPath
	}
	if _, err := os.Stat("laph.yaml"); err == nil {
		return "laph.yaml"
	}
	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps LAPH_* environment variables onto config fields.
// A malformed numeric or duration value is an error rather than silently ignored.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"LAPH_SANDBOX_BACKEND":     &cfg.Sandbox.Backend,
		"LAPH_SANDBOX_INTERPRETER": &cfg.Sandbox.Interpreter,
		"LAPH_DOCKER_IMAGE":        &cfg.Sandbox.Docker.Image,
		"LAPH_LLM_PROVIDER":        &cfg.LLM.Provider,
		"LAPH_LLM_BASE_URL":        &cfg.LLM.BaseURL,
		"LAPH_LLM_API_KEY":         &cfg.LLM.APIKey,
		"LAPH_MODEL_THINKER":       &cfg.LLM.Models.Thinker,
		"LAPH_MODEL_CODER":         &cfg.LLM.Models.Coder,
		"LAPH_MODEL_SUMMARISER":    &cfg.LLM.Models.Summariser,
		"LAPH_MODEL_VISION":        &cfg.LLM.Models.Vision,
		"LAPH_PROMPTS_DIR":         &cfg.Prompts.Dir,
		"LAPH_LOG_PATH":            &cfg.Log.Path,
		"LAPH_LOG_LEVEL":           &cfg.Log.Level,
		"LAPH_STORAGE_PATH":        &cfg.Storage.Path,
		"LAPH_JWT_SECRET":          &cfg.Server.JWTSecret,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"LAPH_SANDBOX_MEMORY_LIMIT_MB":      &cfg.Sandbox.MemoryLimitMB,
		"LAPH_DOCKER_POOL_SIZE":             &cfg.Sandbox.Docker.PoolSize,
		"LAPH_RETRY_MAX_GENERATION_RETRIES": &cfg.Retry.MaxGenerationRetries,
		"LAPH_MAX_ITERATIONS":               &cfg.Loop.MaxIterations,
		"LAPH_MAX_CONTEXT_BYTES":            &cfg.Loop.MaxContextBytes,
		"LAPH_PORT":                         &cfg.Server.Port,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"LAPH_SANDBOX_CPU_LIMIT":     &cfg.Sandbox.CPULimit,
		"LAPH_SANDBOX_TIMEOUT":       &cfg.Sandbox.Timeout,
		"LAPH_RETRY_INITIAL_DELAY":   &cfg.Retry.InitialDelay,
		"LAPH_RETRY_MAX_DELAY":       &cfg.Retry.MaxDelay,
		"LAPH_RETRY_ITERATION_DELAY": &cfg.Retry.IterationDelay,
		"LAPH_LLM_REQUEST_TIMEOUT":   &cfg.LLM.RequestTimeout,
		"LAPH_TOKEN_TTL":             &cfg.Server.TokenTTL,
		"LAPH_LOOP_STALE_AFTER":      &cfg.Loop.StaleAfter,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	if v := os.Getenv("LAPH_METRICS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LAPH_METRICS_ENABLED: %w", err)
		}
		cfg.Metrics.Enabled = b
	}

	return nil
}

// parseDuration accepts Go duration syntax or a bare number of seconds,
// the unit older configuration files used.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
func resolveFileReferences(cfg *Config) error {
	if cfg.LLM.APIKeyFile != "" && cfg.LLM.APIKey == "" {
		val, err := readSecretFile(cfg.LLM.APIKeyFile)
		if err != nil {
			return fmt.Errorf("llm.api_key_file: %w", err)
		}
		cfg.LLM.APIKey = val
	}
	if cfg.Server.JWTSecretFile != "" && cfg.Server.JWTSecret == "" {
		val, err := readSecretFile(cfg.Server.JWTSecretFile)
		if err != nil {
			return fmt.Errorf("server.jwt_secret_file: %w", err)
		}
		cfg.Server.JWTSecret = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
