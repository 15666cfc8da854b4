// Package config provides unified configuration for laph.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (explicit path, LAPH_CONFIG, ./laph.yaml)
//  3. Environment variable overrides (LAPH_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
//
// The result is a plain value. Components receive the section they need at
// construction time; nothing reads configuration through a global.
package config

import "time"

// Config holds all configuration for laph.
type Config struct {
	Sandbox SandboxConfig `yaml:"sandbox"`
	Retry   RetryConfig   `yaml:"retry"`
	Loop    LoopConfig    `yaml:"loop"`
	LLM     LLMConfig     `yaml:"llm"`
	Prompts PromptsConfig `yaml:"prompts"`
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// SandboxConfig selects and limits the execution backend.
type SandboxConfig struct {
	Backend       string        `yaml:"backend"`         // "process" or "docker", default: "process"
	Interpreter   string        `yaml:"interpreter"`     // default: "python3"
	CPULimit      time.Duration `yaml:"cpu_limit"`       // default: 5s
	MemoryLimitMB int           `yaml:"memory_limit_mb"` // default: 256
	Timeout       time.Duration `yaml:"timeout"`         // default: 8s
	Docker        DockerConfig  `yaml:"docker"`
}

// DockerConfig holds settings only the docker backend reads.
type DockerConfig struct {
	Image    string  `yaml:"image"`     // default: "python:3.12-alpine"
	PoolSize int     `yaml:"pool_size"` // default: 3
	CPUs     float64 `yaml:"cpus"`      // default: 0.5
}

// RetryConfig controls pacing between attempts.
type RetryConfig struct {
	InitialDelay         time.Duration `yaml:"initial_delay"`          // default: 1s
	MaxDelay             time.Duration `yaml:"max_delay"`              // default: 10s
	IterationDelay       time.Duration `yaml:"iteration_delay"`        // default: 1s
	MaxGenerationRetries int           `yaml:"max_generation_retries"` // default: 5
}

// LoopConfig bounds the repair loop.
type LoopConfig struct {
	MaxIterations   int           `yaml:"max_iterations"`    // default: 10
	MaxContextBytes int           `yaml:"max_context_bytes"` // default: 16384, 0 = unbounded
	StaleAfter      time.Duration `yaml:"stale_after"`       // default: 1h, 0 = resume interrupted runs only
}

// LLMConfig holds generation backend settings.
type LLMConfig struct {
	Provider       string        `yaml:"provider"`        // "ollama" or "openai", default: "ollama"
	BaseURL        string        `yaml:"base_url"`        // default depends on provider
	APIKey         string        `yaml:"api_key"`         // openai only
	APIKeyFile     string        `yaml:"api_key_file"`    // _file variant for api_key
	RequestTimeout time.Duration `yaml:"request_timeout"` // default: 300s
	Models         ModelsConfig  `yaml:"models"`
}

// ModelsConfig names the model used for each role.
type ModelsConfig struct {
	Thinker    string `yaml:"thinker"`    // default: "qwen3:14b"
	Coder      string `yaml:"coder"`      // default: "qwen2.5-coder:7b-instruct"
	Summariser string `yaml:"summariser"` // default: "qwen3:4b"
	Vision     string `yaml:"vision"`     // default: "qwen3-vl:8b"
}

// PromptsConfig locates the role templates.
type PromptsConfig struct {
	Dir string `yaml:"dir"` // default: "prompts"
}

// LogConfig holds run log settings.
type LogConfig struct {
	Path  string `yaml:"path"`  // default: "logs/laph.log"
	Level string `yaml:"level"` // "debug", "info", "warn", "error", default: "info"
}

// StorageConfig holds the resume store location.
type StorageConfig struct {
	Path string `yaml:"path"` // default: "data/laph.db", empty disables resume
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port          int           `yaml:"port"`            // default: 8080
	ReadTimeout   time.Duration `yaml:"read_timeout"`    // default: 15s
	WriteTimeout  time.Duration `yaml:"write_timeout"`   // default: 15m, a run can take a while
	JWTSecret     string        `yaml:"jwt_secret"`      // empty disables auth
	JWTSecretFile string        `yaml:"jwt_secret_file"` // _file variant for jwt_secret
	TokenTTL      time.Duration `yaml:"token_ttl"`       // default: 24h, lifetime of tokens minted by `laph token`
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"` // default: true
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	return Config{
		Sandbox: SandboxConfig{
			Backend:       "process",
			Interpreter:   "python3",
			CPULimit:      5 * time.Second,
			MemoryLimitMB: 256,
			Timeout:       8 * time.Second,
			Docker: DockerConfig{
				Image:    "python:3.12-alpine",
				PoolSize: 3,
				CPUs:     0.5,
			},
		},
		Retry: RetryConfig{
			InitialDelay:         time.Second,
			MaxDelay:             10 * time.Second,
			IterationDelay:       time.Second,
			MaxGenerationRetries: 5,
		},
		Loop: LoopConfig{
			MaxIterations:   10,
			MaxContextBytes: 16 * 1024,
			StaleAfter:      time.Hour,
		},
		LLM: LLMConfig{
			Provider:       "ollama",
			RequestTimeout: 300 * time.Second,
			Models: ModelsConfig{
				Thinker:    "qwen3:14b",
				Coder:      "qwen2.5-coder:7b-instruct",
				Summariser: "qwen3:4b",
				Vision:     "qwen3-vl:8b",
			},
		},
		Prompts: PromptsConfig{Dir: "prompts"},
		Log: LogConfig{
			Path:  "logs/laph.log",
			Level: "info",
		},
		Storage: StorageConfig{Path: "data/laph.db"},
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Minute,
			TokenTTL:     24 * time.Hour,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// ResolvedBaseURL returns the configured base URL, or the provider's
// conventional local endpoint when none is set.
func (c LLMConfig) ResolvedBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	if c.Provider == "ollama" {
		return "http://localhost:11434"
	}
	return ""
}
