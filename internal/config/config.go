// Package config loads the lewis configuration from a YAML file and the
// environment. The resulting struct is passed explicitly at construction
// time; there is no process-wide mutable singleton.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the centralized configuration for the orchestration engine and
// its collaborators.
type Config struct {
	// APIAddr is the control plane listen address.
	APIAddr string `yaml:"api_addr"`
	// APIToken is the bearer token required by the control plane. Empty
	// disables authentication (development mode).
	APIToken string `yaml:"api_token"`

	// DBPath is the SQLite database location.
	DBPath string `yaml:"db_path"`
	// DataDir is the root for filesystem-backed artifact storage.
	DataDir string `yaml:"data_dir"`

	LLM       LLMConfig       `yaml:"llm"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Engine    EngineConfig    `yaml:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// LLMConfig selects and parameterizes the language-model provider.
type LLMConfig struct {
	// Provider is "openai", "openrouter" or "offline".
	Provider string `yaml:"provider"`
	// APIKey is normally supplied via LEWIS_LLM_API_KEY rather than the file.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// EmbedModel is used for CBR fingerprints.
	EmbedModel string `yaml:"embed_model"`
}

// SandboxConfig parameterizes isolated code execution.
type SandboxConfig struct {
	// Interpreter is the executable used to run generated code.
	Interpreter string `yaml:"interpreter"`
	// TimeoutSec bounds a single sandbox invocation.
	TimeoutSec int `yaml:"timeout_sec"`
}

// EngineConfig holds the execution-loop knobs.
type EngineConfig struct {
	// RecursionLimit is the iteration ceiling for one task's loop.
	RecursionLimit int `yaml:"recursion_limit"`
	// StepRetryMax is how many times a failed step is retried with the
	// same payload before a failure marker is recorded.
	StepRetryMax int `yaml:"step_retry_max"`
	// CaseSimilarity is the minimum cosine similarity for plan reuse.
	CaseSimilarity float64 `yaml:"case_similarity"`
	// CriticAccept is the score below which the artifact is flagged
	// low-confidence. Independent from CaseWriteback by design decision.
	CriticAccept float64 `yaml:"critic_accept"`
	// CaseWriteback is the minimum score for persisting a new case.
	CaseWriteback float64 `yaml:"case_writeback"`
}

// SchedulerConfig parameterizes the async worker pool.
type SchedulerConfig struct {
	// GlobalMax is the maximum number of concurrent workers.
	GlobalMax int `yaml:"global_max"`
	// PollIntervalSec is the queue polling cadence.
	PollIntervalSec int `yaml:"poll_interval_sec"`
	// VisibilityTimeoutSec is how long a claimed queue entry stays
	// invisible before it is redelivered.
	VisibilityTimeoutSec int `yaml:"visibility_timeout_sec"`
	// MaxDeliveries dead-letters an entry once exceeded.
	MaxDeliveries int `yaml:"max_deliveries"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".lewis")
	return &Config{
		APIAddr: "127.0.0.1:8600",
		DBPath:  filepath.Join(base, "lewis.db"),
		DataDir: filepath.Join(base, "artifacts"),
		LLM: LLMConfig{
			Provider:   "offline",
			BaseURL:    "https://api.openai.com/v1",
			Model:      "gpt-4o-mini",
			EmbedModel: "text-embedding-3-small",
		},
		Sandbox: SandboxConfig{
			Interpreter: "python3",
			TimeoutSec:  30,
		},
		Engine: EngineConfig{
			RecursionLimit: 100,
			StepRetryMax:   2,
			CaseSimilarity: 0.80,
			CriticAccept:   0.5,
			CaseWriteback:  0.6,
		},
		Scheduler: SchedulerConfig{
			GlobalMax:            4,
			PollIntervalSec:      1,
			VisibilityTimeoutSec: 300,
			MaxDeliveries:        3,
		},
	}
}

// Load reads the YAML file at path, overlaying the defaults, and applies
// environment overrides. A missing file is not an error; a .env file next
// to the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LEWIS_API_TOKEN"); v != "" {
		cfg.APIToken = v
	}
	if v := os.Getenv("LEWIS_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LEWIS_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LEWIS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
}

func (c *Config) validate() error {
	if c.Engine.RecursionLimit <= 0 {
		return fmt.Errorf("engine.recursion_limit must be positive, got %d", c.Engine.RecursionLimit)
	}
	if c.Engine.StepRetryMax < 0 {
		return fmt.Errorf("engine.step_retry_max must not be negative, got %d", c.Engine.StepRetryMax)
	}
	if c.Scheduler.GlobalMax <= 0 {
		return fmt.Errorf("scheduler.global_max must be positive, got %d", c.Scheduler.GlobalMax)
	}
	if c.Scheduler.MaxDeliveries <= 0 {
		return fmt.Errorf("scheduler.max_deliveries must be positive, got %d", c.Scheduler.MaxDeliveries)
	}
	return nil
}
