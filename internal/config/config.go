// Package config loads and live-reloads the engine's configuration from
// XDG paths, a project override, and environment variables, with
// defaults-then-user-config-then-project-override-then-env precedence and
// the usual XDG config directory convention.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/opencoder/swarm/internal/eventbus"
)

// DirName is the XDG subdirectory and project-override file stem this
// module's config lives under.
const DirName = "swarmctl"

// Config holds every runtime-mutable and static setting the engine reads.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Store     StoreConfig     `mapstructure:"store"`
}

// LLMConfig configures the chat-completions transport. APIKey, Model, and
// BaseURL are re-read on every call rather than cached, so a config file
// edit or hot reload takes effect on the very next call.
type LLMConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`

	// AWSRegion/AWSProfile select the AWS-credential-sourced bearer token
	// path instead of a static api_key when set.
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// RateLimitConfig bounds one llm.Client's concurrency and hourly volume.
// These two fields are the ones UpdateLimits can change on a running
// limiter without restarting the engine.
type RateLimitConfig struct {
	MaxConcurrent   int `mapstructure:"max_concurrent"`
	MaxCallsPerHour int `mapstructure:"max_calls_per_hour"`
}

// OrchestratorConfig bounds one build's control loop.
type OrchestratorConfig struct {
	MaxWorkers       int `mapstructure:"max_workers"`
	MaxOrchIter      int `mapstructure:"max_orch_iter"`
	MaxAttempts      int `mapstructure:"max_attempts"`
	MaxContextTokens int `mapstructure:"max_context_tokens"`
	MaxToolLoops     int `mapstructure:"max_tool_loops"`
}

// StoreConfig locates the run-history SQLite database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// Watcher wraps a loaded Config with the viper instance that produced it,
// so the caller can hook live reload.
type Watcher struct {
	v   *viper.Viper
	bus *eventbus.Bus
}

// Load reads configuration from, in ascending precedence: built-in
// defaults, the XDG user config file, a project override
// (.swarmctl.yaml at projectRoot), and SWARM_-prefixed environment
// variables (plus an ANTHROPIC_API_KEY fallback for llm.api_key).
// projectRoot may be empty to skip the project-override layer.
func Load(projectRoot string) (*Config, *Watcher, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectRoot != "" {
		projectPath := filepath.Join(projectRoot, ".swarmctl.yaml")
		if _, err := os.Stat(projectPath); err == nil {
			pv := viper.New()
			pv.SetConfigFile(projectPath)
			if err := pv.ReadInConfig(); err != nil {
				return nil, nil, fmt.Errorf("reading project config: %w", err)
			}
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("SWARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("llm.api_key", "SWARM_LLM_API_KEY", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.LLM.APIKey = os.ExpandEnv(cfg.LLM.APIKey)

	return cfg, &Watcher{v: v}, nil
}

// Watch enables fsnotify-backed hot reload through viper's WatchConfig. On
// every change, the file is re-unmarshaled and onChange is called with the
// fresh Config; the bus (if non-nil) also receives a TopicOrchestratorPhase
// event so a running engine can react (e.g. calling a limiter's
// UpdateLimits) without the caller polling.
func (w *Watcher) Watch(bus *eventbus.Bus, onChange func(*Config)) {
	w.bus = bus
	w.v.OnConfigChange(func(e fsnotify.Event) {
		cfg := &Config{}
		if err := w.v.Unmarshal(cfg); err != nil {
			return
		}
		cfg.LLM.APIKey = os.ExpandEnv(cfg.LLM.APIKey)

		if onChange != nil {
			onChange(cfg)
		}
		if w.bus != nil {
			w.bus.Emit(eventbus.TopicOrchestratorPhase, eventbus.Event{Message: "config file reloaded: " + e.Name})
		}
	})
	w.v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")

	v.SetDefault("rate_limit.max_concurrent", 4)
	v.SetDefault("rate_limit.max_calls_per_hour", 500)

	v.SetDefault("orchestrator.max_workers", 3)
	v.SetDefault("orchestrator.max_orch_iter", 50)
	v.SetDefault("orchestrator.max_attempts", 3)
	v.SetDefault("orchestrator.max_context_tokens", 20000)
	v.SetDefault("orchestrator.max_tool_loops", 20)

	v.SetDefault("store.path", defaultStorePath())
}

func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, DirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", DirName)
	}
	return filepath.Join(home, ".config", DirName)
}

func defaultStorePath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, DirName, "runs.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share", DirName, "runs.db")
	}
	return filepath.Join(home, ".local", "share", DirName, "runs.db")
}

// Save writes cfg to the XDG user config path, creating the directory if
// needed.
func Save(cfg *Config) error {
	dir := userConfigDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, "config.yaml"))

	v.Set("llm.api_key", cfg.LLM.APIKey)
	v.Set("llm.model", cfg.LLM.Model)
	v.Set("llm.base_url", cfg.LLM.BaseURL)
	v.Set("llm.aws_region", cfg.LLM.AWSRegion)
	v.Set("llm.aws_profile", cfg.LLM.AWSProfile)
	v.Set("rate_limit.max_concurrent", cfg.RateLimit.MaxConcurrent)
	v.Set("rate_limit.max_calls_per_hour", cfg.RateLimit.MaxCallsPerHour)
	v.Set("orchestrator.max_workers", cfg.Orchestrator.MaxWorkers)
	v.Set("orchestrator.max_orch_iter", cfg.Orchestrator.MaxOrchIter)
	v.Set("orchestrator.max_attempts", cfg.Orchestrator.MaxAttempts)
	v.Set("orchestrator.max_context_tokens", cfg.Orchestrator.MaxContextTokens)
	v.Set("orchestrator.max_tool_loops", cfg.Orchestrator.MaxToolLoops)
	v.Set("store.path", cfg.Store.Path)

	return v.WriteConfig()
}

// UserConfigPath returns the path Load/Save read and write.
func UserConfigPath() string {
	return filepath.Join(userConfigDir(), "config.yaml")
}
