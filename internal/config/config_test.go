package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsWithNoFilesPresent(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("SWARM_LLM_API_KEY", "")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RateLimit.MaxConcurrent != 4 {
		t.Fatalf("expected default max_concurrent of 4, got %d", cfg.RateLimit.MaxConcurrent)
	}
	if cfg.Orchestrator.MaxOrchIter != 50 {
		t.Fatalf("expected default max_orch_iter of 50, got %d", cfg.Orchestrator.MaxOrchIter)
	}
}

func TestLoadProjectOverrideTakesPrecedenceOverUserConfig(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	if err := os.MkdirAll(filepath.Join(xdg, DirName), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(xdg, DirName, "config.yaml"), []byte("rate_limit:\n  max_concurrent: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".swarmctl.yaml"), []byte("rate_limit:\n  max_concurrent: 9\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := Load(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RateLimit.MaxConcurrent != 9 {
		t.Fatalf("expected project override to win with 9, got %d", cfg.RateLimit.MaxConcurrent)
	}
}

func TestLoadEnvVarOverridesConfigFile(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	if err := os.MkdirAll(filepath.Join(xdg, DirName), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(xdg, DirName, "config.yaml"), []byte("llm:\n  model: gpt-4o\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SWARM_LLM_MODEL", "gpt-4o-mini")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("expected env var to override config file, got %q", cfg.LLM.Model)
	}
}

func TestWatchReloadsOnFileChange(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	dir := filepath.Join(xdg, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("rate_limit:\n  max_concurrent: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, watcher, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reloaded := make(chan *Config, 1)
	watcher.Watch(nil, func(c *Config) { reloaded <- c })

	if err := os.WriteFile(path, []byte("rate_limit:\n  max_concurrent: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-reloaded:
		if c.RateLimit.MaxConcurrent != 7 {
			t.Fatalf("expected reloaded max_concurrent of 7, got %d", c.RateLimit.MaxConcurrent)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestResolveAPIKeyPrefersEnvOverConfig(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	t.Setenv("SWARM_LLM_API_KEY", "")

	key, err := ResolveAPIKey(&Config{LLM: LLMConfig{APIKey: "from-config"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "from-env" {
		t.Fatalf("expected env var to win, got %q", key)
	}
}

func TestResolveAPIKeyFallsBackToConfig(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("SWARM_LLM_API_KEY", "")

	key, err := ResolveAPIKey(&Config{LLM: LLMConfig{APIKey: "from-config"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "from-config" {
		t.Fatalf("expected config fallback, got %q", key)
	}
}

func TestResolveAPIKeyErrorsWhenUnset(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("SWARM_LLM_API_KEY", "")

	_, err := ResolveAPIKey(&Config{})
	if err != ErrNoAPIKey {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestMaskAPIKey(t *testing.T) {
	if got := MaskAPIKey(""); got != "(not set)" {
		t.Fatalf("expected (not set), got %q", got)
	}
	if got := MaskAPIKey("sk-ant-abcdef1234"); got != "*************1234" {
		t.Fatalf("unexpected mask: %q", got)
	}
}
