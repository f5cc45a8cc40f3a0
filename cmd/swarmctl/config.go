package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencoder/swarm/internal/config"
)

var configRoot string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	Long: `Print the configuration that would be used for a build, after applying
defaults, the user config file, any project override, and environment
variables, in that order of increasing precedence.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := config.Load(configRoot)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		key, keyErr := config.ResolveAPIKey(cfg)
		apiKeyDisplay := "(not set)"
		if keyErr == nil {
			apiKeyDisplay = config.MaskAPIKey(key)
		}

		fmt.Printf("llm.api_key: %s\n", apiKeyDisplay)
		fmt.Printf("llm.model: %s\n", cfg.LLM.Model)
		fmt.Printf("llm.base_url: %s\n", cfg.LLM.BaseURL)
		fmt.Printf("rate_limit.max_concurrent: %d\n", cfg.RateLimit.MaxConcurrent)
		fmt.Printf("rate_limit.max_calls_per_hour: %d\n", cfg.RateLimit.MaxCallsPerHour)
		fmt.Printf("orchestrator.max_workers: %d\n", cfg.Orchestrator.MaxWorkers)
		fmt.Printf("orchestrator.max_orch_iter: %d\n", cfg.Orchestrator.MaxOrchIter)
		fmt.Printf("orchestrator.max_attempts: %d\n", cfg.Orchestrator.MaxAttempts)
		fmt.Printf("orchestrator.max_context_tokens: %d\n", cfg.Orchestrator.MaxContextTokens)
		fmt.Printf("orchestrator.max_tool_loops: %d\n", cfg.Orchestrator.MaxToolLoops)
		fmt.Printf("store.path: %s\n", cfg.Store.Path)
		return nil
	},
}

func init() {
	configCmd.Flags().StringVar(&configRoot, "root", ".", "project root whose override file to apply")
}
