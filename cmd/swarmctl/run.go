package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opencoder/swarm/internal/config"
	"github.com/opencoder/swarm/internal/store"
	"github.com/opencoder/swarm/pkg/swarmapi"
)

var runRoot string

var runCmd = &cobra.Command{
	Use:   "run <task description>",
	Short: "Start a new build",
	Long: `Plan the given task into subtasks and drive them to completion, dispatching
to a pool of worker agents and reviewing their output along the way.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRunCmd,
}

func init() {
	runCmd.Flags().StringVar(&runRoot, "root", ".", "project root to build in")
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	task := args[0]
	for _, a := range args[1:] {
		task += " " + a
	}

	engine, db, err := newEngine(runRoot)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	subscribeProgress(engine)

	ctx, cancel := signalContext()
	defer cancel()

	result, err := engine.Start(ctx, runRoot, task)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	fmt.Printf("\n%s: %s\n", result.Status, result.Summary)
	return nil
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a build from its checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, db, err := newEngine(runRoot)
		if err != nil {
			return err
		}
		if db != nil {
			defer db.Close()
		}
		subscribeProgress(engine)

		ctx, cancel := signalContext()
		defer cancel()

		result, err := engine.Resume(ctx, runRoot)
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		fmt.Printf("\n%s: %s\n", result.Status, result.Summary)
		return nil
	},
}

var continueCmd = &cobra.Command{
	Use:   "continue <change request>",
	Short: "Continue a finished build with a new change request",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		changeRequest := args[0]
		for _, a := range args[1:] {
			changeRequest += " " + a
		}

		engine, db, err := newEngine(runRoot)
		if err != nil {
			return err
		}
		if db != nil {
			defer db.Close()
		}
		subscribeProgress(engine)

		ctx, cancel := signalContext()
		defer cancel()

		result, err := engine.Continue(ctx, runRoot, changeRequest)
		if err != nil {
			return fmt.Errorf("continue: %w", err)
		}
		fmt.Printf("\n%s: %s\n", result.Status, result.Summary)
		return nil
	},
}

func init() {
	resumeCmd.Flags().StringVar(&runRoot, "root", ".", "project root to resume in")
	continueCmd.Flags().StringVar(&runRoot, "root", ".", "project root to continue in")
}

// newEngine loads configuration and opens the project-local run-history
// store, returning a ready-to-use Engine. The store is optional: if it
// fails to open, the build still runs without an audit trail.
func newEngine(root string) (*swarmapi.Engine, *store.DB, error) {
	cfg, _, err := config.Load(root)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not open run-history store at %s: %v\n", cfg.Store.Path, err)
		return swarmapi.New(cfg, nil), nil, nil
	}
	return swarmapi.New(cfg, db), db, nil
}

// signalContext returns a context canceled on SIGINT/SIGTERM, so an
// in-flight build checkpoints cleanly on Ctrl-C instead of leaving the
// next subtask's worker dangling.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
