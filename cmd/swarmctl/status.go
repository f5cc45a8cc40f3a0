package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencoder/swarm/pkg/swarmapi"
)

var statusRoot string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a build's checkpointed subtask status",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := swarmapi.StatusSummary(statusRoot)
		if err != nil {
			return err
		}

		fmt.Printf("project: %s\ntask: %s\n\n", snap.ProjectID, snap.TaskDescription)
		counts := map[string]int{}
		for _, t := range snap.Subtasks {
			counts[string(t.Status)]++
			fmt.Printf("  [%s] %s (attempts: %d)\n", t.Status, t.Title, t.Attempts)
		}
		fmt.Printf("\n%d total: %d pending, %d in_progress, %d completed, %d failed\n",
			len(snap.Subtasks), counts["pending"], counts["in_progress"], counts["completed"], counts["failed"])
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusRoot, "root", ".", "project root whose checkpoint to inspect")
}
