// Package checkpoint persists and restores a build's in-progress state to
// a single JSON file so a crashed or interrupted run can resume without
// replanning or redoing completed subtasks. The path convention is a
// dotfile under the project root, and the write itself uses the usual
// write-to-temp-then-rename durability pattern.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opencoder/swarm/pkg/models"
)

// FileName is the checkpoint file's name within a project root.
const FileName = ".swarm-checkpoint.json"

// Path returns the checkpoint file path for a project rooted at root.
func Path(root string) string {
	return filepath.Join(root, FileName)
}

// Snapshot is the on-disk shape of a checkpoint. Orchestrator messages are
// deliberately excluded: they can be rebuilt from the subtask state on
// resume, and they tend to be the largest, least stable part of the
// conversation.
type Snapshot struct {
	ProjectID       string           `json:"project_id"`
	RootDir         string           `json:"root_dir"`
	TaskDescription string           `json:"task_description"`
	Subtasks        []*models.Subtask `json:"subtasks"`
	SavedAt         time.Time        `json:"saved_at"`
}

// Save atomically writes ctx's current state to its checkpoint file,
// writing to a temp file first and renaming over the target so a crash
// mid-write never leaves a truncated checkpoint behind.
func Save(ctx *models.ProjectContext) error {
	snap := Snapshot{
		ProjectID:       ctx.ID,
		RootDir:         ctx.RootDir,
		TaskDescription: ctx.TaskDescription,
		Subtasks:        ctx.All(),
		SavedAt:         time.Now(),
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	target := Path(ctx.RootDir)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}
	return nil
}

// Load reads the checkpoint for root, if any, and rebuilds a
// ProjectContext from it. Any subtask left in_progress at save time is
// demoted to pending (in_progress -> pending on load),
// since the worker that was executing it no longer exists in the resumed
// process.
func Load(root string) (*models.ProjectContext, bool, error) {
	data, err := os.ReadFile(Path(root))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A corrupt checkpoint is indistinguishable from no checkpoint at
		// all: resuming falls through to fresh planning rather than
		// aborting on a file the process itself will overwrite anyway.
		return nil, false, nil
	}

	ctx := models.NewProjectContext(snap.ProjectID, snap.RootDir, snap.TaskDescription)
	for _, t := range snap.Subtasks {
		if t.Status == models.StatusInProgress {
			t.Status = models.StatusPending
			t.AssignedWorker = nil
		}
		ctx.Add(t)
	}
	return ctx, true, nil
}

// Exists reports whether a checkpoint file is present for root.
func Exists(root string) bool {
	_, err := os.Stat(Path(root))
	return err == nil
}

// Remove deletes the checkpoint file for root, if present. Used once a
// build finishes successfully so a later run doesn't mistake a completed
// project for one to resume.
func Remove(root string) error {
	err := os.Remove(Path(root))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}
