package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/opencoder/swarm/internal/llm"
	"github.com/opencoder/swarm/internal/ratelimit"
	"github.com/opencoder/swarm/internal/tokens"
)

func newJudgeVerifier(t *testing.T, workDir, reply string) *Verifier {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": reply}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5},
		})
	}))
	t.Cleanup(srv.Close)

	limiter := ratelimit.New(ratelimit.Config{MaxConcurrent: 2, MaxCallsPerHour: 1000}, nil, "test")
	accountant := tokens.New(nil)
	cfg := llm.CallConfig{Model: "judge-model", BaseURL: srv.URL}
	client := llm.New(limiter, accountant, nil, cfg)

	return NewVerifier(client, cfg, workDir)
}

func initGitRepo(t *testing.T, dir string) {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@t.com", "GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@t.com")
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init")
	run("add", "-A")
	run("commit", "-m", "initial")
}

func TestVerifyBuildOnlyPassesForValidGoProject(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/fixture\n\ngo 1.21\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644)

	v := NewVerifier(nil, llm.CallConfig{}, dir)
	result := v.VerifyBuildOnly(context.Background())

	if !result.Passed {
		t.Fatalf("expected build tier to pass, got feedback: %s", result.Feedback)
	}
	if result.Tier != TierBuild {
		t.Fatalf("expected TierBuild, got %v", result.Tier)
	}
}

func TestVerifyBuildOnlyFailsForBrokenGoProject(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/fixture\n\ngo 1.21\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() { this is not go }\n"), 0o644)

	v := NewVerifier(nil, llm.CallConfig{}, dir)
	result := v.VerifyBuildOnly(context.Background())

	if result.Passed {
		t.Fatal("expected build tier to fail on invalid syntax")
	}
	if result.Tier != TierBuild {
		t.Fatalf("expected TierBuild, got %v", result.Tier)
	}
}

func TestVerifyBuildOnlySkipsUnknownProjectType(t *testing.T) {
	dir := t.TempDir()
	v := NewVerifier(nil, llm.CallConfig{}, dir)
	result := v.VerifyBuildOnly(context.Background())

	if !result.Passed {
		t.Fatal("expected unknown project type to pass trivially")
	}
}

func TestVerifyArchitectureSkipsWhenNoGitHistory(t *testing.T) {
	dir := t.TempDir()
	v := newJudgeVerifier(t, dir, "FAIL: should not matter, no diff to review")

	result, err := v.verifyArchitecture(context.Background(), "some architecture doc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Fatal("expected architecture tier to pass when there's no git history to diff")
	}
}

func TestVerifyArchitecturePassesOnPassResponse(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644)
	initGitRepo(t, dir)
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() { println(1) }\n"), 0o644)

	v := newJudgeVerifier(t, dir, "PASS: consistent with architecture")
	result, err := v.verifyArchitecture(context.Background(), "keep main small")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Fatalf("expected PASS response to pass, got feedback: %s", result.Feedback)
	}
}

func TestVerifyWithJudgeFailsOnRejectedResponse(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644)
	initGitRepo(t, dir)
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() { panic(\"bug\") }\n"), 0o644)

	v := newJudgeVerifier(t, dir, "REJECTED:\n1. Unconditional panic in main")
	result, err := v.verifyWithJudge(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed {
		t.Fatal("expected REJECTED response to fail the judge tier")
	}
	if result.Tier != TierJudge {
		t.Fatalf("expected TierJudge, got %v", result.Tier)
	}
}

func TestCritiqueParsesScoreAndIssues(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644)
	initGitRepo(t, dir)
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() { println(2) }\n"), 0o644)

	reply := "Score: 72\nIssues:\n- missing error handling\n- no tests\nStatus: NEEDS_WORK"
	v := newJudgeVerifier(t, dir, reply)

	result, err := v.Critique(context.Background(), "add a greeting", "wrote main.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Score != 72 {
		t.Fatalf("expected score 72, got %d", result.Score)
	}
	if result.Done {
		t.Fatal("expected Done to be false for a NEEDS_WORK status")
	}
}
