package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"plumetrack/internal/stats"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	origWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	workdir := t.TempDir()
	if err := os.Chdir(workdir); err != nil {
		t.Fatalf("chdir tempdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(origWD)
	})
	return workdir
}

func TestTrainCommandCreatesArtifacts(t *testing.T) {
	chdirTemp(t)

	args := []string{
		"train",
		"--quiet",
		"--grid-width", "7",
		"--grid-height", "7",
		"--start-x", "3",
		"--start-y", "3",
		"--step-budget", "20",
		"--iterations", "2",
		"--episodes", "2",
		"--workers", "2",
		"--seed", "11",
		"--eval-every", "0",
		"--checkpoint-every", "1",
	}
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("train command: %v", err)
	}

	entries, err := stats.ListRunIndex(artifactsDir)
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one indexed run, got %d", len(entries))
	}
	runID := entries[0].RunID
	for _, file := range []string{"config.json", "training_history.json", "training_history.csv", "eval_reports.json"} {
		path := filepath.Join(artifactsDir, runID, file)
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected artifact %s: %v", path, err)
		}
	}

	if err := run(context.Background(), []string{"runs", "--limit", "5"}); err != nil {
		t.Fatalf("runs command: %v", err)
	}
	if err := run(context.Background(), []string{"export", "--latest"}); err != nil {
		t.Fatalf("export command: %v", err)
	}
	exported := filepath.Join(exportsDir, runID)
	if _, err := os.Stat(exported); err != nil {
		t.Fatalf("expected exported run at %s: %v", exported, err)
	}
}

func TestTrainCommandRejectsInvalidFlags(t *testing.T) {
	chdirTemp(t)

	args := []string{
		"train",
		"--quiet",
		"--grid-width", "7",
		"--grid-height", "7",
		"--iterations", "1",
	}
	// The default start cell lies outside a 7x7 grid.
	if err := run(context.Background(), args); err == nil {
		t.Fatal("expected validation error for start cell outside the grid")
	}
}

func TestUnknownCommand(t *testing.T) {
	if err := run(context.Background(), []string{"bogus"}); err == nil {
		t.Fatal("expected unknown command error")
	}
	if err := run(context.Background(), nil); err == nil {
		t.Fatal("expected usage error for missing command")
	}
}
