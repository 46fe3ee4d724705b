//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"plumetrack/internal/config"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "plumetrack.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSQLiteStoreRunConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	cfg := config.Default()
	cfg.Seed = 7
	if err := store.SaveRunConfig(ctx, "run-a", cfg); err != nil {
		t.Fatalf("save run config: %v", err)
	}

	loaded, ok, err := store.GetRunConfig(ctx, "run-a")
	if err != nil {
		t.Fatalf("get run config: %v", err)
	}
	if !ok {
		t.Fatal("expected run config")
	}
	if !reflect.DeepEqual(loaded, cfg) {
		t.Fatalf("config mismatch: %+v != %+v", loaded, cfg)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0] != "run-a" {
		t.Fatalf("runs = %v", runs)
	}
}

func TestSQLiteStoreCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	for _, it := range []int{25, 75, 50} {
		if err := store.SaveCheckpoint(ctx, testCheckpoint("run-a", it)); err != nil {
			t.Fatalf("save checkpoint %d: %v", it, err)
		}
	}

	loaded, ok, err := store.GetCheckpoint(ctx, "run-a", 50)
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if !ok || loaded.Iteration != 50 {
		t.Fatalf("checkpoint = %+v ok=%v", loaded, ok)
	}

	latest, ok, err := store.LatestCheckpoint(ctx, "run-a")
	if err != nil {
		t.Fatalf("latest checkpoint: %v", err)
	}
	if !ok || latest.Iteration != 75 {
		t.Fatalf("latest = %+v ok=%v", latest, ok)
	}

	// Overwrite keeps the (run, iteration) key unique.
	updated := testCheckpoint("run-a", 50)
	updated.Epsilon = 0.25
	if err := store.SaveCheckpoint(ctx, updated); err != nil {
		t.Fatalf("overwrite checkpoint: %v", err)
	}
	loaded, _, err = store.GetCheckpoint(ctx, "run-a", 50)
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if loaded.Epsilon != 0.25 {
		t.Fatalf("epsilon after overwrite = %v", loaded.Epsilon)
	}
}

func TestSQLiteStoreUninitializedFails(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "plumetrack.db"))
	if err := store.SaveRunConfig(ctx, "run-a", config.Default()); err == nil {
		t.Fatal("expected error before Init")
	}
}
