package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func strPtr(s string) *string { return &s }

func newRender(id string, started time.Time) *Render {
	return &Render{
		ID:          id,
		Sources:     []string{"hosts/web.cue"},
		Format:      "cue",
		Output:      "web.nix",
		Status:      RenderStatusSucceeded,
		OutputHash:  "abc123",
		OutputBytes: 42,
		Duration:    1500 * time.Millisecond,
		StartedAt:   started,
		CompletedAt: started.Add(1500 * time.Millisecond),
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Migrate(ctx); err == nil {
		t.Error("expected migrate to fail before Init")
	}

	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_Config(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}

	mem, err := NewSQLiteStore(Config{Path: ":memory:", MaxOpenConns: 10})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if mem.cfg.MaxOpenConns != 1 {
		t.Errorf("expected a single connection for :memory:, got %d", mem.cfg.MaxOpenConns)
	}

	file, err := NewSQLiteStore(Config{Path: "history.db"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if file.cfg.MaxOpenConns != 4 || file.cfg.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("unexpected defaults: %+v", file.cfg)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"renders", "events", "outputs"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running migrations twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestRenderRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	render := newRender("r-1", started)
	render.Sources = []string{"a.cue", "b.cue"}

	if err := store.RecordRender(ctx, render); err != nil {
		t.Fatalf("failed to record render: %v", err)
	}

	got, err := store.GetRender(ctx, "r-1")
	if err != nil {
		t.Fatalf("failed to get render: %v", err)
	}

	if got.Format != "cue" || got.Output != "web.nix" || got.Status != RenderStatusSucceeded {
		t.Errorf("unexpected render: %+v", got)
	}
	if len(got.Sources) != 2 || got.Sources[1] != "b.cue" {
		t.Errorf("expected sources [a.cue b.cue], got %v", got.Sources)
	}
	if got.Duration != 1500*time.Millisecond {
		t.Errorf("expected duration 1.5s, got %v", got.Duration)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("expected started_at %v, got %v", started, got.StartedAt)
	}
	if got.Error != nil || got.ErrorClass != nil {
		t.Errorf("expected no error, got %v / %v", got.Error, got.ErrorClass)
	}
}

func TestRecordRender_Failure(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	render := newRender("r-failed", time.Now())
	render.Status = RenderStatusDenied
	render.ErrorClass = strPtr("policy_denied")
	render.Error = strPtr("plaintext secret")
	render.Sources = nil

	if err := store.RecordRender(ctx, render); err != nil {
		t.Fatalf("failed to record render: %v", err)
	}

	got, err := store.GetRender(ctx, "r-failed")
	if err != nil {
		t.Fatalf("failed to get render: %v", err)
	}
	if got.ErrorClass == nil || *got.ErrorClass != "policy_denied" {
		t.Errorf("expected error class policy_denied, got %v", got.ErrorClass)
	}
	if len(got.Sources) != 0 {
		t.Errorf("expected no sources, got %v", got.Sources)
	}

	if err := store.RecordRender(ctx, render); err == nil {
		t.Error("expected duplicate ID to fail")
	}

	bad := newRender("r-bad", time.Now())
	bad.Status = "exploded"
	if err := store.RecordRender(ctx, bad); err == nil {
		t.Error("expected invalid status to be rejected")
	}
}

func TestGetRender_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRender(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListRenders_NewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		if err := store.RecordRender(ctx, newRender(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("failed to record render: %v", err)
		}
	}

	renders, err := store.ListRenders(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list renders: %v", err)
	}
	want := []string{"third", "second", "first"}
	if len(renders) != len(want) {
		t.Fatalf("expected %d renders, got %d", len(want), len(renders))
	}
	for i, id := range want {
		if renders[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, renders[i].ID)
		}
	}

	page, err := store.ListRenders(ctx, 1, 1)
	if err != nil {
		t.Fatalf("failed to list renders: %v", err)
	}
	if len(page) != 1 || page[0].ID != "second" {
		t.Errorf("expected page [second], got %v", page)
	}
}

func TestPruneRenders(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := newRender("old", time.Now().Add(-48*time.Hour))
	recent := newRender("recent", time.Now())
	for _, r := range []*Render{old, recent} {
		if err := store.RecordRender(ctx, r); err != nil {
			t.Fatalf("failed to record render: %v", err)
		}
	}
	if err := store.AppendEvent(ctx, &Event{RenderID: "old", Level: EventLevelInfo, Message: "x"}); err != nil {
		t.Fatalf("failed to append event: %v", err)
	}

	n, err := store.PruneRenders(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned render, got %d", n)
	}

	if _, err := store.GetRender(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected old render to be gone, got %v", err)
	}
	events, err := store.GetEvents(ctx, "old", nil)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected events to be deleted with their render, got %d", len(events))
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.RecordRender(ctx, newRender("r-1", time.Now())); err != nil {
		t.Fatalf("failed to record render: %v", err)
	}

	events := []*Event{
		{RenderID: "r-1", Level: EventLevelWarning, Message: "http url", Details: strPtr(`{"path":"src.url"}`)},
		{RenderID: "r-1", Level: EventLevelInfo, Message: "written"},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if e.ID == 0 {
			t.Error("expected event ID to be set")
		}
	}

	all, err := store.GetEvents(ctx, "r-1", nil)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(all) != 2 || all[0].Message != "http url" || all[1].Message != "written" {
		t.Errorf("unexpected events: %+v", all)
	}

	level := EventLevelWarning
	warnings, err := store.GetEvents(ctx, "r-1", &level)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(warnings) != 1 || warnings[0].Details == nil || *warnings[0].Details != `{"path":"src.url"}` {
		t.Errorf("unexpected warnings: %+v", warnings)
	}

	orphan := &Event{RenderID: "missing", Level: EventLevelInfo, Message: "x"}
	if err := store.AppendEvent(ctx, orphan); err == nil {
		t.Error("expected foreign key violation for unknown render")
	}
}

func TestOutputs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.GetOutput(ctx, "web.nix"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := store.UpsertOutput(ctx, &OutputState{Path: "web.nix", Hash: "h1", LastRenderID: "r-1"}); err != nil {
		t.Fatalf("failed to upsert output: %v", err)
	}
	if err := store.UpsertOutput(ctx, &OutputState{Path: "web.nix", Hash: "h2", LastRenderID: "r-2"}); err != nil {
		t.Fatalf("failed to upsert output: %v", err)
	}

	got, err := store.GetOutput(ctx, "web.nix")
	if err != nil {
		t.Fatalf("failed to get output: %v", err)
	}
	if got.Hash != "h2" || got.LastRenderID != "r-2" {
		t.Errorf("expected latest state, got %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected updated_at to be set")
	}
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.RecordRender(ctx, newRender("persisted", time.Now())); err != nil {
		t.Fatalf("failed to record render: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetRender(ctx, "persisted"); err != nil {
		t.Errorf("expected render to survive reopen: %v", err)
	}
}
