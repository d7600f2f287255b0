package mapping

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/syncbridge/syncbridge/internal/model"
)

var testPair = model.ContainerPair{Local: "Work", Remote: "work"}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-mappings.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleMapping() *Mapping {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &Mapping{
		LocalID:         "local-001",
		RemoteID:        "work/report.md",
		LocalContainer:  "Work",
		RemoteContainer: "work",
		LastFingerprint: "abc123",
		LastSyncAt:      now,
	}
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := openTestStore(t)
	// IsEmpty queries the mappings table — if the schema is wrong this fails.
	empty, err := s.IsEmpty(context.Background(), testPair)
	if err != nil {
		t.Fatalf("IsEmpty after open: %v", err)
	}
	if !empty {
		t.Error("expected empty store after open")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("s1.Close: %v", err)
	}

	// Re-opening the same file must not fail or wipe data.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if err := s2.Close(); err != nil {
		t.Fatalf("s2.Close: %v", err)
	}
}

func TestUpsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := sampleMapping()

	if err := s.Upsert(ctx, m); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if m.ID == 0 {
		t.Error("Upsert did not set ID")
	}

	got, err := s.Get(ctx, "local-001", testPair)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil, want mapping")
	}
	if got.RemoteID != "work/report.md" {
		t.Errorf("RemoteID = %q, want %q", got.RemoteID, "work/report.md")
	}
	if got.LastFingerprint != "abc123" {
		t.Errorf("LastFingerprint = %q, want %q", got.LastFingerprint, "abc123")
	}
}

func TestGetByRemote(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, sampleMapping()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.GetByRemote(ctx, "work/report.md", testPair)
	if err != nil {
		t.Fatalf("GetByRemote: %v", err)
	}
	if got == nil {
		t.Fatal("GetByRemote returned nil, want mapping")
	}
	if got.LocalID != "local-001" {
		t.Errorf("LocalID = %q, want %q", got.LocalID, "local-001")
	}
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Get(context.Background(), "does-not-exist", testPair)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing mapping, got %+v", got)
	}
}

func TestGet_ScopedToPair(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, sampleMapping()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Same local ID, different pair → not found.
	other := model.ContainerPair{Local: "Personal", Remote: "personal"}
	got, err := s.Get(ctx, "local-001", other)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Error("mapping leaked across container pairs")
	}
}

func TestUpsert_UpdatePath(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := sampleMapping()

	if err := s.Upsert(ctx, m); err != nil {
		t.Fatalf("initial Upsert: %v", err)
	}

	// Refresh fingerprint and remote ID via a second upsert on the same key.
	m.LastFingerprint = "newHash"
	m.RemoteID = "work/report-v2.md"
	if err := s.Upsert(ctx, m); err != nil {
		t.Fatalf("update Upsert: %v", err)
	}

	got, err := s.Get(ctx, "local-001", testPair)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastFingerprint != "newHash" {
		t.Errorf("LastFingerprint = %q, want %q", got.LastFingerprint, "newHash")
	}
	if got.RemoteID != "work/report-v2.md" {
		t.Errorf("RemoteID = %q, want %q", got.RemoteID, "work/report-v2.md")
	}

	// Must still be exactly one row.
	all, err := s.ListAll(ctx, testPair)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 mapping after update, got %d", len(all))
	}
}

func TestListAll_FiltersByPair(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mappings := []*Mapping{
		{LocalID: "l1", RemoteID: "work/a.md", LocalContainer: "Work", RemoteContainer: "work"},
		{LocalID: "l2", RemoteID: "work/b.md", LocalContainer: "Work", RemoteContainer: "work"},
		{LocalID: "l3", RemoteID: "personal/c.md", LocalContainer: "Personal", RemoteContainer: "personal"},
	}
	for _, m := range mappings {
		if err := s.Upsert(ctx, m); err != nil {
			t.Fatalf("Upsert %q: %v", m.LocalID, err)
		}
	}

	work, err := s.ListAll(ctx, testPair)
	if err != nil {
		t.Fatalf("ListAll(Work): %v", err)
	}
	if len(work) != 2 {
		t.Errorf("Work pair: got %d mappings, want 2", len(work))
	}

	none, err := s.ListAll(ctx, model.ContainerPair{Local: "Nope", Remote: "nope"})
	if err != nil {
		t.Fatalf("ListAll(Nope): %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unknown pair: got %d mappings, want 0", len(none))
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := sampleMapping()

	if err := s.Upsert(ctx, m); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := s.Delete(ctx, "local-001", testPair); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := s.Get(ctx, "local-001", testPair)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if got != nil {
		t.Error("expected nil after delete, got mapping")
	}

	empty, err := s.IsEmpty(ctx, testPair)
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Error("expected pair to be empty after deleting only mapping")
	}
}

func TestDelete_MissingRowIsNotAnError(t *testing.T) {
	s := openTestStore(t)
	if err := s.Delete(context.Background(), "never-existed", testPair); err != nil {
		t.Errorf("Delete of missing row: %v", err)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Use a time with sub-millisecond precision to exercise RFC3339Nano.
	ts := time.Date(2026, 3, 9, 14, 30, 0, 123456789, time.UTC)
	m := &Mapping{
		LocalID:         "ts-test",
		RemoteID:        "work/ts.md",
		LocalContainer:  "Work",
		RemoteContainer: "work",
		LastSyncAt:      ts,
	}
	if err := s.Upsert(ctx, m); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get(ctx, "ts-test", testPair)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.LastSyncAt.Equal(ts) {
		t.Errorf("LastSyncAt = %v, want %v", got.LastSyncAt, ts)
	}
}

func TestZeroTimestampRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := &Mapping{
		LocalID:         "zero-ts",
		RemoteID:        "work/zero.md",
		LocalContainer:  "Work",
		RemoteContainer: "work",
		// LastSyncAt left zero
	}
	if err := s.Upsert(ctx, m); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get(ctx, "zero-ts", testPair)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.LastSyncAt.IsZero() {
		t.Errorf("expected zero LastSyncAt, got %v", got.LastSyncAt)
	}
}

func TestDefaultDBPath(t *testing.T) {
	path, err := DefaultDBPath()
	if err != nil {
		t.Fatalf("DefaultDBPath: %v", err)
	}
	if path == "" {
		t.Error("DefaultDBPath returned empty string")
	}
}
