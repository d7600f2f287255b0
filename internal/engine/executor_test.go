package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/syncbridge/syncbridge/internal/mapping"
	"github.com/syncbridge/syncbridge/internal/model"
)

var testLogger = slog.Default()

func TestApply_CreateRemote_WritesMapping(t *testing.T) {
	ts := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	local := newMockAdapter(SideLocal, "Work")
	remote := newMockAdapter(SideRemote, "work")
	store := newMockStore()

	plan := BuildPlan(workPair,
		[]model.Item{localItem("l-1", "Buy milk", "2l", ts)},
		nil, nil, false)

	exec := NewExecutor(local, remote, store, testLogger, nil)
	res, err := exec.Apply(context.Background(), plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if res.CreateRemote != 1 {
		t.Errorf("CreateRemote = %d, want 1", res.CreateRemote)
	}
	if remote.count("work") != 1 {
		t.Errorf("remote items = %d, want 1", remote.count("work"))
	}

	// The mapping must carry the adapter-assigned remote ID.
	m, err := store.Get(context.Background(), "l-1", workPair)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m == nil {
		t.Fatal("no mapping written after create")
	}
	if m.RemoteID == "" {
		t.Error("mapping is missing the adapter-assigned remote ID")
	}
	if m.LastFingerprint == "" {
		t.Error("mapping is missing the fingerprint")
	}
}

func TestApply_CreateLocal_WritesMapping(t *testing.T) {
	ts := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	local := newMockAdapter(SideLocal, "Work")
	remote := newMockAdapter(SideRemote, "work")
	store := newMockStore()

	plan := BuildPlan(workPair,
		nil,
		[]model.Item{remoteItem("work/new.md", "From remote", "body", ts)},
		nil, false)

	exec := NewExecutor(local, remote, store, testLogger, nil)
	if _, err := exec.Apply(context.Background(), plan); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if local.count("Work") != 1 {
		t.Errorf("local items = %d, want 1", local.count("Work"))
	}
	m, err := store.GetByRemote(context.Background(), "work/new.md", workPair)
	if err != nil {
		t.Fatalf("GetByRemote: %v", err)
	}
	if m == nil || m.LocalID == "" {
		t.Fatal("mapping must carry the adapter-assigned local ID")
	}
}

func TestApply_Update_PushesWinnerAcross(t *testing.T) {
	older := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	local := newMockAdapter(SideLocal)
	local.seed("l-1", "Work", "Report", "local edit", newer)
	remote := newMockAdapter(SideRemote)
	remote.seed("work/report.md", "work", "Report", "old", older)

	store := newMockStore()
	store.seed(link("l-1", "work/report.md"))

	plan := BuildPlan(workPair,
		mustList(t, local, "Work"),
		mustList(t, remote, "work"),
		mustListAll(t, store),
		false)

	exec := NewExecutor(local, remote, store, testLogger, nil)
	res, err := exec.Apply(context.Background(), plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Update != 1 {
		t.Errorf("Update = %d, want 1", res.Update)
	}

	got := remote.get("work/report.md")
	if got == nil || got.Body != "local edit" {
		t.Error("remote must carry the winning local content after update")
	}

	// Fingerprint refreshed to the applied content.
	m, _ := store.Get(context.Background(), "l-1", workPair)
	want := (&model.Item{Title: "Report", Body: "local edit"}).Fingerprint()
	if m.LastFingerprint != want {
		t.Errorf("LastFingerprint = %q, want fingerprint of applied content", m.LastFingerprint)
	}
}

func TestApply_Delete_RemovesMappingAfterAdapterConfirms(t *testing.T) {
	ts := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

	local := newMockAdapter(SideLocal)
	local.seed("l-1", "Work", "Report", "body", ts)
	remote := newMockAdapter(SideRemote, "work")

	store := newMockStore()
	store.seed(link("l-1", "work/report.md"))

	plan := BuildPlan(workPair,
		mustList(t, local, "Work"), nil, mustListAll(t, store), false)

	exec := NewExecutor(local, remote, store, testLogger, nil)
	res, err := exec.Apply(context.Background(), plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.DeleteLocal != 1 {
		t.Errorf("DeleteLocal = %d, want 1", res.DeleteLocal)
	}
	if local.count("Work") != 0 {
		t.Error("local item should have been deleted")
	}
	if store.count() != 0 {
		t.Error("mapping row should be gone after confirmed delete")
	}
}

func TestApply_FailedDelete_KeepsMapping(t *testing.T) {
	ts := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

	local := newMockAdapter(SideLocal)
	local.seed("l-1", "Work", "Stubborn", "body", ts)
	local.failTitles["Stubborn"] = true
	remote := newMockAdapter(SideRemote, "work")

	store := newMockStore()
	store.seed(link("l-1", "work/stubborn.md"))

	plan := BuildPlan(workPair,
		mustList(t, local, "Work"), nil, mustListAll(t, store), false)

	exec := NewExecutor(local, remote, store, testLogger, nil)
	res, err := exec.Apply(context.Background(), plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(res.Errors) != 1 {
		t.Fatalf("Errors = %d, want 1", len(res.Errors))
	}
	var aerr *AdapterError
	if !errors.As(res.Errors[0], &aerr) || aerr.Op != "delete" {
		t.Errorf("error = %v, want an AdapterError for the delete", res.Errors[0])
	}
	// The link survives so the item is reconsidered next run.
	if store.count() != 1 {
		t.Error("mapping must be kept when the adapter delete fails")
	}
}

func TestApply_PerItemIsolation(t *testing.T) {
	ts := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	local := newMockAdapter(SideLocal)
	local.seed("l-1", "Work", "Good one", "a", ts)
	local.seed("l-2", "Work", "Bad one", "b", ts)
	local.seed("l-3", "Work", "Another good", "c", ts)
	remote := newMockAdapter(SideRemote, "work")
	remote.failTitles["Bad one"] = true
	store := newMockStore()

	plan := BuildPlan(workPair, mustList(t, local, "Work"), nil, nil, false)

	exec := NewExecutor(local, remote, store, testLogger, nil)
	res, err := exec.Apply(context.Background(), plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(res.Errors) != 1 {
		t.Errorf("Errors = %d, want 1", len(res.Errors))
	}
	// The failure must not stop the remaining creates.
	if remote.count("work") != 2 {
		t.Errorf("remote items = %d, want 2 (failure is isolated)", remote.count("work"))
	}
	if store.count() != 2 {
		t.Errorf("mappings = %d, want 2 (no mapping for the failed item)", store.count())
	}
}

func TestApply_StoreFailure_AbortsPair(t *testing.T) {
	ts := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	local := newMockAdapter(SideLocal)
	local.seed("l-1", "Work", "Item", "a", ts)
	remote := newMockAdapter(SideRemote, "work")
	store := newMockStore()
	store.failUpsert = true

	plan := BuildPlan(workPair, mustList(t, local, "Work"), nil, nil, false)

	exec := NewExecutor(local, remote, store, testLogger, nil)
	_, err := exec.Apply(context.Background(), plan)

	var serr *mapping.StoreError
	if !errors.As(err, &serr) {
		t.Fatalf("Apply error = %v, want *mapping.StoreError", err)
	}
}

func TestApply_Cancellation_StopsBetweenItems(t *testing.T) {
	ts := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	local := newMockAdapter(SideLocal)
	for _, id := range []string{"l-1", "l-2", "l-3"} {
		local.seed(id, "Work", "Item "+id, "body", ts)
	}
	remote := newMockAdapter(SideRemote, "work")
	store := newMockStore()

	plan := BuildPlan(workPair, mustList(t, local, "Work"), nil, nil, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancelled before the first item

	exec := NewExecutor(local, remote, store, testLogger, nil)
	_, err := exec.Apply(ctx, plan)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Apply error = %v, want context.Canceled", err)
	}
	// No rollback, but also nothing applied after cancellation.
	if remote.count("work") != 0 {
		t.Error("no item should have been created after cancellation")
	}
}

func TestApply_ProgressSink(t *testing.T) {
	ts := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	local := newMockAdapter(SideLocal)
	local.seed("l-1", "Work", "One", "a", ts)
	local.seed("l-2", "Work", "Two", "b", ts)
	remote := newMockAdapter(SideRemote, "work")
	store := newMockStore()

	plan := BuildPlan(workPair, mustList(t, local, "Work"), nil, nil, false)

	type call struct {
		current, total int
		label          string
	}
	var calls []call
	progress := func(current, total int, label string) {
		calls = append(calls, call{current, total, label})
	}

	exec := NewExecutor(local, remote, store, testLogger, progress)
	if _, err := exec.Apply(context.Background(), plan); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(calls) != 2 {
		t.Fatalf("progress calls = %d, want 2", len(calls))
	}
	last := calls[len(calls)-1]
	if last.current != last.total || last.total != 2 {
		t.Errorf("final progress = %d/%d, want 2/2", last.current, last.total)
	}
	if last.label == "" {
		t.Error("progress label must not be empty")
	}
}

func TestApply_OrphanCleanup(t *testing.T) {
	local := newMockAdapter(SideLocal, "Work")
	remote := newMockAdapter(SideRemote, "work")
	store := newMockStore()
	store.seed(link("l-gone", "work/gone.md"))

	plan := BuildPlan(workPair, nil, nil, mustListAll(t, store), false)

	exec := NewExecutor(local, remote, store, testLogger, nil)
	if _, err := exec.Apply(context.Background(), plan); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if store.count() != 0 {
		t.Error("orphaned mapping should have been cleaned up")
	}
}

// --- helpers -------------------------------------------------------------------

func mustList(t *testing.T, a Adapter, container string) []model.Item {
	t.Helper()
	items, err := a.List(context.Background(), container)
	if err != nil {
		t.Fatalf("List(%q): %v", container, err)
	}
	return items
}

func mustListAll(t *testing.T, s MappingStore) []*mapping.Mapping {
	t.Helper()
	mappings, err := s.ListAll(context.Background(), workPair)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	return mappings
}
