package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/syncbridge/syncbridge/internal/mapping"
	"github.com/syncbridge/syncbridge/internal/model"
)

// --- Mock Adapter --------------------------------------------------------------

// mockAdapter implements Adapter for one side. The side determines which ID
// field it fills on the items it serves.
type mockAdapter struct {
	mu         sync.Mutex
	side       Side
	containers map[string]bool
	items      map[string]*model.Item // id → item
	nextID     int

	// Failure injection.
	failTitles    map[string]bool // create/update/delete on these titles fail
	listErr       error
	ensureErr     error
	ensuredCalled []string
}

func newMockAdapter(side Side, containers ...string) *mockAdapter {
	m := &mockAdapter{
		side:       side,
		containers: make(map[string]bool),
		items:      make(map[string]*model.Item),
		failTitles: make(map[string]bool),
	}
	for _, c := range containers {
		m.containers[c] = true
	}
	return m
}

// seed inserts an item with an explicit ID without going through Create.
func (m *mockAdapter) seed(id, container, title, body string, modifiedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := &model.Item{Container: container, Title: title, Body: body, ModifiedAt: modifiedAt}
	m.setID(it, id)
	m.items[id] = it
	m.containers[container] = true
}

// tombstone marks a seeded item as deleted-since-last-run.
func (m *mockAdapter) tombstone(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[id]; ok {
		it.Tombstoned = true
	}
}

func (m *mockAdapter) setID(it *model.Item, id string) {
	if m.side == SideLocal {
		it.LocalID = id
	} else {
		it.RemoteID = id
	}
}

func (m *mockAdapter) List(_ context.Context, container string) ([]model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var result []model.Item
	for _, it := range m.items {
		if it.Container == container {
			result = append(result, *it)
		}
	}
	return result, nil
}

func (m *mockAdapter) ListContainers(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.containers))
	for c := range m.containers {
		names = append(names, c)
	}
	sort.Strings(names)
	return names, nil
}

func (m *mockAdapter) EnsureContainer(_ context.Context, container string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensuredCalled = append(m.ensuredCalled, container)
	if m.ensureErr != nil {
		return m.ensureErr
	}
	m.containers[container] = true
	return nil
}

func (m *mockAdapter) Create(_ context.Context, container string, item model.Item) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTitles[item.Title] {
		return "", fmt.Errorf("injected create failure for %q", item.Title)
	}
	m.nextID++
	id := fmt.Sprintf("%s-%d", m.side, m.nextID)
	cp := item
	cp.Container = container
	m.setID(&cp, id)
	m.items[id] = &cp
	return id, nil
}

func (m *mockAdapter) Update(_ context.Context, id string, item model.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.items[id]
	if !ok {
		return fmt.Errorf("item %q not found", id)
	}
	if m.failTitles[item.Title] || m.failTitles[existing.Title] {
		return fmt.Errorf("injected update failure for %q", existing.Title)
	}
	existing.Title = item.Title
	existing.Body = item.Body
	existing.ModifiedAt = item.ModifiedAt
	return nil
}

func (m *mockAdapter) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.items[id]
	if !ok {
		return fmt.Errorf("item %q not found", id)
	}
	if m.failTitles[existing.Title] {
		return fmt.Errorf("injected delete failure for %q", existing.Title)
	}
	delete(m.items, id)
	return nil
}

func (m *mockAdapter) count(container string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.Container == container && !it.Tombstoned {
			n++
		}
	}
	return n
}

func (m *mockAdapter) get(id string) *model.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[id]; ok {
		cp := *it
		return &cp
	}
	return nil
}

func (m *mockAdapter) titles(container string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, it := range m.items {
		if it.Container == container && !it.Tombstoned {
			out = append(out, it.Title)
		}
	}
	sort.Strings(out)
	return out
}

// --- Mock Mapping Store --------------------------------------------------------

type mockStore struct {
	mu     sync.Mutex
	rows   map[string]*mapping.Mapping // (localID, pair) key → row
	nextID int64

	failUpsert bool
	mutations  int // upserts + deletes, for purity assertions
}

func newMockStore() *mockStore {
	return &mockStore{rows: make(map[string]*mapping.Mapping)}
}

func storeKey(localID string, pair model.ContainerPair) string {
	return localID + "|" + pair.Local + "|" + pair.Remote
}

func (m *mockStore) seed(rows ...*mapping.Mapping) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.nextID++
		r.ID = m.nextID
		pair := model.ContainerPair{Local: r.LocalContainer, Remote: r.RemoteContainer}
		m.rows[storeKey(r.LocalID, pair)] = r
	}
}

func (m *mockStore) Get(_ context.Context, localID string, pair model.ContainerPair) (*mapping.Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[storeKey(localID, pair)]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (m *mockStore) GetByRemote(_ context.Context, remoteID string, pair model.ContainerPair) (*mapping.Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.RemoteID == remoteID && r.LocalContainer == pair.Local && r.RemoteContainer == pair.Remote {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockStore) ListAll(_ context.Context, pair model.ContainerPair) ([]*mapping.Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*mapping.Mapping
	for _, r := range m.rows {
		if r.LocalContainer == pair.Local && r.RemoteContainer == pair.Remote {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LocalID < result[j].LocalID })
	return result, nil
}

func (m *mockStore) Upsert(_ context.Context, row *mapping.Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert {
		return &mapping.StoreError{Op: "upsert " + row.LocalID, Err: fmt.Errorf("injected store failure")}
	}
	m.mutations++
	pair := model.ContainerPair{Local: row.LocalContainer, Remote: row.RemoteContainer}
	key := storeKey(row.LocalID, pair)
	if existing, ok := m.rows[key]; ok {
		row.ID = existing.ID
	} else {
		m.nextID++
		row.ID = m.nextID
	}
	cp := *row
	m.rows[key] = &cp
	return nil
}

func (m *mockStore) Delete(_ context.Context, localID string, pair model.ContainerPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutations++
	delete(m.rows, storeKey(localID, pair))
	return nil
}

func (m *mockStore) IsEmpty(_ context.Context, pair model.ContainerPair) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.LocalContainer == pair.Local && r.RemoteContainer == pair.Remote {
			return false, nil
		}
	}
	return true, nil
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// snapshot returns a deterministic copy of all rows for before/after
// comparisons (guard all-or-nothing, dry-run purity).
func (m *mockStore) snapshot() []mapping.Mapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mapping.Mapping
	for _, r := range m.rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		return storeKey(out[i].LocalID, model.ContainerPair{Local: out[i].LocalContainer, Remote: out[i].RemoteContainer}) <
			storeKey(out[j].LocalID, model.ContainerPair{Local: out[j].LocalContainer, Remote: out[j].RemoteContainer})
	})
	return out
}
