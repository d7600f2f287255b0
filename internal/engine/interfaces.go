// Package engine implements the replica reconciliation core: it compares two
// item collections, computes the minimal set of creates/updates/deletes
// needed to converge them, resolves conflicts with whole-item last-write-wins,
// and enforces a safety guard against mass deletion.
//
// The package contains five cooperating components:
//
//   - [Resolver] decides which local containers pair with which remote ones.
//   - [BuildPlan] is the pure diff: (snapshots, mappings, policy) → [Plan].
//   - the deletion guard inspects a plan before anything is applied.
//   - [Executor] applies an approved plan through the adapters.
//   - [Simulate] produces the same result shape with zero mutation.
//
// [Engine] ties them together across container pairs. The engine performs no
// scheduling and no retries; callers supply adapters, hold the per-service
// run lock, and decide when to invoke it.
package engine

import (
	"context"

	"github.com/syncbridge/syncbridge/internal/mapping"
	"github.com/syncbridge/syncbridge/internal/model"
)

// Adapter is the narrow capability interface both sides of a sync expose.
// Implemented by [localstore.Store] and [markdown.Adapter].
//
// List must include tombstoned items when the backing store can observe
// deletions; adapters that only see current state simply omit them.
type Adapter interface {
	List(ctx context.Context, container string) ([]model.Item, error)
	ListContainers(ctx context.Context) ([]string, error)
	EnsureContainer(ctx context.Context, container string) error
	Create(ctx context.Context, container string, item model.Item) (id string, err error)
	Update(ctx context.Context, id string, item model.Item) error
	Delete(ctx context.Context, id string) error
}

// MappingStore provides access to the persisted local↔remote identity links.
// Implemented by [mapping.Store].
type MappingStore interface {
	Get(ctx context.Context, localID string, pair model.ContainerPair) (*mapping.Mapping, error)
	GetByRemote(ctx context.Context, remoteID string, pair model.ContainerPair) (*mapping.Mapping, error)
	ListAll(ctx context.Context, pair model.ContainerPair) ([]*mapping.Mapping, error)
	Upsert(ctx context.Context, m *mapping.Mapping) error
	Delete(ctx context.Context, localID string, pair model.ContainerPair) error
	IsEmpty(ctx context.Context, pair model.ContainerPair) (bool, error)
}

// ProgressFunc is invoked after each applied plan entry. The engine is
// agnostic to how callers transport progress (log line, websocket, TUI).
type ProgressFunc func(current, total int, label string)
