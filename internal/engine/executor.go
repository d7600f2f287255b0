package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/syncbridge/syncbridge/internal/mapping"
)

// Executor applies an approved plan through the adapters and keeps the
// mapping store in step with what was actually applied.
type Executor struct {
	local    Adapter
	remote   Adapter
	store    MappingStore
	log      *slog.Logger
	progress ProgressFunc
}

// NewExecutor creates an Executor wired to the given adapters and store.
// progress may be nil.
func NewExecutor(local, remote Adapter, store MappingStore, logger *slog.Logger, progress ProgressFunc) *Executor {
	return &Executor{local: local, remote: remote, store: store, log: logger, progress: progress}
}

// Apply executes the plan bucket by bucket: creates, updates, deletes,
// mapping cleanup. Each item is isolated — an adapter failure is recorded in
// the result and processing continues with the next item. The returned error
// is non-nil only for failures that make further progress unsafe: a mapping
// store error or context cancellation. Work already applied stays applied.
func (e *Executor) Apply(ctx context.Context, plan *Plan) (Result, error) {
	res := resultFromPlan(plan)
	now := time.Now().UTC()

	total := plan.Mutations()
	done := 0
	step := func(label string) {
		done++
		if e.progress != nil {
			e.progress(done, total, label)
		}
	}

	// Creates first: both sides gain items before anything is removed.
	for _, en := range plan.CreateRemote {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		remoteID, err := e.remote.Create(ctx, plan.Pair.Remote, en.Item)
		if err != nil {
			res.Errors = append(res.Errors, &AdapterError{Side: SideRemote, Op: "create", Label: en.Label, Err: err})
			e.log.Error("create on remote failed", "item", en.Label, "error", err)
			step(en.Label)
			continue
		}
		m := &mapping.Mapping{
			LocalID:         en.Item.LocalID,
			RemoteID:        remoteID,
			LocalContainer:  plan.Pair.Local,
			RemoteContainer: plan.Pair.Remote,
			LastFingerprint: en.Item.Fingerprint(),
			LastSyncAt:      now,
		}
		if err := e.store.Upsert(ctx, m); err != nil {
			return res, err
		}
		step(en.Label)
	}

	for _, en := range plan.CreateLocal {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		localID, err := e.local.Create(ctx, plan.Pair.Local, en.Item)
		if err != nil {
			res.Errors = append(res.Errors, &AdapterError{Side: SideLocal, Op: "create", Label: en.Label, Err: err})
			e.log.Error("create on local failed", "item", en.Label, "error", err)
			step(en.Label)
			continue
		}
		m := &mapping.Mapping{
			LocalID:         localID,
			RemoteID:        en.Item.RemoteID,
			LocalContainer:  plan.Pair.Local,
			RemoteContainer: plan.Pair.Remote,
			LastFingerprint: en.Item.Fingerprint(),
			LastSyncAt:      now,
		}
		if err := e.store.Upsert(ctx, m); err != nil {
			return res, err
		}
		step(en.Label)
	}

	// Updates: push the winning side's content across.
	for _, en := range plan.UpdateRemote {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := e.remote.Update(ctx, en.Mapping.RemoteID, en.Item); err != nil {
			res.Errors = append(res.Errors, &AdapterError{Side: SideRemote, Op: "update", Label: en.Label, Err: err})
			e.log.Error("update on remote failed", "item", en.Label, "error", err)
			step(en.Label)
			continue
		}
		if err := e.refreshMapping(ctx, en, now); err != nil {
			return res, err
		}
		step(en.Label)
	}

	for _, en := range plan.UpdateLocal {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := e.local.Update(ctx, en.Mapping.LocalID, en.Item); err != nil {
			res.Errors = append(res.Errors, &AdapterError{Side: SideLocal, Op: "update", Label: en.Label, Err: err})
			e.log.Error("update on local failed", "item", en.Label, "error", err)
			step(en.Label)
			continue
		}
		if err := e.refreshMapping(ctx, en, now); err != nil {
			return res, err
		}
		step(en.Label)
	}

	// Deletes: the mapping row is removed only after the adapter confirms.
	// A failed delete keeps the row so the item is reconsidered next run
	// rather than silently losing its link.
	for _, en := range plan.DeleteRemote {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := e.remote.Delete(ctx, en.Mapping.RemoteID); err != nil {
			res.Errors = append(res.Errors, &AdapterError{Side: SideRemote, Op: "delete", Label: en.Label, Err: err})
			e.log.Error("delete on remote failed", "item", en.Label, "error", err)
			step(en.Label)
			continue
		}
		if err := e.store.Delete(ctx, en.Mapping.LocalID, plan.Pair); err != nil {
			return res, err
		}
		step(en.Label)
	}

	for _, en := range plan.DeleteLocal {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := e.local.Delete(ctx, en.Mapping.LocalID); err != nil {
			res.Errors = append(res.Errors, &AdapterError{Side: SideLocal, Op: "delete", Label: en.Label, Err: err})
			e.log.Error("delete on local failed", "item", en.Label, "error", err)
			step(en.Label)
			continue
		}
		if err := e.store.Delete(ctx, en.Mapping.LocalID, plan.Pair); err != nil {
			return res, err
		}
		step(en.Label)
	}

	// Orphaned mappings: item gone on both sides, row cleanup only.
	for _, m := range plan.Orphans {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := e.store.Delete(ctx, m.LocalID, plan.Pair); err != nil {
			return res, err
		}
		step(m.LocalID)
	}

	return res, nil
}

// refreshMapping re-upserts the mapping with the applied fingerprint and
// sync time.
func (e *Executor) refreshMapping(ctx context.Context, en Entry, now time.Time) error {
	m := *en.Mapping
	m.LastFingerprint = en.Item.Fingerprint()
	m.LastSyncAt = now
	return e.store.Upsert(ctx, &m)
}
