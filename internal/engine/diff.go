package engine

import (
	"github.com/syncbridge/syncbridge/internal/mapping"
	"github.com/syncbridge/syncbridge/internal/model"
)

// BuildPlan computes the sync plan for one container pair from the two item
// snapshots and the existing mappings. It is a pure function: no adapter
// calls, no store access, no clock reads — running it twice over the same
// inputs yields the same plan.
//
// Rules, per mapped item:
//
//   - both present, equal fingerprints → unchanged
//   - both present, differ → strictly newer ModifiedAt wins; equal
//     timestamps are treated as unchanged to avoid oscillation
//   - present on one side only → delete on the surviving side, or a
//     neutralised no-op under skipDeletions
//   - absent on both → orphaned mapping, cleanup only
//
// Unmapped items become creates on the opposite side. An unmapped tombstone
// means the item was created and deleted between runs; there is nothing to
// converge, so it is ignored.
func BuildPlan(pair model.ContainerPair, localItems, remoteItems []model.Item, mappings []*mapping.Mapping, skipDeletions bool) *Plan {
	plan := &Plan{Pair: pair}

	localByID := make(map[string]*model.Item, len(localItems))
	for i := range localItems {
		localByID[localItems[i].LocalID] = &localItems[i]
	}
	remoteByID := make(map[string]*model.Item, len(remoteItems))
	for i := range remoteItems {
		remoteByID[remoteItems[i].RemoteID] = &remoteItems[i]
	}

	mappedLocal := make(map[string]bool, len(mappings))
	mappedRemote := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		mappedLocal[m.LocalID] = true
		mappedRemote[m.RemoteID] = true
	}

	// Unmapped local items → create on the remote side.
	for i := range localItems {
		it := &localItems[i]
		if mappedLocal[it.LocalID] || it.Tombstoned {
			continue
		}
		plan.CreateRemote = append(plan.CreateRemote, Entry{Item: *it, Label: it.Label()})
	}

	// Unmapped remote items → create on the local side.
	for i := range remoteItems {
		it := &remoteItems[i]
		if mappedRemote[it.RemoteID] || it.Tombstoned {
			continue
		}
		plan.CreateLocal = append(plan.CreateLocal, Entry{Item: *it, Label: it.Label()})
	}

	// Mapped items: resolve both sides and decide.
	for _, m := range mappings {
		local := localByID[m.LocalID]
		if local != nil && local.Tombstoned {
			local = nil
		}
		remote := remoteByID[m.RemoteID]
		if remote != nil && remote.Tombstoned {
			remote = nil
		}

		switch {
		case local != nil && remote != nil:
			if local.Fingerprint() == remote.Fingerprint() {
				plan.Unchanged++
				continue
			}
			switch {
			case local.ModifiedAt.After(remote.ModifiedAt):
				plan.UpdateRemote = append(plan.UpdateRemote, Entry{Item: *local, Mapping: m, Label: local.Label()})
			case remote.ModifiedAt.After(local.ModifiedAt):
				plan.UpdateLocal = append(plan.UpdateLocal, Entry{Item: *remote, Mapping: m, Label: remote.Label()})
			default:
				// Equal timestamps: conservative tie-break, no-op.
				plan.Unchanged++
			}

		case local != nil:
			// Deleted remotely. Propagate the deletion, or neutralise it
			// under skip-deletions (mapping retained, reconsidered next run).
			if skipDeletions {
				plan.Skipped++
				continue
			}
			plan.DeleteLocal = append(plan.DeleteLocal, Entry{Item: *local, Mapping: m, Label: local.Label()})

		case remote != nil:
			// Deleted locally.
			if skipDeletions {
				plan.Skipped++
				continue
			}
			plan.DeleteRemote = append(plan.DeleteRemote, Entry{Item: *remote, Mapping: m, Label: remote.Label()})

		default:
			// Gone on both sides: only the mapping row needs cleanup.
			plan.Orphans = append(plan.Orphans, m)
		}
	}

	return plan
}
