// Package model defines shared types used across the reconciliation engine,
// the mapping store, and the adapters.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Item is the normalised, per-run snapshot of a single note/reminder/photo
// entry as observed by an adapter. Items are ephemeral: adapters rebuild them
// on every run, only mappings persist.
type Item struct {
	// LocalID is the stable identifier on the local side. Empty for items
	// that have only ever been observed remotely.
	LocalID string

	// RemoteID is the stable identifier (or path) on the remote side.
	// Empty for items that are not yet mapped.
	RemoteID string

	// Container is the folder/calendar/list the item belongs to on the side
	// that produced the snapshot.
	Container string

	// Title is the item's display title, used for preview labels and
	// first-run title matching.
	Title string

	// Body is the item's content text.
	Body string

	// ModifiedAt is the last modification time reported by the adapter
	// (local clock of that side). Used for last-write-wins resolution.
	ModifiedAt time.Time

	// Tombstoned marks an item the adapter knows existed but is now deleted.
	// Distinguishes "deleted since last run" from "never synced".
	Tombstoned bool
}

// Fingerprint returns a deterministic SHA-256 hex digest of the fields that
// matter for change detection: title and body. ModifiedAt is intentionally
// excluded — it changes on every save and is only used for conflict
// resolution, not change detection.
func (i *Item) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(i.Title))
	h.Write([]byte("|"))
	h.Write([]byte(i.Body))
	return hex.EncodeToString(h.Sum(nil))
}

// Label returns a short human-readable identifier for progress and preview
// output: the title if present, otherwise whichever ID is set.
func (i *Item) Label() string {
	if i.Title != "" {
		return i.Title
	}
	if i.LocalID != "" {
		return i.LocalID
	}
	return i.RemoteID
}

// ContainerPair links one local container to one remote container for a run.
type ContainerPair struct {
	// Local is the local container name.
	Local string

	// Remote is the remote container name.
	Remote string

	// CreateLocal and CreateRemote mark containers the resolver found
	// missing; the engine asks the adapter to create them before syncing.
	CreateLocal  bool
	CreateRemote bool
}

// String renders the pair for logs and error messages.
func (p ContainerPair) String() string {
	return fmt.Sprintf("%s↔%s", p.Local, p.Remote)
}
