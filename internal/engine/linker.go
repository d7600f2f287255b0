package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/syncbridge/syncbridge/internal/mapping"
	"github.com/syncbridge/syncbridge/internal/model"
)

// Linker performs the first-run linkage of items that already exist on both
// sides of a container pair. It matches items by title, prints a summary,
// and (with user confirmation) seeds the mapping store. Without it, the
// first sync of two populated replicas would duplicate every item.
//
// Unmatched items are left alone: the diff engine turns them into ordinary
// creates on the next run.
type Linker struct {
	local  Adapter
	remote Adapter
	store  MappingStore
	log    *slog.Logger
	reader io.Reader // for confirmation prompt (os.Stdin in production)
	writer io.Writer // for summary output (os.Stdout in production)
}

// NewLinker creates a Linker wired to the given adapters and mapping store.
// reader and writer control the confirmation prompt I/O.
func NewLinker(local, remote Adapter, store MappingStore, logger *slog.Logger, reader io.Reader, writer io.Writer) *Linker {
	return &Linker{
		local:  local,
		remote: remote,
		store:  store,
		log:    logger,
		reader: reader,
		writer: writer,
	}
}

type matchedPair struct {
	local  *model.Item
	remote *model.Item
}

// matchResult holds the title-matching outcome for one container pair.
type matchResult struct {
	pair       model.ContainerPair
	matched    []matchedPair
	localOnly  int
	remoteOnly int
}

// Run seeds mappings for every pair that has none yet. Pairs that already
// hold mappings are skipped. Returns true if any linking was executed.
func (l *Linker) Run(ctx context.Context, pairs []model.ContainerPair) (bool, error) {
	var results []matchResult

	for _, pair := range pairs {
		empty, err := l.store.IsEmpty(ctx, pair)
		if err != nil {
			return false, fmt.Errorf("checking mapping store for %s: %w", pair, err)
		}
		if !empty {
			l.log.Debug("pair already linked, skipping", "pair", pair.String())
			continue
		}

		localItems, err := l.local.List(ctx, pair.Local)
		if err != nil {
			return false, fmt.Errorf("listing local items for %s: %w", pair, err)
		}
		remoteItems, err := l.remote.List(ctx, pair.Remote)
		if err != nil {
			return false, fmt.Errorf("listing remote items for %s: %w", pair, err)
		}

		result := matchByTitle(pair, localItems, remoteItems)
		if len(result.matched) == 0 {
			// Nothing to link; the diff engine handles one-sided items.
			continue
		}
		results = append(results, result)
	}

	if len(results) == 0 {
		return false, nil
	}

	l.printSummary(results)

	if !l.confirm() {
		l.log.Info("first-run linking cancelled by user")
		return false, nil
	}

	if err := l.execute(ctx, results); err != nil {
		return false, fmt.Errorf("seeding mappings: %w", err)
	}

	l.log.Info("first-run linking complete")
	return true, nil
}

// matchByTitle matches local to remote items by exact title
// (case-insensitive). Tombstoned items never participate.
func matchByTitle(pair model.ContainerPair, localItems, remoteItems []model.Item) matchResult {
	result := matchResult{pair: pair}

	remoteByTitle := make(map[string]*model.Item, len(remoteItems))
	for i := range remoteItems {
		if remoteItems[i].Tombstoned {
			continue
		}
		remoteByTitle[strings.ToLower(remoteItems[i].Title)] = &remoteItems[i]
	}

	matchedTitles := make(map[string]bool)

	for i := range localItems {
		if localItems[i].Tombstoned {
			continue
		}
		key := strings.ToLower(localItems[i].Title)
		if remote, ok := remoteByTitle[key]; ok && !matchedTitles[key] {
			result.matched = append(result.matched, matchedPair{local: &localItems[i], remote: remote})
			matchedTitles[key] = true
		} else {
			result.localOnly++
		}
	}

	for i := range remoteItems {
		if remoteItems[i].Tombstoned {
			continue
		}
		if !matchedTitles[strings.ToLower(remoteItems[i].Title)] {
			result.remoteOnly++
		}
	}

	return result
}

// printSummary writes a human-readable summary of the match results.
func (l *Linker) printSummary(results []matchResult) {
	_, _ = fmt.Fprintf(l.writer, "\n--- First-Run Link Summary ---\n\n")

	totalMatched := 0
	for _, r := range results {
		totalMatched += len(r.matched)

		_, _ = fmt.Fprintf(l.writer, "Pair %s:\n", r.pair)
		_, _ = fmt.Fprintf(l.writer, "  Matched by title: %d\n", len(r.matched))
		for _, m := range r.matched {
			_, _ = fmt.Fprintf(l.writer, "    ✓ %s\n", m.local.Title)
		}
		if r.localOnly > 0 {
			_, _ = fmt.Fprintf(l.writer, "  Only local (sync will push to remote): %d\n", r.localOnly)
		}
		if r.remoteOnly > 0 {
			_, _ = fmt.Fprintf(l.writer, "  Only remote (sync will push to local): %d\n", r.remoteOnly)
		}
		_, _ = fmt.Fprintln(l.writer)
	}

	_, _ = fmt.Fprintf(l.writer, "Total: %d pair(s) of existing items will be linked without copying.\n", totalMatched)
}

// confirm reads a y/n response from the reader.
func (l *Linker) confirm() bool {
	_, _ = fmt.Fprintf(l.writer, "Link these items? [y/N] ")
	scanner := bufio.NewScanner(l.reader)
	if scanner.Scan() {
		answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
		return answer == "y" || answer == "yes"
	}
	return false
}

// execute writes all matched pairs to the mapping store.
func (l *Linker) execute(ctx context.Context, results []matchResult) error {
	now := time.Now().UTC()

	for _, r := range results {
		for _, m := range r.matched {
			row := &mapping.Mapping{
				LocalID:         m.local.LocalID,
				RemoteID:        m.remote.RemoteID,
				LocalContainer:  r.pair.Local,
				RemoteContainer: r.pair.Remote,
				LastFingerprint: m.local.Fingerprint(),
				LastSyncAt:      now,
			}
			if err := l.store.Upsert(ctx, row); err != nil {
				return fmt.Errorf("linking %q: %w", m.local.Title, err)
			}
			l.log.Debug("linked matched pair", "title", m.local.Title)
		}
	}
	return nil
}
