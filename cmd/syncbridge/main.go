// SyncBridge keeps a local item database and a Markdown folder replica in
// step bidirectionally, using whole-item last-write-wins conflict resolution
// and a deletion guard against wiping a replica.
//
// Usage:
//
//	syncbridge sync [--config <path>]     # single reconcile pass then exit
//	syncbridge preview [--config <path>]  # show what sync would do, change nothing
//	syncbridge daemon [--config <path>]   # poll + watch the Markdown tree
//	syncbridge add <container> <title>    # add an item to the local replica
//	syncbridge status                     # show config & replica state
//	syncbridge version                    # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/syncbridge/syncbridge/internal/config"
	"github.com/syncbridge/syncbridge/internal/engine"
	"github.com/syncbridge/syncbridge/internal/localstore"
	"github.com/syncbridge/syncbridge/internal/mapping"
	"github.com/syncbridge/syncbridge/internal/markdown"
	"github.com/syncbridge/syncbridge/internal/model"
	"github.com/syncbridge/syncbridge/internal/runlock"
	"github.com/syncbridge/syncbridge/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "sync":
		return runSync(os.Args[2:], modeOnce)
	case "preview":
		return runSync(os.Args[2:], modePreview)
	case "daemon":
		return runSync(os.Args[2:], modeDaemon)
	case "add":
		return runAdd(os.Args[2:])
	case "status":
		return runStatus()
	case "version":
		fmt.Println("syncbridge", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q — run 'syncbridge' for usage", cmd)
	}
}

// printUsage shows help and points at the config file if missing.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "SyncBridge — sync a local item database ↔ a Markdown folder")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  syncbridge sync [--config ...]       Single sync pass then exit")
	fmt.Fprintln(os.Stderr, "  syncbridge preview [--config ...]    Show planned changes, apply nothing")
	fmt.Fprintln(os.Stderr, "  syncbridge daemon [--config ...]     Run continuously (poll + file watch)")
	fmt.Fprintln(os.Stderr, "  syncbridge add <container> <title>   Add an item to the local replica")
	fmt.Fprintln(os.Stderr, "  syncbridge status                    Show config & replica state")
	fmt.Fprintln(os.Stderr, "  syncbridge version                   Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found at %s.\n", cfgPath)
	}

	os.Exit(1)
	return nil // unreachable
}

// --- Subcommands -------------------------------------------------------------

type runMode int

const (
	modeOnce runMode = iota
	modePreview
	modeDaemon
)

// runSync handles the sync, preview, and daemon subcommands.
func runSync(args []string, mode runMode) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return startSync(*cfgPath, *verbose, mode)
}

// runAdd inserts one item into the local replica. The next sync pushes it to
// the Markdown side.
func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	body := fs.String("body", "", "item body text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("usage: syncbridge add [--body ...] <container> <title>")
	}
	container := fs.Arg(0)
	title := strings.Join(fs.Args()[1:], " ")

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}

	store, err := openLocalStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	id, err := store.Create(ctx, container, model.Item{Title: title, Body: *body})
	if err != nil {
		return fmt.Errorf("adding item: %w", err)
	}
	fmt.Printf("Added %q to %s (%s)\n", title, container, id)
	return nil
}

// runStatus prints the current configuration and replica state.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()
	mapPath, _ := mapping.DefaultDBPath()
	lockPath, _ := runlock.DefaultPath()

	fmt.Println("SyncBridge Status")
	fmt.Println("─────────────────")

	var cfg *config.Config
	if _, err := os.Stat(cfgPath); err == nil {
		loaded, loadErr := config.Load(cfgPath)
		if loadErr == nil {
			cfg = loaded
			fmt.Printf("  Config:       %s ✓\n", cfgPath)
			fmt.Printf("  Markdown:     %s\n", cfg.MarkdownDir)
			fmt.Printf("  Mode:         %s\n", cfg.Mode)
			fmt.Printf("  Poll:         %s\n", cfg.PollInterval)
			fmt.Printf("  Guard:        %s\n", describeThreshold(cfg.Threshold()))
		} else {
			fmt.Printf("  Config:       %s (invalid: %v)\n", cfgPath, loadErr)
		}
	} else {
		fmt.Printf("  Config:       not found (%s)\n", cfgPath)
	}

	if info, err := os.Stat(mapPath); err == nil {
		fmt.Printf("  Mapping DB:   %s (%s)\n", mapPath, humanSize(info.Size()))
	} else {
		fmt.Printf("  Mapping DB:   not found\n")
	}

	if cfg != nil {
		if store, err := openLocalStore(cfg); err == nil {
			if counts, err := store.Counts(context.Background()); err == nil {
				total := 0
				for _, n := range counts {
					total += n
				}
				fmt.Printf("  Local items:  %d across %d container(s)\n", total, len(counts))
			}
			_ = store.Close()
		}
	}

	if _, err := os.Stat(lockPath); err == nil {
		fmt.Printf("  Run lock:     held (%s)\n", lockPath)
	} else {
		fmt.Printf("  Run lock:     free\n")
	}

	return nil
}

func describeThreshold(threshold int) string {
	switch {
	case threshold == engine.ThresholdDisabled:
		return "disabled"
	case threshold == 0:
		return "trip on any deletion"
	default:
		return fmt.Sprintf("trip above %d deletions", threshold)
	}
}

// --- Sync core -----------------------------------------------------------------

// startSync is the shared implementation for sync, preview, and daemon modes.
func startSync(cfgPath string, verbose bool, mode runMode) error {
	// --- Config ---------------------------------------------------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}

	// --- Logger ---------------------------------------------------------------

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	var logDest io.Writer = os.Stderr
	if mode == modeDaemon && cfg.LogFile != "" {
		logDest = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
	}
	logger := slog.New(slog.NewTextHandler(logDest, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("config loaded",
		"markdown_dir", cfg.MarkdownDir,
		"mode", cfg.Mode,
		"poll_interval", cfg.PollInterval,
		"deletion_threshold", cfg.Threshold(),
		"skip_deletions", cfg.SkipDeletions,
	)

	// --- Telemetry (optional) ---------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			Insecure:       cfg.Telemetry.Insecure,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			SyncMode:       cfg.Mode,
			Headers:        cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- Run lock ---------------------------------------------------------------

	// Preview never mutates; it can run beside a daemon.
	var lock *runlock.Lock
	if mode != modePreview {
		lockPath, err := runlock.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolving lock path: %w", err)
		}
		lock, err = runlock.Acquire(lockPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				logger.Error("releasing run lock", "error", err)
			}
		}()
	}

	// --- Replicas ---------------------------------------------------------------

	local, err := openLocalStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := local.Close(); closeErr != nil {
			logger.Error("closing local store", "error", closeErr)
		}
	}()

	mapPath, err := mapping.DefaultDBPath()
	if err != nil {
		return fmt.Errorf("resolving mapping DB path: %w", err)
	}
	store, err := mapping.Open(mapPath)
	if err != nil {
		return fmt.Errorf("opening mapping DB at %q: %w", mapPath, err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("closing mapping DB", "error", closeErr)
		}
	}()

	remote := markdown.New(cfg.MarkdownDir, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := remote.Ping(ctx); err != nil {
		return fmt.Errorf("markdown replica unreachable: %w\n\nCheck markdown_dir in your config file", err)
	}

	// --- Container pairs ----------------------------------------------------------

	resolver := engine.NewResolver(local, remote, engine.Mode(cfg.Mode), cfg.ContainerPairs, cfg.Exclude, logger)
	pairs, err := resolver.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolving container pairs: %w", err)
	}
	if len(pairs) == 0 {
		logger.Warn("no container pairs to sync")
		return nil
	}

	// --- First-run linking ----------------------------------------------------------

	// Pairs populated on both sides get linked by title before the first
	// real run, so pre-existing items are not duplicated. Preview skips
	// this: it must not write mappings.
	if mode != modePreview {
		linker := engine.NewLinker(local, remote, store, logger, os.Stdin, os.Stdout)
		if _, err := linker.Run(ctx, pairs); err != nil {
			return fmt.Errorf("first-run linking: %w", err)
		}
	}

	// --- Engine -----------------------------------------------------------------

	eng := engine.New(local, remote, store, logger)
	params := engine.Params{
		Pairs:             pairs,
		SkipDeletions:     cfg.SkipDeletions,
		DeletionThreshold: cfg.Threshold(),
		MaxParallel:       cfg.MaxParallel,
	}

	switch mode {
	case modePreview:
		params.Simulate = true
		summary, err := eng.Run(ctx, params)
		if err != nil {
			return err
		}
		printPreview(os.Stdout, summary)
		return nil

	case modeOnce:
		params.Progress = func(current, total int, label string) {
			fmt.Fprintf(os.Stderr, "  [%d/%d] %s\n", current, total, label)
		}
		summary, err := eng.Run(ctx, params)
		if err != nil {
			return err
		}
		purgeTombstones(ctx, local, logger)
		return reportRun(logger, summary)

	default: // modeDaemon
		return runDaemon(ctx, eng, remote, local, params, cfg.PollInterval, logger)
	}
}

// tombstoneRetention is how long tombstoned local items are kept before the
/// post-run purge removes them. The window covers replicas that sync rarely:
// a deletion always gets several runs to propagate before its row vanishes.
const tombstoneRetention = 30 * 24 * time.Hour

// purgeTombstones removes aged-out tombstoned rows after a completed run.
/// Best effort: a failed purge only delays cleanup until the next run.
func purgeTombstones(ctx context.Context, local *localstore.Store, logger *slog.Logger) {
	n, err := local.PurgeTombstones(ctx, time.Now().Add(-tombstoneRetention))
	if err != nil {
		logger.Warn("purging tombstones", "error", err)
		return
	}
	if n > 0 {
		logger.Debug("purged tombstones", "count", n)
	}
}

// runDaemon loops until cancelled: a full run every poll interval, plus an
// immediate run when the Markdown tree changes. Changes are debounced so a
// burst of file writes triggers one run, not dozens.
func runDaemon(ctx context.Context, eng *engine.Engine, remote *markdown.Adapter,
	local *localstore.Store, params engine.Params, pollInterval time.Duration,
	logger *slog.Logger) error {

	logger.Info("daemon starting", "poll_interval", pollInterval)

	changed := make(chan struct{}, 1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := remote.Watch(gctx, func(container string) {
			select {
			case changed <- struct{}{}:
			default: // a run is already pending
			}
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		const debounce = 2 * time.Second
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		runOnce := func(trigger string) {
			summary, err := eng.Run(gctx, params)
			if err != nil {
				logger.Warn("run aborted", "trigger", trigger, "error", err)
				return
			}
			if summary.Totals.Errors > 0 {
				logger.Warn("run finished with errors", "trigger", trigger, "errors", summary.Totals.Errors)
			}
			purgeTombstones(gctx, local, logger)
		}

		runOnce("startup")
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				runOnce("poll")
			case <-changed:
				// Let the burst of file events settle first.
				select {
				case <-gctx.Done():
					return nil
				case <-time.After(debounce):
				}
				runOnce("file change")
				ticker.Reset(pollInterval)
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("daemon: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// reportRun logs the outcome of a foreground run and surfaces errors in the
// exit code.
func reportRun(logger *slog.Logger, summary *engine.Summary) error {
	t := summary.Totals
	logger.Info("sync complete",
		"created", t.CreateRemote+t.CreateLocal,
		"updated", t.Update,
		"deleted", t.DeleteRemote+t.DeleteLocal,
		"unchanged", t.Unchanged,
		"skipped", t.Skipped,
		"duration", summary.Duration.Round(time.Millisecond),
	)
	for _, res := range summary.Results {
		if res.GuardTripped {
			fmt.Fprintf(os.Stderr,
				"⚠ Pair %s: deletion guard tripped (%d planned deletions), nothing applied.\n"+
					"  Raise deletion_threshold or run 'syncbridge preview' to inspect.\n",
				res.Pair, res.DeleteLocal+res.DeleteRemote)
		}
	}
	if t.Errors > 0 {
		return fmt.Errorf("sync finished with %d error(s), see log", t.Errors)
	}
	return nil
}

// printPreview renders the simulated plan for each pair.
func printPreview(w io.Writer, summary *engine.Summary) {
	fmt.Fprintf(w, "\n--- Preview (nothing applied) ---\n\n")

	for _, res := range summary.Results {
		fmt.Fprintf(w, "Pair %s:\n", res.Pair)
		if res.GuardTripped {
			fmt.Fprintf(w, "  ⚠ deletion guard would trip (%d deletions) — this pair would be skipped\n\n",
				res.DeleteLocal+res.DeleteRemote)
			continue
		}

		fmt.Fprintf(w, "  create remote: %d\n", res.CreateRemote)
		fmt.Fprintf(w, "  create local:  %d\n", res.CreateLocal)
		fmt.Fprintf(w, "  update:        %d\n", res.Update)
		fmt.Fprintf(w, "  delete remote: %d\n", res.DeleteRemote)
		fmt.Fprintf(w, "  delete local:  %d\n", res.DeleteLocal)
		fmt.Fprintf(w, "  unchanged:     %d\n", res.Unchanged)
		if res.Skipped > 0 {
			fmt.Fprintf(w, "  skipped:       %d (skip_deletions)\n", res.Skipped)
		}
		if res.Samples != nil {
			printSamples(w, "create remote", res.Samples.CreateRemote)
			printSamples(w, "create local", res.Samples.CreateLocal)
			printSamples(w, "update", res.Samples.Update)
			printSamples(w, "delete remote", res.Samples.DeleteRemote)
			printSamples(w, "delete local", res.Samples.DeleteLocal)
		}
		fmt.Fprintln(w)
	}

	t := summary.Totals
	fmt.Fprintf(w, "Total: %d create(s), %d update(s), %d delete(s) across %d pair(s)\n",
		t.CreateRemote+t.CreateLocal, t.Update, t.DeleteRemote+t.DeleteLocal, t.Pairs)
}

func printSamples(w io.Writer, bucket string, labels []string) {
	for _, label := range labels {
		fmt.Fprintf(w, "    %s: %s\n", bucket, label)
	}
}

// openLocalStore opens the local item database from the config, falling back
// to the default path.
func openLocalStore(cfg *config.Config) (*localstore.Store, error) {
	path := cfg.LocalDB
	if path == "" {
		var err error
		path, err = localstore.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolving local DB path: %w", err)
		}
	}
	store, err := localstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening local DB at %q: %w", path, err)
	}
	return store, nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
