package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/syncbridge/syncbridge/internal/mapping"
	"github.com/syncbridge/syncbridge/internal/model"
)

const (
	otelScope        = "syncbridge/engine"
	spanRun          = "engine.run"
	spanPair         = "engine.pair"
	metricCreated    = "syncbridge.sync.items.created"
	metricUpdated    = "syncbridge.sync.items.updated"
	metricDeleted    = "syncbridge.sync.items.deleted"
	metricSkipped    = "syncbridge.sync.items.skipped"
	metricErrors     = "syncbridge.sync.errors"
	metricGuardTrips = "syncbridge.sync.guard_trips"
)

// defaultMaxParallel bounds the per-pair worker pool when the caller does not
// set one. Pairs have disjoint mapping keys, so this is safe within a run.
const defaultMaxParallel = 4

// Params are the caller-supplied knobs for one engine invocation.
type Params struct {
	// Pairs is the resolved set of container pairs to process.
	Pairs []model.ContainerPair

	// SkipDeletions neutralises every deletion into a no-op.
	SkipDeletions bool

	// DeletionThreshold trips the guard when a pair's planned deletions
	// exceed it. [ThresholdDisabled] (-1) turns the guard off.
	DeletionThreshold int

	// Simulate computes and reports plans without applying anything.
	Simulate bool

	// MaxParallel bounds concurrent container pairs. 0 means the default.
	MaxParallel int

	// Progress, if non-nil, is called after each applied item.
	Progress ProgressFunc
}

// Summary is the aggregate outcome of one engine invocation.
type Summary struct {
	Results  []Result
	Totals   Totals
	Duration time.Duration
}

// Engine runs the reconciliation pipeline (diff → guard → execute/simulate)
// across container pairs. It is stateless between invocations — all
// persistent state lives in the [MappingStore]. Two invocations for the same
// service must not run concurrently; the caller holds that lock.
type Engine struct {
	local  Adapter
	remote Adapter
	store  MappingStore
	log    *slog.Logger

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer        trace.Tracer
	cntCreated    metric.Int64Counter
	cntUpdated    metric.Int64Counter
	cntDeleted    metric.Int64Counter
	cntSkipped    metric.Int64Counter
	cntErrors     metric.Int64Counter
	cntGuardTrips metric.Int64Counter
}

// New creates an Engine wired to the given adapters and mapping store.
func New(local, remote Adapter, store MappingStore, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		local:  local,
		remote: remote,
		store:  store,
		log:    logger,

		tracer:        tracer,
		cntCreated:    mustCounter(metricCreated, "Number of items created during sync"),
		cntUpdated:    mustCounter(metricUpdated, "Number of items updated during sync"),
		cntDeleted:    mustCounter(metricDeleted, "Number of items deleted during sync"),
		cntSkipped:    mustCounter(metricSkipped, "Number of deletions neutralised by skip-deletions"),
		cntErrors:     mustCounter(metricErrors, "Number of per-item errors during sync"),
		cntGuardTrips: mustCounter(metricGuardTrips, "Number of container pairs discarded by the deletion guard"),
	}
}

// Run processes every container pair in params, bounded by MaxParallel, and
// returns the per-pair results plus aggregate totals. Per-pair failures are
// collected into their Result; Run itself returns an error only when the
// context is cancelled. Work already applied stays applied.
func (e *Engine) Run(ctx context.Context, params Params) (*Summary, error) {
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, spanRun)
	defer span.End()

	limit := params.MaxParallel
	if limit <= 0 {
		limit = defaultMaxParallel
	}

	results := make([]Result, len(params.Pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, pair := range params.Pairs {
		g.Go(func() error {
			res := e.syncPair(gctx, pair, params)
			results[i] = res
			return gctx.Err()
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
	}

	totals := Sum(results)
	span.SetAttributes(
		attribute.Int("sync.pairs", totals.Pairs),
		attribute.Int("sync.created", totals.CreateRemote+totals.CreateLocal),
		attribute.Int("sync.updated", totals.Update),
		attribute.Int("sync.deleted", totals.DeleteRemote+totals.DeleteLocal),
		attribute.Int("sync.errors", totals.Errors),
		attribute.Int("sync.guard_trips", totals.GuardTrips),
	)

	e.log.Info("run complete",
		"pairs", totals.Pairs,
		"created", totals.CreateRemote+totals.CreateLocal,
		"updated", totals.Update,
		"deleted", totals.DeleteRemote+totals.DeleteLocal,
		"unchanged", totals.Unchanged,
		"skipped", totals.Skipped,
		"errors", totals.Errors,
		"guard_trips", totals.GuardTrips,
		"simulated", params.Simulate,
	)

	return &Summary{
		Results:  results,
		Totals:   totals,
		Duration: time.Since(start),
	}, err
}

// syncPair runs diff → guard → execute (or simulate) for a single container
// pair. Every failure is recorded in the returned Result; the pair is
// abandoned on the first mapping-store error since progress can no longer be
// tracked safely.
func (e *Engine) syncPair(ctx context.Context, pair model.ContainerPair, params Params) Result {
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, spanPair,
		trace.WithAttributes(attribute.String("sync.pair", pair.String())))
	defer span.End()

	res := e.doPair(ctx, pair, params)
	res.Duration = time.Since(start)

	e.record(ctx, res)
	for _, err := range res.Errors {
		span.RecordError(err)
	}
	return res
}

func (e *Engine) doPair(ctx context.Context, pair model.ContainerPair, params Params) Result {
	e.log.Debug("reconciling pair", "pair", pair.String(), "simulate", params.Simulate)

	// Containers the resolver flagged as missing are created up front. An
	// adapter that cannot create one skips the pair, not the run.
	if pair.CreateLocal {
		if err := e.local.EnsureContainer(ctx, pair.Local); err != nil {
			cerr := &ContainerMappingError{Pair: pair, Side: SideLocal, Err: err}
			e.log.Error("container pair skipped", "pair", pair.String(), "error", cerr)
			return Result{Pair: pair, Simulated: params.Simulate, Errors: []error{cerr}}
		}
	}
	if pair.CreateRemote {
		if err := e.remote.EnsureContainer(ctx, pair.Remote); err != nil {
			cerr := &ContainerMappingError{Pair: pair, Side: SideRemote, Err: err}
			e.log.Error("container pair skipped", "pair", pair.String(), "error", cerr)
			return Result{Pair: pair, Simulated: params.Simulate, Errors: []error{cerr}}
		}
	}

	localItems, err := e.local.List(ctx, pair.Local)
	if err != nil {
		return Result{Pair: pair, Simulated: params.Simulate,
			Errors: []error{&AdapterError{Side: SideLocal, Op: "list", Label: pair.Local, Err: err}}}
	}
	remoteItems, err := e.remote.List(ctx, pair.Remote)
	if err != nil {
		return Result{Pair: pair, Simulated: params.Simulate,
			Errors: []error{&AdapterError{Side: SideRemote, Op: "list", Label: pair.Remote, Err: err}}}
	}

	mappings, err := e.store.ListAll(ctx, pair)
	if err != nil {
		e.log.Error("mapping store failure, pair aborted", "pair", pair.String(), "error", err)
		return Result{Pair: pair, Simulated: params.Simulate, Errors: []error{err}}
	}

	plan := BuildPlan(pair, localItems, remoteItems, mappings, params.SkipDeletions)

	if guardTripped(plan, params.DeletionThreshold) {
		res := resultFromPlan(plan)
		res.GuardTripped = true
		res.Simulated = params.Simulate
		e.log.Warn("deletion guard tripped, plan discarded",
			"pair", pair.String(),
			"delete_local", res.DeleteLocal,
			"delete_remote", res.DeleteRemote,
			"threshold", params.DeletionThreshold,
		)
		return res
	}

	if params.Simulate {
		return Simulate(plan)
	}

	exec := NewExecutor(e.local, e.remote, e.store, e.log, params.Progress)
	res, err := exec.Apply(ctx, plan)
	if err != nil && !errors.Is(err, context.Canceled) {
		// Mapping store failure: the pair is abandoned mid-plan.
		e.log.Error("mapping store failure, pair aborted", "pair", pair.String(), "error", err)
		res.Errors = append(res.Errors, err)
	}
	return res
}

// record pushes one pair's counters. Counter adds are safe on no-op
// instruments, but skipping zeros keeps exported series sparse.
func (e *Engine) record(ctx context.Context, res Result) {
	if res.Simulated {
		return
	}
	if res.GuardTripped {
		// Nothing was applied; only the trip itself is worth counting.
		e.cntGuardTrips.Add(ctx, 1)
		return
	}
	if n := res.CreateRemote + res.CreateLocal; n > 0 {
		e.cntCreated.Add(ctx, int64(n))
	}
	if res.Update > 0 {
		e.cntUpdated.Add(ctx, int64(res.Update))
	}
	if n := res.DeleteRemote + res.DeleteLocal; n > 0 {
		e.cntDeleted.Add(ctx, int64(n))
	}
	if res.Skipped > 0 {
		e.cntSkipped.Add(ctx, int64(res.Skipped))
	}
	if len(res.Errors) > 0 {
		e.cntErrors.Add(ctx, int64(len(res.Errors)))
	}
}

// Ensure mapping.Store keeps satisfying the interface the engine depends on.
var _ MappingStore = (*mapping.Store)(nil)
