package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/njoerd114/roomsync/internal/graph"
	"github.com/njoerd114/roomsync/internal/model"
	"github.com/njoerd114/roomsync/internal/retry"
)

const (
	otelScope       = "roomsync/sync"
	spanRun         = "sync.run"
	spanBuilding    = "sync.building"
	metricRuns      = "roomsync.sync.runs"
	metricSynced    = "roomsync.sync.buildings.synced"
	metricSkipped   = "roomsync.sync.buildings.skipped"
	metricRemoved   = "roomsync.sync.rooms.removed"
	metricFavorites = "roomsync.sync.favorites.deleted"

	// DefaultBatchSize is the number of buildings reconciled concurrently.
	DefaultBatchSize = 10
)

// Whole-run aborts returned by [Orchestrator.Run]. Both leave storage
// untouched; the next scheduled run tries again.
var (
	ErrNoAccessToken = errors.New("sync: no access token")
	ErrNoBuildings   = errors.New("sync: no buildings returned")
)

// ErrEmptyToken accompanies [ErrNoAccessToken] when the identity provider
// answered but handed out an empty token. Retrying the run cannot fix it.
var ErrEmptyToken = errors.New("identity provider returned an empty access token")

// Options tunes an Orchestrator.
type Options struct {
	// BatchSize is the number of buildings reconciled concurrently. The next
	// batch starts only after every building of the current one is done.
	BatchSize int

	// Retry wraps each building's reconciliation and the building list fetch.
	Retry retry.Policy
}

// Report summarises a run.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration

	// Outcomes holds one entry per building in upstream order.
	Outcomes []Outcome

	// IndexedRooms is the room count after the search index refresh.
	IndexedRooms int

	// IndexErr is set when the index refresh failed. The run itself still
	// counts as complete.
	IndexErr error
}

// Synced returns the number of buildings reconciled successfully.
func (r Report) Synced() int { return r.count(StatusSynced) }

// Skipped returns the number of buildings given up on.
func (r Report) Skipped() int { return r.count(StatusSkipped) }

func (r Report) count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// RoomsRemoved returns the number of rooms that disappeared upstream.
// Like [Report.FavoritesDeleted] it counts synced buildings only: a skipped
// building gets its stored rooms back, and the run that completes it reports
// the removals.
func (r Report) RoomsRemoved() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == StatusSynced {
			n += o.RoomsRemoved
		}
	}
	return n
}

// FavoritesDeleted returns the number of favourites removed with them.
func (r Report) FavoritesDeleted() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == StatusSynced {
			n += o.FavoritesDeleted
		}
	}
	return n
}

// Orchestrator drives one complete synchronisation pass. Create one with
// [NewOrchestrator] and call [Orchestrator.Run] for each pass.
type Orchestrator struct {
	tokens     TokenSource
	upstream   Upstream
	reconciler *Reconciler
	index      IndexTrigger
	opts       Options
	log        *slog.Logger

	newRunID func() string

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer       trace.Tracer
	cntRuns      metric.Int64Counter
	cntSynced    metric.Int64Counter
	cntSkipped   metric.Int64Counter
	cntRemoved   metric.Int64Counter
	cntFavorites metric.Int64Counter
}

// NewOrchestrator creates an Orchestrator. A non-positive batch size selects
// [DefaultBatchSize].
func NewOrchestrator(tokens TokenSource, upstream Upstream, rooms RoomStore, favorites FavoriteStore, index IndexTrigger, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

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

	return &Orchestrator{
		tokens:     tokens,
		upstream:   upstream,
		reconciler: NewReconciler(upstream, rooms, favorites, logger),
		index:      index,
		opts:       opts,
		log:        logger,
		newRunID:   uuid.NewString,

		tracer:       tracer,
		cntRuns:      mustCounter(metricRuns, "Number of sync runs by result"),
		cntSynced:    mustCounter(metricSynced, "Number of buildings reconciled"),
		cntSkipped:   mustCounter(metricSkipped, "Number of buildings skipped after retries"),
		cntRemoved:   mustCounter(metricRemoved, "Number of rooms removed because they disappeared upstream"),
		cntFavorites: mustCounter(metricFavorites, "Number of favourites deleted for removed rooms"),
	}
}

// Run performs one synchronisation pass. It returns [ErrNoAccessToken] or
// [ErrNoBuildings] when the run is aborted before any building is touched.
// Individual building failures never fail the run; they are reported as
// skipped outcomes in the [Report].
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	rep := Report{RunID: o.newRunID(), Started: time.Now()}
	log := o.log.With("run_id", rep.RunID)

	ctx, span := o.tracer.Start(ctx, spanRun, trace.WithAttributes(attribute.String("sync.run_id", rep.RunID)))
	defer span.End()

	err := o.run(ctx, log, &rep)
	rep.Duration = time.Since(rep.Started)

	result := "completed"
	switch {
	case errors.Is(err, ErrNoAccessToken):
		result = "no_token"
	case errors.Is(err, ErrNoBuildings):
		result = "no_buildings"
	case err != nil:
		result = "cancelled"
	}
	o.cntRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		return rep, err
	}

	synced, skipped := rep.Synced(), rep.Skipped()
	o.cntSynced.Add(ctx, int64(synced))
	o.cntSkipped.Add(ctx, int64(skipped))
	o.cntRemoved.Add(ctx, int64(rep.RoomsRemoved()))
	o.cntFavorites.Add(ctx, int64(rep.FavoritesDeleted()))

	span.SetAttributes(
		attribute.Int("sync.buildings", len(rep.Outcomes)),
		attribute.Int("sync.synced", synced),
		attribute.Int("sync.skipped", skipped),
		attribute.Int("sync.rooms_removed", rep.RoomsRemoved()),
		attribute.Int("sync.favorites_deleted", rep.FavoritesDeleted()),
	)

	log.Info("sync run complete",
		"buildings", len(rep.Outcomes),
		"synced", synced,
		"skipped", skipped,
		"rooms_removed", rep.RoomsRemoved(),
		"favorites_deleted", rep.FavoritesDeleted(),
		"indexed_rooms", rep.IndexedRooms,
		"duration", rep.Duration,
	)
	return rep, nil
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, rep *Report) error {
	token, err := o.tokens.AccessToken(ctx)
	if err != nil {
		log.Error("acquiring access token failed, aborting run", "error", err)
		return fmt.Errorf("%w: %w", ErrNoAccessToken, err)
	}
	if token == "" {
		log.Error("identity provider returned an empty access token, aborting run")
		return fmt.Errorf("%w: %w", ErrNoAccessToken, ErrEmptyToken)
	}

	var buildings []model.Building
	_, err = o.opts.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		buildings, err = o.upstream.ListBuildings(ctx, token)
		return classifyUpstream(err)
	})
	if err != nil {
		log.Error("listing buildings failed, storage left untouched", append(errAttrs(err), "error", err)...)
		return fmt.Errorf("%w: %w", ErrNoBuildings, err)
	}
	if len(buildings) == 0 {
		log.Error("upstream returned no buildings, storage left untouched")
		return ErrNoBuildings
	}

	log.Info("sync run started", "buildings", len(buildings), "batch_size", o.opts.BatchSize)

	rep.Outcomes = make([]Outcome, len(buildings))
	for start := 0; start < len(buildings); start += o.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			for i := start; i < len(buildings); i++ {
				rep.Outcomes[i] = Outcome{Building: buildings[i], Status: StatusSkipped, Err: err}
			}
			return fmt.Errorf("sync run interrupted: %w", err)
		}

		end := min(start+o.opts.BatchSize, len(buildings))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				rep.Outcomes[i] = o.syncBuilding(ctx, log, buildings[i])
				return ctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			for i := end; i < len(buildings); i++ {
				rep.Outcomes[i] = Outcome{Building: buildings[i], Status: StatusSkipped, Err: err}
			}
			return fmt.Errorf("sync run interrupted: %w", err)
		}
	}

	n, err := o.index.Refresh(ctx)
	if err != nil {
		log.Error("refreshing search index failed", "error", err)
		rep.IndexErr = err
	}
	rep.IndexedRooms = n
	return nil
}

// syncBuilding reconciles one building under the retry policy. A fresh
// token is requested per attempt so a long run survives token expiry.
func (o *Orchestrator) syncBuilding(ctx context.Context, log *slog.Logger, b model.Building) Outcome {
	ctx, span := o.tracer.Start(ctx, spanBuilding, trace.WithAttributes(attribute.String("sync.building", b.Email)))
	defer span.End()

	p := o.reconciler.begin(b)
	var out Outcome
	attempts, err := o.opts.Retry.Do(ctx, func(ctx context.Context) error {
		token, err := o.tokens.AccessToken(ctx)
		if err != nil {
			return fmt.Errorf("refreshing access token: %w", err)
		}
		if token == "" {
			return errors.New("empty access token")
		}
		out, err = p.run(ctx, token)
		if err != nil {
			log.Debug("building attempt failed", "building", b.Email, "error", err)
		}
		return err
	})
	out.Building = b
	out.Attempts = attempts

	if err != nil {
		out.Status = StatusSkipped
		out.Err = err
		// Put the snapshot back so the next run diffs against it and still
		// sees the removals, including their favourites.
		if rerr := p.restore(context.WithoutCancel(ctx)); rerr != nil {
			log.Error("restoring stored rooms of skipped building failed",
				"building", b.Email, "rooms", len(p.stored), "error", rerr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "skipped")
		log.Warn("building skipped",
			append([]any{"building", b.Email, "attempts", attempts, "error", err}, errAttrs(err)...)...)
		return out
	}

	span.SetAttributes(
		attribute.Int("sync.rooms_fetched", out.RoomsFetched),
		attribute.Int("sync.rooms_removed", out.RoomsRemoved),
	)
	return out
}

// errAttrs returns the upstream error envelope fields of err, if any.
func errAttrs(err error) []any {
	var apiErr *graph.APIError
	if errors.As(err, &apiErr) {
		return apiErr.LogAttrs()
	}
	return nil
}
