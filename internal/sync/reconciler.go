package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/njoerd114/roomsync/internal/graph"
	"github.com/njoerd114/roomsync/internal/model"
	"github.com/njoerd114/roomsync/internal/retry"
)

// Status is the result class of one building's reconciliation.
type Status int

const (
	StatusSynced  Status = iota // stored rooms now match upstream
	StatusSkipped               // left as it was before the run, or partially written
)

func (s Status) String() string {
	switch s {
	case StatusSynced:
		return "synced"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Outcome reports what happened to one building during a run.
type Outcome struct {
	Building model.Building
	Status   Status

	// Attempts is the number of reconciliation attempts made.
	Attempts int

	RoomsStored      int // before the run
	RoomsFetched     int
	RoomsRemoved     int
	FavoritesDeleted int

	// Err is the last failure of a skipped building.
	Err error
}

// Reason returns a short description of why a building was skipped, or the
// empty string for a synced building.
func (o Outcome) Reason() string {
	if o.Status == StatusSynced || o.Err == nil {
		return ""
	}
	var apiErr *graph.APIError
	if errors.As(o.Err, &apiErr) {
		return fmt.Sprintf("upstream %d %s", apiErr.StatusCode, apiErr.Code)
	}
	return o.Err.Error()
}

// Reconciler replaces one building's stored rooms with the upstream list and
// deletes favourites of rooms that disappeared. It holds no state between
// buildings.
type Reconciler struct {
	upstream  Upstream
	rooms     RoomStore
	favorites FavoriteStore
	log       *slog.Logger
}

// NewReconciler creates a Reconciler wired to the given upstream and stores.
func NewReconciler(upstream Upstream, rooms RoomStore, favorites FavoriteStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{upstream: upstream, rooms: rooms, favorites: favorites, log: logger}
}

// Reconcile runs a single reconciliation attempt for b.
func (r *Reconciler) Reconcile(ctx context.Context, token string, b model.Building) (Outcome, error) {
	return r.begin(b).run(ctx, token)
}

// begin starts a reconciliation of b that may span several attempts.
func (r *Reconciler) begin(b model.Building) *pass {
	return &pass{r: r, building: b}
}

// pass is one building's reconciliation across retry attempts. The stored
// snapshot read by the first attempt is kept, so an attempt that follows a
// partial delete still diffs against the rooms stored before the pass began.
type pass struct {
	r        *Reconciler
	building model.Building

	stored  []model.Room
	loaded  bool
	deleted bool
}

func (p *pass) run(ctx context.Context, token string) (Outcome, error) {
	b := p.building
	log := p.r.log.With("building", b.Email)
	out := Outcome{Building: b, Status: StatusSkipped}

	// 1. Stored rooms.
	if !p.loaded {
		stored, err := p.r.rooms.Building(ctx, b.Email)
		if err != nil {
			return out, fmt.Errorf("reading stored rooms: %w", err)
		}
		p.stored = stored
		p.loaded = true
	}
	out.RoomsStored = len(p.stored)

	// 2. Upstream rooms. An error status leaves storage untouched.
	places, err := p.r.upstream.ListRooms(ctx, token, b.Email)
	if err != nil {
		return out, classifyUpstream(err)
	}
	fresh := make([]model.Room, 0, len(places))
	for _, pl := range places {
		fresh = append(fresh, model.RoomFromPlace(b, pl))
	}
	out.RoomsFetched = len(fresh)

	// 3. Drop everything stored for the building.
	if err := p.r.rooms.Delete(ctx, p.stored); err != nil {
		return out, fmt.Errorf("deleting stored rooms: %w", err)
	}
	p.deleted = true

	// 4. Write the fresh set.
	if err := p.r.rooms.Upsert(ctx, fresh); err != nil {
		return out, fmt.Errorf("storing fresh rooms: %w", err)
	}

	// 5. Rooms gone upstream. An empty upstream list removes every stored
	// room, since "no rooms" and a silent fetch anomaly look the same.
	if len(fresh) == 0 && len(p.stored) > 0 {
		log.Warn("upstream returned no rooms, treating all stored rooms as removed", "stored", len(p.stored))
	}
	removed := model.RemovedRoomEmails(p.stored, fresh)
	out.RoomsRemoved = len(removed)

	// 6. Cascade to favourites.
	if len(removed) > 0 {
		n, err := p.r.favorites.DeleteRemoved(ctx, removed, b.Email)
		out.FavoritesDeleted = n
		if err != nil {
			return out, fmt.Errorf("deleting favourites of removed rooms: %w", err)
		}
	}

	out.Status = StatusSynced
	log.Debug("building reconciled",
		"rooms_stored", out.RoomsStored,
		"rooms_fetched", out.RoomsFetched,
		"rooms_removed", out.RoomsRemoved,
		"favorites_deleted", out.FavoritesDeleted,
	)
	return out, nil
}

// restore writes the stored snapshot back after a pass that deleted it but
// never completed. Rooms written by the failed attempts stay.
func (p *pass) restore(ctx context.Context) error {
	if !p.deleted || len(p.stored) == 0 {
		return nil
	}
	if err := p.r.rooms.Upsert(ctx, p.stored); err != nil {
		return fmt.Errorf("restoring %d stored rooms: %w", len(p.stored), err)
	}
	p.r.log.Info("stored rooms restored after failed pass", "building", p.building.Email, "rooms", len(p.stored))
	return nil
}

// classifyUpstream marks client errors other than timeouts and throttling as
// permanent; retrying them cannot succeed within a run.
func classifyUpstream(err error) error {
	var apiErr *graph.APIError
	if errors.As(err, &apiErr) && !apiErr.Temporary() && apiErr.StatusCode < 500 {
		return retry.Permanent(err)
	}
	return err
}
