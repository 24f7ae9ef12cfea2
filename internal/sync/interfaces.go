// Package sync mirrors the Graph room directory into local storage. It
// fetches the building list, reconciles each building's rooms against the
// stored copy, removes favourites that point at rooms which disappeared
// upstream, and finally rebuilds the search index.
//
// The package contains two main components:
//
//   - [Orchestrator] drives one complete run over all buildings in
//     batch-synchronous waves.
//   - [Reconciler] replaces the stored rooms of a single building and
//     cascades removals to favourites.
//
// The directory and favourites stores are updated without a shared
// transaction. A favourite can therefore point at a deleted room until the
// next successful run cleans it up.
package sync

import (
	"context"

	"github.com/njoerd114/roomsync/internal/model"
)

// Upstream lists buildings and rooms from the directory service.
// Implemented by [graph.Places].
type Upstream interface {
	ListBuildings(ctx context.Context, token string) ([]model.Building, error)
	ListRooms(ctx context.Context, token, buildingEmail string) ([]model.Place, error)
}

// TokenSource hands out application access tokens.
// Implemented by [graph.AppTokenSource].
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// RoomStore is the room directory, partitioned by building email.
// Implemented by [store.Directory].
type RoomStore interface {
	Building(ctx context.Context, buildingEmail string) ([]model.Room, error)
	Upsert(ctx context.Context, rooms []model.Room) error
	Delete(ctx context.Context, rooms []model.Room) error
}

// FavoriteStore removes favourites of rooms that no longer exist.
// Implemented by [store.Favorites].
type FavoriteStore interface {
	DeleteRemoved(ctx context.Context, roomEmails []string, buildingEmail string) (int, error)
}

// IndexTrigger rebuilds the room search index after a run.
// Implemented by [search.Index].
type IndexTrigger interface {
	Refresh(ctx context.Context) (int, error)
}
