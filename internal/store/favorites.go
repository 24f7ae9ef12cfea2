package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/njoerd114/roomsync/internal/model"
)

const favoriteColumns = `user_id, room_email, room_name, building_name, building_email`

// Favorites holds users' saved rooms, partitioned by user ID.
type Favorites struct {
	s *Store
}

// Get returns a user's favourites. With a non-empty roomEmail the result is
// narrowed to that room (zero or one entry).
func (f *Favorites) Get(ctx context.Context, userID, roomEmail string) ([]model.FavoriteRoom, error) {
	if roomEmail != "" {
		const q = `SELECT ` + favoriteColumns + ` FROM favorite_rooms WHERE user_id = ? AND room_email = ?`
		favs, _, err := f.queryPage(ctx, q, userID, roomEmail)
		if err != nil {
			return nil, fmt.Errorf("reading favourite %q for user %q: %w", roomEmail, userID, err)
		}
		return favs, nil
	}

	favs, err := readAll(ctx, f.s.pageSize, func(ctx context.Context, c cursor, limit int) ([]model.FavoriteRoom, cursor, error) {
		const q = `SELECT ` + favoriteColumns + ` FROM favorite_rooms
			WHERE user_id = ? AND room_email > ?
			ORDER BY room_email LIMIT ?`
		return f.queryPage(ctx, q, userID, c.row, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("reading favourites for user %q: %w", userID, err)
	}
	return favs, nil
}

// Add saves a favourite, replacing any existing entry for the same room, and
// returns the user's updated list.
func (f *Favorites) Add(ctx context.Context, fav model.FavoriteRoom) ([]model.FavoriteRoom, error) {
	if err := f.AddBatch(ctx, []model.FavoriteRoom{fav}); err != nil {
		return nil, err
	}
	return f.Get(ctx, fav.UserID, "")
}

// AddBatch saves favourites in batches, replacing existing entries.
func (f *Favorites) AddBatch(ctx context.Context, favs []model.FavoriteRoom) error {
	const q = `
		INSERT INTO favorite_rooms (` + favoriteColumns + `)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, room_email) DO UPDATE SET
		    room_name      = excluded.room_name,
		    building_name  = excluded.building_name,
		    building_email = excluded.building_email`

	_, err := inBatches(ctx, f.s, "favorite_rooms", favs, func(ctx context.Context, tx *sql.Tx, chunk []model.FavoriteRoom) error {
		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, fav := range chunk {
			if _, err := stmt.ExecContext(ctx,
				fav.UserID, fav.RoomEmail, fav.RoomName, fav.BuildingName, fav.BuildingEmail,
			); err != nil {
				return fmt.Errorf("saving favourite %q for user %q: %w", fav.RoomEmail, fav.UserID, err)
			}
		}
		return nil
	})
	return err
}

// DeleteAll removes every favourite of a user and returns how many were
// removed.
func (f *Favorites) DeleteAll(ctx context.Context, userID string) (int, error) {
	favs, err := f.Get(ctx, userID, "")
	if err != nil {
		return 0, err
	}
	n, err := f.delete(ctx, favs)
	if err != nil {
		return n, fmt.Errorf("deleting favourites for user %q: %w", userID, err)
	}
	return n, nil
}

// DeleteRemoved deletes every favourite, across all users, that points at one
// of roomEmails in the given building. Favourites of other buildings are never
// touched. It returns the number of favourites deleted.
func (f *Favorites) DeleteRemoved(ctx context.Context, roomEmails []string, buildingEmail string) (int, error) {
	if len(roomEmails) == 0 {
		return 0, nil
	}

	removed := make(map[string]struct{}, len(roomEmails))
	for _, e := range roomEmails {
		removed[model.NormalizeEmail(e)] = struct{}{}
	}

	inBuilding, err := f.byBuilding(ctx, buildingEmail)
	if err != nil {
		return 0, err
	}

	var doomed []model.FavoriteRoom
	for _, fav := range inBuilding {
		if _, ok := removed[model.NormalizeEmail(fav.RoomEmail)]; ok {
			doomed = append(doomed, fav)
		}
	}

	n, err := f.delete(ctx, doomed)
	if err != nil {
		return n, fmt.Errorf("deleting removed favourites for building %q: %w", buildingEmail, err)
	}
	return n, nil
}

// byBuilding returns every favourite whose room belongs to buildingEmail.
func (f *Favorites) byBuilding(ctx context.Context, buildingEmail string) ([]model.FavoriteRoom, error) {
	favs, err := readAll(ctx, f.s.pageSize, func(ctx context.Context, c cursor, limit int) ([]model.FavoriteRoom, cursor, error) {
		const q = `SELECT ` + favoriteColumns + ` FROM favorite_rooms
			WHERE building_email = ? AND (user_id, room_email) > (?, ?)
			ORDER BY user_id, room_email LIMIT ?`
		return f.queryPage(ctx, q, buildingEmail, c.partition, c.row, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("reading favourites for building %q: %w", buildingEmail, err)
	}
	return favs, nil
}

func (f *Favorites) delete(ctx context.Context, favs []model.FavoriteRoom) (int, error) {
	const q = `DELETE FROM favorite_rooms WHERE user_id = ? AND room_email = ?`

	return inBatches(ctx, f.s, "favorite_rooms", favs, func(ctx context.Context, tx *sql.Tx, chunk []model.FavoriteRoom) error {
		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, fav := range chunk {
			if _, err := stmt.ExecContext(ctx, fav.UserID, fav.RoomEmail); err != nil {
				return fmt.Errorf("deleting favourite %q for user %q: %w", fav.RoomEmail, fav.UserID, err)
			}
		}
		return nil
	})
}

func (f *Favorites) queryPage(ctx context.Context, q string, args ...any) ([]model.FavoriteRoom, cursor, error) {
	rows, err := f.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, cursor{}, err
	}
	defer func() { _ = rows.Close() }()

	favs := []model.FavoriteRoom{}
	for rows.Next() {
		var fav model.FavoriteRoom
		if err := rows.Scan(&fav.UserID, &fav.RoomEmail, &fav.RoomName, &fav.BuildingName, &fav.BuildingEmail); err != nil {
			return nil, cursor{}, err
		}
		favs = append(favs, fav)
	}
	if err := rows.Err(); err != nil {
		return nil, cursor{}, err
	}

	var next cursor
	if n := len(favs); n > 0 {
		next = cursor{partition: favs[n-1].UserID, row: favs[n-1].RoomEmail}
	}
	return favs, next, nil
}
