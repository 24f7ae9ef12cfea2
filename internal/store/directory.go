package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/njoerd114/roomsync/internal/model"
)

const roomColumns = `building_email, room_email, room_key, room_name, building_name, deleted`

// Directory is the room directory, partitioned by building email.
type Directory struct {
	s *Store
}

// Building returns every stored room of one building, including soft-deleted
// ones. An unknown building yields an empty slice.
func (d *Directory) Building(ctx context.Context, buildingEmail string) ([]model.Room, error) {
	rooms, err := readAll(ctx, d.s.pageSize, func(ctx context.Context, c cursor, limit int) ([]model.Room, cursor, error) {
		const q = `SELECT ` + roomColumns + ` FROM rooms
			WHERE building_email = ? AND room_email > ?
			ORDER BY room_email LIMIT ?`
		return d.queryPage(ctx, q, buildingEmail, c.row, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("reading rooms for building %q: %w", buildingEmail, err)
	}
	return rooms, nil
}

// All returns every stored room ordered by building then room.
func (d *Directory) All(ctx context.Context) ([]model.Room, error) {
	rooms, err := readAll(ctx, d.s.pageSize, func(ctx context.Context, c cursor, limit int) ([]model.Room, cursor, error) {
		const q = `SELECT ` + roomColumns + ` FROM rooms
			WHERE (building_email, room_email) > (?, ?)
			ORDER BY building_email, room_email LIMIT ?`
		return d.queryPage(ctx, q, c.partition, c.row, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("reading all rooms: %w", err)
	}
	return rooms, nil
}

// FirstN returns up to n live rooms. Soft-deleted rooms are skipped.
func (d *Directory) FirstN(ctx context.Context, n int) ([]model.Room, error) {
	if n <= 0 {
		return []model.Room{}, nil
	}
	const q = `SELECT ` + roomColumns + ` FROM rooms
		WHERE deleted = 0
		ORDER BY building_email, room_email LIMIT ?`
	rooms, _, err := d.queryPage(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("reading first %d rooms: %w", n, err)
	}
	return rooms, nil
}

// Get returns one room, or [ErrNotFound].
func (d *Directory) Get(ctx context.Context, buildingEmail, roomEmail string) (model.Room, error) {
	const q = `SELECT ` + roomColumns + ` FROM rooms WHERE building_email = ? AND room_email = ?`
	r, err := scanRoom(d.s.db.QueryRowContext(ctx, q, buildingEmail, roomEmail))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Room{}, ErrNotFound
	}
	if err != nil {
		return model.Room{}, fmt.Errorf("reading room %q: %w", roomEmail, err)
	}
	return r, nil
}

// Upsert inserts or wholly replaces rooms in batches.
func (d *Directory) Upsert(ctx context.Context, rooms []model.Room) error {
	const q = `
		INSERT INTO rooms (` + roomColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(building_email, room_email) DO UPDATE SET
		    room_key      = excluded.room_key,
		    room_name     = excluded.room_name,
		    building_name = excluded.building_name,
		    deleted       = excluded.deleted`

	_, err := inBatches(ctx, d.s, "rooms", rooms, func(ctx context.Context, tx *sql.Tx, chunk []model.Room) error {
		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, r := range chunk {
			if _, err := stmt.ExecContext(ctx,
				r.BuildingEmail, r.RoomEmail, r.Key, r.RoomName, r.BuildingName, boolToInt(r.Deleted),
			); err != nil {
				return fmt.Errorf("upserting room %q: %w", r.RoomEmail, err)
			}
		}
		return nil
	})
	return err
}

// Delete removes rooms by their (building, room) key in batches. Rooms that
// are not stored are ignored.
func (d *Directory) Delete(ctx context.Context, rooms []model.Room) error {
	const q = `DELETE FROM rooms WHERE building_email = ? AND room_email = ?`

	_, err := inBatches(ctx, d.s, "rooms", rooms, func(ctx context.Context, tx *sql.Tx, chunk []model.Room) error {
		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, r := range chunk {
			if _, err := stmt.ExecContext(ctx, r.BuildingEmail, r.RoomEmail); err != nil {
				return fmt.Errorf("deleting room %q: %w", r.RoomEmail, err)
			}
		}
		return nil
	})
	return err
}

// IsEmpty reports whether no rooms are stored. Used to detect a first run.
func (d *Directory) IsEmpty(ctx context.Context) (bool, error) {
	var exists int
	err := d.s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM rooms)`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking if directory is empty: %w", err)
	}
	return exists == 0, nil
}

func (d *Directory) queryPage(ctx context.Context, q string, args ...any) ([]model.Room, cursor, error) {
	rows, err := d.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, cursor{}, err
	}
	defer func() { _ = rows.Close() }()

	rooms := []model.Room{}
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, cursor{}, err
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, cursor{}, err
	}

	var next cursor
	if n := len(rooms); n > 0 {
		next = cursor{partition: rooms[n-1].BuildingEmail, row: rooms[n-1].RoomEmail}
	}
	return rooms, next, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(sc scanner) (model.Room, error) {
	var (
		r       model.Room
		deleted int
	)
	if err := sc.Scan(&r.BuildingEmail, &r.RoomEmail, &r.Key, &r.RoomName, &r.BuildingName, &deleted); err != nil {
		return model.Room{}, err
	}
	r.Deleted = deleted != 0
	return r, nil
}
