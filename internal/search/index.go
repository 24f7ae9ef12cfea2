// Package search maintains a local room search index. The index is rebuilt
// from the room directory after every sync run and answers prefix queries
// on room and building names. Built with -tags sqlite_fts5 it uses an FTS5
// virtual table; otherwise it falls back to LIKE matching.
package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/njoerd114/roomsync/internal/model"
)

// DefaultLimit is used when a search is issued without a positive limit.
const DefaultLimit = 20

const schema = `
CREATE TABLE IF NOT EXISTS room_index (
    building_email TEXT NOT NULL COLLATE NOCASE,
    room_email     TEXT NOT NULL COLLATE NOCASE,
    room_key       TEXT NOT NULL DEFAULT '',
    room_name      TEXT NOT NULL DEFAULT '',
    building_name  TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (building_email, room_email)
);

CREATE TABLE IF NOT EXISTS index_state (
    id           INTEGER PRIMARY KEY CHECK (id = 1),
    refreshed_at TEXT    NOT NULL,
    rooms        INTEGER NOT NULL
);
`

// Source is the room directory the index is built from.
type Source interface {
	All(ctx context.Context) ([]model.Room, error)
	FirstN(ctx context.Context, n int) ([]model.Room, error)
}

// Index is the SQLite-backed room search index.
type Index struct {
	db  *sql.DB
	src Source
	log *slog.Logger
	now func() time.Time
}

// DefaultPath returns the default index location:
// ~/.local/share/roomsync/search.db
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "roomsync", "search.db"), nil
}

// Open opens (or creates) the index database at path.
func Open(path string, src Source, logger *slog.Logger) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("search: creating index directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("search: open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("search: apply schema: %w", err)
	}
	if err := initFTS(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("search: apply fts schema: %w", err)
	}
	return &Index{db: db, src: src, log: logger, now: time.Now}, nil
}

// Close closes the index database.
func (x *Index) Close() error {
	return x.db.Close()
}

// Refresh rebuilds the index from the directory. The old contents are
// dropped and the new ones written in a single transaction, so searches see
// either the previous or the new index, never a mix. Soft-deleted rooms are
// not indexed. It returns the number of rooms indexed.
func (x *Index) Refresh(ctx context.Context) (int, error) {
	start := time.Now()

	rooms, err := x.src.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("search: reading directory: %w", err)
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("search: begin refresh: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM room_index`); err != nil {
		return 0, fmt.Errorf("search: clearing index: %w", err)
	}
	if err := ftsReset(ctx, tx); err != nil {
		return 0, err
	}

	const ins = `INSERT OR REPLACE INTO room_index
		(building_email, room_email, room_key, room_name, building_name)
		VALUES (?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, ins)
	if err != nil {
		return 0, fmt.Errorf("search: prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	indexed := 0
	for _, r := range rooms {
		if r.Deleted {
			continue
		}
		if _, err := stmt.ExecContext(ctx, r.BuildingEmail, r.RoomEmail, r.Key, r.RoomName, r.BuildingName); err != nil {
			return 0, fmt.Errorf("search: indexing room %q: %w", r.RoomEmail, err)
		}
		if err := ftsInsert(ctx, tx, r); err != nil {
			return 0, err
		}
		indexed++
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO index_state (id, refreshed_at, rooms) VALUES (1, ?, ?)`,
		x.now().UTC().Format(time.RFC3339), indexed,
	); err != nil {
		return 0, fmt.Errorf("search: recording refresh: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("search: commit refresh: %w", err)
	}

	x.log.Info("search index refreshed",
		"rooms", indexed,
		"skipped_deleted", len(rooms)-indexed,
		"duration", time.Since(start),
	)
	return indexed, nil
}

// LastRefresh returns when the index was last rebuilt and how many rooms it
// holds. A never-refreshed index returns the zero time.
func (x *Index) LastRefresh(ctx context.Context) (time.Time, int, error) {
	var (
		at    string
		rooms int
	)
	err := x.db.QueryRowContext(ctx, `SELECT refreshed_at, rooms FROM index_state WHERE id = 1`).Scan(&at, &rooms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, 0, nil
	}
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("search: reading index state: %w", err)
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("search: parsing refresh time %q: %w", at, err)
	}
	return t, rooms, nil
}

// Search returns rooms whose name or building name has a word starting with
// each query term. An empty query returns the first live rooms of the
// directory instead.
func (x *Index) Search(ctx context.Context, query string, limit int) ([]model.Room, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	terms := strings.Fields(query)
	if len(terms) == 0 {
		rooms, err := x.src.FirstN(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("search: listing rooms: %w", err)
		}
		return rooms, nil
	}

	rooms, err := searchTerms(ctx, x.db, terms, limit)
	if err != nil {
		return nil, fmt.Errorf("search: query %q: %w", query, err)
	}
	return rooms, nil
}

func scanRooms(rows *sql.Rows) ([]model.Room, error) {
	defer func() { _ = rows.Close() }()

	out := []model.Room{}
	for rows.Next() {
		var r model.Room
		if err := rows.Scan(&r.BuildingEmail, &r.RoomEmail, &r.Key, &r.RoomName, &r.BuildingName); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
