// Package store manages the SQLite database holding the room directory and
// users' favourite rooms.
//
// Only this package may open or query the directory database. Other packages
// receive a [*Directory] or [*Favorites] and call their methods.
//
// Batch mutations are split into chunks of at most [MaxBatchSize] items and
// each chunk is applied in its own transaction. A failing chunk aborts the
// remaining ones and its error is returned. Reads page through the tables
// with keyset cursors and always return the complete result.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// MaxBatchSize is the largest number of items written in one atomic batch.
	MaxBatchSize = 100

	defaultPageSize = 500
)

// ErrNotFound is returned when a single requested record does not exist.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
    building_email TEXT    NOT NULL COLLATE NOCASE,
    room_email     TEXT    NOT NULL COLLATE NOCASE,
    room_key       TEXT    NOT NULL DEFAULT '',
    room_name      TEXT    NOT NULL DEFAULT '',
    building_name  TEXT    NOT NULL DEFAULT '',
    deleted        INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (building_email, room_email)
);

CREATE INDEX IF NOT EXISTS idx_rooms_key ON rooms (room_key) WHERE room_key != '';

CREATE TABLE IF NOT EXISTS favorite_rooms (
    user_id        TEXT NOT NULL,
    room_email     TEXT NOT NULL COLLATE NOCASE,
    room_name      TEXT NOT NULL DEFAULT '',
    building_name  TEXT NOT NULL DEFAULT '',
    building_email TEXT NOT NULL DEFAULT '' COLLATE NOCASE,
    PRIMARY KEY (user_id, room_email)
);

CREATE INDEX IF NOT EXISTS idx_favorite_rooms_building ON favorite_rooms (building_email);
`

// Options tunes batching and paging. Zero values select defaults.
type Options struct {
	// BatchSize caps items per write transaction. Values above MaxBatchSize
	// are clamped.
	BatchSize int

	// PageSize is the number of rows fetched per read page.
	PageSize int
}

// Store owns the database handle shared by [Directory] and [Favorites].
type Store struct {
	db        *sql.DB
	batchSize int
	pageSize  int

	// onBatch, when set, observes every committed write batch.
	onBatch func(table string, size int)
}

// DefaultDBPath returns the default path for the directory database:
// ~/.local/share/roomsync/rooms.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "roomsync", "rooms.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode.
func Open(path string, opts Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL. Concurrent building
	// reconciliations queue on this connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	s := &Store{db: db, batchSize: opts.BatchSize, pageSize: opts.PageSize}
	if s.batchSize <= 0 || s.batchSize > MaxBatchSize {
		s.batchSize = MaxBatchSize
	}
	if s.pageSize <= 0 {
		s.pageSize = defaultPageSize
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Directory returns the room directory backed by this store.
func (s *Store) Directory() *Directory {
	return &Directory{s: s}
}

// Favorites returns the favourites table backed by this store.
func (s *Store) Favorites() *Favorites {
	return &Favorites{s: s}
}

// inBatches applies fn to consecutive chunks of items, one transaction per
// chunk. It stops at the first failing chunk and returns the number of items
// committed before it.
func inBatches[T any](ctx context.Context, s *Store, table string, items []T, fn func(ctx context.Context, tx *sql.Tx, chunk []T) error) (int, error) {
	committed := 0
	for start := 0; start < len(items); start += s.batchSize {
		end := min(start+s.batchSize, len(items))
		chunk := items[start:end]

		if err := withTx(ctx, s.db, func(tx *sql.Tx) error {
			return fn(ctx, tx, chunk)
		}); err != nil {
			return committed, fmt.Errorf("%s batch %d-%d of %d: %w", table, start, end, len(items), err)
		}

		committed += len(chunk)
		if s.onBatch != nil {
			s.onBatch(table, len(chunk))
		}
	}
	return committed, nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// cursor is a keyset continuation token: the (partition, row) key of the last
// row returned. The zero cursor starts from the beginning.
type cursor struct {
	partition string
	row       string
}

// pageFunc reads one page after c and returns the rows and the cursor for the
// next page.
type pageFunc[T any] func(ctx context.Context, c cursor, limit int) (rows []T, next cursor, err error)

// readAll follows continuation cursors until a short page is returned.
func readAll[T any](ctx context.Context, pageSize int, page pageFunc[T]) ([]T, error) {
	all := []T{}
	var c cursor
	for {
		rows, next, err := page(ctx, c, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
		if len(rows) < pageSize {
			return all, nil
		}
		c = next
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
