//go:build sqlite_fts5

package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"github.com/njoerd114/roomsync/internal/model"
)

func initFTS(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS room_fts USING fts5(
			building_email UNINDEXED,
			room_email UNINDEXED,
			room_key UNINDEXED,
			room_name,
			building_name,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsReset(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM room_fts`); err != nil {
		return fmt.Errorf("search: clearing fts: %w", err)
	}
	return nil
}

func ftsInsert(ctx context.Context, tx *sql.Tx, r model.Room) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO room_fts (building_email, room_email, room_key, room_name, building_name) VALUES (?, ?, ?, ?, ?)`,
		r.BuildingEmail, r.RoomEmail, r.Key, r.RoomName, r.BuildingName)
	if err != nil {
		return fmt.Errorf("search: fts insert %q: %w", r.RoomEmail, err)
	}
	return nil
}

// matchExpr turns terms into an FTS5 query where every word must match as a
// token prefix. Words are split the way unicode61 splits them and quoted, so
// FTS5 operators in user input stay literal.
func matchExpr(terms []string) string {
	var quoted []string
	for _, t := range terms {
		words := strings.FieldsFunc(t, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		for _, w := range words {
			quoted = append(quoted, `"`+w+`"*`)
		}
	}
	return strings.Join(quoted, " ")
}

func searchTerms(ctx context.Context, db *sql.DB, terms []string, limit int) ([]model.Room, error) {
	expr := matchExpr(terms)
	if expr == "" {
		return []model.Room{}, nil
	}
	rows, err := db.QueryContext(ctx, `
		SELECT building_email, room_email, room_key, room_name, building_name
		FROM room_fts
		WHERE room_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, expr, limit)
	if err != nil {
		return nil, err
	}
	return scanRooms(rows)
}
