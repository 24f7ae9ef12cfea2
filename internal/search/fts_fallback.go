//go:build !sqlite_fts5

package search

import (
	"context"
	"database/sql"
	"strings"

	"github.com/njoerd114/roomsync/internal/model"
)

// FTS5 not compiled in; searches run LIKE over room_index.
func initFTS(_ *sql.DB) error { return nil }

func ftsReset(_ context.Context, _ *sql.Tx) error { return nil }

func ftsInsert(_ context.Context, _ *sql.Tx, _ model.Room) error { return nil }

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// searchTerms requires every term to prefix a word of the room name or the
// building name.
func searchTerms(ctx context.Context, db *sql.DB, terms []string, limit int) ([]model.Room, error) {
	var (
		where []string
		args  []any
	)
	for _, t := range terms {
		esc := likeEscaper.Replace(t)
		where = append(where, `(room_name LIKE ? ESCAPE '\' OR room_name LIKE ? ESCAPE '\'
			OR building_name LIKE ? ESCAPE '\' OR building_name LIKE ? ESCAPE '\')`)
		args = append(args, esc+"%", "% "+esc+"%", esc+"%", "% "+esc+"%")
	}
	args = append(args, limit)

	q := `SELECT building_email, room_email, room_key, room_name, building_name
		FROM room_index
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY room_name, room_email
		LIMIT ?`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanRooms(rows)
}
