package search

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/njoerd114/roomsync/internal/model"
)

type fakeSource struct {
	mu     sync.Mutex
	rooms  []model.Room
	err    error
	firstN int
}

func (f *fakeSource) All(_ context.Context) ([]model.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]model.Room(nil), f.rooms...), nil
}

func (f *fakeSource) FirstN(_ context.Context, n int) ([]model.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.firstN = n
	var out []model.Room
	for _, r := range f.rooms {
		if r.Deleted {
			continue
		}
		if len(out) == n {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeSource) set(rooms ...model.Room) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = rooms
}

func room(building, buildingName, email, name string) model.Room {
	return model.Room{BuildingEmail: building, BuildingName: buildingName, RoomEmail: email, RoomName: name, Key: "id-" + email}
}

func openTestIndex(t *testing.T, src Source) *Index {
	t.Helper()
	x, err := Open(filepath.Join(t.TempDir(), "search.db"), src, slog.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = x.Close() })
	return x
}

func sampleRooms() []model.Room {
	return []model.Room{
		room("hq@x.com", "Headquarters", "conf-a@x.com", "Conference Room A"),
		room("hq@x.com", "Headquarters", "focus-1@x.com", "Focus Booth 1"),
		room("annex@x.com", "Annex", "board@x.com", "Boardroom"),
		room("annex@x.com", "Annex", "conf-b@x.com", "Conference Room B"),
	}
}

func TestRefresh_IndexesLiveRooms(t *testing.T) {
	rooms := sampleRooms()
	rooms = append(rooms, model.Room{BuildingEmail: "hq@x.com", RoomEmail: "gone@x.com", RoomName: "Conference Gone", Deleted: true})
	src := &fakeSource{rooms: rooms}
	x := openTestIndex(t, src)
	ctx := context.Background()

	n, err := x.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if n != 4 {
		t.Errorf("indexed = %d, want 4", n)
	}

	got, err := x.Search(ctx, "conference", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Search(conference) = %+v, want 2 rooms", got)
	}
	for _, r := range got {
		if r.RoomEmail == "gone@x.com" {
			t.Error("soft-deleted room indexed")
		}
	}
}

func TestSearch_PrefixAndBuildingName(t *testing.T) {
	x := openTestIndex(t, &fakeSource{rooms: sampleRooms()})
	ctx := context.Background()
	if _, err := x.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"conf", 2},
		{"CONF", 2},
		{"board", 1},
		{"annex", 2},
		{"conf annex", 1},
		{"headquarters focus", 1},
		{"room", 2},
		{"nothing", 0},
		{"ence", 0},
	}
	for _, tt := range tests {
		got, err := x.Search(ctx, tt.query, 10)
		if err != nil {
			t.Fatalf("Search(%q): %v", tt.query, err)
		}
		if len(got) != tt.want {
			t.Errorf("Search(%q) returned %d rooms, want %d: %+v", tt.query, len(got), tt.want, got)
		}
	}
}

func TestSearch_RespectsLimit(t *testing.T) {
	x := openTestIndex(t, &fakeSource{rooms: sampleRooms()})
	ctx := context.Background()
	if _, err := x.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	got, err := x.Search(ctx, "conference", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d rooms, want 1", len(got))
	}
}

func TestSearch_EmptyQueryUsesFirstN(t *testing.T) {
	src := &fakeSource{rooms: sampleRooms()}
	x := openTestIndex(t, src)

	got, err := x.Search(context.Background(), "   ", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if src.firstN != DefaultLimit {
		t.Errorf("FirstN called with %d, want %d", src.firstN, DefaultLimit)
	}
	if len(got) != 4 {
		t.Errorf("got %d rooms, want 4", len(got))
	}
}

func TestSearch_OperatorsTreatedLiterally(t *testing.T) {
	x := openTestIndex(t, &fakeSource{rooms: sampleRooms()})
	ctx := context.Background()
	if _, err := x.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	for _, q := range []string{`"`, `conf OR`, `100%`, `a_b`, `NOT*`} {
		if _, err := x.Search(ctx, q, 10); err != nil {
			t.Errorf("Search(%q) errored: %v", q, err)
		}
	}
}

func TestRefresh_ReplacesPreviousContents(t *testing.T) {
	src := &fakeSource{rooms: sampleRooms()}
	x := openTestIndex(t, src)
	ctx := context.Background()

	if _, err := x.Refresh(ctx); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	src.set(room("hq@x.com", "Headquarters", "focus-1@x.com", "Focus Booth 1"))
	if _, err := x.Refresh(ctx); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}

	got, err := x.Search(ctx, "conference", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("stale rooms still indexed: %+v", got)
	}
}

func TestRefresh_SourceErrorKeepsIndex(t *testing.T) {
	src := &fakeSource{rooms: sampleRooms()}
	x := openTestIndex(t, src)
	ctx := context.Background()

	if _, err := x.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	src.mu.Lock()
	src.err = errors.New("disk gone")
	src.mu.Unlock()

	if _, err := x.Refresh(ctx); err == nil {
		t.Fatal("expected error from failing source")
	}
	got, err := x.Search(ctx, "board", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("index lost contents after failed refresh: %+v", got)
	}
}

func TestLastRefresh(t *testing.T) {
	x := openTestIndex(t, &fakeSource{rooms: sampleRooms()})
	ctx := context.Background()

	at, n, err := x.LastRefresh(ctx)
	if err != nil {
		t.Fatalf("LastRefresh before refresh: %v", err)
	}
	if !at.IsZero() || n != 0 {
		t.Errorf("LastRefresh = %v, %d before any refresh", at, n)
	}

	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	x.now = func() time.Time { return fixed }
	if _, err := x.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	at, n, err = x.LastRefresh(ctx)
	if err != nil {
		t.Fatalf("LastRefresh: %v", err)
	}
	if !at.Equal(fixed) || n != 4 {
		t.Errorf("LastRefresh = %v, %d; want %v, 4", at, n, fixed)
	}
}
