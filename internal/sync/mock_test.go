package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/njoerd114/roomsync/internal/model"
)

// --- Mock Upstream -----------------------------------------------------------

type mockUpstream struct {
	mu sync.Mutex

	buildings    []model.Building
	buildingsErr error
	rooms        map[string][]model.Place // building email → rooms
	roomErrs     map[string]error         // building email → error returned on every call

	buildingCalls int
	roomCalls     map[string]int
	tokensSeen    []string

	delay       time.Duration
	roomDelays  map[string]time.Duration // per-building override of delay
	inFlight    int
	maxInFlight int

	// events records "start <building>" and "end <building>" per ListRooms call.
	events []string
}

func newMockUpstream() *mockUpstream {
	return &mockUpstream{
		rooms:      make(map[string][]model.Place),
		roomErrs:   make(map[string]error),
		roomCalls:  make(map[string]int),
		roomDelays: make(map[string]time.Duration),
	}
}

func (m *mockUpstream) addBuilding(email, name string, roomEmails ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buildings = append(m.buildings, model.Building{Email: email, DisplayName: name})
	m.setRoomsLocked(email, roomEmails...)
}

func (m *mockUpstream) setRooms(building string, roomEmails ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setRoomsLocked(building, roomEmails...)
}

func (m *mockUpstream) setRoomsLocked(building string, roomEmails ...string) {
	places := make([]model.Place, 0, len(roomEmails))
	for _, e := range roomEmails {
		places = append(places, model.Place{ID: "id-" + e, DisplayName: "Room " + e, EmailAddress: e})
	}
	m.rooms[building] = places
}

func (m *mockUpstream) ListBuildings(_ context.Context, _ string) ([]model.Building, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buildingCalls++
	if m.buildingsErr != nil {
		return nil, m.buildingsErr
	}
	return append([]model.Building(nil), m.buildings...), nil
}

func (m *mockUpstream) ListRooms(ctx context.Context, token, buildingEmail string) ([]model.Place, error) {
	m.mu.Lock()
	m.roomCalls[buildingEmail]++
	m.tokensSeen = append(m.tokensSeen, token)
	m.events = append(m.events, "start "+buildingEmail)
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	delay := m.delay
	if d, ok := m.roomDelays[buildingEmail]; ok {
		delay = d
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.events = append(m.events, "end "+buildingEmail)
		m.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.roomErrs[buildingEmail]; err != nil {
		return nil, err
	}
	return append([]model.Place(nil), m.rooms[buildingEmail]...), nil
}

func (m *mockUpstream) calls(building string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomCalls[building]
}

// --- Mock TokenSource --------------------------------------------------------

type mockTokens struct {
	mu    sync.Mutex
	token string
	err   error
	calls int
}

func (m *mockTokens) AccessToken(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.token, m.err
}

// --- Mock IndexTrigger -------------------------------------------------------

type mockIndex struct {
	mu    sync.Mutex
	calls int
	rooms int
	err   error
}

func (m *mockIndex) Refresh(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	return m.rooms, nil
}

func (m *mockIndex) refreshed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Flaky RoomStore ---------------------------------------------------------

var errStorage = errors.New("storage batch rejected")

// flakyRooms wraps a RoomStore and fails the first N upserts per building.
type flakyRooms struct {
	RoomStore

	mu          sync.Mutex
	failUpserts map[string]int
}

func (f *flakyRooms) Upsert(ctx context.Context, rooms []model.Room) error {
	if len(rooms) > 0 {
		f.mu.Lock()
		b := rooms[0].BuildingEmail
		if f.failUpserts[b] > 0 {
			f.failUpserts[b]--
			f.mu.Unlock()
			return errStorage
		}
		f.mu.Unlock()
	}
	return f.RoomStore.Upsert(ctx, rooms)
}
