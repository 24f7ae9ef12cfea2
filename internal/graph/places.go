package graph

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/njoerd114/roomsync/internal/model"
)

const (
	pathRoomLists = "/beta/places/microsoft.graph.roomlist"
	pathRooms     = "/beta/places/{buildingAlias}/microsoft.graph.roomlist/rooms"

	// maxRoomListPages bounds how many @odata.nextLink hops ListBuildings follows.
	maxRoomListPages = 50
)

// placeList is the collection envelope returned by the places endpoints.
type placeList struct {
	Value    []model.Place `json:"value"`
	NextLink string        `json:"@odata.nextLink"`
}

// Getter is the subset of [Client] used by Places. Tests substitute a fake.
type Getter interface {
	Get(ctx context.Context, path, token string, headers map[string]string) (*Response, error)
}

// Places lists buildings and rooms from the Graph places API.
type Places struct {
	api Getter
	log *slog.Logger
}

// NewPlaces creates a Places adapter over api.
func NewPlaces(api Getter, logger *slog.Logger) *Places {
	return &Places{api: api, log: logger}
}

// ListBuildings returns every room list visible to the application. Pages
// are followed until exhausted. A non-2xx response returns an [*APIError].
func (p *Places) ListBuildings(ctx context.Context, token string) ([]model.Building, error) {
	var buildings []model.Building

	path := pathRoomLists
	for page := 0; path != ""; page++ {
		if page >= maxRoomListPages {
			p.log.Warn("room list paging limit reached, building list truncated", "pages", page)
			break
		}

		list, err := p.getList(ctx, path, token)
		if err != nil {
			return nil, fmt.Errorf("listing buildings: %w", err)
		}
		for _, pl := range list.Value {
			if strings.TrimSpace(pl.EmailAddress) == "" {
				p.log.Debug("skipping room list without email", "id", pl.ID, "name", pl.DisplayName)
				continue
			}
			buildings = append(buildings, model.BuildingFromPlace(pl))
		}
		path = list.NextLink
	}

	return buildings, nil
}

// ListRooms returns the rooms of one building. Only the first page is read;
// upstream caps it at [model.MaxRoomsPerBuilding] rooms.
func (p *Places) ListRooms(ctx context.Context, token, buildingEmail string) ([]model.Place, error) {
	path := strings.Replace(pathRooms, "{buildingAlias}", url.PathEscape(buildingEmail), 1)

	list, err := p.getList(ctx, path, token)
	if err != nil {
		return nil, fmt.Errorf("listing rooms for %s: %w", buildingEmail, err)
	}

	rooms := make([]model.Place, 0, len(list.Value))
	for _, pl := range list.Value {
		if strings.TrimSpace(pl.EmailAddress) == "" {
			p.log.Debug("skipping room without email", "building", buildingEmail, "id", pl.ID)
			continue
		}
		rooms = append(rooms, pl)
	}

	if len(list.Value) >= model.MaxRoomsPerBuilding || list.NextLink != "" {
		p.log.Warn("room list at upstream ceiling, extra rooms are not synchronised",
			"building", buildingEmail,
			"rooms", len(list.Value),
		)
	}
	return rooms, nil
}

func (p *Places) getList(ctx context.Context, path, token string) (*placeList, error) {
	resp, err := p.api.Get(ctx, path, token, nil)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	var list placeList
	if err := resp.Decode(&list); err != nil {
		return nil, err
	}
	return &list, nil
}
