// Package model defines the room directory types shared by the Graph adapter,
// the storage layer, the search index, and the sync engine.
package model

import "strings"

// MaxRoomsPerBuilding is the documented ceiling on rooms returned by a single
// upstream room-list response. Rooms beyond it are not synchronised.
const MaxRoomsPerBuilding = 100

// Place is a directory entry as returned by the upstream places API. Both
// buildings (room lists) and rooms use this shape.
type Place struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// Building is an upstream room list. It is never persisted locally; the
// building list is read fresh on every sync run.
type Building struct {
	Email       string
	DisplayName string
}

// BuildingFromPlace converts an upstream place into a Building.
func BuildingFromPlace(p Place) Building {
	return Building{Email: p.EmailAddress, DisplayName: p.DisplayName}
}

// Room is a stored directory entry. Its identity is the (BuildingEmail,
// RoomEmail) pair; at most one live Room exists per pair.
type Room struct {
	// BuildingEmail is the partition key.
	BuildingEmail string

	// RoomEmail is the row key.
	RoomEmail string

	// Key is the upstream place ID, kept as a secondary indexable key.
	Key string

	RoomName     string
	BuildingName string

	// Deleted marks a soft-deleted room. Soft-deleted rooms are skipped by
	// bounded listings used for suggestions.
	Deleted bool
}

// RoomFromPlace builds the Room record stored for an upstream room in b.
func RoomFromPlace(b Building, p Place) Room {
	return Room{
		BuildingEmail: b.Email,
		RoomEmail:     p.EmailAddress,
		Key:           p.ID,
		RoomName:      p.DisplayName,
		BuildingName:  b.DisplayName,
	}
}

// FavoriteRoom is a user's saved reference to a room. The room and building
// attributes are copies taken when the favourite was created, so a favourite
// can briefly outlive the room it points to (at most one sync cycle).
type FavoriteRoom struct {
	// UserID is the partition key (the user's directory object ID).
	UserID string

	// RoomEmail is the row key.
	RoomEmail string

	RoomName      string
	BuildingName  string
	BuildingEmail string
}

// RoomEmails returns the row keys of rooms in input order.
func RoomEmails(rooms []Room) []string {
	out := make([]string, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.RoomEmail)
	}
	return out
}

// RemovedRoomEmails returns the room emails present in stored but absent from
// fresh, compared case-insensitively. The result keeps stored's order and
// contains no duplicates.
func RemovedRoomEmails(stored, fresh []Room) []string {
	current := make(map[string]struct{}, len(fresh))
	for _, r := range fresh {
		current[NormalizeEmail(r.RoomEmail)] = struct{}{}
	}

	seen := make(map[string]struct{}, len(stored))
	var removed []string
	for _, r := range stored {
		k := NormalizeEmail(r.RoomEmail)
		if _, ok := current[k]; ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		removed = append(removed, r.RoomEmail)
	}
	return removed
}

// SameEmail reports whether two mailbox addresses refer to the same mailbox.
func SameEmail(a, b string) bool {
	return NormalizeEmail(a) == NormalizeEmail(b)
}

// NormalizeEmail returns the comparison form of a mailbox address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
