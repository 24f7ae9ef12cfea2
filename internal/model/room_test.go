package model

import (
	"reflect"
	"testing"
)

func rooms(emails ...string) []Room {
	out := make([]Room, 0, len(emails))
	for _, e := range emails {
		out = append(out, Room{BuildingEmail: "b1@x.com", RoomEmail: e})
	}
	return out
}

func TestRemovedRoomEmails_Difference(t *testing.T) {
	got := RemovedRoomEmails(rooms("a@x.com", "b@x.com", "c@x.com"), rooms("a@x.com", "c@x.com"))
	want := []string{"b@x.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("removed = %v, want %v", got, want)
	}
}

func TestRemovedRoomEmails_NoChange(t *testing.T) {
	got := RemovedRoomEmails(rooms("a@x.com", "b@x.com"), rooms("b@x.com", "a@x.com"))
	if len(got) != 0 {
		t.Errorf("removed = %v, want none", got)
	}
}

func TestRemovedRoomEmails_FreshEmptyRemovesAll(t *testing.T) {
	got := RemovedRoomEmails(rooms("a@x.com", "b@x.com"), nil)
	want := []string{"a@x.com", "b@x.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("removed = %v, want %v", got, want)
	}
}

func TestRemovedRoomEmails_CaseInsensitive(t *testing.T) {
	got := RemovedRoomEmails(rooms("Room1@X.com"), rooms("room1@x.com"))
	if len(got) != 0 {
		t.Errorf("removed = %v, want none for case-only difference", got)
	}
}

func TestRemovedRoomEmails_Deduplicates(t *testing.T) {
	got := RemovedRoomEmails(rooms("a@x.com", "A@x.com"), nil)
	if len(got) != 1 {
		t.Errorf("removed = %v, want a single entry", got)
	}
}

func TestRoomFromPlace(t *testing.T) {
	b := Building{Email: "b1@x.com", DisplayName: "Building 1"}
	r := RoomFromPlace(b, Place{ID: "id-1", DisplayName: "Room 1", EmailAddress: "r1@x.com"})

	want := Room{
		BuildingEmail: "b1@x.com",
		RoomEmail:     "r1@x.com",
		Key:           "id-1",
		RoomName:      "Room 1",
		BuildingName:  "Building 1",
	}
	if r != want {
		t.Errorf("RoomFromPlace = %+v, want %+v", r, want)
	}
}

func TestSameEmail(t *testing.T) {
	if !SameEmail(" R1@X.com", "r1@x.com ") {
		t.Error("SameEmail should ignore case and surrounding space")
	}
	if SameEmail("r1@x.com", "r2@x.com") {
		t.Error("SameEmail matched different addresses")
	}
}
