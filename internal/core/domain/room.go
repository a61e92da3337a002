package domain

import "time"

type RoomID string

// PeerID is the opaque sender identifier assigned by the relay when a
// websocket connection is established.
type PeerID string

// Room is the relay-side record of a rendezvous point. Password is the
// shared secret (empty means the room is open). A room holds at most two
// participants.
type Room struct {
	ID           RoomID
	Password     string
	Creator      PeerID
	Participants []PeerID
	CreatedAt    time.Time
}

const MaxRoomParticipants = 2

func (r *Room) PasswordProtected() bool {
	return r.Password != ""
}

func (r *Room) Full() bool {
	return len(r.Participants) >= MaxRoomParticipants
}

func (r *Room) HasParticipant(id PeerID) bool {
	for _, p := range r.Participants {
		if p == id {
			return true
		}
	}
	return false
}
