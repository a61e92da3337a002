package ports

import (
	"context"

	"pairlink/internal/core/domain"
)

// RoomService is the relay-side registry consumed by the REST handlers and
// the signaling server.
type RoomService interface {
	// CreateRoom returns the room and a creator credential that later
	// authorizes password changes.
	CreateRoom(ctx context.Context, password string) (*domain.Room, string, error)
	RoomExists(ctx context.Context, id domain.RoomID) (exists bool, passwordProtected bool, err error)
	VerifyPassword(ctx context.Context, id domain.RoomID, password string) (bool, error)
	SetPassword(ctx context.Context, id domain.RoomID, password, creatorToken string) error

	// Join validates the password and reserves a participant slot.
	Join(ctx context.Context, id domain.RoomID, password string, peer domain.PeerID) error
	Leave(ctx context.Context, id domain.RoomID, peer domain.PeerID) error

	// RandomOccupied picks a random room with at least one participant.
	RandomOccupied(ctx context.Context) (domain.RoomID, error)
}
