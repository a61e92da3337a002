package ports

import (
	"context"

	"pairlink/internal/core/domain"
)

// RoomRepository is the relay-side room store. AddParticipant is atomic
// with respect to the two-party capacity check.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	Delete(ctx context.Context, id domain.RoomID) error
	SetPassword(ctx context.Context, id domain.RoomID, password string) error
	AddParticipant(ctx context.Context, id domain.RoomID, peer domain.PeerID) error
	RemoveParticipant(ctx context.Context, id domain.RoomID, peer domain.PeerID) error
	ListOccupied(ctx context.Context) ([]domain.RoomID, error)
}
