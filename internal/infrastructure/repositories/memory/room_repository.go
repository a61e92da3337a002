package memory

import (
	"context"
	"sync"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
)

// RoomRepository is the in-memory store used when Redis is not configured.
// Rooms are ephemeral state anyway, so a process-local map is the default.
type RoomRepository struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*domain.Room
}

func NewRoomRepository() ports.RoomRepository {
	return &RoomRepository{
		rooms: make(map[domain.RoomID]*domain.Room),
	}
}

func (r *RoomRepository) Create(ctx context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[room.ID]; exists {
		return domain.ErrRoomExists
	}
	r.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (r *RoomRepository) GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, exists := r.rooms[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (r *RoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[id]; !exists {
		return domain.ErrRoomNotFound
	}
	delete(r.rooms, id)
	return nil
}

func (r *RoomRepository) SetPassword(ctx context.Context, id domain.RoomID, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[id]
	if !exists {
		return domain.ErrRoomNotFound
	}
	room.Password = password
	return nil
}

// AddParticipant reserves a slot; the capacity check and the insert happen
// under one lock so two concurrent joiners cannot both take the last slot.
func (r *RoomRepository) AddParticipant(ctx context.Context, id domain.RoomID, peer domain.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[id]
	if !exists {
		return domain.ErrRoomNotFound
	}
	if room.HasParticipant(peer) {
		return nil
	}
	if room.Full() {
		return domain.ErrRoomFull
	}
	room.Participants = append(room.Participants, peer)
	return nil
}

func (r *RoomRepository) RemoveParticipant(ctx context.Context, id domain.RoomID, peer domain.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[id]
	if !exists {
		return domain.ErrRoomNotFound
	}
	for i, p := range room.Participants {
		if p == peer {
			room.Participants = append(room.Participants[:i], room.Participants[i+1:]...)
			break
		}
	}
	return nil
}

func (r *RoomRepository) ListOccupied(ctx context.Context) ([]domain.RoomID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var occupied []domain.RoomID
	for id, room := range r.rooms {
		if len(room.Participants) > 0 {
			occupied = append(occupied, id)
		}
	}
	return occupied, nil
}

func cloneRoom(room *domain.Room) *domain.Room {
	clone := *room
	clone.Participants = append([]domain.PeerID(nil), room.Participants...)
	return &clone
}
