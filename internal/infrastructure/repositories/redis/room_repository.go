package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// Rooms expire after a day of inactivity; every write refreshes the TTL.
const roomTTL = 24 * time.Hour

type RedisRoomRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisRoomRepository(client *redis.Client) ports.RoomRepository {
	return &RedisRoomRepository{
		client: client,
		prefix: "pairlink:room:",
	}
}

func (r *RedisRoomRepository) roomKey(id domain.RoomID) string {
	return r.prefix + string(id)
}

func (r *RedisRoomRepository) occupiedKey() string {
	return "pairlink:rooms:occupied"
}

func (r *RedisRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.roomKey(room.ID), data, roomTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to set room in Redis: %w", err)
	}
	if !ok {
		return domain.ErrRoomExists
	}
	return nil
}

func (r *RedisRoomRepository) GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	data, err := r.client.Get(ctx, r.roomKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room from Redis: %w", err)
	}

	var room domain.Room
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return &room, nil
}

func (r *RedisRoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	deleted, err := r.client.Del(ctx, r.roomKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete room from Redis: %w", err)
	}
	if deleted == 0 {
		return domain.ErrRoomNotFound
	}
	r.client.SRem(ctx, r.occupiedKey(), string(id))
	return nil
}

func (r *RedisRoomRepository) SetPassword(ctx context.Context, id domain.RoomID, password string) error {
	return r.update(ctx, id, func(room *domain.Room) error {
		room.Password = password
		return nil
	})
}

// AddParticipant runs the capacity check and insert inside a WATCH
// transaction so two concurrent joiners cannot both take the last slot.
func (r *RedisRoomRepository) AddParticipant(ctx context.Context, id domain.RoomID, peer domain.PeerID) error {
	err := r.update(ctx, id, func(room *domain.Room) error {
		if room.HasParticipant(peer) {
			return nil
		}
		if room.Full() {
			return domain.ErrRoomFull
		}
		room.Participants = append(room.Participants, peer)
		return nil
	})
	if err != nil {
		return err
	}
	return r.client.SAdd(ctx, r.occupiedKey(), string(id)).Err()
}

func (r *RedisRoomRepository) RemoveParticipant(ctx context.Context, id domain.RoomID, peer domain.PeerID) error {
	var remaining int
	err := r.update(ctx, id, func(room *domain.Room) error {
		for i, p := range room.Participants {
			if p == peer {
				room.Participants = append(room.Participants[:i], room.Participants[i+1:]...)
				break
			}
		}
		remaining = len(room.Participants)
		return nil
	})
	if err != nil {
		return err
	}
	if remaining == 0 {
		return r.client.SRem(ctx, r.occupiedKey(), string(id)).Err()
	}
	return nil
}

func (r *RedisRoomRepository) ListOccupied(ctx context.Context) ([]domain.RoomID, error) {
	ids, err := r.client.SMembers(ctx, r.occupiedKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list occupied rooms: %w", err)
	}

	var occupied []domain.RoomID
	for _, id := range ids {
		// The occupied set can lag behind expiry; skip rooms that are gone.
		exists, err := r.client.Exists(ctx, r.roomKey(domain.RoomID(id))).Result()
		if err != nil || exists == 0 {
			continue
		}
		occupied = append(occupied, domain.RoomID(id))
	}
	return occupied, nil
}

// update applies fn to the room under optimistic concurrency control,
// retrying on write conflicts.
func (r *RedisRoomRepository) update(ctx context.Context, id domain.RoomID, fn func(*domain.Room) error) error {
	key := r.roomKey(id)

	for attempt := 0; attempt < 5; attempt++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Result()
			if err == redis.Nil {
				return domain.ErrRoomNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to get room from Redis: %w", err)
			}

			var room domain.Room
			if err := json.Unmarshal([]byte(data), &room); err != nil {
				return fmt.Errorf("failed to unmarshal room: %w", err)
			}
			if err := fn(&room); err != nil {
				return err
			}

			updated, err := json.Marshal(&room)
			if err != nil {
				return fmt.Errorf("failed to marshal room: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, roomTTL)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("room update conflicted repeatedly for %s", id)
}
