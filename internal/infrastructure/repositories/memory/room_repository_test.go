package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pairlink/internal/core/domain"
)

func testRoom(id domain.RoomID) *domain.Room {
	return &domain.Room{ID: id, CreatedAt: time.Now()}
}

func TestRoomRepository_CreateAndGet(t *testing.T) {
	repo := NewRoomRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, testRoom("abc12345")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	room, err := repo.GetByID(ctx, "abc12345")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if room.ID != "abc12345" {
		t.Fatalf("unexpected room id %s", room.ID)
	}

	if err := repo.Create(ctx, testRoom("abc12345")); !errors.Is(err, domain.ErrRoomExists) {
		t.Fatalf("expected ErrRoomExists, got %v", err)
	}

	if _, err := repo.GetByID(ctx, "missing1"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRoomRepository_GetReturnsCopy(t *testing.T) {
	repo := NewRoomRepository()
	ctx := context.Background()

	repo.Create(ctx, testRoom("abc12345"))
	repo.AddParticipant(ctx, "abc12345", "peer-a")

	room, _ := repo.GetByID(ctx, "abc12345")
	room.Participants[0] = "mutated"
	room.Password = "mutated"

	fresh, _ := repo.GetByID(ctx, "abc12345")
	if fresh.Participants[0] != "peer-a" || fresh.Password != "" {
		t.Fatal("repository state leaked through returned room")
	}
}

func TestRoomRepository_ParticipantCapacity(t *testing.T) {
	repo := NewRoomRepository()
	ctx := context.Background()

	repo.Create(ctx, testRoom("abc12345"))

	if err := repo.AddParticipant(ctx, "abc12345", "peer-a"); err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	// Re-adding the same peer is a no-op, not a second slot.
	if err := repo.AddParticipant(ctx, "abc12345", "peer-a"); err != nil {
		t.Fatalf("duplicate join failed: %v", err)
	}
	if err := repo.AddParticipant(ctx, "abc12345", "peer-b"); err != nil {
		t.Fatalf("second join failed: %v", err)
	}
	if err := repo.AddParticipant(ctx, "abc12345", "peer-c"); !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}

	if err := repo.RemoveParticipant(ctx, "abc12345", "peer-a"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := repo.AddParticipant(ctx, "abc12345", "peer-c"); err != nil {
		t.Fatalf("join after departure failed: %v", err)
	}
}

func TestRoomRepository_ConcurrentJoinsRespectCapacity(t *testing.T) {
	repo := NewRoomRepository()
	ctx := context.Background()
	repo.Create(ctx, testRoom("abc12345"))

	const joiners = 16
	var wg sync.WaitGroup
	errs := make([]error, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.AddParticipant(ctx, "abc12345", domain.PeerID(fmt.Sprintf("peer-%d", i)))
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		if err == nil {
			admitted++
		} else if !errors.Is(err, domain.ErrRoomFull) {
			t.Fatalf("unexpected join error: %v", err)
		}
	}
	if admitted != domain.MaxRoomParticipants {
		t.Fatalf("expected %d admitted, got %d", domain.MaxRoomParticipants, admitted)
	}
}

func TestRoomRepository_ListOccupied(t *testing.T) {
	repo := NewRoomRepository()
	ctx := context.Background()

	repo.Create(ctx, testRoom("empty123"))
	repo.Create(ctx, testRoom("busy1234"))
	repo.AddParticipant(ctx, "busy1234", "peer-a")

	occupied, err := repo.ListOccupied(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(occupied) != 1 || occupied[0] != "busy1234" {
		t.Fatalf("unexpected occupied list %v", occupied)
	}
}

func TestRoomRepository_SetPasswordAndDelete(t *testing.T) {
	repo := NewRoomRepository()
	ctx := context.Background()

	repo.Create(ctx, testRoom("abc12345"))
	if err := repo.SetPassword(ctx, "abc12345", "s3cret"); err != nil {
		t.Fatalf("set password failed: %v", err)
	}
	room, _ := repo.GetByID(ctx, "abc12345")
	if !room.PasswordProtected() {
		t.Fatal("expected room to be password protected")
	}

	if err := repo.Delete(ctx, "abc12345"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := repo.GetByID(ctx, "abc12345"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound after delete, got %v", err)
	}
}
