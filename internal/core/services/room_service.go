package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// creatorClaims bind a creator credential to one room. The credential is
// returned once at creation time and is the only way to change the room
// password afterwards.
type creatorClaims struct {
	RoomID string `json:"room_id"`
	jwt.RegisteredClaims
}

// RoomMetrics receives room lifecycle counters. The prometheus collector
// implements it; nil disables instrumentation.
type RoomMetrics interface {
	RecordRoomCreated()
	RecordRoomOccupied()
	RecordRoomVacated()
}

type roomService struct {
	repo      ports.RoomRepository
	jwtSecret []byte
	tokenTTL  time.Duration
	metrics   RoomMetrics
	logger    *zap.SugaredLogger
}

func NewRoomService(repo ports.RoomRepository, jwtSecret string, tokenTTL time.Duration, metrics RoomMetrics, logger *zap.SugaredLogger) ports.RoomService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &roomService{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		metrics:   metrics,
		logger:    logger,
	}
}

func (s *roomService) CreateRoom(ctx context.Context, password string) (*domain.Room, string, error) {
	var room *domain.Room
	// Room IDs are short; retry a few times on the unlikely collision.
	for attempt := 0; attempt < 5; attempt++ {
		candidate := &domain.Room{
			ID:        domain.RoomID(utils.GenerateRoomID()),
			Password:  password,
			CreatedAt: time.Now(),
		}
		err := s.repo.Create(ctx, candidate)
		if err == nil {
			room = candidate
			break
		}
		if !errors.Is(err, domain.ErrRoomExists) {
			return nil, "", fmt.Errorf("create room: %w", err)
		}
	}
	if room == nil {
		return nil, "", fmt.Errorf("create room: could not allocate a unique id")
	}

	token, err := s.issueCreatorToken(room.ID)
	if err != nil {
		return nil, "", fmt.Errorf("issue creator token: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordRoomCreated()
	}
	s.logger.Infow("room created", "room_id", room.ID, "password_protected", room.PasswordProtected())
	return room, token, nil
}

func (s *roomService) RoomExists(ctx context.Context, id domain.RoomID) (bool, bool, error) {
	room, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("room lookup: %w", err)
	}
	return true, room.PasswordProtected(), nil
}

func (s *roomService) VerifyPassword(ctx context.Context, id domain.RoomID, password string) (bool, error) {
	room, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("room lookup: %w", err)
	}
	if !room.PasswordProtected() {
		return true, nil
	}
	return room.Password == password, nil
}

func (s *roomService) SetPassword(ctx context.Context, id domain.RoomID, password, creatorToken string) error {
	if err := s.validateCreatorToken(id, creatorToken); err != nil {
		return err
	}
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return fmt.Errorf("room lookup: %w", err)
	}
	if err := s.repo.SetPassword(ctx, id, password); err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	s.logger.Infow("room password updated", "room_id", id, "password_protected", password != "")
	return nil
}

func (s *roomService) Join(ctx context.Context, id domain.RoomID, password string, peer domain.PeerID) error {
	room, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("room lookup: %w", err)
	}
	if room.PasswordProtected() && room.Password != password {
		return domain.ErrInvalidPassword
	}
	if err := s.repo.AddParticipant(ctx, id, peer); err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	// First participant in an empty room: the room became occupied.
	if s.metrics != nil && len(room.Participants) == 0 {
		s.metrics.RecordRoomOccupied()
	}
	s.logger.Infow("peer joined room", "room_id", id, "peer_id", peer)
	return nil
}

func (s *roomService) Leave(ctx context.Context, id domain.RoomID, peer domain.PeerID) error {
	room, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("room lookup: %w", err)
	}
	if err := s.repo.RemoveParticipant(ctx, id, peer); err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil
		}
		return fmt.Errorf("remove participant: %w", err)
	}
	// Sole participant leaving: the room became vacant.
	if s.metrics != nil && len(room.Participants) == 1 && room.HasParticipant(peer) {
		s.metrics.RecordRoomVacated()
	}
	s.logger.Infow("peer left room", "room_id", id, "peer_id", peer)
	return nil
}

func (s *roomService) RandomOccupied(ctx context.Context) (domain.RoomID, error) {
	rooms, err := s.repo.ListOccupied(ctx)
	if err != nil {
		return "", fmt.Errorf("list occupied rooms: %w", err)
	}
	if len(rooms) == 0 {
		return "", domain.ErrRoomNotFound
	}
	return rooms[rand.Intn(len(rooms))], nil
}

func (s *roomService) issueCreatorToken(id domain.RoomID) (string, error) {
	claims := &creatorClaims{
		RoomID: string(id),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *roomService) validateCreatorToken(id domain.RoomID, tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &creatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidCreatorToken
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return domain.ErrInvalidCreatorToken
	}
	claims, ok := token.Claims.(*creatorClaims)
	if !ok || !token.Valid || claims.RoomID != string(id) {
		return domain.ErrInvalidCreatorToken
	}
	return nil
}
