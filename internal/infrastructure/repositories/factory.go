package repositories

import (
	"fmt"

	"pairlink/internal/core/ports"
	"pairlink/internal/infrastructure/repositories/memory"
	redisrepo "pairlink/internal/infrastructure/repositories/redis"
	"pairlink/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory selects the room store backend from configuration. Redis keeps
// rooms across relay restarts; the in-memory store is the default for
// single-instance deployments.
type Factory struct {
	cfg    *config.Config
	logger *zap.SugaredLogger

	redisClient *redis.Client
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) *Factory {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Factory{cfg: cfg, logger: logger}
}

func (f *Factory) RoomRepository() (ports.RoomRepository, error) {
	if !f.cfg.Redis.Enabled {
		f.logger.Infow("using in-memory room repository")
		return memory.NewRoomRepository(), nil
	}

	client, err := redisrepo.NewRedisClient(
		f.cfg.Redis.Address,
		f.cfg.Redis.Password,
		f.cfg.Redis.DB,
		f.cfg.Redis.PoolSize,
		f.logger,
	)
	if err != nil {
		return nil, fmt.Errorf("redis room repository: %w", err)
	}
	f.redisClient = client
	return redisrepo.NewRedisRoomRepository(client), nil
}

// Close releases backend connections held by the factory.
func (f *Factory) Close() error {
	return redisrepo.CloseRedisClient(f.redisClient)
}
