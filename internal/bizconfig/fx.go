package bizconfig

import (
	"github.com/atelierhq/atelier/internal/bizconfig/service"
	"github.com/atelierhq/atelier/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewRedis returns a settings cache client, or nil when no address is
// configured. The service falls back to the database in that case.
func NewRedis(cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	log.Info("settings cache enabled", zap.String("addr", cfg.RedisAddr))
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

var Module = fx.Module("bizconfig.service",
	fx.Provide(NewRedis),
	fx.Provide(service.NewService),
)
