package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/atelierhq/atelier/internal/bizconfig/domain"
	"github.com/atelierhq/atelier/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const cacheKeyPrefix = "atelier:settings:"

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	Cache *redis.Client `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	cache    *redis.Client
	cacheTTL time.Duration
}

func NewService(p ServiceParam) domain.Service {
	ttl := p.Cfg.SettingsCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("bizconfig.service"),
		cache:    p.Cache,
		cacheTTL: ttl,
	}
}

func (s *Service) Get(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", domain.ErrInvalidKey
	}

	if value, ok := s.cacheGet(ctx, key); ok {
		return value, nil
	}

	var setting domain.Setting
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", domain.ErrSettingNotFound
		}
		return "", err
	}

	s.cacheSet(ctx, key, setting.Value)
	return setting.Value, nil
}

func (s *Service) Set(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrInvalidKey
	}

	err := s.db.WithContext(ctx).Exec(
		`INSERT INTO business_settings (key, value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	).Error
	if err != nil {
		return err
	}

	s.cacheInvalidate(ctx, key)
	return nil
}

func (s *Service) List(ctx context.Context) ([]domain.Setting, error) {
	var settings []domain.Setting
	if err := s.db.WithContext(ctx).Order("key").Find(&settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *Service) GetTaxRate(ctx context.Context) (decimal.Decimal, error) {
	raw, err := s.Get(ctx, domain.KeyTaxRate)
	if err != nil {
		if errors.Is(err, domain.ErrSettingNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}

	rate, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, domain.ErrInvalidValue
	}
	return rate, nil
}

func (s *Service) GetCurrencySymbol(ctx context.Context) (string, error) {
	return s.Get(ctx, domain.KeyCurrencySymbol)
}

func (s *Service) GetBusinessName(ctx context.Context) (string, error) {
	return s.Get(ctx, domain.KeyBusinessName)
}

func (s *Service) cacheGet(ctx context.Context, key string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	value, err := s.cache.Get(ctx, cacheKeyPrefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("settings cache read failed", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return value, true
}

func (s *Service) cacheSet(ctx context.Context, key, value string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKeyPrefix+key, value, s.cacheTTL).Err(); err != nil {
		s.log.Warn("settings cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) cacheInvalidate(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKeyPrefix+key).Err(); err != nil {
		s.log.Warn("settings cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
}
