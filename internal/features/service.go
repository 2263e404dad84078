// Package features resolves per-store feature flags.
package features

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/stitchline/stitchline/internal/shared"
)

const (
	cachedOn     = "1"
	cachedOff    = "0"
	cachedAbsent = "-"
)

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Flag is one stored store-level switch.
type Flag struct {
	StoreID   string    `json:"store_id"`
	Key       string    `json:"key"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists flags.
type Store interface {
	Get(ctx context.Context, storeID, key string) (Flag, bool, error)
	Set(ctx context.Context, storeID, key string, enabled bool) (Flag, error)
	List(ctx context.Context, storeID string) ([]Flag, error)
}

// Config tunes Service.
type Config struct {
	TTL time.Duration
	// Defaults apply when a store has no row for a key. Unlisted keys default to off.
	Defaults map[string]bool
}

// Service reads flags through a Redis cache.
type Service struct {
	store  Store
	client *redis.Client
	cfg    Config
	group  singleflight.Group
	logger *slog.Logger
}

// NewService builds Service. client may be nil to disable caching.
func NewService(store Store, client *redis.Client, cfg Config, logger *slog.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, client: client, cfg: cfg, logger: logger}
}

// Enabled reports whether key is on for the store.
func (s *Service) Enabled(ctx context.Context, storeID, key string) (bool, error) {
	if err := validate(storeID, key); err != nil {
		return false, err
	}
	cacheKey := shared.FeatureFlagKey(storeID, key)
	if s.client != nil {
		val, err := s.client.Get(ctx, cacheKey).Result()
		switch {
		case err == nil:
			if v, ok := s.decode(key, val); ok {
				return v, nil
			}
		case !errors.Is(err, redis.Nil):
			s.logger.WarnContext(ctx, "feature flag cache read failed", slog.String("key", cacheKey), slog.Any("error", err))
		}
	}

	v, err, _ := s.group.Do(cacheKey, func() (any, error) {
		flag, found, err := s.store.Get(ctx, storeID, key)
		if err != nil {
			return false, fmt.Errorf("features: load %s: %w", key, err)
		}
		cached := cachedAbsent
		enabled := s.cfg.Defaults[key]
		if found {
			enabled = flag.Enabled
			cached = cachedOff
			if enabled {
				cached = cachedOn
			}
		}
		if s.client != nil {
			if err := s.client.Set(ctx, cacheKey, cached, s.cfg.TTL).Err(); err != nil {
				s.logger.WarnContext(ctx, "feature flag cache write failed", slog.String("key", cacheKey), slog.Any("error", err))
			}
		}
		return enabled, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (s *Service) decode(key, val string) (bool, bool) {
	switch val {
	case cachedOn:
		return true, true
	case cachedOff:
		return false, true
	case cachedAbsent:
		return s.cfg.Defaults[key], true
	default:
		return false, false
	}
}

// Set stores a flag and drops its cached value.
func (s *Service) Set(ctx context.Context, storeID, key string, enabled bool) (Flag, error) {
	if err := validate(storeID, key); err != nil {
		return Flag{}, err
	}
	flag, err := s.store.Set(ctx, storeID, key, enabled)
	if err != nil {
		return Flag{}, err
	}
	if s.client != nil {
		if err := s.client.Del(ctx, shared.FeatureFlagKey(storeID, key)).Err(); err != nil {
			s.logger.WarnContext(ctx, "feature flag cache invalidation failed", slog.String("flag", key), slog.Any("error", err))
		}
	}
	s.logger.InfoContext(ctx, "feature flag updated",
		slog.String("store_id", storeID), slog.String("flag", key), slog.Bool("enabled", enabled))
	return flag, nil
}

// List returns the stored flags of a store, without defaults.
func (s *Service) List(ctx context.Context, storeID string) ([]Flag, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return nil, err
	}
	return s.store.List(ctx, storeID)
}

func validate(storeID, key string) error {
	if err := shared.RequireStore(storeID); err != nil {
		return err
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("features: invalid flag key %q: %w", key, shared.ErrValidation)
	}
	return nil
}
