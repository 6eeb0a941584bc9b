package confirm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bot-financas/internal/cache"
)

const redisKeyPrefix = "confirm:"

// RedisStore shares pending contexts between bot instances. Keys also carry a
// Redis expiry so abandoned contexts disappear without a sweep.
type RedisStore struct {
	redis  *cache.Redis
	expiry time.Duration
	logger *slog.Logger
}

// NewRedisStore builds a store whose keys expire after ttl plus a small grace period.
func NewRedisStore(redis *cache.Redis, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		redis:  redis,
		expiry: ttl + time.Minute,
		logger: logger.With("component", "confirm_redis"),
	}
}

func redisKey(userID string) string {
	return redisKeyPrefix + userID
}

func (s *RedisStore) Put(ctx context.Context, entry Context) error {
	return s.redis.SetJSON(ctx, redisKey(entry.UserID), entry, s.expiry)
}

func (s *RedisStore) Update(ctx context.Context, userID string, fn func(entry *Context) Action) error {
	return s.redis.WatchDelete(ctx, redisKey(userID), func(data []byte) bool {
		if data == nil {
			return fn(nil) == Remove
		}
		var entry Context
		if err := json.Unmarshal(data, &entry); err != nil {
			s.logger.Warn("dropping undecodable context", "user_id", userID, "error", err)
			fn(nil)
			return true
		}
		return fn(&entry) == Remove
	})
}

func (s *RedisStore) Sweep(ctx context.Context, expired func(Context) bool) (int, error) {
	removed := 0
	err := s.redis.Scan(ctx, redisKeyPrefix+"*", func(key string) error {
		userID := strings.TrimPrefix(key, redisKeyPrefix)
		var hit bool
		err := s.Update(ctx, userID, func(entry *Context) Action {
			hit = entry != nil && expired(*entry)
			if hit {
				return Remove
			}
			return Keep
		})
		if err != nil {
			return fmt.Errorf("sweep %s: %w", key, err)
		}
		if hit {
			removed++
		}
		return nil
	})
	return removed, err
}
