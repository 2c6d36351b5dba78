package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/oncare-patient-gateway/internal/auth"
	"github.com/wolfman30/oncare-patient-gateway/internal/cache"
	appconfig "github.com/wolfman30/oncare-patient-gateway/internal/config"
	"github.com/wolfman30/oncare-patient-gateway/pkg/logging"
)

const cachePrefix = "oncare:cache:"

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, falling back to in-memory stores", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildTokenStore keeps backend tokens in Redis when available, else in memory.
func BuildTokenStore(redisClient *redis.Client) auth.TokenStore {
	if redisClient == nil {
		return auth.NewMemoryTokenStore()
	}
	return auth.NewRedisTokenStore(redisClient)
}

// BuildCache returns the shared reference-data cache.
func BuildCache(redisClient *redis.Client) cache.Cache {
	if redisClient == nil {
		return cache.NewMemoryCache()
	}
	return cache.NewRedisCache(redisClient, cachePrefix)
}
