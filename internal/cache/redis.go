package cache

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"slide_analyzer/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// SetupRedis connects and pings Redis. It returns nil, nil when no host is
// configured; the snapshot cache and rate limiter are then disabled.
func SetupRedis(redisCfg *config.RedisConfig) (*redis.Client, error) {
	if redisCfg.Host == "" {
		logrus.Warn("REDIS_HOST not set, running without task cache and rate limiter")
		return nil, nil
	}

	dbIndex, err := strconv.Atoi(redisCfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB %q: %w", redisCfg.RedisDB, err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(redisCfg.Host, redisCfg.Port),
		Password: redisCfg.RedisPassword,
		DB:       dbIndex,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", rdb.Options().Addr, err)
	}

	logrus.WithField("addr", rdb.Options().Addr).Info("Redis connection established")
	return rdb, nil
}
