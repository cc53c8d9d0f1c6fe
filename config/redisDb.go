package config

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const redisConnectAttempts = 3

// ConnectRedis returns the Redis client and a lock client on top of it.
// Redis only backs the best-effort share lock, so connecting gives up after a few attempts
// and the caller falls back to database row locks.
func ConnectRedis(ctx context.Context, s RedisSettings) (*redis.Client, *redislock.Client, error) {
	if s.Address == "" {
		return nil, nil, fmt.Errorf("redis address is not set")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     s.Address,
		Password: s.Password,
		DB:       s.DB,
		PoolSize: 100,
	})

	var err error
	for attempt := 1; attempt <= redisConnectAttempts; attempt++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, s.Address)
			return rdb, redislock.New(rdb), nil
		}
		sleep := time.Second * time.Duration(1<<attempt)
		log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, s.Address, err, sleep)
		select {
		case <-ctx.Done():
			_ = rdb.Close()
			return nil, nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
	_ = rdb.Close()
	return nil, nil, fmt.Errorf("connect redis %s: %w", s.Address, err)
}
