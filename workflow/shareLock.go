package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// ShareLocker serializes work on shares across processes before the DB transaction starts.
// Row locks taken inside the transaction remain the source of truth.
type ShareLocker interface {
	LockShares(ctx context.Context, shareIds ...int) (release func(), err error)
}

type NoopShareLocker struct{}

func (NoopShareLocker) LockShares(ctx context.Context, shareIds ...int) (func(), error) {
	return func() {}, ctx.Err()
}

// RedisShareLocker takes one redislock per share, in ascending id order.
// A lock that cannot be obtained in time is skipped with a warning.
type RedisShareLocker struct {
	client *redislock.Client
	ttl    time.Duration
	logger *logrus.Logger
	retry  redislock.RetryStrategy
}

func NewRedisShareLocker(client *redislock.Client, ttl time.Duration, logger *logrus.Logger) *RedisShareLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisShareLocker{
		client: client,
		ttl:    ttl,
		logger: logger,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(25*time.Millisecond), 40),
	}
}

func shareLockKey(shareId int) string {
	return fmt.Sprintf("ledger:share:%d", shareId)
}

func sortedUniqueIds(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	result := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	sort.Ints(result)
	return result
}

func (r *RedisShareLocker) LockShares(ctx context.Context, shareIds ...int) (func(), error) {
	var held []*redislock.Lock
	release := func() {
		// fresh context: the caller's may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.logger.WithFields(logrus.Fields{
					"field": "RedisShareLocker",
					"key":   held[i].Key(),
				}).Warn("release share lock: " + err.Error())
			}
		}
	}

	for _, id := range sortedUniqueIds(shareIds) {
		lock, err := r.client.Obtain(ctx, shareLockKey(id), r.ttl, &redislock.Options{RetryStrategy: r.retry})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				release()
				return func() {}, ctxErr
			}
			r.logger.WithFields(logrus.Fields{
				"field":    "RedisShareLocker",
				"share_id": id,
			}).Warn("share lock unavailable, relying on row locks: " + err.Error())
			continue
		}
		held = append(held, lock)
	}
	return release, nil
}
