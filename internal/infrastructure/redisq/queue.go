// Package redisq implements the dispatch queue on Redis sorted sets so several
// dispatcher processes can share one queue.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/clinic-notify/internal/config"
	"github.com/clinic-notify/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	// rankWeight separates priority classes in the ready score; millisecond
	// timestamps stay well below it.
	rankWeight = 1e13

	promoteBatch = 100
	minBlock     = time.Second
	maxBlock     = 5 * time.Second
)

// promoteScript moves due members of the delayed set into the ready set using the
// ready score kept in the scores hash.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[1], id)
	local score = redis.call('HGET', KEYS[3], id)
	if score then
		redis.call('ZADD', KEYS[2], score, id)
	end
end
return #due
`)

var takeScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], ARGV[1])
if not redis.call('ZSCORE', KEYS[3], ARGV[1]) and not redis.call('ZSCORE', KEYS[4], ARGV[1]) then
	redis.call('HDEL', KEYS[1], ARGV[1])
	redis.call('HDEL', KEYS[2], ARGV[1])
end
return v
`)

// Queue keeps a ready set ordered by (priority rank, scheduled time), a
// delayed set ordered by due time and a hash of item payloads.
type Queue struct {
	rdb     redis.UniversalClient
	ready   string
	delayed string
	items   string
	scores  string
	now     func() time.Time
}

// NewClient creates a Redis client from configuration.
func NewClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
}

// New returns a queue whose keys share prefix.
func New(rdb redis.UniversalClient, prefix string) *Queue {
	return &Queue{
		rdb:     rdb,
		ready:   prefix + ":ready",
		delayed: prefix + ":delayed",
		items:   prefix + ":items",
		scores:  prefix + ":scores",
		now:     time.Now,
	}
}

func readyScore(item domain.QueueItem) float64 {
	return float64(item.Priority.Rank())*rankWeight + float64(item.ScheduledAt.UnixMilli())
}

// Push adds item, replacing any earlier entry for the same notification.
func (q *Queue) Push(ctx context.Context, item domain.QueueItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	id := item.NotificationID
	score := readyScore(item)

	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.items, id, payload)
		p.HSet(ctx, q.scores, id, strconv.FormatFloat(score, 'f', -1, 64))
		p.ZRem(ctx, q.ready, id)
		p.ZRem(ctx, q.delayed, id)
		if item.DueAt.After(q.now()) {
			p.ZAdd(ctx, q.delayed, redis.Z{Score: float64(item.DueAt.UnixMilli()), Member: id})
		} else {
			p.ZAdd(ctx, q.ready, redis.Z{Score: score, Member: id})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("push %s: %w", id, err)
	}
	return nil
}

func (q *Queue) Remove(ctx context.Context, notificationID string) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.ready, notificationID)
		p.ZRem(ctx, q.delayed, notificationID)
		p.HDel(ctx, q.items, notificationID)
		p.HDel(ctx, q.scores, notificationID)
		return nil
	})
	return err
}

// Pop blocks until an item is due or ctx is done. Each round promotes due
// delayed items and then blocks on the ready set for at most maxBlock.
func (q *Queue) Pop(ctx context.Context) (domain.QueueItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.QueueItem{}, err
		}
		now := q.now()
		if err := promoteScript.Run(ctx, q.rdb, []string{q.delayed, q.ready, q.scores}, now.UnixMilli(), promoteBatch).Err(); err != nil {
			if ctx.Err() != nil {
				return domain.QueueItem{}, ctx.Err()
			}
			return domain.QueueItem{}, fmt.Errorf("promote delayed: %w", err)
		}

		res, err := q.rdb.BZPopMin(ctx, q.blockFor(ctx, now), q.ready).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return domain.QueueItem{}, ctx.Err()
			}
			return domain.QueueItem{}, fmt.Errorf("pop ready: %w", err)
		}

		id, _ := res.Member.(string)
		item, ok, err := q.take(ctx, id)
		if err != nil {
			return domain.QueueItem{}, err
		}
		if ok {
			return item, nil
		}
	}
}

// take loads the payload of a popped member and forgets it unless the item
// was pushed again meanwhile. A missing payload means it was removed.
func (q *Queue) take(ctx context.Context, id string) (domain.QueueItem, bool, error) {
	var item domain.QueueItem
	payload, err := takeScript.Run(ctx, q.rdb, []string{q.items, q.scores, q.ready, q.delayed}, id).Text()
	if errors.Is(err, redis.Nil) {
		return item, false, nil
	}
	if err != nil {
		return item, false, fmt.Errorf("load %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(payload), &item); err != nil {
		return item, false, fmt.Errorf("decode %s: %w", id, err)
	}
	return item, true, nil
}

// blockFor waits until the next delayed item is due, clamped to [minBlock, maxBlock].
func (q *Queue) blockFor(ctx context.Context, now time.Time) time.Duration {
	head, err := q.rdb.ZRangeWithScores(ctx, q.delayed, 0, 0).Result()
	if err != nil || len(head) == 0 {
		return maxBlock
	}
	wait := time.Duration(head[0].Score-float64(now.UnixMilli())) * time.Millisecond
	return time.Duration(math.Max(float64(minBlock), math.Min(float64(wait), float64(maxBlock))))
}

// Len counts queued items, ready and delayed.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.HLen(ctx, q.items).Result()
}
