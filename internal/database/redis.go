package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients keeps blocking queue traffic (BLPOP) and long-lived pub/sub
// subscriptions on separate connection pools.
type RedisClients struct {
	Queue  *redis.Client
	PubSub *redis.Client
}

// NewRedisClients connects both pools. The queue pool is sized so that
// queueWorkers blocked in BLPOP still leave connections for request-path
// commands such as LPUSH and PUBLISH.
func NewRedisClients(redisURL string, queueWorkers int) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	queueOpt := queueOptions(opt, queueWorkers)
	pubsubOpt := pubsubOptions(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queueClient := redis.NewClient(queueOpt)
	if err := queueClient.Ping(ctx).Err(); err != nil {
		queueClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (queue): %w", err)
	}

	pubsubClient := redis.NewClient(pubsubOpt)
	if err := pubsubClient.Ping(ctx).Err(); err != nil {
		queueClient.Close()
		pubsubClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (pubsub): %w", err)
	}

	return &RedisClients{
		Queue:  queueClient,
		PubSub: pubsubClient,
	}, nil
}

func queueOptions(base *redis.Options, workers int) *redis.Options {
	opt := *base
	if workers < 1 {
		workers = 1
	}
	if opt.PoolSize < workers+10 {
		opt.PoolSize = workers + 10
	}
	opt.MinIdleConns = 2
	opt.ConnMaxIdleTime = 5 * time.Minute
	return &opt
}

// Each subscription holds its own connection; the pool itself only serves
// the occasional PING.
func pubsubOptions(base *redis.Options) *redis.Options {
	opt := *base
	opt.PoolSize = 4
	opt.MinIdleConns = 0
	return &opt
}

func (r *RedisClients) Close() error {
	return errors.Join(r.Queue.Close(), r.PubSub.Close())
}
