// Package cache mirrors ingestion progress into Redis so that other
// processes can follow a task.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss indicates no snapshot is stored for a task.
var ErrCacheMiss = errors.New("cache miss")

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
	// SnapshotTTL bounds how long the last snapshot of a task is kept.
	SnapshotTTL time.Duration
}

// ProgressChannel publishes progress snapshots on "<prefix><taskID>" and
// keeps the latest one under "<prefix>last:<taskID>".
type ProgressChannel struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewProgressChannel connects to Redis and pings it.
func NewProgressChannel(cfg RedisConfig) (*ProgressChannel, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "archive:progress:"
	}
	ttl := cfg.SnapshotTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &ProgressChannel{client: client, prefix: prefix, ttl: ttl}, nil
}

// Publish stores and broadcasts a JSON encoded snapshot for taskID.
func (c *ProgressChannel) Publish(ctx context.Context, taskID string, snapshot any) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.prefix+"last:"+taskID, data, c.ttl)
	pipe.Publish(ctx, c.prefix+taskID, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Latest returns the last stored snapshot for taskID.
func (c *ProgressChannel) Latest(ctx context.Context, taskID string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+"last:"+taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Subscribe streams snapshots published for taskID until unsubscribe is
// called or ctx ends.
func (c *ProgressChannel) Subscribe(ctx context.Context, taskID string) (<-chan []byte, func(), error) {
	sub := c.client.Subscribe(ctx, c.prefix+taskID)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	ch := make(chan []byte, 16)
	done := make(chan struct{})
	msgs := sub.Channel()

	go func() {
		defer close(ch)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case ch <- []byte(msg.Payload):
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	var closed bool
	unsubscribe := func() {
		if closed {
			return
		}
		closed = true
		close(done)
		_ = sub.Close()
	}
	return ch, unsubscribe, nil
}

// Close closes the Redis connection.
func (c *ProgressChannel) Close() error {
	return c.client.Close()
}
