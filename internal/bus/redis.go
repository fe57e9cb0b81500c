package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	streamPrefix     = "conductor:agent:"
	defaultStreamLen = 10000
)

// RedisArchiver appends dispatched messages to one Redis stream per
// destination agent so other processes can replay or tail them.
type RedisArchiver struct {
	rdb    *redis.Client
	maxLen int64
	logger *zap.Logger
}

// NewRedisArchiver connects to redisURL and verifies the connection.
func NewRedisArchiver(redisURL string, logger *zap.Logger) (*RedisArchiver, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisArchiver{rdb: rdb, maxLen: defaultStreamLen, logger: logger}, nil
}

// SetMaxLen caps each stream at roughly n entries.
func (a *RedisArchiver) SetMaxLen(n int64) {
	if n > 0 {
		a.maxLen = n
	}
}

// Stream is the stream key holding messages addressed to agent.
func Stream(agent string) string { return streamPrefix + agent }

// Archive implements Archiver.
func (a *RedisArchiver) Archive(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	stream := Stream(msg.To)
	_, err = a.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: a.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": string(msg.Type),
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("archive to %s: %w", stream, err)
	}

	a.logger.Debug("archived message",
		zap.String("id", msg.ID),
		zap.String("stream", stream))
	return nil
}

// Replay returns up to count of the most recent messages sent to agent,
// oldest first.
func (a *RedisArchiver) Replay(ctx context.Context, agent string, count int64) ([]*Message, error) {
	entries, err := a.rdb.XRevRangeN(ctx, Stream(agent), "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", agent, err)
	}
	out := make([]*Message, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if m, ok := decodeEntry(entries[i]); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Tail streams new messages sent to agent until ctx is cancelled.
func (a *RedisArchiver) Tail(ctx context.Context, agent string) <-chan *Message {
	ch := make(chan *Message, 16)
	stream := Stream(agent)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := a.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					a.logger.Debug("tail read failed", zap.String("stream", stream), zap.Error(err))
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Second):
					}
				}
				continue
			}

			for _, r := range results {
				for _, entry := range r.Messages {
					lastID = entry.ID
					m, ok := decodeEntry(entry)
					if !ok {
						continue
					}
					select {
					case ch <- m:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

func decodeEntry(entry redis.XMessage) (*Message, bool) {
	data, ok := entry.Values["data"].(string)
	if !ok {
		return nil, false
	}
	var m Message
	if json.Unmarshal([]byte(data), &m) != nil {
		return nil, false
	}
	return &m, true
}

// Close shuts down the Redis connection.
func (a *RedisArchiver) Close() error {
	return a.rdb.Close()
}
