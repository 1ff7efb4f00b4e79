// Package notify tells downstream consumers that the publishable set changed.
//
// A batch that resolves any item as a duplicate or update shrinks the set of
// items a renderer should publish; consumers that cache the set listen for
// this signal and re-query.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel events are published on
const DefaultChannel = "storydesk:publishable-set"

// Event describes a batch that removed items from the publishable set
type Event struct {
	Batch    string    `json:"batch"`
	NonNew   int       `json:"non_new"`
	New      int       `json:"new"`
	Resolved int       `json:"resolved"`
	At       time.Time `json:"at"`
}

// Notifier receives publishable-set signals. Implementations must be safe
// for concurrent use; batches may finish in parallel.
type Notifier interface {
	PublishableSetShrunk(ctx context.Context, ev Event) error
}

// RedisNotifier publishes events as JSON on a Redis channel
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
}

// NewRedisNotifier creates a notifier on an existing client
func NewRedisNotifier(rdb *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{rdb: rdb, channel: channel}
}

// DialRedis connects to addr and pings it. A failed ping is returned but the
// client is still usable; Redis may come up later.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return rdb, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// PublishableSetShrunk publishes the event
func (n *RedisNotifier) PublishableSetShrunk(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := n.rdb.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", n.channel, err)
	}
	return nil
}

// Close closes the underlying client
func (n *RedisNotifier) Close() error {
	return n.rdb.Close()
}

// LogNotifier writes events to a structured logger
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier logs to logger, or slog.Default when nil
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// PublishableSetShrunk logs the event
func (n *LogNotifier) PublishableSetShrunk(ctx context.Context, ev Event) error {
	n.logger.InfoContext(ctx, "publishable set shrunk",
		"batch", ev.Batch,
		"non_new", ev.NonNew,
		"new", ev.New,
		"resolved", ev.Resolved)
	return nil
}

// Multi fans an event out to several notifiers and returns the first error
type Multi []Notifier

// PublishableSetShrunk delivers to every notifier even if one fails
func (m Multi) PublishableSetShrunk(ctx context.Context, ev Event) error {
	var first error
	for _, n := range m {
		if err := n.PublishableSetShrunk(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
