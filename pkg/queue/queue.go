// Package queue is the durable hand-off between upload intake and the
// worker pool, built on Redis Streams with a consumer group. Messages stay
// pending until acknowledged, so a worker crash leaves its work visible;
// a sibling stream serves as the dead-letter queue.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cnabflow/cnabflow/internal/logger"
)

// Config holds queue settings.
type Config struct {
	Addr     string `mapstructure:"addr"     yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db"       yaml:"db"`

	Stream    string `mapstructure:"stream"     yaml:"stream"`
	Group     string `mapstructure:"group"      yaml:"group"`
	DLQStream string `mapstructure:"dlq_stream" yaml:"dlq_stream"`

	// BlockTimeout bounds how long a dequeue waits for a message. Negative
	// values make dequeue non-blocking.
	BlockTimeout time.Duration `mapstructure:"block_timeout" yaml:"block_timeout"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.Stream == "" {
		c.Stream = "cnab:uploads"
	}
	if c.Group == "" {
		c.Group = "cnab-workers"
	}
	if c.DLQStream == "" {
		c.DLQStream = c.Stream + ":dlq"
	}
	if c.BlockTimeout == 0 {
		c.BlockTimeout = time.Second
	}
}

// Message is one unit of work handed to the worker pool.
type Message struct {
	ID          string
	UploadID    string
	StoragePath string
	EnqueuedAt  time.Time
	RetryCount  int
}

// Stats reports queue depths for observability.
type Stats struct {
	StreamLength int64 `json:"stream_length"`
	Pending      int64 `json:"pending"`
	DLQLength    int64 `json:"dlq_length"`
}

// Queue is a Redis Streams backed work queue.
type Queue struct {
	client *redis.Client
	cfg    Config
}

// New connects to Redis and returns a ready queue.
func New(cfg Config) *Queue {
	cfg.ApplyDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Queue{client: client, cfg: cfg}
}

// NewWithClient wraps an existing Redis client. Used by tests.
func NewWithClient(client *redis.Client, cfg Config) *Queue {
	cfg.ApplyDefaults()
	return &Queue{client: client, cfg: cfg}
}

// Ping verifies the Redis connection.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Stream returns the main stream name.
func (q *Queue) Stream() string {
	return q.cfg.Stream
}

// InitConsumerGroup creates the consumer group, creating the stream with it
// if needed. The group starts at the beginning of the stream so messages
// enqueued before the first worker came up are still delivered. Safe to call
// on every startup.
func (q *Queue) InitConsumerGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", q.cfg.Group, q.cfg.Stream, err)
	}
	return nil
}

// Enqueue publishes an upload for processing and returns the message ID.
func (q *Queue) Enqueue(ctx context.Context, uploadID, storagePath string) (string, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]any{
			"upload_id":    uploadID,
			"storage_path": storagePath,
			"enqueued_at":  time.Now().UTC().Format(time.RFC3339),
			"retry_count":  "0",
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue upload %s: %w", uploadID, err)
	}
	return id, nil
}

// Dequeue claims the next message for the given consumer. Returns (nil, nil)
// when no message arrives within the block timeout.
func (q *Queue) Dequeue(ctx context.Context, consumerID string) (*Message, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: consumerID,
		Streams:  []string{q.cfg.Stream, ">"},
		Count:    1,
		Block:    q.cfg.BlockTimeout,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from stream %s: %w", q.cfg.Stream, err)
	}

	for _, stream := range streams {
		for _, entry := range stream.Messages {
			return parseMessage(entry), nil
		}
	}
	return nil, nil
}

// Ack acknowledges a message so it is no longer pending for the group.
func (q *Queue) Ack(ctx context.Context, messageID string) error {
	if err := q.client.XAck(ctx, q.cfg.Stream, q.cfg.Group, messageID).Err(); err != nil {
		return fmt.Errorf("failed to ack message %s: %w", messageID, err)
	}
	return nil
}

// MoveToDLQ publishes the message to the dead-letter stream and acknowledges
// the original, so the group never redelivers work that has been given up on.
func (q *Queue) MoveToDLQ(ctx context.Context, msg *Message, reason string) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.DLQStream,
		Values: map[string]any{
			"upload_id":       msg.UploadID,
			"storage_path":    msg.StoragePath,
			"original_id":     msg.ID,
			"reason":          reason,
			"retry_count":     strconv.Itoa(msg.RetryCount + 1),
			"last_attempt_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	pipe.XAck(ctx, q.cfg.Stream, q.cfg.Group, msg.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to dead-letter message %s: %w", msg.ID, err)
	}

	logger.Warn("Moved message to DLQ",
		"message_id", msg.ID, "upload_id", msg.UploadID, "reason", reason)
	return nil
}

// Stats returns stream depth, pending count and DLQ depth.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var stats Stats

	length, err := q.client.XLen(ctx, q.cfg.Stream).Result()
	if err != nil && err != redis.Nil {
		return stats, fmt.Errorf("failed to read stream length: %w", err)
	}
	stats.StreamLength = length

	pending, err := q.client.XPending(ctx, q.cfg.Stream, q.cfg.Group).Result()
	if err != nil {
		// The group does not exist until InitConsumerGroup ran.
		if !strings.Contains(err.Error(), "NOGROUP") {
			return stats, fmt.Errorf("failed to read pending entries: %w", err)
		}
	} else {
		stats.Pending = pending.Count
	}

	dlqLength, err := q.client.XLen(ctx, q.cfg.DLQStream).Result()
	if err != nil && err != redis.Nil {
		return stats, fmt.Errorf("failed to read DLQ length: %w", err)
	}
	stats.DLQLength = dlqLength

	return stats, nil
}

// parseMessage converts a raw stream entry into a Message.
func parseMessage(entry redis.XMessage) *Message {
	msg := &Message{ID: entry.ID}
	if v, ok := entry.Values["upload_id"].(string); ok {
		msg.UploadID = v
	}
	if v, ok := entry.Values["storage_path"].(string); ok {
		msg.StoragePath = v
	}
	if v, ok := entry.Values["retry_count"].(string); ok {
		if n, err := strconv.Atoi(v); err == nil {
			msg.RetryCount = n
		}
	}
	if v, ok := entry.Values["enqueued_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			msg.EnqueuedAt = ts
		}
	}
	return msg
}
