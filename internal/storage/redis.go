package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/maneesh/dropstream/internal/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultChannelPrefix namespaces the per-session progress channels
	DefaultChannelPrefix = "dropstream:progress"
)

// RedisNotifier publishes progress events on one Redis channel per session
type RedisNotifier struct {
	client *redis.Client
	prefix string
}

// NewRedisClient initializes a new Redis client
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test the connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}

// NewRedisNotifier wraps an existing client
func NewRedisNotifier(client *redis.Client, prefix string) *RedisNotifier {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisNotifier{client: client, prefix: prefix}
}

// Close closes the Redis connection
func (rn *RedisNotifier) Close() error {
	return rn.client.Close()
}

// Channel returns the pub/sub channel a session listens on
func (rn *RedisNotifier) Channel(sessionID string) string {
	return fmt.Sprintf("%s:%s", rn.prefix, sessionID)
}

// Emit publishes an event to the session's channel. Delivery is fire-and-forget:
// a session without subscribers silently drops the event.
func (rn *RedisNotifier) Emit(ctx context.Context, sessionID, event string, payload models.ProgressEvent) error {
	ctx, span := tracer.Start(ctx, "redis.publish_progress",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.String("event", event),
			attribute.Int64("processed", payload.ProcessedAlready),
		),
	)
	defer span.End()

	data, err := json.Marshal(models.Envelope{Event: event, Data: payload})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	receivers, err := rn.client.Publish(ctx, rn.Channel(sessionID), data).Result()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	span.SetAttributes(attribute.Int64("receivers", receivers))
	return nil
}

// Subscribe streams the events published for a session until ctx ends or the
// returned close function is called.
func (rn *RedisNotifier) Subscribe(ctx context.Context, sessionID string) (<-chan models.Envelope, func() error, error) {
	pubsub := rn.client.Subscribe(ctx, rn.Channel(sessionID))

	// Wait for the subscription to be confirmed before handing it out
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan models.Envelope)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var env models.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				continue
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, pubsub.Close, nil
}
