package notify

import (
	"context"
	"fmt"
	"log"

	"bounty-board/models"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream activity is published to.
const DefaultStream = "bounty.activity"

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStream publishes every outbox message onto a Redis stream for downstream
// consumers (search indexers, the web frontend's live feed).
type RedisStream struct {
	rdb    streamAdder
	stream string
	maxLen int64
}

func NewRedisStream(rdb *redis.Client, stream string) *RedisStream {
	return newRedisStream(rdb, stream)
}

func newRedisStream(rdb streamAdder, stream string) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStream{rdb: rdb, stream: stream, maxLen: 100000}
}

// MustRedis parses a redis:// URL into a client, exiting on a malformed URL.
func MustRedis(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	return redis.NewClient(opt)
}

func (r *RedisStream) Notify(ctx context.Context, msg models.OutboxMessage) error {
	_, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":          msg.ID,
			"activity_id": msg.ActivityID,
			"topic":       msg.Topic,
			"payload":     string(msg.Payload),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", r.stream, err)
	}
	return nil
}
