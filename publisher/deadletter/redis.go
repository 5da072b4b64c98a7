package deadletter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/maxpert/fanout/cfg"
	"github.com/maxpert/fanout/encoding"
	"github.com/maxpert/fanout/publisher"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	redisKeyPrefix   = "fanout:dlq"
	redisDialTimeout = 5 * time.Second
)

func init() {
	publisher.RegisterQueue("redis", func(config cfg.DeadLetterConfiguration) (publisher.DeadLetterQueue, error) {
		return NewRedisQueue(config.URL, config.Namespace)
	})
}

// RedisQueue keeps dead letters in Redis. Ids live in a sorted set scored by
// visibility time (unix ms); bodies live in one key per message.
type RedisQueue struct {
	rdb       *redis.Client
	namespace string
}

// NewRedisQueue connects to the Redis server at url.
// namespace separates queues of different dispatchers sharing one server.
func NewRedisQueue(url, namespace string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisQueue{rdb: rdb, namespace: namespace}, nil
}

func (q *RedisQueue) indexKey() string {
	return fmt.Sprintf("%s:%s:due", redisKeyPrefix, q.namespace)
}

func (q *RedisQueue) messageKey(id string) string {
	return fmt.Sprintf("%s:%s:msg:%s", redisKeyPrefix, q.namespace, id)
}

// Enqueue stores the message and schedules it at its visibility time
func (q *RedisQueue) Enqueue(ctx context.Context, msg publisher.DeadLetterMessage) error {
	val, err := encoding.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.messageKey(msg.ID), val, 0)
		pipe.ZAdd(ctx, q.indexKey(), redis.Z{
			Score:  float64(msg.VisibleAt().UnixMilli()),
			Member: msg.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis enqueue failed: %w", err)
	}
	return nil
}

// Due returns up to limit messages visible at now, oldest first
func (q *RedisQueue) Due(ctx context.Context, now time.Time, limit int) ([]publisher.DeadLetterMessage, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, q.indexKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore failed: %w", err)
	}

	msgs := make([]publisher.DeadLetterMessage, 0, len(ids))
	for _, id := range ids {
		val, err := q.rdb.Get(ctx, q.messageKey(id)).Bytes()
		if err == redis.Nil {
			q.dropDangling(ctx, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get failed: %w", err)
		}

		var msg publisher.DeadLetterMessage
		if err := encoding.Unmarshal(val, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter %s: %w", id, err)
		}
		msg.Receipt = id
		msgs = append(msgs, msg)
	}

	return msgs, nil
}

// dropDangling removes an index entry whose body is gone
func (q *RedisQueue) dropDangling(ctx context.Context, id string) error {
	if err := q.rdb.ZRem(ctx, q.indexKey(), id).Err(); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("Failed to drop dangling dead letter index entry")
		return err
	}
	log.Warn().Str("id", id).Msg("Dropped dead letter index entry without a body")
	return nil
}

// Ack removes a message returned by Due
func (q *RedisQueue) Ack(ctx context.Context, msg publisher.DeadLetterMessage) error {
	id := msg.Receipt
	if id == "" {
		id = msg.ID
	}

	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.indexKey(), id)
		pipe.Del(ctx, q.messageKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis ack failed: %w", err)
	}
	return nil
}

// Depth returns the number of queued messages
func (q *RedisQueue) Depth(ctx context.Context) (int, error) {
	n, err := q.rdb.ZCard(ctx, q.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(n), nil
}

// Close closes the Redis connection
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
