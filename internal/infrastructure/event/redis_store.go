package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/commercebridge/backend/internal/domain/integration"
)

const (
	eventKeyPrefix = "webhook:event:"
	eventIndexKey  = "webhook:events:index"
)

// RedisEventStore persists webhook events in Redis. Each event lives under
// its own key with a TTL equal to the retention window, and a sorted set
// scored by receipt time provides ordered retrieval. The TTL guarantees
// per-event expiry even if the sweep loop falls behind; the sweep keeps the
// index from accumulating dead members.
type RedisEventStore struct {
	client    *redis.Client
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewRedisEventStore creates a store on an existing client. The client is
// shared with other components and is not closed by the store.
func NewRedisEventStore(client *redis.Client, retention time.Duration, logger *zap.Logger) *RedisEventStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisEventStore{
		client:    client,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// eventKey builds the per-event key. Receipt nanos and the event ID keep
// keys unique even for rapid-fire events on the same resource.
func eventKey(e *integration.WebhookEvent) string {
	return eventKeyPrefix +
		string(e.ResourceType) + ":" +
		e.ResourceID + ":" +
		strconv.FormatInt(e.ReceivedAt.UnixNano(), 10) + ":" +
		e.EventID.String()
}

// Store writes the event and its index entry in one pipeline.
func (s *RedisEventStore) Store(ctx context.Context, event *integration.WebhookEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: encoding event: %v", integration.ErrEventStoreUnavailable, err)
	}

	key := eventKey(event)
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, s.retention)
		pipe.ZAdd(ctx, eventIndexKey, redis.Z{
			Score:  float64(event.ReceivedAt.UnixNano()),
			Member: key,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", integration.ErrEventStoreUnavailable, err)
	}
	return nil
}

// Recent returns up to limit events, newest first. Index members whose
// event key already expired are skipped and removed from the index.
func (s *RedisEventStore) Recent(ctx context.Context, limit int) ([]integration.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	keys, err := s.client.ZRevRange(ctx, eventIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrEventStoreUnavailable, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrEventStoreUnavailable, err)
	}

	events := make([]integration.WebhookEvent, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, keys[i])
			continue
		}
		var e integration.WebhookEvent
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			s.logger.Warn("corrupt stored webhook event", zap.String("key", keys[i]), zap.Error(err))
			stale = append(stale, keys[i])
			continue
		}
		events = append(events, e)
	}

	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, eventIndexKey, stale...).Err(); err != nil {
			s.logger.Warn("failed to trim stale index members", zap.Error(err))
		}
	}
	return events, nil
}

// PurgeOlderThan removes events received more than age ago, and their index
// entries.
func (s *RedisEventStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := strconv.FormatInt(s.now().Add(-age).UnixNano(), 10)

	keys, err := s.client.ZRangeByScore(ctx, eventIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", integration.ErrEventStoreUnavailable, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRemRangeByScore(ctx, eventIndexKey, "-inf", cutoff)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", integration.ErrEventStoreUnavailable, err)
	}
	return len(keys), nil
}

// Close implements EventStore. The underlying client is owned by the
// composition root.
func (s *RedisEventStore) Close() error { return nil }

var _ EventStore = (*RedisEventStore)(nil)
