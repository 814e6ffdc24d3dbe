package payment

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// PopupMonitor tracks checkout popup liveness. The popup heartbeats while it
// is open; once the liveness key stops being refreshed the popup is
// considered closed, which lets the orchestrator synthesize a cancel for a
// popup that never posts an outcome.
type PopupMonitor interface {
	Touch(ctx context.Context, orderID string) error
	Alive(ctx context.Context, orderID string) (bool, error)
	Clear(ctx context.Context, orderID string) error
}

type redisPopupMonitor struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisPopupMonitor(rdb *redis.Client, ttl time.Duration) PopupMonitor {
	return &redisPopupMonitor{rdb: rdb, ttl: ttl}
}

func popupKey(orderID string) string {
	return "popup:" + orderID
}

func (m *redisPopupMonitor) Touch(ctx context.Context, orderID string) error {
	return m.rdb.Set(ctx, popupKey(orderID), "1", m.ttl).Err()
}

func (m *redisPopupMonitor) Alive(ctx context.Context, orderID string) (bool, error) {
	n, err := m.rdb.Exists(ctx, popupKey(orderID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (m *redisPopupMonitor) Clear(ctx context.Context, orderID string) error {
	return m.rdb.Del(ctx, popupKey(orderID)).Err()
}
