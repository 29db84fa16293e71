package payments

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CallbackStore is the redis surface the guard needs.
type CallbackStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	CallbackKey(kind, transactionID string) string
}

// CallbackGuard keeps two deliveries of the same gateway callback from
// reconciling at once. The session row stays the durable idempotency key;
// the guard only sheds concurrent duplicates early.
type CallbackGuard struct {
	store CallbackStore
	ttl   time.Duration
}

func NewCallbackGuard(store CallbackStore, ttl time.Duration) (*CallbackGuard, error) {
	if store == nil {
		return nil, errors.New("callback store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &CallbackGuard{store: store, ttl: ttl}, nil
}

// Acquire returns false when another worker holds the callback.
func (g *CallbackGuard) Acquire(ctx context.Context, kind, transactionID string) (bool, error) {
	if transactionID == "" {
		return false, errors.New("transaction id is required")
	}
	set, err := g.store.SetNX(ctx, g.store.CallbackKey(kind, transactionID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set callback key: %w", err)
	}
	return set, nil
}

func (g *CallbackGuard) Release(ctx context.Context, kind, transactionID string) error {
	return g.store.Del(ctx, g.store.CallbackKey(kind, transactionID))
}
