package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/marketsplit-backend/pkg/redis"
)

// DeliveryScope namespaces provider event ids in the idempotency store.
const DeliveryScope = "stripe-webhook"

// DeliveryGuard remembers provider event ids so a redelivered event is
// acknowledged without being processed twice.
type DeliveryGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewDeliveryGuard(store redis.IdempotencyStore, ttl time.Duration) (*DeliveryGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &DeliveryGuard{store: store, ttl: ttl, scope: DeliveryScope}, nil
}

// CheckAndMark reports whether the event was already seen, marking it if not.
func (g *DeliveryGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, eventID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set delivery marker: %w", err)
	}
	return !set, nil
}

// Release forgets the event so the provider's next delivery is processed.
func (g *DeliveryGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, eventID))
}
