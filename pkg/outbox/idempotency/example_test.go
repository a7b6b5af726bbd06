package idempotency

import (
	"context"
	"fmt"
	"time"
)

type exampleStore struct {
	seen map[string]bool
}

func (s *exampleStore) Get(context.Context, string) (string, error) {
	return "", nil
}

func (s *exampleStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

func (s *exampleStore) IdempotencyKey(scope, id string) string {
	return "ms:idempotency:" + scope + ":" + id
}

func (s *exampleStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.seen, key)
	}
	return nil
}

func ExampleManager_CheckAndMarkProcessed() {
	ctx := context.Background()
	manager, _ := NewManager(&exampleStore{seen: map[string]bool{}}, 72*time.Hour)

	handle := func(eventID string) string {
		already, _ := manager.CheckAndMarkProcessed(ctx, "stripe-webhook", eventID)
		if already {
			return "duplicate delivery"
		}
		return "processing event"
	}

	fmt.Println(handle("evt_1MqqbKLt4dXK03v5"))
	fmt.Println(handle("evt_1MqqbKLt4dXK03v5"))
	_ = manager.Delete(ctx, "stripe-webhook", "evt_1MqqbKLt4dXK03v5")
	fmt.Println(handle("evt_1MqqbKLt4dXK03v5"))
	// Output:
	// processing event
	// duplicate delivery
	// processing event
}
