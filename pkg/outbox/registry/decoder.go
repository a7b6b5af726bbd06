package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	"github.com/angelmondragon/marketsplit-backend/pkg/outbox/payloads"
)

type DecoderFunc func(payload json.RawMessage) (any, error)

type registryKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry stores versioned payload decoders for consumers.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]DecoderFunc
}

// NewDecoderRegistry builds an empty decoder registry.
func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]DecoderFunc)}
}

// NewOrderDecoders registers v1 decoders for every order event.
func NewOrderDecoders() *DecoderRegistry {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventOrderCreated, 1, jsonDecoder(func() any { return &payloads.OrderCreatedEvent{} }))
	reg.Register(enums.EventOrderPaid, 1, jsonDecoder(func() any { return &payloads.OrderPaidEvent{} }))
	reg.Register(enums.EventOrderCancelled, 1, jsonDecoder(func() any { return &payloads.OrderCancelledEvent{} }))
	return reg
}

// Register stores a decoder for the given event type and version.
func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder DecoderFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{eventType: eventType, version: version}] = decoder
}

// Decode runs the decoder registered for the event type and version.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	r.mtx.RLock()
	decoder, ok := r.registry[registryKey{eventType: eventType, version: version}]
	r.mtx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("decoder not registered for %s@v%d", eventType, version)
	}
	return decoder(payload)
}

func jsonDecoder(factory func() any) DecoderFunc {
	return func(payload json.RawMessage) (any, error) {
		target := factory()
		if err := json.Unmarshal(payload, target); err != nil {
			return nil, err
		}
		return target, nil
	}
}
