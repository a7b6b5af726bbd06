// Package settlement consumes order_paid events and pays the vendors of each
// paid order.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/marketsplit-backend/internal/transfers"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
	"github.com/angelmondragon/marketsplit-backend/pkg/outbox"
	"github.com/angelmondragon/marketsplit-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketsplit-backend/pkg/outbox/registry"
	"github.com/google/uuid"
)

const consumerName = "settlement"

type orderSettler interface {
	SettleOrder(ctx context.Context, orderID uuid.UUID) (*transfers.SettlementReport, error)
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	Delete(ctx context.Context, consumer, eventID string) error
}

// Consumer settles paid orders while honoring Redis idempotency.
type Consumer struct {
	settler  orderSettler
	manager  idempotencyChecker
	decoders *registry.DecoderRegistry
	logg     *logger.Logger
}

func NewConsumer(settler orderSettler, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if settler == nil {
		return nil, errors.New("settler required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Consumer{
		settler:  settler,
		manager:  manager,
		decoders: registry.NewOrderDecoders(),
		logg:     logg,
	}, nil
}

// Run receives order events until the context is cancelled.
func (c *Consumer) Run(ctx context.Context, subscription *gcppubsub.Subscriber) error {
	if subscription == nil {
		return errors.New("subscription required")
	}
	return subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		logCtx := c.logg.WithField(innerCtx, "message_id", msg.ID)

		var envelope outbox.PayloadEnvelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			c.logg.Warn(logCtx, "invalid outbox envelope: "+err.Error())
			msg.Ack()
			return
		}
		if envelope.EventID == "" {
			envelope.EventID = strings.TrimSpace(msg.Attributes["event_id"])
		}
		eventType, err := enums.ParseOutboxEventType(strings.TrimSpace(msg.Attributes["event_type"]))
		if err != nil {
			c.logg.Warn(logCtx, "invalid event type: "+err.Error())
			msg.Ack()
			return
		}

		if err := c.Process(logCtx, eventType, envelope); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Process settles the order behind an order_paid envelope. Other event types
// are ignored. A returned error means the message should be redelivered.
func (c *Consumer) Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": eventType,
	})
	if eventType != enums.EventOrderPaid {
		return nil
	}
	if strings.TrimSpace(envelope.EventID) == "" {
		c.logg.Warn(logCtx, "order_paid envelope without event id dropped")
		return nil
	}

	version := envelope.Version
	if version == 0 {
		version = 1
	}
	decoded, err := c.decoders.Decode(eventType, version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "decode order_paid payload", err)
		return nil
	}
	paid, ok := decoded.(*payloads.OrderPaidEvent)
	if !ok || paid.OrderID == uuid.Nil {
		c.logg.Warn(logCtx, "order_paid payload without order id dropped")
		return nil
	}
	logCtx = c.logg.WithOrderID(logCtx, paid.OrderID.String())

	already, err := c.manager.CheckAndMarkProcessed(logCtx, consumerName, envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return fmt.Errorf("idempotency check: %w", err)
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return nil
	}

	report, err := c.settler.SettleOrder(logCtx, paid.OrderID)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && !typed.Retryable() {
			c.logg.Error(logCtx, "order settlement rejected", err)
			return nil
		}
		c.logg.Error(logCtx, "order settlement failed", err)
		_ = c.manager.Delete(logCtx, consumerName, envelope.EventID)
		return err
	}

	failed := 0
	for _, result := range report.Results {
		if result.Status == enums.PayoutStatusFailed {
			failed++
		}
	}
	c.logg.Info(c.logg.WithFields(logCtx, map[string]any{
		"transfers": len(report.Results),
		"failed":    failed,
		"skipped":   report.Skipped,
	}), "order settled")
	return nil
}
