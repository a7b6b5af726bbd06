package stripewebhook

import (
	"encoding/json"
	"strings"

	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
)

// eventTypeTransferFailed is still delivered to older API versions and has no
// constant in the SDK.
const eventTypeTransferFailed stripe.EventType = "transfer.failed"

// Kind names an Event variant for logs and metrics.
type Kind string

const (
	KindPaymentSucceeded Kind = "payment_succeeded"
	KindTransferCreated  Kind = "transfer_created"
	KindTransferFailed   Kind = "transfer_failed"
	KindAccountUpdated   Kind = "account_updated"
	KindUnknown          Kind = "unknown"
)

// Event is the closed set of provider events this service understands.
// Anything else parses to Unknown.
type Event interface {
	Kind() Kind
	isEvent()
}

type PaymentSucceeded struct {
	EventID     string
	IntentID    string
	OrderID     uuid.UUID
	AmountCents int64
	Currency    string
}

type TransferCreated struct {
	EventID     string
	TransferID  string
	SubOrderID  uuid.UUID
	AmountCents int64
}

// TransferFailed covers both failed and reversed transfers.
type TransferFailed struct {
	EventID    string
	TransferID string
	Reason     string
}

type AccountUpdated struct {
	EventID          string
	AccountID        string
	VendorID         uuid.UUID
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

type Unknown struct {
	EventID string
	Type    string
}

func (PaymentSucceeded) Kind() Kind { return KindPaymentSucceeded }
func (TransferCreated) Kind() Kind  { return KindTransferCreated }
func (TransferFailed) Kind() Kind   { return KindTransferFailed }
func (AccountUpdated) Kind() Kind   { return KindAccountUpdated }
func (Unknown) Kind() Kind          { return KindUnknown }

func (PaymentSucceeded) isEvent() {}
func (TransferCreated) isEvent()  {}
func (TransferFailed) isEvent()   {}
func (AccountUpdated) isEvent()   {}
func (Unknown) isEvent()          {}

// ParseEvent classifies a verified provider event. A payment event without a
// usable order reference is an error, not Unknown.
func ParseEvent(event *stripe.Event) (Event, error) {
	if event == nil || event.Data == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
		}
		rawOrderID := strings.TrimSpace(intent.Metadata["order_id"])
		if rawOrderID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent metadata missing order_id").
				WithDetails(map[string]any{"payment_intent_id": intent.ID})
		}
		orderID, err := uuid.Parse(rawOrderID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payment intent metadata has invalid order_id")
		}
		amount := intent.AmountReceived
		if amount == 0 {
			amount = intent.Amount
		}
		return PaymentSucceeded{
			EventID:     event.ID,
			IntentID:    intent.ID,
			OrderID:     orderID,
			AmountCents: amount,
			Currency:    strings.ToLower(string(intent.Currency)),
		}, nil

	case stripe.EventTypeTransferCreated:
		var transfer stripe.Transfer
		if err := json.Unmarshal(event.Data.Raw, &transfer); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode transfer")
		}
		if transfer.ID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer id missing")
		}
		created := TransferCreated{EventID: event.ID, TransferID: transfer.ID, AmountCents: transfer.Amount}
		if id, err := uuid.Parse(transfer.Metadata["sub_order_id"]); err == nil {
			created.SubOrderID = id
		}
		return created, nil

	case eventTypeTransferFailed, stripe.EventTypeTransferReversed:
		var transfer stripe.Transfer
		if err := json.Unmarshal(event.Data.Raw, &transfer); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode transfer")
		}
		if transfer.ID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer id missing")
		}
		reason := "transfer failed"
		if event.Type == stripe.EventTypeTransferReversed {
			reason = "transfer reversed"
		}
		return TransferFailed{EventID: event.ID, TransferID: transfer.ID, Reason: reason}, nil

	case stripe.EventTypeAccountUpdated:
		var account stripe.Account
		if err := json.Unmarshal(event.Data.Raw, &account); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode account")
		}
		if account.ID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id missing")
		}
		updated := AccountUpdated{
			EventID:          event.ID,
			AccountID:        account.ID,
			ChargesEnabled:   account.ChargesEnabled,
			PayoutsEnabled:   account.PayoutsEnabled,
			DetailsSubmitted: account.DetailsSubmitted,
		}
		if id, err := uuid.Parse(account.Metadata["vendor_id"]); err == nil {
			updated.VendorID = id
		}
		return updated, nil

	default:
		return Unknown{EventID: event.ID, Type: string(event.Type)}, nil
	}
}
