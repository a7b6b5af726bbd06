package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActorRef identifies who produced the event. System jobs leave it nil.
type ActorRef struct {
	ID   uuid.UUID `json:"id"`
	Kind string    `json:"kind"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events
// and published verbatim as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
