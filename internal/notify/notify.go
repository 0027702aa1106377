package notify

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// EventType names a domain event
type EventType string

const (
	EventRewardIssued         EventType = "reward.issued"
	EventRewardRedeemed       EventType = "reward.redeemed"
	EventRewardRevoked        EventType = "reward.revoked"
	EventAttributionConverted EventType = "attribution.converted"
)

// Event is a domain event fanned out to sinks after the originating
// transaction has committed.
type Event struct {
	ID         string           `json:"event_id"`
	Type       EventType        `json:"event_type"`
	OccurredAt time.Time        `json:"occurred_at"`
	SubjectID  string           `json:"subject_id,omitempty"`
	OwnerID    string           `json:"owner_id,omitempty"`
	RewardID   string           `json:"reward_id,omitempty"`
	ActionID   string           `json:"action_id,omitempty"`
	Kind       string           `json:"kind,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
}

// NewEvent stamps a new event with a sortable unique ID
func NewEvent(eventType EventType, occurredAt time.Time) Event {
	return Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		OccurredAt: occurredAt.UTC(),
	}
}

// Notifier accepts events for delivery. Notify must not block on delivery
// and must not fail the caller.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Sink delivers a single event to one destination
type Sink interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

// Noop discards all events
type Noop struct{}

func (Noop) Notify(context.Context, Event) {}
