package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Settlement event types.
const (
	TypeTrackRequestPaid     = "track_request.paid"
	TypeTrackRequestAccepted = "track_request.accepted"
	TypeTrackRequestRejected = "track_request.rejected"
	TypeWithdrawalCreated    = "withdrawal.created"
	TypeWithdrawalFinalized  = "withdrawal.finalized"
)

// SettlementEvent is published after the database transaction that caused it commits.
type SettlementEvent struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	VenueID    uuid.UUID `json:"venue_id"`
	EntityID   uuid.UUID `json:"entity_id"`
	Status     string    `json:"status"`
	Amount     int64     `json:"amount"`
	Credited   int64     `json:"credited,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewSettlementEvent(eventType string, venueID, entityID uuid.UUID, status string, amount int64) SettlementEvent {
	return SettlementEvent{
		ID:         uuid.New(),
		Type:       eventType,
		VenueID:    venueID,
		EntityID:   entityID,
		Status:     status,
		Amount:     amount,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event SettlementEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, SettlementEvent) error { return nil }
func (NopPublisher) Close() error                                   { return nil }
