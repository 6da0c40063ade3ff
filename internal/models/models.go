package models

import (
	"time"

	"github.com/google/uuid"
)

type Venue struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Name      string    `json:"name"`
	City      string    `json:"city"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

type Genre struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type Track struct {
	ID      uuid.UUID     `json:"id"`
	VenueID uuid.UUID     `json:"venue_id"`
	GenreID uuid.NullUUID `json:"genre_id"`
	Title   string        `json:"title"`
	Artist  string        `json:"artist"`
	Price   int64         `json:"price"`
}

// TrackRequest is a patron's paid request for a venue to play a track.
// VenueID, TrackTitle and MinFee are denormalized from the owning track.
type TrackRequest struct {
	ID            uuid.UUID `json:"id"`
	TrackID       uuid.UUID `json:"track_id"`
	VenueID       uuid.UUID `json:"venue_id"`
	TrackTitle    string    `json:"track_title"`
	MinFee        int64     `json:"min_fee"`
	UserFee       int64     `json:"user_fee"`
	Status        string    `json:"status"`
	IsPaid        bool      `json:"is_paid"`
	PaymentToken  uuid.UUID `json:"payment_token"`
	PaymentID     *string   `json:"payment_id,omitempty"`
	TransactionID *string   `json:"transaction_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Transaction is an append-only ledger record. Amount is signed: deposits are
// positive, withdrawals negative.
type Transaction struct {
	ID             uuid.UUID     `json:"id"`
	VenueID        uuid.UUID     `json:"venue_id"`
	Amount         int64         `json:"amount"`
	Type           string        `json:"type"`
	TrackRequestID uuid.NullUUID `json:"track_request_id"`
	WithdrawalID   uuid.NullUUID `json:"withdrawal_id"`
	CreatedAt      time.Time     `json:"created_at"`
}

type WithdrawalRequest struct {
	ID            uuid.UUID `json:"id"`
	VenueID       uuid.UUID `json:"venue_id"`
	Amount        int64     `json:"amount"`
	Fee           int64     `json:"fee"`
	Status        string    `json:"status"`
	PayoutID      *string   `json:"payout_id,omitempty"`
	BankCardToken string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NetAmount is what the gateway remits to the card; the fee stays with the platform.
func (w WithdrawalRequest) NetAmount() int64 {
	return w.Amount - w.Fee
}
