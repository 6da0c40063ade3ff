package gateway

import (
	"context"
	"errors"
)

// Gateway is the payment provider boundary. Implementations must be safe for
// concurrent use and must not be called while a database row lock is held.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error)
	CreatePayout(ctx context.Context, req PayoutRequest) (Payout, error)
	LookupPayment(ctx context.Context, id string) (PaymentStatus, error)
	LookupPayout(ctx context.Context, id string) (PayoutStatus, error)
	TokenizeCard(ctx context.Context, card Card) (string, error)
}

// ErrUnknownObject is returned by lookups for ids the provider does not know.
var ErrUnknownObject = errors.New("unknown gateway object")

// Provider payment and payout statuses.
const (
	StatusPending           = "pending"
	StatusWaitingForCapture = "waiting_for_capture"
	StatusSucceeded         = "succeeded"
	StatusCanceled          = "canceled"
)

type PaymentIntentRequest struct {
	Amount           int64
	CorrelationToken string
	Description      string
	ReturnURL        string
}

type PaymentIntent struct {
	ID              string
	Status          string
	ConfirmationURL string
}

type PayoutRequest struct {
	Amount         int64
	CardToken      string
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

type Payout struct {
	ID     string
	Status string
}

type PaymentStatus struct {
	ID       string
	Status   string
	Amount   int64
	Metadata map[string]string
}

// CorrelationToken returns the payment token the intent was created for.
func (p PaymentStatus) CorrelationToken() string {
	return p.Metadata[MetadataCorrelationToken]
}

type PayoutStatus struct {
	ID     string
	Status string
	Amount int64
}

// Card holds raw card details. It only ever travels to TokenizeCard.
type Card struct {
	Number      string `json:"number"`
	ExpiryYear  string `json:"expiry_year"`
	ExpiryMonth string `json:"expiry_month"`
	CSC         string `json:"csc"`
}

const MetadataCorrelationToken = "correlation_token"
