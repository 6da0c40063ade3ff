package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/jaevor/go-nanoid"
)

// MockGateway is an in-memory provider. Payments and payouts stay pending until
// SetPaymentStatus/SetPayoutStatus moves them; the /mock checkout and payout
// routes do that and then deliver the matching notification.
type MockGateway struct {
	mu        sync.Mutex
	newID     func() string
	baseURL   string
	payments  map[string]*PaymentStatus
	payouts   map[string]*PayoutStatus
	byIdemKey map[string]string
	cards     map[string]Card

	// PayoutErr, when set, is returned by every CreatePayout call.
	PayoutErr error
}

func NewMockGateway(baseURL string) (*MockGateway, error) {
	newID, err := nanoid.Standard(21)
	if err != nil {
		return nil, fmt.Errorf("init id generator: %w", err)
	}
	return &MockGateway{
		newID:     newID,
		baseURL:   strings.TrimRight(baseURL, "/"),
		payments:  make(map[string]*PaymentStatus),
		payouts:   make(map[string]*PayoutStatus),
		byIdemKey: make(map[string]string),
		cards:     make(map[string]Card),
	}, nil
}

func (g *MockGateway) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error) {
	if err := ctx.Err(); err != nil {
		return PaymentIntent{}, err
	}
	if req.Amount <= 0 {
		return PaymentIntent{}, fmt.Errorf("invalid amount: %d", req.Amount)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	id := "pay_" + g.newID()
	g.payments[id] = &PaymentStatus{
		ID:       id,
		Status:   StatusPending,
		Amount:   req.Amount,
		Metadata: map[string]string{MetadataCorrelationToken: req.CorrelationToken},
	}
	return PaymentIntent{
		ID:              id,
		Status:          StatusPending,
		ConfirmationURL: fmt.Sprintf("%s/mock/checkout/%s?return_url=%s", g.baseURL, id, url.QueryEscape(req.ReturnURL)),
	}, nil
}

// CreatePayout is idempotent on IdempotencyKey: a repeated key returns the
// payout created by the first call.
func (g *MockGateway) CreatePayout(ctx context.Context, req PayoutRequest) (Payout, error) {
	if err := ctx.Err(); err != nil {
		return Payout{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.PayoutErr != nil {
		return Payout{}, g.PayoutErr
	}
	if req.Amount <= 0 {
		return Payout{}, fmt.Errorf("invalid amount: %d", req.Amount)
	}
	if _, ok := g.cards[req.CardToken]; !ok {
		return Payout{}, fmt.Errorf("unknown card token")
	}
	if id, ok := g.byIdemKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		p := g.payouts[id]
		return Payout{ID: p.ID, Status: p.Status}, nil
	}

	id := "po_" + g.newID()
	g.payouts[id] = &PayoutStatus{ID: id, Status: StatusPending, Amount: req.Amount}
	if req.IdempotencyKey != "" {
		g.byIdemKey[req.IdempotencyKey] = id
	}
	return Payout{ID: id, Status: StatusPending}, nil
}

func (g *MockGateway) LookupPayment(ctx context.Context, id string) (PaymentStatus, error) {
	if err := ctx.Err(); err != nil {
		return PaymentStatus{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[id]
	if !ok {
		return PaymentStatus{}, fmt.Errorf("payment %s: %w", id, ErrUnknownObject)
	}
	out := *p
	out.Metadata = make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		out.Metadata[k] = v
	}
	return out, nil
}

func (g *MockGateway) LookupPayout(ctx context.Context, id string) (PayoutStatus, error) {
	if err := ctx.Err(); err != nil {
		return PayoutStatus{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payouts[id]
	if !ok {
		return PayoutStatus{}, fmt.Errorf("payout %s: %w", id, ErrUnknownObject)
	}
	return *p, nil
}

func (g *MockGateway) TokenizeCard(ctx context.Context, card Card) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	token := "card_" + g.newID()
	g.cards[token] = card
	return token, nil
}

// SetPaymentStatus moves a payment to status, as the provider would after checkout.
func (g *MockGateway) SetPaymentStatus(id, status string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[id]
	if !ok {
		return fmt.Errorf("payment %s: %w", id, ErrUnknownObject)
	}
	p.Status = status
	return nil
}

func (g *MockGateway) SetPayoutStatus(id, status string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payouts[id]
	if !ok {
		return fmt.Errorf("payout %s: %w", id, ErrUnknownObject)
	}
	p.Status = status
	return nil
}

// PayoutCount returns how many distinct payouts were created.
func (g *MockGateway) PayoutCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.payouts)
}

// SetPayoutErr makes every following CreatePayout fail with err; nil restores success.
func (g *MockGateway) SetPayoutErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.PayoutErr = err
}
