package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/venue-payments/internal/domain"
	"github.com/ayo6706/venue-payments/internal/events"
	"github.com/ayo6706/venue-payments/internal/gateway"
	"github.com/ayo6706/venue-payments/internal/models"
	"github.com/ayo6706/venue-payments/internal/observability"
	"github.com/ayo6706/venue-payments/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	webhookKindPayment = "payment"
	webhookKindPayout  = "payout"
)

// WebhookService applies gateway notifications exactly once. It never trusts
// the notification body for status: the object is re-read from the gateway.
type WebhookService struct {
	store       QueryStore
	gateway     gateway.Gateway
	ledger      *Ledger
	withdrawals *WithdrawalService
	audit       *AuditService
	publisher   events.Publisher
	hmacKey     []byte
	skipSig     bool
}

func NewWebhookService(store QueryStore, gw gateway.Gateway, ledger *Ledger, withdrawals *WithdrawalService, publisher events.Publisher, hmacKey string, skipSignature bool) *WebhookService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &WebhookService{
		store:       store,
		gateway:     gw,
		ledger:      ledger,
		withdrawals: withdrawals,
		audit:       NewAuditService(store),
		publisher:   publisher,
		hmacKey:     []byte(hmacKey),
		skipSig:     skipSignature,
	}
}

// GatewayEvent is the notification envelope posted by the gateway.
type GatewayEvent struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	Object struct {
		ID       string            `json:"id"`
		Status   string            `json:"status"`
		Metadata map[string]string `json:"metadata"`
	} `json:"object"`
}

// WebhookResult reports what a notification did.
type WebhookResult struct {
	Outcome  string    `json:"outcome"`
	EntityID uuid.UUID `json:"entity_id,omitempty"`
	Status   string    `json:"status,omitempty"`
	Credited int64     `json:"credited,omitempty"`
}

func (s *WebhookService) parse(payload []byte, signature string) (GatewayEvent, error) {
	var event GatewayEvent
	if !s.verifyHMAC(payload, signature) {
		return event, domain.ErrInvalidSignature
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return event, domain.Invalid("body", "malformed notification: %v", err)
	}
	event.Object.ID = strings.TrimSpace(event.Object.ID)
	if event.Object.ID == "" {
		return event, domain.Invalid("object.id", "is required")
	}
	return event, nil
}

// HandlePaymentEvent credits the venue for a succeeded payment. Replays and
// non-succeeded payments are acknowledged without effect.
func (s *WebhookService) HandlePaymentEvent(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	result, err := s.handlePayment(ctx, payload, signature)
	s.record(webhookKindPayment, result, err)
	return result, err
}

func (s *WebhookService) handlePayment(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	event, err := s.parse(payload, signature)
	if err != nil {
		return nil, err
	}

	payment, err := s.gateway.LookupPayment(ctx, event.Object.ID)
	if err != nil {
		if errors.Is(err, gateway.ErrUnknownObject) {
			return nil, domain.NotFound("payment")
		}
		return nil, domain.GatewayFailure("lookup payment", err)
	}
	if payment.Status != gateway.StatusSucceeded {
		return &WebhookResult{Outcome: observability.WebhookIgnored, Status: payment.Status}, nil
	}

	rawToken := payment.CorrelationToken()
	if rawToken == "" {
		rawToken = event.Object.Metadata[gateway.MetadataCorrelationToken]
	}
	token, err := uuid.Parse(rawToken)
	if err != nil {
		return nil, domain.NotFound("track request")
	}

	result := &WebhookResult{Outcome: observability.WebhookReplay}
	var req models.TrackRequest
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		req, err = qtx.GetTrackRequestByTokenForUpdate(ctx, token)
		if err != nil {
			if isNoRows(err) {
				return domain.NotFound("track request")
			}
			return fmt.Errorf("lock track request: %w", err)
		}
		result.EntityID = req.ID
		result.Status = req.Status
		if req.IsPaid {
			return nil
		}

		if payment.Amount != 0 && payment.Amount != req.UserFee {
			zap.L().Warn("payment amount differs from request fee",
				zap.String("track_request_id", req.ID.String()),
				zap.Int64("paid", payment.Amount),
				zap.Int64("user_fee", req.UserFee),
			)
		}

		rows, err := qtx.MarkTrackRequestPaid(ctx, req.ID, &payment.ID)
		if err != nil {
			return fmt.Errorf("mark paid: %w", err)
		}
		if err := requireExactlyOne(rows, "mark track request paid"); err != nil {
			return err
		}

		already, err := qtx.HasDepositForTrackRequest(ctx, req.ID)
		if err != nil {
			return fmt.Errorf("check existing deposit: %w", err)
		}
		if !already {
			if _, err := s.ledger.Credit(ctx, qtx, LedgerEntry{
				VenueID:        req.VenueID,
				Amount:         req.UserFee,
				Type:           domain.TxTypeDeposit,
				TrackRequestID: uuid.NullUUID{UUID: req.ID, Valid: true},
			}); err != nil {
				return fmt.Errorf("credit venue: %w", err)
			}
			result.Credited = req.UserFee
		}

		metadata, _ := json.Marshal(map[string]any{"payment_id": payment.ID, "credited": result.Credited})
		if err := s.audit.Write(ctx, qtx, domain.EntityTrackRequest, req.ID, nil, "payment_confirmed", "", "", metadata); err != nil {
			return err
		}
		result.Outcome = observability.WebhookApplied
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Outcome == observability.WebhookApplied {
		ev := events.NewSettlementEvent(events.TypeTrackRequestPaid, req.VenueID, req.ID, req.Status, req.UserFee)
		ev.Credited = result.Credited
		publish(ctx, s.publisher, ev)
	}
	return result, nil
}

// HandlePayoutEvent finalizes the withdrawal behind a payout.
func (s *WebhookService) HandlePayoutEvent(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	result, err := s.handlePayout(ctx, payload, signature)
	s.record(webhookKindPayout, result, err)
	return result, err
}

func (s *WebhookService) handlePayout(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	event, err := s.parse(payload, signature)
	if err != nil {
		return nil, err
	}

	payout, err := s.gateway.LookupPayout(ctx, event.Object.ID)
	if err != nil {
		if errors.Is(err, gateway.ErrUnknownObject) {
			return nil, domain.NotFound("payout")
		}
		return nil, domain.GatewayFailure("lookup payout", err)
	}

	result := &WebhookResult{Outcome: observability.WebhookReplay}
	var w models.WithdrawalRequest
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		w, err = qtx.GetWithdrawalByPayoutIDForUpdate(ctx, payout.ID)
		if err != nil {
			if isNoRows(err) {
				return domain.NotFound("withdrawal")
			}
			return fmt.Errorf("lock withdrawal: %w", err)
		}
		result.EntityID = w.ID

		wasTerminal := domain.IsTerminalWithdrawalStatus(w.Status)
		changed, err := s.withdrawals.Finalize(ctx, qtx, &w, payout.Status)
		if err != nil {
			return err
		}
		switch {
		case changed:
			result.Outcome = observability.WebhookApplied
			if w.Status == domain.WithdrawalStatusCanceled {
				result.Credited = w.Amount
			}
		case !wasTerminal:
			result.Outcome = observability.WebhookIgnored
		}
		result.Status = w.Status
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Outcome == observability.WebhookApplied {
		ev := events.NewSettlementEvent(events.TypeWithdrawalFinalized, w.VenueID, w.ID, w.Status, w.Amount)
		ev.Credited = result.Credited
		publish(ctx, s.publisher, ev)
	}
	return result, nil
}

func (s *WebhookService) record(kind string, result *WebhookResult, err error) {
	if err != nil {
		observability.IncrementWebhook(kind, observability.WebhookFailed)
		if errors.Is(err, domain.ErrNotFound) {
			zap.L().Error("webhook references unknown object; gateway and ledger diverged",
				zap.String("kind", kind),
				zap.Error(err),
			)
		}
		return
	}
	observability.IncrementWebhook(kind, result.Outcome)
	zap.L().Info("webhook processed",
		zap.String("kind", kind),
		zap.String("outcome", result.Outcome),
		zap.String("entity_id", result.EntityID.String()),
		zap.Int64("credited", result.Credited),
	)
}

// verifyHMAC checks a "sha256=<hex>" signature over the raw body.
func (s *WebhookService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(Sign(s.hmacKey, payload)))
}

// Sign returns the signature header value the gateway relay attaches to payload.
func Sign(key, payload []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
