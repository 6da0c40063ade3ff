package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/venue-payments/internal/config"
	"github.com/ayo6706/venue-payments/internal/domain"
	"github.com/ayo6706/venue-payments/internal/events"
	"github.com/ayo6706/venue-payments/internal/gateway"
	"github.com/ayo6706/venue-payments/internal/models"
	"github.com/ayo6706/venue-payments/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TrackRequestService runs the request lifecycle: creation, payment and the
// venue's accept/reject decision.
type TrackRequestService struct {
	store     QueryStore
	gateway   gateway.Gateway
	ledger    *Ledger
	audit     *AuditService
	publisher events.Publisher
	cfg       config.Settlement
}

func NewTrackRequestService(store QueryStore, gw gateway.Gateway, ledger *Ledger, publisher events.Publisher, cfg config.Settlement) *TrackRequestService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &TrackRequestService{
		store:     store,
		gateway:   gw,
		ledger:    ledger,
		audit:     NewAuditService(store),
		publisher: publisher,
		cfg:       cfg,
	}
}

// PaymentInitiation is what a patron needs to complete checkout.
type PaymentInitiation struct {
	PaymentID       string `json:"payment_id"`
	ConfirmationURL string `json:"confirmation_url"`
}

// Create opens a pending, unpaid request for a track on the venue's list.
func (s *TrackRequestService) Create(ctx context.Context, venueID, trackID uuid.UUID, userFee int64) (models.TrackRequest, error) {
	if userFee <= 0 {
		return models.TrackRequest{}, domain.Invalid("user_fee", "must be positive")
	}

	track, err := s.store.Queries().GetVenueTrack(ctx, trackID, venueID)
	if err != nil {
		if isNoRows(err) {
			return models.TrackRequest{}, domain.NotFound("track")
		}
		return models.TrackRequest{}, fmt.Errorf("load track: %w", err)
	}
	if userFee < track.Price {
		return models.TrackRequest{}, domain.Invalid("user_fee", "must be at least %d", track.Price)
	}

	req := models.TrackRequest{
		ID:           uuid.New(),
		TrackID:      track.ID,
		VenueID:      track.VenueID,
		TrackTitle:   track.Title,
		MinFee:       track.Price,
		UserFee:      userFee,
		Status:       domain.RequestStatusPending,
		PaymentToken: uuid.New(),
	}
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if err := qtx.CreateTrackRequest(ctx, &req); err != nil {
			return fmt.Errorf("create track request: %w", err)
		}
		return s.audit.Write(ctx, qtx, domain.EntityTrackRequest, req.ID, nil, "created", "", domain.RequestStatusPending, nil)
	})
	if err != nil {
		return models.TrackRequest{}, err
	}
	return req, nil
}

func (s *TrackRequestService) GetByToken(ctx context.Context, token uuid.UUID) (models.TrackRequest, error) {
	req, err := s.store.Queries().GetTrackRequestByToken(ctx, token)
	if err != nil {
		if isNoRows(err) {
			return models.TrackRequest{}, domain.NotFound("track request")
		}
		return models.TrackRequest{}, fmt.Errorf("load track request: %w", err)
	}
	return req, nil
}

// InitiatePayment asks the gateway for a payment intent. It may be called
// repeatedly until the request is paid; the latest intent id wins.
func (s *TrackRequestService) InitiatePayment(ctx context.Context, token uuid.UUID) (PaymentInitiation, error) {
	req, err := s.GetByToken(ctx, token)
	if err != nil {
		return PaymentInitiation{}, err
	}
	if req.IsPaid {
		return PaymentInitiation{}, domain.ErrAlreadyPaid
	}
	if req.Status != domain.RequestStatusPending {
		return PaymentInitiation{}, fmt.Errorf("request is %s: %w", req.Status, domain.ErrInvalidTransition)
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, gateway.PaymentIntentRequest{
		Amount:           req.UserFee,
		CorrelationToken: token.String(),
		Description:      fmt.Sprintf("Track request: %s", req.TrackTitle),
		ReturnURL:        s.returnURL(token),
	})
	if err != nil {
		return PaymentInitiation{}, domain.GatewayFailure("create payment intent", err)
	}

	rows, err := s.store.Queries().SetTrackRequestPaymentID(ctx, token, intent.ID)
	if err != nil {
		return PaymentInitiation{}, fmt.Errorf("record payment id: %w", err)
	}
	if rows == 0 {
		return PaymentInitiation{}, domain.ErrAlreadyPaid
	}

	zap.L().Info("payment initiated",
		zap.String("track_request_id", req.ID.String()),
		zap.String("payment_id", intent.ID),
		zap.Int64("amount", req.UserFee),
	)
	return PaymentInitiation{PaymentID: intent.ID, ConfirmationURL: intent.ConfirmationURL}, nil
}

func (s *TrackRequestService) returnURL(token uuid.UUID) string {
	return fmt.Sprintf("%s/v1/payments/%s", s.cfg.PublicBaseURL, token)
}

// MarkPaidMock flags a request as paid without touching the ledger. The venue
// is credited when it accepts the request.
func (s *TrackRequestService) MarkPaidMock(ctx context.Context, token uuid.UUID) (models.TrackRequest, error) {
	if !s.cfg.MockFlowsEnabled {
		return models.TrackRequest{}, domain.NotFound("mock payment flow")
	}

	var req models.TrackRequest
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		req, err = qtx.GetTrackRequestByTokenForUpdate(ctx, token)
		if err != nil {
			if isNoRows(err) {
				return domain.NotFound("track request")
			}
			return fmt.Errorf("lock track request: %w", err)
		}
		if req.IsPaid {
			return domain.ErrAlreadyPaid
		}
		if req.Status != domain.RequestStatusPending {
			return fmt.Errorf("request is %s: %w", req.Status, domain.ErrInvalidTransition)
		}

		rows, err := qtx.MarkTrackRequestPaid(ctx, req.ID, nil)
		if err != nil {
			return fmt.Errorf("mark paid: %w", err)
		}
		if err := requireExactlyOne(rows, "mark track request paid"); err != nil {
			return err
		}
		req.IsPaid = true
		return s.audit.Write(ctx, qtx, domain.EntityTrackRequest, req.ID, nil, "mock_paid", "", "", []byte(`{"paid":true}`))
	})
	if err != nil {
		return models.TrackRequest{}, err
	}

	publish(ctx, s.publisher, events.NewSettlementEvent(events.TypeTrackRequestPaid, req.VenueID, req.ID, req.Status, req.UserFee))
	return req, nil
}

// UpdateStatus applies the venue's decision. Accepting credits user_fee to the
// venue unless a deposit for this request already exists.
func (s *TrackRequestService) UpdateStatus(ctx context.Context, venueID, requestID uuid.UUID, status string) (models.TrackRequest, error) {
	var (
		req      models.TrackRequest
		credited int64
	)
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		req, err = qtx.GetVenueTrackRequestForUpdate(ctx, requestID, venueID)
		if err != nil {
			if isNoRows(err) {
				return domain.NotFound("track request")
			}
			return fmt.Errorf("lock track request: %w", err)
		}

		if !canTransition(trackRequestTransitions, req.Status, status) {
			return fmt.Errorf("request %s -> %s: %w", req.Status, status, domain.ErrInvalidTransition)
		}
		if status == domain.RequestStatusAccepted && !req.IsPaid {
			return domain.ErrPaymentRequired
		}

		rows, err := qtx.UpdateTrackRequestStatus(ctx, req.ID, status)
		if err != nil {
			return fmt.Errorf("update request status: %w", err)
		}
		if err := requireExactlyOne(rows, "update track request status"); err != nil {
			return err
		}

		if status == domain.RequestStatusAccepted {
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
				credited = req.UserFee
			}
		}

		metadata, _ := json.Marshal(map[string]any{"credited": credited})
		if err := s.audit.Write(ctx, qtx, domain.EntityTrackRequest, req.ID, &venueID, "status_changed", req.Status, status, metadata); err != nil {
			return err
		}
		req.Status = status
		return nil
	})
	if err != nil {
		return models.TrackRequest{}, err
	}

	eventType := events.TypeTrackRequestRejected
	if status == domain.RequestStatusAccepted {
		eventType = events.TypeTrackRequestAccepted
	}
	event := events.NewSettlementEvent(eventType, req.VenueID, req.ID, req.Status, req.UserFee)
	event.Credited = credited
	publish(ctx, s.publisher, event)

	zap.L().Info("track request decided",
		zap.String("track_request_id", req.ID.String()),
		zap.String("status", status),
		zap.Int64("credited", credited),
	)
	return req, nil
}

func (s *TrackRequestService) ListForVenue(ctx context.Context, venueID uuid.UUID, page Page) ([]models.TrackRequest, error) {
	page = page.normalize()
	items, err := s.store.Queries().ListVenueTrackRequests(ctx, venueID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list track requests: %w", err)
	}
	return items, nil
}
