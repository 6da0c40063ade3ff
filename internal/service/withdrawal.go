package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ayo6706/venue-payments/internal/config"
	"github.com/ayo6706/venue-payments/internal/domain"
	"github.com/ayo6706/venue-payments/internal/events"
	"github.com/ayo6706/venue-payments/internal/gateway"
	"github.com/ayo6706/venue-payments/internal/models"
	"github.com/ayo6706/venue-payments/internal/observability"
	"github.com/ayo6706/venue-payments/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const staleWithdrawalWindow = 2 * time.Minute

// errLeftPending marks a submission whose outcome could not be recorded. The
// reservation stands and ResubmitStale settles it under the same idempotency key.
var errLeftPending = errors.New("withdrawal left pending")

// WithdrawalService moves venue balance out to bank cards.
//
// Create never holds a row lock while the gateway is called: the balance is
// reserved in one transaction, the payout is submitted, and a second
// transaction either records the payout or reverses the reservation.
type WithdrawalService struct {
	store     QueryStore
	gateway   gateway.Gateway
	ledger    *Ledger
	audit     *AuditService
	publisher events.Publisher
	cfg       config.Settlement
	now       func() time.Time
}

func NewWithdrawalService(store QueryStore, gw gateway.Gateway, ledger *Ledger, publisher events.Publisher, cfg config.Settlement) *WithdrawalService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &WithdrawalService{
		store:     store,
		gateway:   gw,
		ledger:    ledger,
		audit:     NewAuditService(store),
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

type CreateWithdrawalRequest struct {
	VenueID uuid.UUID
	Amount  int64
	Card    gateway.Card
}

// Quote validates amount and returns the platform fee for it.
func (s *WithdrawalService) Quote(amount int64) (int64, error) {
	if amount < s.cfg.MinWithdrawalAmount {
		return 0, domain.Invalid("amount", "must be at least %d", s.cfg.MinWithdrawalAmount)
	}
	fee, err := domain.NewMoney(amount).Fee(s.cfg.WithdrawalFeeRate)
	if err != nil {
		return 0, fmt.Errorf("compute fee: %w", err)
	}
	return fee, nil
}

func validateCard(card gateway.Card) error {
	number := strings.ReplaceAll(card.Number, " ", "")
	if len(number) < 12 || len(number) > 19 || !allDigits(number) {
		return domain.Invalid("card.number", "must be 12 to 19 digits")
	}
	year := strings.TrimSpace(card.ExpiryYear)
	if (len(year) != 2 && len(year) != 4) || !allDigits(year) {
		return domain.Invalid("card.expiry_year", "must be 2 or 4 digits")
	}
	month, err := strconv.Atoi(strings.TrimSpace(card.ExpiryMonth))
	if err != nil || month < 1 || month > 12 {
		return domain.Invalid("card.expiry_month", "must be between 1 and 12")
	}
	csc := strings.TrimSpace(card.CSC)
	if len(csc) < 3 || len(csc) > 4 || !allDigits(csc) {
		return domain.Invalid("card.csc", "must be 3 or 4 digits")
	}
	return nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// Create debits the full amount and submits amount minus fee to the gateway.
func (s *WithdrawalService) Create(ctx context.Context, req CreateWithdrawalRequest) (models.WithdrawalRequest, error) {
	fee, err := s.Quote(req.Amount)
	if err != nil {
		return models.WithdrawalRequest{}, err
	}
	if err := validateCard(req.Card); err != nil {
		return models.WithdrawalRequest{}, err
	}

	cardToken, err := s.gateway.TokenizeCard(ctx, req.Card)
	if err != nil {
		return models.WithdrawalRequest{}, domain.GatewayFailure("tokenize card", err)
	}

	w := models.WithdrawalRequest{
		ID:            uuid.New(),
		VenueID:       req.VenueID,
		Amount:        req.Amount,
		Fee:           fee,
		Status:        domain.WithdrawalStatusPending,
		BankCardToken: cardToken,
	}
	if err := s.reserve(ctx, &w); err != nil {
		return models.WithdrawalRequest{}, err
	}

	if err := s.submit(ctx, &w); err != nil {
		if !errors.Is(err, errLeftPending) {
			return models.WithdrawalRequest{}, err
		}
		// The debit stands and the payout may exist; report it as pending.
		zap.L().Warn("withdrawal accepted pending resubmission",
			zap.Error(err),
			zap.String("withdrawal_id", w.ID.String()),
		)
	}

	publish(ctx, s.publisher, events.NewSettlementEvent(events.TypeWithdrawalCreated, w.VenueID, w.ID, w.Status, w.Amount))
	return w, nil
}

// reserve inserts the pending withdrawal and debits the venue in one transaction.
func (s *WithdrawalService) reserve(ctx context.Context, w *models.WithdrawalRequest) error {
	return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		return s.reserveInTx(ctx, qtx, w)
	})
}

// submit calls the gateway for a pending withdrawal and records the outcome.
// The withdrawal id is the gateway idempotency key, so resubmission is safe.
// A plain error means the reservation was reversed; errLeftPending means the
// withdrawal is still pending with its debit in place.
func (s *WithdrawalService) submit(ctx context.Context, w *models.WithdrawalRequest) error {
	reserved := *w
	payout, err := s.gateway.CreatePayout(ctx, gateway.PayoutRequest{
		Amount:         w.NetAmount(),
		CardToken:      w.BankCardToken,
		IdempotencyKey: w.ID.String(),
		Description:    "Venue balance withdrawal to bank card",
		Metadata: map[string]string{
			"withdrawal_id": w.ID.String(),
			"fee":           strconv.FormatInt(w.Fee, 10),
		},
	})
	if err != nil {
		gwErr := domain.GatewayFailure("create payout", err)
		if compErr := s.compensate(context.WithoutCancel(ctx), w, err.Error()); compErr != nil {
			zap.L().Error("withdrawal compensation failed; left pending for resubmission",
				zap.Error(compErr),
				zap.String("withdrawal_id", w.ID.String()),
			)
			*w = reserved
			return errors.Join(errLeftPending, gwErr, compErr)
		}
		return gwErr
	}

	if err := s.confirmSubmitted(context.WithoutCancel(ctx), w, payout); err != nil {
		zap.L().Error("payout submitted but not recorded; left pending for resubmission",
			zap.Error(err),
			zap.String("withdrawal_id", w.ID.String()),
			zap.String("payout_id", payout.ID),
		)
		*w = reserved
		return fmt.Errorf("%w: %w", errLeftPending, err)
	}
	return nil
}

func (s *WithdrawalService) confirmSubmitted(ctx context.Context, w *models.WithdrawalRequest, payout gateway.Payout) error {
	return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		current, err := qtx.GetWithdrawalForUpdate(ctx, w.ID)
		if err != nil {
			return fmt.Errorf("lock withdrawal: %w", err)
		}
		if current.Status != domain.WithdrawalStatusPending {
			*w = current
			return nil
		}

		rows, err := qtx.SetWithdrawalPayout(ctx, w.ID, payout.ID, domain.WithdrawalStatusProcessing)
		if err != nil {
			return fmt.Errorf("record payout: %w", err)
		}
		if err := requireExactlyOne(rows, "record withdrawal payout"); err != nil {
			return err
		}
		metadata, _ := json.Marshal(map[string]string{"payout_id": payout.ID})
		if err := s.audit.Write(ctx, qtx, domain.EntityWithdrawal, w.ID, nil, "payout_submitted", domain.WithdrawalStatusPending, domain.WithdrawalStatusProcessing, metadata); err != nil {
			return err
		}
		observability.IncrementWithdrawalTransition(domain.WithdrawalStatusProcessing)

		current.Status = domain.WithdrawalStatusProcessing
		current.PayoutID = &payout.ID
		*w = current

		if payout.Status == gateway.StatusSucceeded || payout.Status == gateway.StatusCanceled {
			if _, err := s.Finalize(ctx, qtx, w, payout.Status); err != nil {
				return err
			}
		}
		return nil
	})
}

// compensate reverses the reservation of a withdrawal the gateway refused.
func (s *WithdrawalService) compensate(ctx context.Context, w *models.WithdrawalRequest, reason string) error {
	return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		current, err := qtx.GetWithdrawalForUpdate(ctx, w.ID)
		if err != nil {
			return fmt.Errorf("lock withdrawal: %w", err)
		}
		if current.Status != domain.WithdrawalStatusPending {
			*w = current
			return nil
		}
		if _, err := s.ledger.Credit(ctx, qtx, LedgerEntry{
			VenueID:      current.VenueID,
			Amount:       current.Amount,
			Type:         domain.TxTypeDeposit,
			WithdrawalID: uuid.NullUUID{UUID: current.ID, Valid: true},
		}); err != nil {
			return fmt.Errorf("reverse withdrawal debit: %w", err)
		}
		metadata, _ := json.Marshal(map[string]string{"reason": reason})
		if err := transitionWithdrawal(ctx, qtx, s.audit, &current, domain.WithdrawalStatusFailed, nil, "payout_rejected", metadata); err != nil {
			return err
		}
		*w = current
		return nil
	})
}

// CreateMock settles a withdrawal synchronously with a synthetic payout id.
func (s *WithdrawalService) CreateMock(ctx context.Context, venueID uuid.UUID, amount int64) (models.WithdrawalRequest, error) {
	if !s.cfg.MockFlowsEnabled {
		return models.WithdrawalRequest{}, domain.NotFound("mock withdrawal flow")
	}
	fee, err := s.Quote(amount)
	if err != nil {
		return models.WithdrawalRequest{}, err
	}

	w := models.WithdrawalRequest{
		ID:            uuid.New(),
		VenueID:       venueID,
		Amount:        amount,
		Fee:           fee,
		Status:        domain.WithdrawalStatusPending,
		BankCardToken: "mock",
	}
	payoutID := "mock_" + w.ID.String()
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if err := s.reserveInTx(ctx, qtx, &w); err != nil {
			return err
		}
		rows, err := qtx.SetWithdrawalPayout(ctx, w.ID, payoutID, domain.WithdrawalStatusSucceeded)
		if err != nil {
			return fmt.Errorf("record payout: %w", err)
		}
		if err := requireExactlyOne(rows, "record mock payout"); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, qtx, domain.EntityWithdrawal, w.ID, &venueID, "mock_settled", domain.WithdrawalStatusPending, domain.WithdrawalStatusSucceeded, nil); err != nil {
			return err
		}
		w.Status = domain.WithdrawalStatusSucceeded
		w.PayoutID = &payoutID
		return nil
	})
	if err != nil {
		return models.WithdrawalRequest{}, err
	}
	observability.IncrementWithdrawalTransition(domain.WithdrawalStatusSucceeded)

	publish(ctx, s.publisher, events.NewSettlementEvent(events.TypeWithdrawalFinalized, w.VenueID, w.ID, w.Status, w.Amount))
	return w, nil
}

func (s *WithdrawalService) reserveInTx(ctx context.Context, qtx *repository.Queries, w *models.WithdrawalRequest) error {
	balance, err := qtx.GetVenueBalanceForUpdate(ctx, w.VenueID)
	if err != nil {
		if isNoRows(err) {
			return domain.NotFound("venue")
		}
		return fmt.Errorf("lock venue balance: %w", err)
	}
	if balance < w.Amount {
		return fmt.Errorf("balance %d, requested %d: %w", balance, w.Amount, domain.ErrInsufficientBalance)
	}
	if err := qtx.InsertWithdrawal(ctx, w); err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	if _, err := s.ledger.Debit(ctx, qtx, LedgerEntry{
		VenueID:      w.VenueID,
		Amount:       w.Amount,
		Type:         domain.TxTypeWithdrawal,
		WithdrawalID: uuid.NullUUID{UUID: w.ID, Valid: true},
	}); err != nil {
		return fmt.Errorf("debit venue: %w", err)
	}
	metadata, _ := json.Marshal(map[string]int64{"amount": w.Amount, "fee": w.Fee})
	return s.audit.Write(ctx, qtx, domain.EntityWithdrawal, w.ID, &w.VenueID, "created", "", domain.WithdrawalStatusPending, metadata)
}

// Finalize applies a gateway payout status to a locked withdrawal. It reports
// whether anything changed. Terminal withdrawals are never touched again, so a
// replayed cancellation cannot refund twice.
func (s *WithdrawalService) Finalize(ctx context.Context, qtx *repository.Queries, w *models.WithdrawalRequest, gatewayStatus string) (bool, error) {
	if domain.IsTerminalWithdrawalStatus(w.Status) {
		return false, nil
	}

	next := strings.ToLower(strings.TrimSpace(gatewayStatus))
	switch next {
	case gateway.StatusPending, domain.WithdrawalStatusProcessing:
		return false, nil
	case domain.WithdrawalStatusSucceeded, domain.WithdrawalStatusCanceled, domain.WithdrawalStatusFailed:
	default:
		zap.L().Warn("ignoring unknown payout status",
			zap.String("withdrawal_id", w.ID.String()),
			zap.String("status", gatewayStatus),
		)
		return false, nil
	}

	if next == domain.WithdrawalStatusCanceled {
		if _, err := s.ledger.Credit(ctx, qtx, LedgerEntry{
			VenueID:      w.VenueID,
			Amount:       w.Amount,
			Type:         domain.TxTypeDeposit,
			WithdrawalID: uuid.NullUUID{UUID: w.ID, Valid: true},
		}); err != nil {
			return false, fmt.Errorf("refund canceled withdrawal: %w", err)
		}
	}

	metadata, _ := json.Marshal(map[string]string{"gateway_status": gatewayStatus})
	if err := transitionWithdrawal(ctx, qtx, s.audit, w, next, nil, "payout_"+next, metadata); err != nil {
		return false, err
	}
	return true, nil
}

// ResubmitStale retries withdrawals stuck in pending, which happens when the
// process stopped between reserving the balance and recording the payout.
func (s *WithdrawalService) ResubmitStale(ctx context.Context, batchSize int32) (int, error) {
	cutoff := s.now().Add(-staleWithdrawalWindow)
	var stale []models.WithdrawalRequest
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		stale, err = qtx.GetStalePendingWithdrawals(ctx, cutoff, batchSize)
		if err != nil {
			return fmt.Errorf("load stale withdrawals: %w", err)
		}
		for _, w := range stale {
			if err := qtx.TouchWithdrawal(ctx, w.ID); err != nil {
				return fmt.Errorf("claim withdrawal %s: %w", w.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for i := range stale {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		w := stale[i]
		if err := s.submit(ctx, &w); err != nil {
			zap.L().Warn("stale withdrawal resubmission failed",
				zap.Error(err),
				zap.String("withdrawal_id", w.ID.String()),
				zap.String("status", w.Status),
			)
			continue
		}
		publish(ctx, s.publisher, events.NewSettlementEvent(events.TypeWithdrawalCreated, w.VenueID, w.ID, w.Status, w.Amount))
	}

	if len(stale) > 0 {
		zap.L().Warn("resubmitted stale withdrawals", zap.Int("count", len(stale)))
	}
	return len(stale), nil
}

func (s *WithdrawalService) Get(ctx context.Context, venueID, id uuid.UUID) (models.WithdrawalRequest, error) {
	w, err := s.store.Queries().GetWithdrawal(ctx, id)
	if err != nil {
		if isNoRows(err) {
			return models.WithdrawalRequest{}, domain.NotFound("withdrawal")
		}
		return models.WithdrawalRequest{}, fmt.Errorf("load withdrawal: %w", err)
	}
	if w.VenueID != venueID {
		return models.WithdrawalRequest{}, domain.NotFound("withdrawal")
	}
	return w, nil
}

func (s *WithdrawalService) ListForVenue(ctx context.Context, venueID uuid.UUID, page Page) ([]models.WithdrawalRequest, error) {
	page = page.normalize()
	items, err := s.store.Queries().ListVenueWithdrawals(ctx, venueID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	return items, nil
}
