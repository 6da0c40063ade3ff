package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/venue-payments/internal/domain"
	"github.com/ayo6706/venue-payments/internal/models"
	"github.com/ayo6706/venue-payments/internal/observability"
	"github.com/ayo6706/venue-payments/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LedgerEntry describes one balance change. Amount is always positive; the
// direction comes from calling Credit or Debit.
type LedgerEntry struct {
	VenueID        uuid.UUID
	Amount         int64
	Type           string
	TrackRequestID uuid.NullUUID
	WithdrawalID   uuid.NullUUID
}

// Ledger owns every write to venues.balance. Each change locks the venue row,
// applies the delta and appends exactly one transactions row, all inside the
// caller's database transaction.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Credit adds entry.Amount to the venue balance.
func (l *Ledger) Credit(ctx context.Context, qtx *repository.Queries, entry LedgerEntry) (models.Transaction, error) {
	return l.apply(ctx, qtx, entry, entry.Amount)
}

// Debit subtracts entry.Amount, failing with ErrInsufficientBalance when the
// balance would go negative. Nothing is written in that case.
func (l *Ledger) Debit(ctx context.Context, qtx *repository.Queries, entry LedgerEntry) (models.Transaction, error) {
	return l.apply(ctx, qtx, entry, -entry.Amount)
}

func (l *Ledger) apply(ctx context.Context, qtx *repository.Queries, entry LedgerEntry, delta int64) (models.Transaction, error) {
	op := "credit"
	if delta < 0 {
		op = "debit"
	}
	if entry.Amount <= 0 {
		return models.Transaction{}, domain.Invalid("amount", "must be positive, got %d", entry.Amount)
	}
	if entry.Type != domain.TxTypeDeposit && entry.Type != domain.TxTypeWithdrawal {
		return models.Transaction{}, domain.Invalid("type", "unknown transaction type %q", entry.Type)
	}

	before, err := qtx.GetVenueBalanceForUpdate(ctx, entry.VenueID)
	if err != nil {
		if isNoRows(err) {
			return models.Transaction{}, domain.NotFound("venue")
		}
		return models.Transaction{}, fmt.Errorf("lock venue balance: %w", err)
	}

	if delta < 0 && before < entry.Amount {
		observability.IncrementLedgerOp(op, entry.Type, "insufficient")
		return models.Transaction{}, fmt.Errorf("balance %d, requested %d: %w", before, entry.Amount, domain.ErrInsufficientBalance)
	}

	after, err := qtx.AddVenueBalance(ctx, entry.VenueID, delta)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("update venue balance: %w", err)
	}
	if after != before+delta || (delta < 0 && after < 0) {
		zap.L().Error("ledger post-condition violated",
			zap.String("venue_id", entry.VenueID.String()),
			zap.Int64("before", before),
			zap.Int64("delta", delta),
			zap.Int64("after", after),
		)
		return models.Transaction{}, fmt.Errorf("ledger post-condition violated: %d %+d != %d", before, delta, after)
	}

	txn := models.Transaction{
		ID:             uuid.New(),
		VenueID:        entry.VenueID,
		Amount:         delta,
		Type:           entry.Type,
		TrackRequestID: entry.TrackRequestID,
		WithdrawalID:   entry.WithdrawalID,
	}
	if err := qtx.InsertTransaction(ctx, &txn); err != nil {
		return models.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	observability.IncrementLedgerOp(op, entry.Type, "ok")
	return txn, nil
}
