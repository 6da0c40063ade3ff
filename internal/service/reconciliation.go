package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/venue-payments/internal/observability"
	"github.com/ayo6706/venue-payments/internal/repository"
	"go.uber.org/zap"
)

// ReconciliationService verifies ledger integrity invariants.
type ReconciliationService struct {
	store QueryStore
}

func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{store: store}
}

// Run checks that every venue balance equals the sum of its transactions and
// returns the venues that do not.
func (s *ReconciliationService) Run(ctx context.Context) ([]repository.VenueLedgerDrift, error) {
	drift, err := s.store.Queries().ListVenueLedgerDrift(ctx)
	if err != nil {
		return nil, fmt.Errorf("run ledger drift query: %w", err)
	}

	for _, row := range drift {
		observability.IncrementLedgerImbalance(row.VenueID.String())
		zap.L().Error("CRITICAL: venue balance diverged from ledger",
			zap.String("venue_id", row.VenueID.String()),
			zap.Int64("balance", row.Balance),
			zap.Int64("ledger_sum", row.LedgerSum),
		)
	}
	if len(drift) == 0 {
		zap.L().Info("Ledger Balanced")
	}
	return drift, nil
}
