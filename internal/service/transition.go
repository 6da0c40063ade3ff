package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/venue-payments/internal/domain"
	"github.com/ayo6706/venue-payments/internal/models"
	"github.com/ayo6706/venue-payments/internal/observability"
	"github.com/ayo6706/venue-payments/internal/repository"
	"github.com/google/uuid"
)

var trackRequestTransitions = map[string]map[string]struct{}{
	domain.RequestStatusPending: {
		domain.RequestStatusAccepted: {},
		domain.RequestStatusRejected: {},
	},
	domain.RequestStatusAccepted: {},
	domain.RequestStatusRejected: {},
}

var withdrawalTransitions = map[string]map[string]struct{}{
	domain.WithdrawalStatusPending: {
		domain.WithdrawalStatusProcessing: {},
		domain.WithdrawalStatusSucceeded:  {},
		domain.WithdrawalStatusFailed:     {},
	},
	domain.WithdrawalStatusProcessing: {
		domain.WithdrawalStatusSucceeded: {},
		domain.WithdrawalStatusCanceled:  {},
		domain.WithdrawalStatusFailed:    {},
	},
	domain.WithdrawalStatusSucceeded: {},
	domain.WithdrawalStatusCanceled:  {},
	domain.WithdrawalStatusFailed:    {},
}

func canTransition(table map[string]map[string]struct{}, current, next string) bool {
	nextStates, ok := table[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// transitionWithdrawal moves a locked withdrawal to next and records the change.
func transitionWithdrawal(ctx context.Context, qtx *repository.Queries, audit *AuditService, w *models.WithdrawalRequest, next string, actorID *uuid.UUID, action string, metadata []byte) error {
	if !canTransition(withdrawalTransitions, w.Status, next) {
		return fmt.Errorf("withdrawal %s -> %s: %w", w.Status, next, domain.ErrInvalidTransition)
	}

	rows, err := qtx.UpdateWithdrawalStatus(ctx, w.ID, next)
	if err != nil {
		return fmt.Errorf("update withdrawal status: %w", err)
	}
	if err := requireExactlyOne(rows, "update withdrawal status"); err != nil {
		return err
	}
	if err := audit.Write(ctx, qtx, domain.EntityWithdrawal, w.ID, actorID, action, w.Status, next, metadata); err != nil {
		return err
	}

	observability.IncrementWithdrawalTransition(next)
	w.Status = next
	return nil
}
