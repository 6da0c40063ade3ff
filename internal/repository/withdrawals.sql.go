package repository

import (
	"context"
	"time"

	"github.com/ayo6706/venue-payments/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const withdrawalColumns = `
SELECT id, venue_id, amount, fee, status, payout_id, bank_card_token, created_at, updated_at
FROM withdrawal_requests
`

func scanWithdrawal(row pgx.Row) (models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := row.Scan(&w.ID, &w.VenueID, &w.Amount, &w.Fee, &w.Status, &w.PayoutID, &w.BankCardToken, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

const insertWithdrawal = `
INSERT INTO withdrawal_requests (id, venue_id, amount, fee, status, payout_id, bank_card_token, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
RETURNING created_at, updated_at
`

func (q *Queries) InsertWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	return q.db.QueryRow(ctx, insertWithdrawal, w.ID, w.VenueID, w.Amount, w.Fee, w.Status, w.PayoutID, w.BankCardToken).
		Scan(&w.CreatedAt, &w.UpdatedAt)
}

const getWithdrawal = withdrawalColumns + `WHERE id = $1`

func (q *Queries) GetWithdrawal(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, getWithdrawal, id))
}

const getWithdrawalForUpdate = withdrawalColumns + `WHERE id = $1 FOR UPDATE`

func (q *Queries) GetWithdrawalForUpdate(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, getWithdrawalForUpdate, id))
}

const getWithdrawalByPayoutIDForUpdate = withdrawalColumns + `WHERE payout_id = $1 FOR UPDATE`

func (q *Queries) GetWithdrawalByPayoutIDForUpdate(ctx context.Context, payoutID string) (models.WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, getWithdrawalByPayoutIDForUpdate, payoutID))
}

const setWithdrawalPayout = `
UPDATE withdrawal_requests SET payout_id = $1, status = $2, updated_at = NOW()
WHERE id = $3 AND status = 'pending'
`

// SetWithdrawalPayout attaches the gateway payout to a pending withdrawal.
func (q *Queries) SetWithdrawalPayout(ctx context.Context, id uuid.UUID, payoutID, status string) (int64, error) {
	tag, err := q.db.Exec(ctx, setWithdrawalPayout, payoutID, status, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const updateWithdrawalStatus = `
UPDATE withdrawal_requests SET status = $1, updated_at = NOW() WHERE id = $2
`

func (q *Queries) UpdateWithdrawalStatus(ctx context.Context, id uuid.UUID, status string) (int64, error) {
	tag, err := q.db.Exec(ctx, updateWithdrawalStatus, status, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listVenueWithdrawals = withdrawalColumns + `
WHERE venue_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

func (q *Queries) ListVenueWithdrawals(ctx context.Context, venueID uuid.UUID, limit, offset int32) ([]models.WithdrawalRequest, error) {
	rows, err := q.db.Query(ctx, listVenueWithdrawals, venueID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []models.WithdrawalRequest{}
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

const getStalePendingWithdrawals = withdrawalColumns + `
WHERE status = 'pending' AND updated_at < $1
ORDER BY updated_at
LIMIT $2
FOR UPDATE SKIP LOCKED
`

// GetStalePendingWithdrawals claims pending withdrawals whose gateway submission never completed.
func (q *Queries) GetStalePendingWithdrawals(ctx context.Context, cutoff time.Time, limit int32) ([]models.WithdrawalRequest, error) {
	rows, err := q.db.Query(ctx, getStalePendingWithdrawals, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

const touchWithdrawal = `
UPDATE withdrawal_requests SET updated_at = NOW() WHERE id = $1
`

// TouchWithdrawal pushes a pending withdrawal out of the stale window.
func (q *Queries) TouchWithdrawal(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, touchWithdrawal, id)
	return err
}
