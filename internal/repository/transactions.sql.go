package repository

import (
	"context"

	"github.com/ayo6706/venue-payments/internal/models"
	"github.com/google/uuid"
)

const insertTransaction = `
INSERT INTO transactions (id, venue_id, amount, type, track_request_id, withdrawal_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
RETURNING created_at
`

func (q *Queries) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	return q.db.QueryRow(ctx, insertTransaction, t.ID, t.VenueID, t.Amount, t.Type, t.TrackRequestID, t.WithdrawalID).
		Scan(&t.CreatedAt)
}

const hasDepositForTrackRequest = `
SELECT EXISTS (
    SELECT 1 FROM transactions WHERE track_request_id = $1 AND type = 'deposit'
)
`

func (q *Queries) HasDepositForTrackRequest(ctx context.Context, trackRequestID uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, hasDepositForTrackRequest, trackRequestID).Scan(&exists)
	return exists, err
}

const listVenueTransactions = `
SELECT id, venue_id, amount, type, track_request_id, withdrawal_id, created_at
FROM transactions
WHERE venue_id = $1
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3
`

func (q *Queries) ListVenueTransactions(ctx context.Context, venueID uuid.UUID, limit, offset int32) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, listVenueTransactions, venueID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.VenueID, &t.Amount, &t.Type, &t.TrackRequestID, &t.WithdrawalID, &t.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const countVenueTransactions = `
SELECT COUNT(*) FROM transactions WHERE venue_id = $1
`

func (q *Queries) CountVenueTransactions(ctx context.Context, venueID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countVenueTransactions, venueID).Scan(&n)
	return n, err
}
