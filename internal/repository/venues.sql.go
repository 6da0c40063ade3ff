package repository

import (
	"context"

	"github.com/ayo6706/venue-payments/internal/models"
	"github.com/google/uuid"
)

const createVenue = `
INSERT INTO venues (id, owner_id, name, city, balance, created_at)
VALUES ($1, $2, $3, $4, $5, NOW())
RETURNING created_at
`

func (q *Queries) CreateVenue(ctx context.Context, v *models.Venue) error {
	return q.db.QueryRow(ctx, createVenue, v.ID, v.OwnerID, v.Name, v.City, v.Balance).Scan(&v.CreatedAt)
}

const getVenue = `
SELECT id, owner_id, name, city, balance, created_at FROM venues WHERE id = $1
`

func (q *Queries) GetVenue(ctx context.Context, id uuid.UUID) (models.Venue, error) {
	var v models.Venue
	err := q.db.QueryRow(ctx, getVenue, id).Scan(&v.ID, &v.OwnerID, &v.Name, &v.City, &v.Balance, &v.CreatedAt)
	return v, err
}

const getVenueBalanceForUpdate = `
SELECT balance FROM venues WHERE id = $1 FOR UPDATE
`

// GetVenueBalanceForUpdate locks the venue row until the enclosing transaction ends.
func (q *Queries) GetVenueBalanceForUpdate(ctx context.Context, id uuid.UUID) (int64, error) {
	var balance int64
	err := q.db.QueryRow(ctx, getVenueBalanceForUpdate, id).Scan(&balance)
	return balance, err
}

const addVenueBalance = `
UPDATE venues SET balance = balance + $1 WHERE id = $2 RETURNING balance
`

// AddVenueBalance applies a signed delta and returns the new balance.
func (q *Queries) AddVenueBalance(ctx context.Context, id uuid.UUID, delta int64) (int64, error) {
	var balance int64
	err := q.db.QueryRow(ctx, addVenueBalance, delta, id).Scan(&balance)
	return balance, err
}

const listVenueLedgerDrift = `
SELECT v.id, v.balance, COALESCE(SUM(t.amount), 0)::BIGINT AS ledger_sum
FROM venues v
LEFT JOIN transactions t ON t.venue_id = v.id
GROUP BY v.id, v.balance
HAVING v.balance <> COALESCE(SUM(t.amount), 0)
`

type VenueLedgerDrift struct {
	VenueID   uuid.UUID
	Balance   int64
	LedgerSum int64
}

// ListVenueLedgerDrift returns venues whose balance differs from the sum of their transactions.
func (q *Queries) ListVenueLedgerDrift(ctx context.Context) ([]VenueLedgerDrift, error) {
	rows, err := q.db.Query(ctx, listVenueLedgerDrift)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []VenueLedgerDrift
	for rows.Next() {
		var i VenueLedgerDrift
		if err := rows.Scan(&i.VenueID, &i.Balance, &i.LedgerSum); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
