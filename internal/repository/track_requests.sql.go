package repository

import (
	"context"

	"github.com/ayo6706/venue-payments/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const trackRequestColumns = `
SELECT tr.id, tr.track_id, t.venue_id, t.title, t.price, tr.user_fee, tr.status, tr.is_paid,
       tr.payment_token, tr.payment_id, tr.transaction_id, tr.created_at, tr.updated_at
FROM track_requests tr
JOIN tracks t ON t.id = tr.track_id
`

func scanTrackRequest(row pgx.Row) (models.TrackRequest, error) {
	var r models.TrackRequest
	err := row.Scan(
		&r.ID, &r.TrackID, &r.VenueID, &r.TrackTitle, &r.MinFee, &r.UserFee, &r.Status, &r.IsPaid,
		&r.PaymentToken, &r.PaymentID, &r.TransactionID, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

const createTrackRequest = `
INSERT INTO track_requests (id, track_id, user_fee, status, is_paid, payment_token, created_at, updated_at)
VALUES ($1, $2, $3, $4, FALSE, $5, NOW(), NOW())
RETURNING created_at, updated_at
`

func (q *Queries) CreateTrackRequest(ctx context.Context, r *models.TrackRequest) error {
	return q.db.QueryRow(ctx, createTrackRequest, r.ID, r.TrackID, r.UserFee, r.Status, r.PaymentToken).
		Scan(&r.CreatedAt, &r.UpdatedAt)
}

const getTrackRequestByToken = trackRequestColumns + `WHERE tr.payment_token = $1`

func (q *Queries) GetTrackRequestByToken(ctx context.Context, token uuid.UUID) (models.TrackRequest, error) {
	return scanTrackRequest(q.db.QueryRow(ctx, getTrackRequestByToken, token))
}

const getTrackRequestByTokenForUpdate = trackRequestColumns + `WHERE tr.payment_token = $1 FOR UPDATE OF tr`

func (q *Queries) GetTrackRequestByTokenForUpdate(ctx context.Context, token uuid.UUID) (models.TrackRequest, error) {
	return scanTrackRequest(q.db.QueryRow(ctx, getTrackRequestByTokenForUpdate, token))
}

const getVenueTrackRequestForUpdate = trackRequestColumns + `WHERE tr.id = $1 AND t.venue_id = $2 FOR UPDATE OF tr`

// GetVenueTrackRequestForUpdate locks a request owned by venueID.
func (q *Queries) GetVenueTrackRequestForUpdate(ctx context.Context, id, venueID uuid.UUID) (models.TrackRequest, error) {
	return scanTrackRequest(q.db.QueryRow(ctx, getVenueTrackRequestForUpdate, id, venueID))
}

const setTrackRequestPaymentID = `
UPDATE track_requests SET payment_id = $1, updated_at = NOW()
WHERE payment_token = $2 AND is_paid = FALSE
`

// SetTrackRequestPaymentID records the latest payment intent. Paid requests are left untouched.
func (q *Queries) SetTrackRequestPaymentID(ctx context.Context, token uuid.UUID, paymentID string) (int64, error) {
	tag, err := q.db.Exec(ctx, setTrackRequestPaymentID, paymentID, token)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const markTrackRequestPaid = `
UPDATE track_requests
SET is_paid = TRUE,
    transaction_id = COALESCE($2, transaction_id),
    payment_id = COALESCE($2, payment_id),
    updated_at = NOW()
WHERE id = $1 AND is_paid = FALSE
`

// MarkTrackRequestPaid flips is_paid once; externalID may be nil for the mock path.
func (q *Queries) MarkTrackRequestPaid(ctx context.Context, id uuid.UUID, externalID *string) (int64, error) {
	tag, err := q.db.Exec(ctx, markTrackRequestPaid, id, externalID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const updateTrackRequestStatus = `
UPDATE track_requests SET status = $1, updated_at = NOW()
WHERE id = $2 AND status = 'pending'
`

// UpdateTrackRequestStatus only moves requests out of pending.
func (q *Queries) UpdateTrackRequestStatus(ctx context.Context, id uuid.UUID, status string) (int64, error) {
	tag, err := q.db.Exec(ctx, updateTrackRequestStatus, status, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listVenueTrackRequests = trackRequestColumns + `
WHERE t.venue_id = $1
ORDER BY tr.created_at DESC
LIMIT $2 OFFSET $3
`

func (q *Queries) ListVenueTrackRequests(ctx context.Context, venueID uuid.UUID, limit, offset int32) ([]models.TrackRequest, error) {
	rows, err := q.db.Query(ctx, listVenueTrackRequests, venueID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []models.TrackRequest{}
	for rows.Next() {
		r, err := scanTrackRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}
