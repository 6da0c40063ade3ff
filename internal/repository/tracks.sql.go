package repository

import (
	"context"

	"github.com/ayo6706/venue-payments/internal/models"
	"github.com/google/uuid"
)

const createGenre = `
INSERT INTO genres (id, name) VALUES ($1, $2)
`

func (q *Queries) CreateGenre(ctx context.Context, g models.Genre) error {
	_, err := q.db.Exec(ctx, createGenre, g.ID, g.Name)
	return err
}

const createTrack = `
INSERT INTO tracks (id, venue_id, genre_id, title, artist, price)
VALUES ($1, $2, $3, $4, $5, $6)
`

func (q *Queries) CreateTrack(ctx context.Context, t models.Track) error {
	_, err := q.db.Exec(ctx, createTrack, t.ID, t.VenueID, t.GenreID, t.Title, t.Artist, t.Price)
	return err
}

const getVenueTrack = `
SELECT id, venue_id, genre_id, title, artist, price
FROM tracks
WHERE id = $1 AND venue_id = $2
`

// GetVenueTrack returns the track only when it belongs to venueID.
func (q *Queries) GetVenueTrack(ctx context.Context, trackID, venueID uuid.UUID) (models.Track, error) {
	var t models.Track
	err := q.db.QueryRow(ctx, getVenueTrack, trackID, venueID).Scan(
		&t.ID, &t.VenueID, &t.GenreID, &t.Title, &t.Artist, &t.Price,
	)
	return t, err
}
