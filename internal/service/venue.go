package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/venue-payments/internal/domain"
	"github.com/ayo6706/venue-payments/internal/models"
	"github.com/google/uuid"
)

// VenueService serves read-only views of a venue's money.
type VenueService struct {
	store QueryStore
}

func NewVenueService(store QueryStore) *VenueService {
	return &VenueService{store: store}
}

func (s *VenueService) Get(ctx context.Context, venueID uuid.UUID) (models.Venue, error) {
	v, err := s.store.Queries().GetVenue(ctx, venueID)
	if err != nil {
		if isNoRows(err) {
			return models.Venue{}, domain.NotFound("venue")
		}
		return models.Venue{}, fmt.Errorf("load venue: %w", err)
	}
	return v, nil
}

// ListTransactions returns a page of ledger rows, newest first, and the total count.
func (s *VenueService) ListTransactions(ctx context.Context, venueID uuid.UUID, page Page) ([]models.Transaction, int64, error) {
	page = page.normalize()
	q := s.store.Queries()
	items, err := q.ListVenueTransactions(ctx, venueID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	total, err := q.CountVenueTransactions(ctx, venueID)
	if err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}
	return items, total, nil
}
