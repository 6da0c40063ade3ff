package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/venue-payments/internal/domain"
	"github.com/ayo6706/venue-payments/internal/models"
	"github.com/ayo6706/venue-payments/internal/service"
	"github.com/google/uuid"
)

type VenueService interface {
	Get(ctx context.Context, venueID uuid.UUID) (models.Venue, error)
	ListTransactions(ctx context.Context, venueID uuid.UUID, page service.Page) ([]models.Transaction, int64, error)
}

type VenueHandler struct {
	svc VenueService
}

func NewVenueHandler(svc VenueService) *VenueHandler {
	return &VenueHandler{svc: svc}
}

// Balance handles GET /v1/venue/balance.
func (h *VenueHandler) Balance(w http.ResponseWriter, r *http.Request) {
	venueID, ok := requestVenue(w, r)
	if !ok {
		return
	}
	venue, err := h.svc.Get(r.Context(), venueID)
	if err != nil {
		respondServiceError(w, r, "get balance", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"venue_id": venue.ID,
		"balance":  venue.Balance,
		"currency": domain.Currency,
	})
}

// Transactions handles GET /v1/venue/transactions.
func (h *VenueHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	venueID, ok := requestVenue(w, r)
	if !ok {
		return
	}
	page := pageFromQuery(r)
	txs, total, err := h.svc.ListTransactions(r.Context(), venueID, page)
	if err != nil {
		respondServiceError(w, r, "list transactions", err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"total":        total,
	})
}
