package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/venue-payments/internal/gateway"
	"github.com/ayo6706/venue-payments/internal/models"
	"github.com/ayo6706/venue-payments/internal/service"
	"github.com/google/uuid"
)

type WithdrawalService interface {
	Create(ctx context.Context, req service.CreateWithdrawalRequest) (models.WithdrawalRequest, error)
	CreateMock(ctx context.Context, venueID uuid.UUID, amount int64) (models.WithdrawalRequest, error)
	Get(ctx context.Context, venueID, id uuid.UUID) (models.WithdrawalRequest, error)
	ListForVenue(ctx context.Context, venueID uuid.UUID, page service.Page) ([]models.WithdrawalRequest, error)
}

type WithdrawalHandler struct {
	svc WithdrawalService
}

func NewWithdrawalHandler(svc WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{svc: svc}
}

type createWithdrawalBody struct {
	Amount int64        `json:"amount"`
	Card   gateway.Card `json:"card"`
}

type withdrawalResponse struct {
	models.WithdrawalRequest
	NetAmount int64 `json:"net_amount"`
}

func toWithdrawalResponse(w models.WithdrawalRequest) withdrawalResponse {
	return withdrawalResponse{WithdrawalRequest: w, NetAmount: w.NetAmount()}
}

// Create handles POST /v1/venue/withdrawals. It returns 202 because the
// payout settles asynchronously.
func (h *WithdrawalHandler) Create(w http.ResponseWriter, r *http.Request) {
	venueID, ok := requestVenue(w, r)
	if !ok {
		return
	}
	var body createWithdrawalBody
	if !decodeJSON(w, r, &body) {
		return
	}

	wd, err := h.svc.Create(r.Context(), service.CreateWithdrawalRequest{
		VenueID: venueID,
		Amount:  body.Amount,
		Card:    body.Card,
	})
	if err != nil {
		respondServiceError(w, r, "create withdrawal", err)
		return
	}
	RespondJSON(w, http.StatusAccepted, toWithdrawalResponse(wd))
}

// CreateMock handles POST /v1/venue/withdrawals/mock.
func (h *WithdrawalHandler) CreateMock(w http.ResponseWriter, r *http.Request) {
	venueID, ok := requestVenue(w, r)
	if !ok {
		return
	}
	var body struct {
		Amount int64 `json:"amount"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	wd, err := h.svc.CreateMock(r.Context(), venueID, body.Amount)
	if err != nil {
		respondServiceError(w, r, "create mock withdrawal", err)
		return
	}
	RespondJSON(w, http.StatusCreated, toWithdrawalResponse(wd))
}

// Get handles GET /v1/venue/withdrawals/{id}.
func (h *WithdrawalHandler) Get(w http.ResponseWriter, r *http.Request) {
	venueID, ok := requestVenue(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	wd, err := h.svc.Get(r.Context(), venueID, id)
	if err != nil {
		respondServiceError(w, r, "get withdrawal", err)
		return
	}
	RespondJSON(w, http.StatusOK, toWithdrawalResponse(wd))
}

// List handles GET /v1/venue/withdrawals.
func (h *WithdrawalHandler) List(w http.ResponseWriter, r *http.Request) {
	venueID, ok := requestVenue(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListForVenue(r.Context(), venueID, pageFromQuery(r))
	if err != nil {
		respondServiceError(w, r, "list withdrawals", err)
		return
	}
	out := make([]withdrawalResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toWithdrawalResponse(item))
	}
	RespondJSON(w, http.StatusOK, map[string]any{"withdrawals": out})
}
