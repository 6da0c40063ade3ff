package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/venue-payments/internal/models"
	"github.com/ayo6706/venue-payments/internal/service"
	"github.com/google/uuid"
)

// TrackRequestService is what the request and payment endpoints need from
// the track-request flow.
type TrackRequestService interface {
	Create(ctx context.Context, venueID, trackID uuid.UUID, userFee int64) (models.TrackRequest, error)
	GetByToken(ctx context.Context, token uuid.UUID) (models.TrackRequest, error)
	InitiatePayment(ctx context.Context, token uuid.UUID) (service.PaymentInitiation, error)
	MarkPaidMock(ctx context.Context, token uuid.UUID) (models.TrackRequest, error)
	UpdateStatus(ctx context.Context, venueID, requestID uuid.UUID, status string) (models.TrackRequest, error)
	ListForVenue(ctx context.Context, venueID uuid.UUID, page service.Page) ([]models.TrackRequest, error)
}

type RequestHandler struct {
	svc TrackRequestService
}

func NewRequestHandler(svc TrackRequestService) *RequestHandler {
	return &RequestHandler{svc: svc}
}

type createTrackRequestBody struct {
	TrackID string `json:"track_id"`
	UserFee int64  `json:"user_fee"`
}

// paymentStatusResponse is what a patron sees for a payment token.
type paymentStatusResponse struct {
	RequestID  uuid.UUID `json:"request_id"`
	TrackTitle string    `json:"track_title"`
	UserFee    int64     `json:"user_fee"`
	Status     string    `json:"status"`
	IsPaid     bool      `json:"is_paid"`
}

func toPaymentStatus(req models.TrackRequest) paymentStatusResponse {
	return paymentStatusResponse{
		RequestID:  req.ID,
		TrackTitle: req.TrackTitle,
		UserFee:    req.UserFee,
		Status:     req.Status,
		IsPaid:     req.IsPaid,
	}
}

// Create handles POST /v1/venues/{venueID}/requests.
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	venueID, ok := pathUUID(w, r, "venueID")
	if !ok {
		return
	}
	var body createTrackRequestBody
	if !decodeJSON(w, r, &body) {
		return
	}
	trackID, err := uuid.Parse(body.TrackID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-track-id", "Invalid track_id")
		return
	}

	req, err := h.svc.Create(r.Context(), venueID, trackID, body.UserFee)
	if err != nil {
		respondServiceError(w, r, "create track request", err)
		return
	}
	RespondJSON(w, http.StatusCreated, req)
}

// PaymentStatus handles GET /v1/payments/{token}.
func (h *RequestHandler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	token, ok := pathUUID(w, r, "token")
	if !ok {
		return
	}
	req, err := h.svc.GetByToken(r.Context(), token)
	if err != nil {
		respondServiceError(w, r, "get payment status", err)
		return
	}
	RespondJSON(w, http.StatusOK, toPaymentStatus(req))
}

// InitiatePayment handles POST /v1/payments/{token}.
func (h *RequestHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	token, ok := pathUUID(w, r, "token")
	if !ok {
		return
	}
	initiation, err := h.svc.InitiatePayment(r.Context(), token)
	if err != nil {
		respondServiceError(w, r, "initiate payment", err)
		return
	}
	RespondJSON(w, http.StatusOK, initiation)
}

// ConfirmMock handles POST /v1/payments/{token}/confirm-mock.
func (h *RequestHandler) ConfirmMock(w http.ResponseWriter, r *http.Request) {
	token, ok := pathUUID(w, r, "token")
	if !ok {
		return
	}
	req, err := h.svc.MarkPaidMock(r.Context(), token)
	if err != nil {
		respondServiceError(w, r, "mock payment", err)
		return
	}
	RespondJSON(w, http.StatusOK, toPaymentStatus(req))
}

// List handles GET /v1/venue/requests.
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	venueID, ok := requestVenue(w, r)
	if !ok {
		return
	}
	reqs, err := h.svc.ListForVenue(r.Context(), venueID, pageFromQuery(r))
	if err != nil {
		respondServiceError(w, r, "list track requests", err)
		return
	}
	if reqs == nil {
		reqs = []models.TrackRequest{}
	}
	RespondJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

// UpdateStatus handles PATCH /v1/venue/requests/{id}.
func (h *RequestHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	venueID, ok := requestVenue(w, r)
	if !ok {
		return
	}
	requestID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	req, err := h.svc.UpdateStatus(r.Context(), venueID, requestID, body.Status)
	if err != nil {
		respondServiceError(w, r, "update track request", err)
		return
	}
	RespondJSON(w, http.StatusOK, req)
}
