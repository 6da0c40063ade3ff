package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/ayo6706/venue-payments/internal/service"
	"go.uber.org/zap"
)

const signatureHeader = "X-Webhook-Signature"

// maxWebhookBody caps what a gateway notification may post.
const maxWebhookBody = 1 << 20

type WebhookProcessor interface {
	HandlePaymentEvent(ctx context.Context, payload []byte, signature string) (*service.WebhookResult, error)
	HandlePayoutEvent(ctx context.Context, payload []byte, signature string) (*service.WebhookResult, error)
}

// WebhookHandler handles gateway notifications. Anything other than 2xx makes
// the gateway redeliver, so replays and ignored events answer 200.
type WebhookHandler struct {
	svc WebhookProcessor
}

func NewWebhookHandler(svc WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

// Payments handles POST /v1/webhooks/payments.
func (h *WebhookHandler) Payments(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "payment", h.svc.HandlePaymentEvent)
}

// Payouts handles POST /v1/webhooks/payouts.
func (h *WebhookHandler) Payouts(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "payout", h.svc.HandlePayoutEvent)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, kind string, process func(context.Context, []byte, string) (*service.WebhookResult, error)) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err), zap.String("kind", kind))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	result, err := process(r.Context(), body, r.Header.Get(signatureHeader))
	if err != nil {
		respondServiceError(w, r, kind+" webhook", err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}
