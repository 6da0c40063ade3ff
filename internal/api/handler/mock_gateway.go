package handler

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/ayo6706/venue-payments/internal/gateway"
	"github.com/go-chi/chi/v5"
)

// MockProvider is the part of gateway.MockGateway the mock provider pages drive.
type MockProvider interface {
	LookupPayment(ctx context.Context, id string) (gateway.PaymentStatus, error)
	SetPaymentStatus(id, status string) error
	SetPayoutStatus(id, status string) error
}

// MockGatewayHandler stands in for the provider's hosted pages when the mock
// gateway is configured. Each settlement moves the mock object and then
// delivers the notification the provider would send, signed like a real one.
type MockGatewayHandler struct {
	provider MockProvider
	webhooks WebhookProcessor
	sign     func(payload []byte) string
	baseURL  string
}

func NewMockGatewayHandler(provider MockProvider, webhooks WebhookProcessor, sign func([]byte) string, baseURL string) *MockGatewayHandler {
	return &MockGatewayHandler{
		provider: provider,
		webhooks: webhooks,
		sign:     sign,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

var checkoutPage = template.Must(template.New("checkout").Parse(`<!doctype html>
<html><head><title>Mock checkout</title></head>
<body>
<h1>Pay {{.Amount}}</h1>
<p>Payment {{.ID}} is {{.Status}}.</p>
<form method="post"><button type="submit">Pay</button></form>
</body></html>
`))

type mockNotification struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"object"`
}

func notification(kind, id, status string) []byte {
	n := mockNotification{Type: "notification", Event: kind + "." + status}
	n.Object.ID = id
	n.Object.Status = status
	body, _ := json.Marshal(n)
	return body
}

// Checkout handles GET /mock/checkout/{paymentID}.
func (h *MockGatewayHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	payment, err := h.provider.LookupPayment(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		h.respondProviderError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = checkoutPage.Execute(w, payment)
}

// Pay handles POST /mock/checkout/{paymentID}: the payment succeeds and the
// payment notification is delivered before the patron is sent back.
func (h *MockGatewayHandler) Pay(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")
	if err := h.provider.SetPaymentStatus(paymentID, gateway.StatusSucceeded); err != nil {
		h.respondProviderError(w, r, err)
		return
	}

	body := notification("payment", paymentID, gateway.StatusSucceeded)
	result, err := h.webhooks.HandlePaymentEvent(r.Context(), body, h.sign(body))
	if err != nil {
		respondServiceError(w, r, "mock checkout", err)
		return
	}

	if returnURL := r.URL.Query().Get("return_url"); h.sameOrigin(returnURL) {
		http.Redirect(w, r, returnURL, http.StatusSeeOther)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

// SettlePayout handles POST /mock/payouts/{payoutID} with body {status}.
func (h *MockGatewayHandler) SettlePayout(w http.ResponseWriter, r *http.Request) {
	payoutID := chi.URLParam(r, "payoutID")
	var body struct {
		Status string `json:"status"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	status := strings.ToLower(strings.TrimSpace(body.Status))
	if status == "" {
		RespondError(w, r, http.StatusBadRequest, "request/validation", "status is required")
		return
	}
	if err := h.provider.SetPayoutStatus(payoutID, status); err != nil {
		h.respondProviderError(w, r, err)
		return
	}

	payload := notification("payout", payoutID, status)
	result, err := h.webhooks.HandlePayoutEvent(r.Context(), payload, h.sign(payload))
	if err != nil {
		respondServiceError(w, r, "mock payout", err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

func (h *MockGatewayHandler) sameOrigin(target string) bool {
	return target != "" && h.baseURL != "" && strings.HasPrefix(target, h.baseURL+"/")
}

func (h *MockGatewayHandler) respondProviderError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, gateway.ErrUnknownObject) {
		RespondError(w, r, http.StatusNotFound, "resource/not-found", "unknown mock gateway object")
		return
	}
	respondServiceError(w, r, "mock gateway", err)
}
