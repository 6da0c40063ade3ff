package problem

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayo6706/venue-payments/internal/domain"
)

const contentType = "application/problem+json"
const baseTypeURL = "https://errors.venuepay.dev/"

// Details represents RFC 7807 Problem Details.
type Details struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	RequestID string `json:"request_id"`
	Field     string `json:"field,omitempty"`
}

func Type(slug string) string {
	return baseTypeURL + slug
}

// Classify maps a domain error onto an HTTP status and problem slug. The
// boolean is false for errors the domain does not know about.
func Classify(err error) (int, string, bool) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "request/validation", true
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "ledger/insufficient-balance", true
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "state/invalid-transition", true
	case errors.Is(err, domain.ErrAlreadyPaid):
		return http.StatusConflict, "payment/already-paid", true
	case errors.Is(err, domain.ErrPaymentRequired):
		return http.StatusPaymentRequired, "payment/required", true
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "resource/not-found", true
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway, "gateway/failure", true
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized, "webhook/invalid-signature", true
	default:
		return http.StatusInternalServerError, "internal-server-error", false
	}
}

// Write sends RFC 7807-compliant errors.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	write(w, r, Details{Type: problemType, Title: title, Status: status, Detail: detail})
}

// WriteError classifies err and writes it. Unknown errors are reported with a
// generic detail so internals never leak to clients.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, slug, known := Classify(err)
	d := Details{Type: Type(slug), Status: status, Detail: "unexpected server error"}
	if known {
		d.Detail = err.Error()
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		d.Field = verr.Field
		d.Detail = verr.Message
	}
	write(w, r, d)
}

func write(w http.ResponseWriter, r *http.Request, d Details) {
	if d.Title == "" {
		d.Title = http.StatusText(d.Status)
	}
	if d.Type == "" {
		d.Type = "about:blank"
	}
	if r != nil {
		d.Instance = r.URL.Path
		d.RequestID = r.Header.Get("X-Trace-ID")
	}
	if d.RequestID == "" {
		d.RequestID = w.Header().Get("X-Trace-ID")
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}
