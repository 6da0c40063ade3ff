package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultYooKassaBaseURL = "https://api.yookassa.ru/v3"
	yooKassaCurrency       = "RUB"
)

// YooKassaGateway talks to the YooKassa REST API.
//
// Payouts go to a bank card number. TokenizeCard keeps the number in a
// process-local vault and hands out an opaque token, so card numbers never
// reach the database. A token that outlives the process cannot be paid out.
type YooKassaGateway struct {
	baseURL   string
	shopID    string
	secretKey string
	agentID   string
	payoutKey string
	client    *http.Client

	mu    sync.RWMutex
	vault map[string]string
}

type YooKassaConfig struct {
	BaseURL   string
	ShopID    string
	SecretKey string
	// AgentID authenticates payout calls; payouts use a separate gateway account.
	AgentID        string
	PayoutSecret   string
	RequestTimeout time.Duration
}

func NewYooKassaGateway(cfg YooKassaConfig) *YooKassaGateway {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultYooKassaBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	payoutKey := cfg.PayoutSecret
	if payoutKey == "" {
		payoutKey = cfg.SecretKey
	}
	return &YooKassaGateway{
		payoutKey: payoutKey,
		baseURL:   baseURL,
		shopID:    cfg.ShopID,
		secretKey: cfg.SecretKey,
		agentID:   cfg.AgentID,
		client:    &http.Client{Timeout: timeout},
		vault:     make(map[string]string),
	}
}

type ykAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

func toYKAmount(amount int64) ykAmount {
	return ykAmount{Value: decimal.NewFromInt(amount).StringFixed(2), Currency: yooKassaCurrency}
}

func (a ykAmount) units() int64 {
	d, err := decimal.NewFromString(a.Value)
	if err != nil {
		return 0
	}
	return d.Floor().IntPart()
}

type ykPayment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       ykAmount          `json:"amount"`
	Metadata     map[string]string `json:"metadata"`
	Confirmation struct {
		Type            string `json:"type"`
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
}

type ykPayout struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Amount ykAmount `json:"amount"`
}

func (g *YooKassaGateway) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error) {
	if req.Amount <= 0 {
		return PaymentIntent{}, fmt.Errorf("invalid amount: %d", req.Amount)
	}
	body := map[string]any{
		"amount": toYKAmount(req.Amount),
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": req.ReturnURL,
		},
		"capture":     true,
		"description": req.Description,
		"metadata": map[string]string{
			MetadataCorrelationToken: req.CorrelationToken,
		},
	}
	var out ykPayment
	if err := g.do(ctx, http.MethodPost, "/payments", uuid.NewString(), g.shopID, g.secretKey, body, &out); err != nil {
		return PaymentIntent{}, fmt.Errorf("create payment: %w", err)
	}
	return PaymentIntent{
		ID:              out.ID,
		Status:          out.Status,
		ConfirmationURL: out.Confirmation.ConfirmationURL,
	}, nil
}

func (g *YooKassaGateway) CreatePayout(ctx context.Context, req PayoutRequest) (Payout, error) {
	if req.Amount <= 0 {
		return Payout{}, fmt.Errorf("invalid amount: %d", req.Amount)
	}
	g.mu.RLock()
	number, ok := g.vault[req.CardToken]
	g.mu.RUnlock()
	if !ok {
		return Payout{}, errors.New("card token is unknown or expired")
	}

	body := map[string]any{
		"amount": toYKAmount(req.Amount),
		"payout_destination_data": map[string]any{
			"type": "bank_card",
			"card": map[string]string{"number": number},
		},
		"description": req.Description,
		"metadata":    req.Metadata,
	}
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	var out ykPayout
	if err := g.do(ctx, http.MethodPost, "/payouts", key, g.agentID, g.payoutKey, body, &out); err != nil {
		return Payout{}, fmt.Errorf("create payout: %w", err)
	}
	return Payout{ID: out.ID, Status: out.Status}, nil
}

func (g *YooKassaGateway) LookupPayment(ctx context.Context, id string) (PaymentStatus, error) {
	var out ykPayment
	if err := g.do(ctx, http.MethodGet, "/payments/"+id, "", g.shopID, g.secretKey, nil, &out); err != nil {
		return PaymentStatus{}, fmt.Errorf("get payment %s: %w", id, err)
	}
	return PaymentStatus{
		ID:       out.ID,
		Status:   out.Status,
		Amount:   out.Amount.units(),
		Metadata: out.Metadata,
	}, nil
}

func (g *YooKassaGateway) LookupPayout(ctx context.Context, id string) (PayoutStatus, error) {
	var out ykPayout
	if err := g.do(ctx, http.MethodGet, "/payouts/"+id, "", g.agentID, g.payoutKey, nil, &out); err != nil {
		return PayoutStatus{}, fmt.Errorf("get payout %s: %w", id, err)
	}
	return PayoutStatus{ID: out.ID, Status: out.Status, Amount: out.Amount.units()}, nil
}

func (g *YooKassaGateway) TokenizeCard(ctx context.Context, card Card) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	number := strings.ReplaceAll(card.Number, " ", "")
	if number == "" {
		return "", errors.New("card number is required")
	}
	token := "ykcard_" + uuid.NewString()
	g.mu.Lock()
	g.vault[token] = number
	g.mu.Unlock()
	return token, nil
}

type ykError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (g *YooKassaGateway) do(ctx context.Context, method, path, idempotenceKey, user, secret string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(user, secret)
	req.Header.Set("Content-Type", "application/json")
	if idempotenceKey != "" {
		req.Header.Set("Idempotence-Key", idempotenceKey)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	zap.L().Debug("yookassa call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode == http.StatusNotFound {
		return ErrUnknownObject
	}
	if resp.StatusCode >= 300 {
		var apiErr ykError
		_ = json.Unmarshal(raw, &apiErr)
		return fmt.Errorf("yookassa %d %s: %s", resp.StatusCode, apiErr.Code, apiErr.Description)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
