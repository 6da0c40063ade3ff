package service

import (
	"context"
	"testing"

	"github.com/ayo6706/venue-payments/internal/domain"
	"github.com/ayo6706/venue-payments/internal/gateway"
	"github.com/ayo6706/venue-payments/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookRejectsBadSignature(t *testing.T) {
	gw, err := gateway.NewMockGateway("")
	require.NoError(t, err)
	svc := NewWebhookService(nil, gw, nil, nil, nil, testHMACKey, false)

	body := paymentEvent(t, "pay_1")
	_, err = svc.HandlePaymentEvent(context.Background(), body, "sha256=bad")
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = svc.HandlePayoutEvent(context.Background(), body, "")
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	unkeyed := NewWebhookService(nil, gw, nil, nil, nil, "", false)
	_, err = unkeyed.HandlePaymentEvent(context.Background(), body, Sign([]byte(""), body))
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	gw, err := gateway.NewMockGateway("")
	require.NoError(t, err)
	svc := NewWebhookService(nil, gw, nil, nil, nil, testHMACKey, false)

	for _, body := range [][]byte{[]byte(`{not json`), []byte(`{"object":{"id":""}}`)} {
		_, err := svc.HandlePaymentEvent(context.Background(), body, signed(body))
		require.ErrorIs(t, err, domain.ErrValidation)
	}
}

func TestWebhookUnknownObjects(t *testing.T) {
	gw, err := gateway.NewMockGateway("")
	require.NoError(t, err)
	svc := NewWebhookService(nil, gw, nil, nil, nil, "", true)

	_, err = svc.HandlePaymentEvent(context.Background(), paymentEvent(t, "pay_missing"), "")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.HandlePayoutEvent(context.Background(), payoutEvent(t, "po_missing", "succeeded"), "")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPaymentWebhookIgnoresUnsucceededPayment(t *testing.T) {
	gw, err := gateway.NewMockGateway("")
	require.NoError(t, err)
	intent, err := gw.CreatePaymentIntent(context.Background(), gateway.PaymentIntentRequest{Amount: 100, CorrelationToken: "tok"})
	require.NoError(t, err)

	svc := NewWebhookService(nil, gw, nil, nil, nil, "", true)
	// the body claims success, the gateway says pending
	res, err := svc.HandlePaymentEvent(context.Background(), paymentEvent(t, intent.ID), "")
	require.NoError(t, err)
	assert.Equal(t, observability.WebhookIgnored, res.Outcome)
	assert.Equal(t, gateway.StatusPending, res.Status)
}

func TestPaymentWebhookForUnknownTrackRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	intent, err := f.gw.CreatePaymentIntent(ctx, gateway.PaymentIntentRequest{Amount: 100, CorrelationToken: "1b4e28ba-2fa1-11d2-883f-0016d3cca427"})
	require.NoError(t, err)
	require.NoError(t, f.gw.SetPaymentStatus(intent.ID, gateway.StatusSucceeded))

	body := paymentEvent(t, intent.ID)
	_, err = f.webhooks.HandlePaymentEvent(ctx, body, signed(body))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentPaymentWebhooksCreditOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	venue := f.seedVenue(t, 0)
	track := f.seedTrack(t, venue.ID, 100)
	req, err := f.requests.Create(ctx, venue.ID, track.ID, 300)
	require.NoError(t, err)
	initiation, err := f.requests.InitiatePayment(ctx, req.PaymentToken)
	require.NoError(t, err)
	require.NoError(t, f.gw.SetPaymentStatus(initiation.PaymentID, gateway.StatusSucceeded))

	body := paymentEvent(t, initiation.PaymentID)
	results := make(chan string, 8)
	for i := 0; i < 8; i++ {
		go func() {
			res, err := f.webhooks.HandlePaymentEvent(ctx, body, signed(body))
			if err != nil {
				results <- err.Error()
				return
			}
			results <- res.Outcome
		}()
	}

	counts := map[string]int{}
	for i := 0; i < 8; i++ {
		counts[<-results]++
	}
	assert.Equal(t, 1, counts[observability.WebhookApplied])
	assert.Equal(t, 7, counts[observability.WebhookReplay])
	assert.Equal(t, int64(300), f.balance(t, venue.ID))
}
