package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/venue-payments/internal/api"
	"github.com/ayo6706/venue-payments/internal/api/middleware"
	"github.com/ayo6706/venue-payments/internal/config"
	"github.com/ayo6706/venue-payments/internal/domain"
	"github.com/ayo6706/venue-payments/internal/gateway"
	"github.com/ayo6706/venue-payments/internal/idempotency"
	"github.com/ayo6706/venue-payments/internal/models"
	"github.com/ayo6706/venue-payments/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "venue-payments-test"
	testJWTAudience = "venue-api-test"
	testWebhookKey  = "webhook-test-key"
	testBaseURL     = "http://venuepay.test"
)

func TestMain(m *testing.M) {
	middleware.SetJWTSecret(testJWTSecret)
	os.Exit(m.Run())
}

type fakeRequests struct {
	mu          sync.Mutex
	created     models.TrackRequest
	createErr   error
	byToken     models.TrackRequest
	tokenErr    error
	initiation  service.PaymentInitiation
	initErr     error
	mockErr     error
	updateErr   error
	listed      []models.TrackRequest
	lastVenueID uuid.UUID
}

func (f *fakeRequests) Create(_ context.Context, venueID, trackID uuid.UUID, userFee int64) (models.TrackRequest, error) {
	if f.createErr != nil {
		return models.TrackRequest{}, f.createErr
	}
	req := f.created
	req.VenueID, req.TrackID, req.UserFee = venueID, trackID, userFee
	return req, nil
}

func (f *fakeRequests) GetByToken(context.Context, uuid.UUID) (models.TrackRequest, error) {
	return f.byToken, f.tokenErr
}

func (f *fakeRequests) InitiatePayment(context.Context, uuid.UUID) (service.PaymentInitiation, error) {
	return f.initiation, f.initErr
}

func (f *fakeRequests) MarkPaidMock(context.Context, uuid.UUID) (models.TrackRequest, error) {
	if f.mockErr != nil {
		return models.TrackRequest{}, f.mockErr
	}
	req := f.byToken
	req.IsPaid = true
	return req, nil
}

func (f *fakeRequests) UpdateStatus(_ context.Context, venueID, requestID uuid.UUID, status string) (models.TrackRequest, error) {
	f.mu.Lock()
	f.lastVenueID = venueID
	f.mu.Unlock()
	if f.updateErr != nil {
		return models.TrackRequest{}, f.updateErr
	}
	return models.TrackRequest{ID: requestID, VenueID: venueID, Status: status, IsPaid: true}, nil
}

func (f *fakeRequests) ListForVenue(_ context.Context, venueID uuid.UUID, _ service.Page) ([]models.TrackRequest, error) {
	f.mu.Lock()
	f.lastVenueID = venueID
	f.mu.Unlock()
	return f.listed, nil
}

type fakeWithdrawals struct {
	mu        sync.Mutex
	calls     int
	createErr error
	mockErr   error
	pending   bool
	last      service.CreateWithdrawalRequest
}

func (f *fakeWithdrawals) Create(_ context.Context, req service.CreateWithdrawalRequest) (models.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.createErr != nil {
		return models.WithdrawalRequest{}, f.createErr
	}
	if f.pending {
		return models.WithdrawalRequest{
			ID:      uuid.New(),
			VenueID: req.VenueID,
			Amount:  req.Amount,
			Fee:     req.Amount / 20,
			Status:  domain.WithdrawalStatusPending,
		}, nil
	}
	payoutID := "po_test"
	return models.WithdrawalRequest{
		ID:       uuid.New(),
		VenueID:  req.VenueID,
		Amount:   req.Amount,
		Fee:      req.Amount / 20,
		Status:   domain.WithdrawalStatusProcessing,
		PayoutID: &payoutID,
	}, nil
}

func (f *fakeWithdrawals) CreateMock(_ context.Context, venueID uuid.UUID, amount int64) (models.WithdrawalRequest, error) {
	if f.mockErr != nil {
		return models.WithdrawalRequest{}, f.mockErr
	}
	return models.WithdrawalRequest{ID: uuid.New(), VenueID: venueID, Amount: amount, Fee: amount / 20, Status: domain.WithdrawalStatusSucceeded}, nil
}

func (f *fakeWithdrawals) Get(_ context.Context, venueID, id uuid.UUID) (models.WithdrawalRequest, error) {
	return models.WithdrawalRequest{}, domain.NotFound("withdrawal")
}

func (f *fakeWithdrawals) ListForVenue(_ context.Context, venueID uuid.UUID, _ service.Page) ([]models.WithdrawalRequest, error) {
	return []models.WithdrawalRequest{{ID: uuid.New(), VenueID: venueID, Amount: 1000, Fee: 50, Status: domain.WithdrawalStatusSucceeded}}, nil
}

type fakeVenues struct{}

func (fakeVenues) Get(_ context.Context, venueID uuid.UUID) (models.Venue, error) {
	return models.Venue{ID: venueID, Name: "Club", Balance: 1500}, nil
}

func (fakeVenues) ListTransactions(_ context.Context, venueID uuid.UUID, page service.Page) ([]models.Transaction, int64, error) {
	return nil, 0, nil
}

type fakeWebhooks struct {
	result    *service.WebhookResult
	err       error
	payload   []byte
	signature string
	kind      string
}

func (f *fakeWebhooks) HandlePaymentEvent(_ context.Context, payload []byte, signature string) (*service.WebhookResult, error) {
	f.payload, f.signature, f.kind = payload, signature, "payment"
	return f.result, f.err
}

func (f *fakeWebhooks) HandlePayoutEvent(_ context.Context, payload []byte, signature string) (*service.WebhookResult, error) {
	f.payload, f.signature, f.kind = payload, signature, "payout"
	return f.result, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

// memoryIdempotency mirrors idempotency.Store semantics without Postgres.
type memoryIdempotency struct {
	mu       sync.Mutex
	records  map[string]idempotency.Record
	inflight map[string]string
	released []string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{records: map[string]idempotency.Record{}, inflight: map[string]string{}}
}

func (m *memoryIdempotency) Lookup(_ context.Context, key, hash string) (*idempotency.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[key]; ok {
		if rec.RequestHash != hash {
			return nil, idempotency.ErrHashMismatch
		}
		return &rec, nil
	}
	if _, ok := m.inflight[key]; ok {
		return nil, idempotency.ErrInProgress
	}
	return nil, idempotency.ErrNotFound
}

func (m *memoryIdempotency) Reserve(_ context.Context, key, hash, _, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[key]; ok {
		return false, nil
	}
	if _, ok := m.inflight[key]; ok {
		return false, nil
	}
	m.inflight[key] = hash
	return true, nil
}

func (m *memoryIdempotency) Finalize(_ context.Context, key, hash string, status int, body []byte, contentType string) (*idempotency.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, key)
	rec := idempotency.Record{Key: key, RequestHash: hash, Status: status, Body: append([]byte(nil), body...), ContentType: contentType, ServedBy: "memory"}
	m.records[key] = rec
	return &rec, nil
}

func (m *memoryIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, key)
	m.released = append(m.released, key)
	return nil
}

func (m *memoryIdempotency) WaitForCompletion(ctx context.Context, key, hash string) (*idempotency.Record, error) {
	return m.Lookup(ctx, key, hash)
}

type testAPI struct {
	router      chi.Router
	requests    *fakeRequests
	withdrawals *fakeWithdrawals
	webhooks    *fakeWebhooks
	idem        *memoryIdempotency
}

func setupAPI(t *testing.T) *testAPI {
	return setupAPIWithDB(t, fakePinger{})
}

func setupAPIWithDB(t *testing.T, db fakePinger) *testAPI {
	return buildAPI(t, db, nil)
}

func buildAPI(t *testing.T, db fakePinger, gw *gateway.MockGateway) *testAPI {
	t.Helper()
	cfg := &config.Config{
		JWTSecret:          testJWTSecret,
		JWTIssuer:          testJWTIssuer,
		JWTAudience:        testJWTAudience,
		PublicRateLimitRPS: 1000,
		VenueRateLimitRPS:  1000,
		IdempotencyTTL:     time.Hour,
		WebhookHMACKey:     testWebhookKey,
		Settlement:         config.Settlement{PublicBaseURL: testBaseURL},
	}
	ta := &testAPI{
		requests:    &fakeRequests{},
		withdrawals: &fakeWithdrawals{},
		webhooks:    &fakeWebhooks{result: &service.WebhookResult{Outcome: "applied"}},
		idem:        newMemoryIdempotency(),
	}
	services := api.Services{
		Requests:    ta.requests,
		Withdrawals: ta.withdrawals,
		Venues:      fakeVenues{},
		Webhooks:    ta.webhooks,
		DB:          db,
		Idempotency: ta.idem,
	}
	if gw != nil {
		services.MockGateway = gw
	}
	ta.router = api.NewRouter(cfg, zap.NewNop(), services).Routes()
	return ta
}

func (ta *testAPI) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ta.router.ServeHTTP(w, req)
	return w
}

func generateVenueToken(venueID string) string {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"venue_id": venueID,
		"iss":      testJWTIssuer,
		"aud":      testJWTAudience,
		"iat":      now.Unix(),
		"nbf":      now.Add(-30 * time.Second).Unix(),
		"exp":      now.Add(time.Hour).Unix(),
	})
	tokenString, _ := token.SignedString(middleware.JWTSecret())
	return tokenString
}

func venueRequest(method, path, venueID string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+generateVenueToken(venueID))
	return req
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	require.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRFC7807ProblemDetails(t *testing.T) {
	ta := setupAPI(t)

	w := ta.do(httptest.NewRequest(http.MethodGet, "/v1/venue/balance", nil))

	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeProblem(t, w)
	assert.NotEmpty(t, body["type"])
	assert.Equal(t, float64(http.StatusUnauthorized), body["status"])
	assert.NotEmpty(t, body["title"])
	assert.NotEmpty(t, body["detail"])
	assert.Equal(t, "/v1/venue/balance", body["instance"])
	assert.NotEmpty(t, body["request_id"])
}

func TestVenueAuth(t *testing.T) {
	ta := setupAPI(t)
	venueID := uuid.New()

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"venue_id": venueID.String(),
		"iss":      testJWTIssuer,
		"aud":      testJWTAudience,
		"exp":      time.Now().Add(-time.Minute).Unix(),
	})
	expiredToken, _ := expired.SignedString(middleware.JWTSecret())

	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "valid", header: "Bearer " + generateVenueToken(venueID.String()), status: http.StatusOK},
		{name: "not_bearer", header: generateVenueToken(venueID.String()), status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expiredToken, status: http.StatusUnauthorized},
		{name: "bad_venue_claim", header: "Bearer " + generateVenueToken("club-7"), status: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer abc.def.ghi", status: http.StatusUnauthorized},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/venue/balance", nil)
			req.Header.Set("Authorization", tc.header)
			w := ta.do(req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestVenueBalanceUsesTokenVenue(t *testing.T) {
	ta := setupAPI(t)
	venueID := uuid.New()

	w := ta.do(venueRequest(http.MethodGet, "/v1/venue/balance", venueID.String(), nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		VenueID  uuid.UUID `json:"venue_id"`
		Balance  int64     `json:"balance"`
		Currency string    `json:"currency"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, venueID, body.VenueID)
	assert.Equal(t, int64(1500), body.Balance)
	assert.Equal(t, domain.Currency, body.Currency)
}

func TestCreateTrackRequest(t *testing.T) {
	venueID := uuid.New()
	trackID := uuid.New()

	cases := []struct {
		name      string
		path      string
		body      string
		createErr error
		status    int
		field     string
	}{
		{name: "created", path: "/v1/venues/" + venueID.String() + "/requests", body: `{"track_id":"` + trackID.String() + `","user_fee":150}`, status: http.StatusCreated},
		{name: "fee_below_price", path: "/v1/venues/" + venueID.String() + "/requests", body: `{"track_id":"` + trackID.String() + `","user_fee":50}`, createErr: domain.Invalid("user_fee", "must be at least %d", 100), status: http.StatusBadRequest, field: "user_fee"},
		{name: "unknown_track", path: "/v1/venues/" + venueID.String() + "/requests", body: `{"track_id":"` + trackID.String() + `","user_fee":150}`, createErr: domain.NotFound("track"), status: http.StatusNotFound},
		{name: "bad_venue_id", path: "/v1/venues/nope/requests", body: `{"track_id":"` + trackID.String() + `","user_fee":150}`, status: http.StatusBadRequest},
		{name: "bad_track_id", path: "/v1/venues/" + venueID.String() + "/requests", body: `{"track_id":"x","user_fee":150}`, status: http.StatusBadRequest},
		{name: "malformed_body", path: "/v1/venues/" + venueID.String() + "/requests", body: `{`, status: http.StatusBadRequest},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ta := setupAPI(t)
			ta.requests.created = models.TrackRequest{ID: uuid.New(), PaymentToken: uuid.New(), Status: domain.RequestStatusPending}
			ta.requests.createErr = tc.createErr

			req := httptest.NewRequest(http.MethodPost, tc.path, bytes.NewBufferString(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := ta.do(req)

			require.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusCreated {
				var got models.TrackRequest
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
				assert.Equal(t, venueID, got.VenueID)
				assert.Equal(t, trackID, got.TrackID)
				assert.Equal(t, int64(150), got.UserFee)
				assert.NotEqual(t, uuid.Nil, got.PaymentToken)
			}
			if tc.field != "" {
				assert.Equal(t, tc.field, decodeProblem(t, w)["field"])
			}
		})
	}
}

func TestPaymentEndpoints(t *testing.T) {
	token := uuid.New().String()

	t.Run("status", func(t *testing.T) {
		ta := setupAPI(t)
		ta.requests.byToken = models.TrackRequest{ID: uuid.New(), TrackTitle: "Song", UserFee: 150, Status: domain.RequestStatusPending}

		w := ta.do(httptest.NewRequest(http.MethodGet, "/v1/payments/"+token, nil))

		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "Song", body["track_title"])
		assert.Equal(t, false, body["is_paid"])
		assert.NotContains(t, body, "payment_token")
	})

	t.Run("initiate", func(t *testing.T) {
		ta := setupAPI(t)
		ta.requests.initiation = service.PaymentInitiation{PaymentID: "pay_1", ConfirmationURL: "https://pay.example/checkout"}

		w := ta.do(httptest.NewRequest(http.MethodPost, "/v1/payments/"+token, nil))

		require.Equal(t, http.StatusOK, w.Code)
		var body service.PaymentInitiation
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "https://pay.example/checkout", body.ConfirmationURL)
	})

	cases := []struct {
		name   string
		path   string
		setup  func(*fakeRequests)
		status int
	}{
		{name: "initiate_already_paid", path: "/v1/payments/" + token, setup: func(f *fakeRequests) { f.initErr = domain.ErrAlreadyPaid }, status: http.StatusConflict},
		{name: "initiate_gateway_down", path: "/v1/payments/" + token, setup: func(f *fakeRequests) { f.initErr = domain.GatewayFailure("create payment", errors.New("timeout")) }, status: http.StatusBadGateway},
		{name: "mock_disabled", path: "/v1/payments/" + token + "/confirm-mock", setup: func(f *fakeRequests) { f.mockErr = domain.NotFound("mock payment flow") }, status: http.StatusNotFound},
		{name: "mock_already_paid", path: "/v1/payments/" + token + "/confirm-mock", setup: func(f *fakeRequests) { f.mockErr = domain.ErrAlreadyPaid }, status: http.StatusConflict},
		{name: "mock_ok", path: "/v1/payments/" + token + "/confirm-mock", setup: func(*fakeRequests) {}, status: http.StatusOK},
		{name: "bad_token", path: "/v1/payments/not-a-uuid", setup: func(*fakeRequests) {}, status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ta := setupAPI(t)
			tc.setup(ta.requests)
			w := ta.do(httptest.NewRequest(http.MethodPost, tc.path, nil))
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestUpdateRequestStatusErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "accepted", err: nil, status: http.StatusOK},
		{name: "unpaid", err: domain.ErrPaymentRequired, status: http.StatusPaymentRequired},
		{name: "twice", err: errors.Join(errors.New("accept request"), domain.ErrInvalidTransition), status: http.StatusConflict},
		{name: "other_venue", err: domain.NotFound("track request"), status: http.StatusNotFound},
		{name: "bad_status", err: domain.Invalid("status", "unknown status %q", "played"), status: http.StatusBadRequest},
		{name: "unexpected", err: errors.New("connection reset"), status: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ta := setupAPI(t)
			ta.requests.updateErr = tc.err
			venueID := uuid.New()

			w := ta.do(venueRequest(http.MethodPatch, "/v1/venue/requests/"+uuid.NewString(), venueID.String(), map[string]string{"status": "accepted"}))

			require.Equal(t, tc.status, w.Code)
			assert.Equal(t, venueID, ta.requests.lastVenueID)
			if tc.status == http.StatusInternalServerError {
				assert.Equal(t, "unexpected server error", decodeProblem(t, w)["detail"])
			}
		})
	}
}

func TestCreateWithdrawal(t *testing.T) {
	venueID := uuid.New()
	body := map[string]any{
		"amount": 1000,
		"card":   map[string]string{"number": "4111111111111111", "expiry_year": "2030", "expiry_month": "12", "csc": "123"},
	}

	t.Run("requires_idempotency_key", func(t *testing.T) {
		ta := setupAPI(t)
		w := ta.do(venueRequest(http.MethodPost, "/v1/venue/withdrawals", venueID.String(), body))
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, 0, ta.withdrawals.calls)
	})

	t.Run("accepted_then_replayed", func(t *testing.T) {
		ta := setupAPI(t)
		first := venueRequest(http.MethodPost, "/v1/venue/withdrawals", venueID.String(), body)
		first.Header.Set("Idempotency-Key", "wd-1")
		w1 := ta.do(first)
		require.Equal(t, http.StatusAccepted, w1.Code)

		var got map[string]any
		require.NoError(t, json.Unmarshal(w1.Body.Bytes(), &got))
		assert.Equal(t, float64(1000), got["amount"])
		assert.Equal(t, float64(50), got["fee"])
		assert.Equal(t, float64(950), got["net_amount"])
		assert.NotContains(t, got, "BankCardToken")
		assert.Equal(t, venueID, ta.withdrawals.last.VenueID)
		assert.Equal(t, "4111111111111111", ta.withdrawals.last.Card.Number)

		second := venueRequest(http.MethodPost, "/v1/venue/withdrawals", venueID.String(), body)
		second.Header.Set("Idempotency-Key", "wd-1")
		w2 := ta.do(second)
		require.Equal(t, http.StatusAccepted, w2.Code)
		assert.Equal(t, "memory", w2.Header().Get("X-Idempotent-Replay"))
		assert.Equal(t, w1.Body.String(), w2.Body.String())
		assert.Equal(t, 1, ta.withdrawals.calls)
	})

	t.Run("keys_are_scoped_per_venue", func(t *testing.T) {
		ta := setupAPI(t)
		for _, v := range []uuid.UUID{uuid.New(), uuid.New()} {
			req := venueRequest(http.MethodPost, "/v1/venue/withdrawals", v.String(), body)
			req.Header.Set("Idempotency-Key", "shared")
			require.Equal(t, http.StatusAccepted, ta.do(req).Code)
		}
		assert.Equal(t, 2, ta.withdrawals.calls)
	})

	t.Run("key_reused_with_other_body", func(t *testing.T) {
		ta := setupAPI(t)
		first := venueRequest(http.MethodPost, "/v1/venue/withdrawals", venueID.String(), body)
		first.Header.Set("Idempotency-Key", "wd-2")
		require.Equal(t, http.StatusAccepted, ta.do(first).Code)

		other := venueRequest(http.MethodPost, "/v1/venue/withdrawals", venueID.String(), map[string]any{"amount": 2000, "card": body["card"]})
		other.Header.Set("Idempotency-Key", "wd-2")
		assert.Equal(t, http.StatusConflict, ta.do(other).Code)
	})

	t.Run("gateway_failure_releases_key", func(t *testing.T) {
		ta := setupAPI(t)
		ta.withdrawals.createErr = domain.GatewayFailure("create payout", errors.New("connection refused"))

		req := venueRequest(http.MethodPost, "/v1/venue/withdrawals", venueID.String(), body)
		req.Header.Set("Idempotency-Key", "wd-3")
		w := ta.do(req)
		require.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, []string{venueID.String() + ":wd-3"}, ta.idem.released)

		ta.withdrawals.createErr = nil
		retry := venueRequest(http.MethodPost, "/v1/venue/withdrawals", venueID.String(), body)
		retry.Header.Set("Idempotency-Key", "wd-3")
		assert.Equal(t, http.StatusAccepted, ta.do(retry).Code)
		assert.Equal(t, 2, ta.withdrawals.calls)
	})

	t.Run("unrecorded_payout_finalizes_key", func(t *testing.T) {
		ta := setupAPI(t)
		ta.withdrawals.pending = true

		first := venueRequest(http.MethodPost, "/v1/venue/withdrawals", venueID.String(), body)
		first.Header.Set("Idempotency-Key", "wd-4")
		w1 := ta.do(first)
		require.Equal(t, http.StatusAccepted, w1.Code)
		var got map[string]any
		require.NoError(t, json.Unmarshal(w1.Body.Bytes(), &got))
		assert.Equal(t, domain.WithdrawalStatusPending, got["status"])
		assert.Empty(t, ta.idem.released)

		retry := venueRequest(http.MethodPost, "/v1/venue/withdrawals", venueID.String(), body)
		retry.Header.Set("Idempotency-Key", "wd-4")
		w2 := ta.do(retry)
		require.Equal(t, http.StatusAccepted, w2.Code)
		assert.Equal(t, "memory", w2.Header().Get("X-Idempotent-Replay"))
		assert.Equal(t, 1, ta.withdrawals.calls)
	})

	errorCases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "below_minimum", err: domain.Invalid("amount", "must be at least %d", 500), status: http.StatusBadRequest},
		{name: "insufficient_balance", err: domain.ErrInsufficientBalance, status: http.StatusUnprocessableEntity},
	}
	for _, tc := range errorCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ta := setupAPI(t)
			ta.withdrawals.createErr = tc.err
			req := venueRequest(http.MethodPost, "/v1/venue/withdrawals", venueID.String(), body)
			req.Header.Set("Idempotency-Key", uuid.NewString())
			assert.Equal(t, tc.status, ta.do(req).Code)
		})
	}
}

func TestMockWithdrawalAndListing(t *testing.T) {
	venueID := uuid.New()

	t.Run("mock_created", func(t *testing.T) {
		ta := setupAPI(t)
		w := ta.do(venueRequest(http.MethodPost, "/v1/venue/withdrawals/mock", venueID.String(), map[string]int64{"amount": 1000}))
		require.Equal(t, http.StatusCreated, w.Code)
		var got map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, domain.WithdrawalStatusSucceeded, got["status"])
	})

	t.Run("mock_disabled", func(t *testing.T) {
		ta := setupAPI(t)
		ta.withdrawals.mockErr = domain.NotFound("mock withdrawal flow")
		w := ta.do(venueRequest(http.MethodPost, "/v1/venue/withdrawals/mock", venueID.String(), map[string]int64{"amount": 1000}))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("list", func(t *testing.T) {
		ta := setupAPI(t)
		w := ta.do(venueRequest(http.MethodGet, "/v1/venue/withdrawals?limit=10", venueID.String(), nil))
		require.Equal(t, http.StatusOK, w.Code)
		var got struct {
			Withdrawals []map[string]any `json:"withdrawals"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		require.Len(t, got.Withdrawals, 1)
		assert.Equal(t, float64(950), got.Withdrawals[0]["net_amount"])
	})

	t.Run("get_other_venue", func(t *testing.T) {
		ta := setupAPI(t)
		w := ta.do(venueRequest(http.MethodGet, "/v1/venue/withdrawals/"+uuid.NewString(), venueID.String(), nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("empty_lists_are_arrays", func(t *testing.T) {
		ta := setupAPI(t)
		w := ta.do(venueRequest(http.MethodGet, "/v1/venue/requests", venueID.String(), nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"requests":[]}`, w.Body.String())
		assert.Equal(t, venueID, ta.requests.lastVenueID)

		w = ta.do(venueRequest(http.MethodGet, "/v1/venue/transactions", venueID.String(), nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"transactions":[],"total":0}`, w.Body.String())
	})
}

func TestWebhookEndpoints(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		err    error
		status int
		kind   string
	}{
		{name: "payment_applied", path: "/v1/webhooks/payments", status: http.StatusOK, kind: "payment"},
		{name: "payout_applied", path: "/v1/webhooks/payouts", status: http.StatusOK, kind: "payout"},
		{name: "bad_signature", path: "/v1/webhooks/payments", err: domain.ErrInvalidSignature, status: http.StatusUnauthorized, kind: "payment"},
		{name: "malformed", path: "/v1/webhooks/payments", err: domain.Invalid("body", "malformed notification"), status: http.StatusBadRequest, kind: "payment"},
		{name: "unknown_payout", path: "/v1/webhooks/payouts", err: domain.NotFound("withdrawal"), status: http.StatusNotFound, kind: "payout"},
		{name: "storage_failure", path: "/v1/webhooks/payouts", err: errors.New("deadlock detected"), status: http.StatusInternalServerError, kind: "payout"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ta := setupAPI(t)
			ta.webhooks.err = tc.err
			req := httptest.NewRequest(http.MethodPost, tc.path, bytes.NewBufferString(`{"event":"x"}`))
			req.Header.Set("X-Webhook-Signature", "sha256=abc")
			w := ta.do(req)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, "sha256=abc", ta.webhooks.signature)
			assert.Equal(t, tc.kind, ta.webhooks.kind)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ta := setupAPI(t)

	cases := []struct {
		name string
		path string
	}{
		{name: "live", path: "/healthz"},
		{name: "ready", path: "/readyz"},
		{name: "metrics", path: "/metrics"},
		{name: "openapi", path: "/openapi.yaml"},
		{name: "swagger", path: "/docs/index.html"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			w := ta.do(httptest.NewRequest(http.MethodGet, tc.path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}

	t.Run("not_ready", func(t *testing.T) {
		down := setupAPIWithDB(t, fakePinger{err: errors.New("dial tcp: refused")})
		w := down.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestTraceIDPropagated(t *testing.T) {
	ta := setupAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Trace-ID", "trace-123")

	w := ta.do(req)

	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))
}

func TestMockGatewayPages(t *testing.T) {
	ctx := context.Background()
	token := uuid.NewString()
	returnURL := testBaseURL + "/v1/payments/" + token + "?from=checkout&x=1"

	newGateway := func(t *testing.T) *gateway.MockGateway {
		gw, err := gateway.NewMockGateway(testBaseURL)
		require.NoError(t, err)
		return gw
	}

	t.Run("checkout_link_settles_payment", func(t *testing.T) {
		gw := newGateway(t)
		ta := buildAPI(t, fakePinger{}, gw)
		intent, err := gw.CreatePaymentIntent(ctx, gateway.PaymentIntentRequest{Amount: 150, CorrelationToken: token, ReturnURL: returnURL})
		require.NoError(t, err)

		link, err := url.Parse(intent.ConfirmationURL)
		require.NoError(t, err)
		assert.Equal(t, "/mock/checkout/"+intent.ID, link.Path)
		assert.Equal(t, returnURL, link.Query().Get("return_url"))

		page := ta.do(httptest.NewRequest(http.MethodGet, link.RequestURI(), nil))
		require.Equal(t, http.StatusOK, page.Code)
		assert.Contains(t, page.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, page.Body.String(), "Pay 150")

		pay := ta.do(httptest.NewRequest(http.MethodPost, link.RequestURI(), nil))
		require.Equal(t, http.StatusSeeOther, pay.Code)
		assert.Equal(t, returnURL, pay.Header().Get("Location"))

		assert.Equal(t, "payment", ta.webhooks.kind)
		assert.Equal(t, service.Sign([]byte(testWebhookKey), ta.webhooks.payload), ta.webhooks.signature)
		var event service.GatewayEvent
		require.NoError(t, json.Unmarshal(ta.webhooks.payload, &event))
		assert.Equal(t, intent.ID, event.Object.ID)
		assert.Equal(t, gateway.StatusSucceeded, event.Object.Status)

		payment, err := gw.LookupPayment(ctx, intent.ID)
		require.NoError(t, err)
		assert.Equal(t, gateway.StatusSucceeded, payment.Status)
	})

	t.Run("foreign_return_url_is_not_followed", func(t *testing.T) {
		gw := newGateway(t)
		ta := buildAPI(t, fakePinger{}, gw)
		intent, err := gw.CreatePaymentIntent(ctx, gateway.PaymentIntentRequest{Amount: 150, CorrelationToken: token, ReturnURL: "https://evil.example/steal"})
		require.NoError(t, err)

		link, err := url.Parse(intent.ConfirmationURL)
		require.NoError(t, err)
		w := ta.do(httptest.NewRequest(http.MethodPost, link.RequestURI(), nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Location"))
	})

	t.Run("unknown_payment", func(t *testing.T) {
		ta := buildAPI(t, fakePinger{}, newGateway(t))
		w := ta.do(httptest.NewRequest(http.MethodGet, "/mock/checkout/pay_missing", nil))
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "https://errors.venuepay.dev/resource/not-found", decodeProblem(t, w)["type"])
	})

	t.Run("payout_settlement", func(t *testing.T) {
		gw := newGateway(t)
		ta := buildAPI(t, fakePinger{}, gw)
		card, err := gw.TokenizeCard(ctx, gateway.Card{Number: "4111111111111111", ExpiryYear: "2030", ExpiryMonth: "12", CSC: "123"})
		require.NoError(t, err)
		payout, err := gw.CreatePayout(ctx, gateway.PayoutRequest{Amount: 475, CardToken: card, IdempotencyKey: uuid.NewString()})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/mock/payouts/"+payout.ID, bytes.NewBufferString(`{"status":"canceled"}`))
		req.Header.Set("Content-Type", "application/json")
		w := ta.do(req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "payout", ta.webhooks.kind)
		assert.Equal(t, service.Sign([]byte(testWebhookKey), ta.webhooks.payload), ta.webhooks.signature)

		status, err := gw.LookupPayout(ctx, payout.ID)
		require.NoError(t, err)
		assert.Equal(t, gateway.StatusCanceled, status.Status)

		missing := httptest.NewRequest(http.MethodPost, "/mock/payouts/po_missing", bytes.NewBufferString(`{"status":"succeeded"}`))
		assert.Equal(t, http.StatusNotFound, ta.do(missing).Code)

		empty := httptest.NewRequest(http.MethodPost, "/mock/payouts/"+payout.ID, bytes.NewBufferString(`{}`))
		assert.Equal(t, http.StatusBadRequest, ta.do(empty).Code)
	})

	t.Run("absent_without_mock_gateway", func(t *testing.T) {
		ta := setupAPI(t)
		w := ta.do(httptest.NewRequest(http.MethodGet, "/mock/checkout/pay_1", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
