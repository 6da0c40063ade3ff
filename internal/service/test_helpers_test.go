package service

import (
	"context"
	"os"
	"testing"

	"github.com/ayo6706/venue-payments/internal/config"
	"github.com/ayo6706/venue-payments/internal/db"
	"github.com/ayo6706/venue-payments/internal/events"
	"github.com/ayo6706/venue-payments/internal/gateway"
	"github.com/ayo6706/venue-payments/internal/models"
	"github.com/ayo6706/venue-payments/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testHMACKey = "secret"

// setupTestDB migrates and empties the database named by DATABASE_URL. Tests
// that need Postgres are skipped when it is unset.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("DATABASE_URL not set")
	}
	require.NoError(t, db.Migrate(connString))

	pool, err := db.Connect(context.Background(), connString, 20)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(context.Background(), `
		TRUNCATE TABLE audit_log, transactions, withdrawal_requests, track_requests,
			tracks, genres, venues, idempotency_keys CASCADE`)
	require.NoError(t, err)
	return pool
}

func testSettlement() config.Settlement {
	return config.Settlement{
		MinWithdrawalAmount: 500,
		WithdrawalFeeRate:   decimal.RequireFromString("0.05"),
		PublicBaseURL:       "http://localhost:8080",
		MockFlowsEnabled:    true,
	}
}

type fixture struct {
	pool        *pgxpool.Pool
	store       *repository.Store
	gw          *gateway.MockGateway
	recorder    *events.Recorder
	ledger      *Ledger
	requests    *TrackRequestService
	withdrawals *WithdrawalService
	webhooks    *WebhookService
	venues      *VenueService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	gw, err := gateway.NewMockGateway("http://localhost:8080")
	require.NoError(t, err)
	recorder := &events.Recorder{}
	ledger := NewLedger()
	cfg := testSettlement()
	withdrawals := NewWithdrawalService(store, gw, ledger, recorder, cfg)
	return &fixture{
		pool:        pool,
		store:       store,
		gw:          gw,
		recorder:    recorder,
		ledger:      ledger,
		requests:    NewTrackRequestService(store, gw, ledger, recorder, cfg),
		withdrawals: withdrawals,
		webhooks:    NewWebhookService(store, gw, ledger, withdrawals, recorder, testHMACKey, false),
		venues:      NewVenueService(store),
	}
}

// seedVenue creates a venue whose opening balance is a ledger deposit, so the
// balance always matches the transaction sum.
func (f *fixture) seedVenue(t *testing.T, balance int64) models.Venue {
	t.Helper()
	ctx := context.Background()
	v := models.Venue{ID: uuid.New(), OwnerID: uuid.New(), Name: "Venue " + uuid.NewString()[:8], City: "Moscow"}
	require.NoError(t, f.store.Queries().CreateVenue(ctx, &v))
	if balance > 0 {
		_, err := creditVenue(ctx, f.store, f.ledger, LedgerEntry{VenueID: v.ID, Amount: balance, Type: "deposit"})
		require.NoError(t, err)
		v.Balance = balance
	}
	return v
}

func (f *fixture) seedTrack(t *testing.T, venueID uuid.UUID, price int64) models.Track {
	t.Helper()
	track := models.Track{ID: uuid.New(), VenueID: venueID, Title: "Track " + uuid.NewString()[:8], Artist: "Artist", Price: price}
	require.NoError(t, f.store.Queries().CreateTrack(context.Background(), track))
	return track
}

func (f *fixture) balance(t *testing.T, venueID uuid.UUID) int64 {
	t.Helper()
	v, err := f.venues.Get(context.Background(), venueID)
	require.NoError(t, err)
	return v.Balance
}

func (f *fixture) transactionCount(t *testing.T, venueID uuid.UUID) int64 {
	t.Helper()
	n, err := f.store.Queries().CountVenueTransactions(context.Background(), venueID)
	require.NoError(t, err)
	return n
}

func validCard() gateway.Card {
	return gateway.Card{Number: "4111 1111 1111 1111", ExpiryYear: "2030", ExpiryMonth: "12", CSC: "123"}
}

func paymentEvent(t *testing.T, id string) []byte {
	t.Helper()
	return []byte(`{"type":"notification","event":"payment.succeeded","object":{"id":"` + id + `","status":"succeeded"}}`)
}

func payoutEvent(t *testing.T, id, status string) []byte {
	t.Helper()
	return []byte(`{"type":"notification","event":"payout.` + status + `","object":{"id":"` + id + `","status":"` + status + `"}}`)
}

func signed(body []byte) string {
	return Sign([]byte(testHMACKey), body)
}

// creditVenue runs a single ledger credit in its own transaction.
func creditVenue(ctx context.Context, store QueryStore, l *Ledger, entry LedgerEntry) (models.Transaction, error) {
	var txn models.Transaction
	err := store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		txn, err = l.Credit(ctx, qtx, entry)
		return err
	})
	return txn, err
}

// debitVenue runs a single ledger debit in its own transaction.
func debitVenue(ctx context.Context, store QueryStore, l *Ledger, entry LedgerEntry) (models.Transaction, error) {
	var txn models.Transaction
	err := store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		txn, err = l.Debit(ctx, qtx, entry)
		return err
	})
	return txn, err
}
