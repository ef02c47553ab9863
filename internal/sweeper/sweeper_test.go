package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aquamart/dispatch/internal/arbiter"
	"github.com/aquamart/dispatch/internal/locks"
	"github.com/aquamart/dispatch/internal/store"
	"github.com/aquamart/dispatch/pkg/models"
)

func newTestSweeper() (*Sweeper, *store.MemoryStore, *locks.Manager) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	st := store.NewMemoryStore()
	lm := locks.NewManager()
	return New(st, lm, logger, 0), st, lm
}

func seedRequest(t *testing.T, st *store.MemoryStore, id string, expiresAt time.Time) {
	t.Helper()
	req := models.QuoteRequest{
		ID:          id,
		RequesterID: "user-1",
		Items:       []models.CartItem{{ProductID: "tank-200l", Quantity: 1, UnitPrice: 6000}},
		ItemsTotal:  6000,
		Destination: models.Address{Street: "12 Harbor Rd", City: "Mombasa"},
		Status:      models.RequestOpen,
		CreatedAt:   expiresAt.Add(-time.Hour),
		ExpiresAt:   expiresAt,
	}
	if err := st.CreateRequest(context.Background(), req); err != nil {
		t.Fatalf("seed request failed: %v", err)
	}
}

func seedQuote(t *testing.T, st *store.MemoryStore, id, requestID string, expiresAt time.Time) {
	t.Helper()
	quote := models.Quote{
		ID:          id,
		RequestID:   requestID,
		ProviderID:  "prov-" + id,
		Fee:         1200,
		ETAMinutes:  45,
		Status:      models.QuotePending,
		SubmittedAt: expiresAt.Add(-time.Hour),
		ExpiresAt:   expiresAt,
	}
	if err := st.CreateQuote(context.Background(), quote); err != nil {
		t.Fatalf("seed quote failed: %v", err)
	}
}

func TestSweepExpiresRequestAndCascadesQuotes(t *testing.T) {
	sw, st, lm := newTestSweeper()
	ctx := context.Background()
	now := time.Now()

	seedRequest(t, st, "req-1", now.Add(-time.Minute))
	seedQuote(t, st, "q-1", "req-1", now.Add(time.Hour))
	seedQuote(t, st, "q-2", "req-1", now.Add(time.Hour))

	if err := sw.Sweep(ctx, now); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	req, _ := st.GetRequest(ctx, "req-1")
	if req.Status != models.RequestExpired {
		t.Errorf("Expected request EXPIRED, got %s", req.Status)
	}
	for _, id := range []string{"q-1", "q-2"} {
		quote, _ := st.GetQuote(ctx, id)
		if quote.Status != models.QuoteExpired {
			t.Errorf("Expected quote %s EXPIRED, got %s", id, quote.Status)
		}
	}

	// The expired request is terminal for acceptance.
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	arb := arbiter.NewService(st, lm, nil, logger)
	if _, err := arb.AcceptQuote(ctx, "req-1", "q-1", "user-1"); !errors.Is(err, models.ErrRequestNotOpen) {
		t.Fatalf("Expected ErrRequestNotOpen after sweep, got %v", err)
	}
}

func TestSweepExpiresStalePendingQuote(t *testing.T) {
	sw, st, _ := newTestSweeper()
	ctx := context.Background()
	now := time.Now()

	seedRequest(t, st, "req-1", now.Add(time.Hour))
	seedQuote(t, st, "q-1", "req-1", now.Add(-time.Minute))
	seedQuote(t, st, "q-2", "req-1", now.Add(time.Hour))

	if err := sw.Sweep(ctx, now); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	req, _ := st.GetRequest(ctx, "req-1")
	if req.Status != models.RequestOpen {
		t.Errorf("Request with time left must stay OPEN, got %s", req.Status)
	}
	stale, _ := st.GetQuote(ctx, "q-1")
	if stale.Status != models.QuoteExpired {
		t.Errorf("Expected stale quote EXPIRED, got %s", stale.Status)
	}
	fresh, _ := st.GetQuote(ctx, "q-2")
	if fresh.Status != models.QuotePending {
		t.Errorf("Expected fresh quote untouched, got %s", fresh.Status)
	}
}

func TestSweepClearsExpiredCarts(t *testing.T) {
	sw, st, _ := newTestSweeper()
	ctx := context.Background()
	now := time.Now()

	expired := models.Cart{
		RequesterID: "user-1",
		Items:       []models.CartItem{{ProductID: "tank-200l", Quantity: 1, UnitPrice: 6000}},
		UpdatedAt:   now.Add(-2 * time.Hour),
		ExpiresAt:   now.Add(-time.Hour),
	}
	active := models.Cart{
		RequesterID: "user-2",
		Items:       []models.CartItem{{ProductID: "filter-x2", Quantity: 1, UnitPrice: 750}},
		UpdatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
	if err := st.SaveCart(ctx, expired); err != nil {
		t.Fatalf("SaveCart failed: %v", err)
	}
	if err := st.SaveCart(ctx, active); err != nil {
		t.Fatalf("SaveCart failed: %v", err)
	}

	if err := sw.Sweep(ctx, now); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if _, err := st.GetCart(ctx, "user-1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Expected expired cart cleared, got %v", err)
	}
	if _, err := st.GetCart(ctx, "user-2"); err != nil {
		t.Fatalf("Expected active cart kept, got %v", err)
	}
}

func TestSweepIdempotent(t *testing.T) {
	sw, st, _ := newTestSweeper()
	ctx := context.Background()
	now := time.Now()

	seedRequest(t, st, "req-1", now.Add(-time.Minute))
	seedQuote(t, st, "q-1", "req-1", now.Add(time.Hour))

	for i := 0; i < 3; i++ {
		if err := sw.Sweep(ctx, now); err != nil {
			t.Fatalf("Sweep pass %d failed: %v", i+1, err)
		}
	}

	req, _ := st.GetRequest(ctx, "req-1")
	if req.Status != models.RequestExpired {
		t.Errorf("Expected request EXPIRED, got %s", req.Status)
	}
	quote, _ := st.GetQuote(ctx, "q-1")
	if quote.Status != models.QuoteExpired {
		t.Errorf("Expected quote EXPIRED, got %s", quote.Status)
	}
}

func TestSweepNothingToDo(t *testing.T) {
	sw, st, _ := newTestSweeper()
	ctx := context.Background()
	now := time.Now()

	seedRequest(t, st, "req-1", now.Add(time.Hour))
	if err := sw.Sweep(ctx, now); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	req, _ := st.GetRequest(ctx, "req-1")
	if req.Status != models.RequestOpen {
		t.Errorf("Expected request untouched, got %s", req.Status)
	}
}
