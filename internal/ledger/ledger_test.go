package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aquamart/dispatch/internal/locks"
	"github.com/aquamart/dispatch/internal/store"
	"github.com/aquamart/dispatch/pkg/models"
)

func newTestService() (*Service, *store.MemoryStore) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	st := store.NewMemoryStore()
	return NewService(st, locks.NewManager(), logger), st
}

func openRequest(t *testing.T, st *store.MemoryStore, id, owner string, ttl time.Duration) {
	t.Helper()
	now := time.Now()
	req := models.QuoteRequest{
		ID:          id,
		RequesterID: owner,
		Items:       []models.CartItem{{ProductID: "tank-200l", Quantity: 1, UnitPrice: 6000}},
		ItemsTotal:  6000,
		Destination: models.Address{Street: "12 Harbor Rd", City: "Mombasa"},
		Status:      models.RequestOpen,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := st.CreateRequest(context.Background(), req); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
}

func TestSubmitQuote(t *testing.T) {
	svc, st := newTestService()
	openRequest(t, st, "req-1", "user-1", time.Hour)

	quote, err := svc.SubmitQuote(context.Background(), SubmitInput{
		RequestID:  "req-1",
		ProviderID: "prov-1",
		Fee:        1200,
		ETAMinutes: 45,
	})
	if err != nil {
		t.Fatalf("SubmitQuote failed: %v", err)
	}
	if quote.Status != models.QuotePending {
		t.Errorf("Expected PENDING, got %s", quote.Status)
	}
	if quote.ExpiresAt.Sub(quote.SubmittedAt) != DefaultQuoteTTL {
		t.Errorf("Expected default quote TTL, got %s", quote.ExpiresAt.Sub(quote.SubmittedAt))
	}
}

func TestSubmitQuoteValidation(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.SubmitQuote(context.Background(), SubmitInput{
		RequestID: "req-1", ProviderID: "prov-1", Fee: -5, ETAMinutes: 45,
	})
	if !errors.Is(err, models.ErrInvalidQuote) {
		t.Fatalf("Expected ErrInvalidQuote, got %v", err)
	}
}

func TestSubmitQuoteRequestNotOpen(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	openRequest(t, st, "req-1", "user-1", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, err := svc.SubmitQuote(ctx, SubmitInput{
		RequestID: "req-1", ProviderID: "prov-1", Fee: 1200, ETAMinutes: 45,
	})
	if !errors.Is(err, models.ErrRequestNotOpen) {
		t.Fatalf("Expected ErrRequestNotOpen for expired request, got %v", err)
	}

	_, err = svc.SubmitQuote(ctx, SubmitInput{
		RequestID: "missing", ProviderID: "prov-1", Fee: 1200, ETAMinutes: 45,
	})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestSubmitQuoteDuplicate(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	openRequest(t, st, "req-1", "user-1", time.Hour)

	if _, err := svc.SubmitQuote(ctx, SubmitInput{
		RequestID: "req-1", ProviderID: "prov-1", Fee: 1200, ETAMinutes: 45,
	}); err != nil {
		t.Fatalf("SubmitQuote failed: %v", err)
	}

	_, err := svc.SubmitQuote(ctx, SubmitInput{
		RequestID: "req-1", ProviderID: "prov-1", Fee: 1100, ETAMinutes: 40,
	})
	if !errors.Is(err, models.ErrDuplicateQuote) {
		t.Fatalf("Expected ErrDuplicateQuote, got %v", err)
	}

	// A second provider is not blocked.
	if _, err := svc.SubmitQuote(ctx, SubmitInput{
		RequestID: "req-1", ProviderID: "prov-2", Fee: 1500, ETAMinutes: 30,
	}); err != nil {
		t.Fatalf("SubmitQuote for second provider failed: %v", err)
	}
}

func TestSubmitQuoteReplacesExpiredPending(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	openRequest(t, st, "req-1", "user-1", time.Hour)

	if _, err := svc.SubmitQuote(ctx, SubmitInput{
		RequestID: "req-1", ProviderID: "prov-1", Fee: 1200, ETAMinutes: 45,
		TTL: time.Millisecond,
	}); err != nil {
		t.Fatalf("SubmitQuote failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	fresh, err := svc.SubmitQuote(ctx, SubmitInput{
		RequestID: "req-1", ProviderID: "prov-1", Fee: 1300, ETAMinutes: 50,
	})
	if err != nil {
		t.Fatalf("Expected expired pending quote to be replaced, got %v", err)
	}
	if fresh.Fee != 1300 {
		t.Errorf("Expected fresh quote fee 1300, got %.2f", fresh.Fee)
	}

	quotes, _ := st.ListQuotesByRequest(ctx, "req-1")
	var expired int
	for _, q := range quotes {
		if q.Status == models.QuoteExpired {
			expired++
		}
	}
	if expired != 1 {
		t.Errorf("Expected the stale quote marked EXPIRED, found %d", expired)
	}
}

func TestListQuotesOrdering(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	openRequest(t, st, "req-1", "user-1", time.Hour)

	first, err := svc.SubmitQuote(ctx, SubmitInput{
		RequestID: "req-1", ProviderID: "prov-1", Fee: 1500, ETAMinutes: 30,
	})
	if err != nil {
		t.Fatalf("SubmitQuote failed: %v", err)
	}
	second, err := svc.SubmitQuote(ctx, SubmitInput{
		RequestID: "req-1", ProviderID: "prov-2", Fee: 1200, ETAMinutes: 45,
	})
	if err != nil {
		t.Fatalf("SubmitQuote failed: %v", err)
	}
	third, err := svc.SubmitQuote(ctx, SubmitInput{
		RequestID: "req-1", ProviderID: "prov-3", Fee: 1200, ETAMinutes: 60,
	})
	if err != nil {
		t.Fatalf("SubmitQuote failed: %v", err)
	}

	quotes, err := svc.ListQuotes(ctx, "req-1", "user-1", "requester")
	if err != nil {
		t.Fatalf("ListQuotes failed: %v", err)
	}
	if len(quotes) != 3 {
		t.Fatalf("Expected 3 quotes, got %d", len(quotes))
	}
	if quotes[0].ID != second.ID || quotes[1].ID != third.ID || quotes[2].ID != first.ID {
		t.Errorf("Expected cheapest-first with earlier-submission tie-break, got fees %.0f, %.0f, %.0f",
			quotes[0].Fee, quotes[1].Fee, quotes[2].Fee)
	}
}

func TestListQuotesVisibility(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	openRequest(t, st, "req-1", "user-1", time.Hour)

	if _, err := svc.SubmitQuote(ctx, SubmitInput{
		RequestID: "req-1", ProviderID: "prov-1", Fee: 1200, ETAMinutes: 45,
	}); err != nil {
		t.Fatalf("SubmitQuote failed: %v", err)
	}
	if _, err := svc.SubmitQuote(ctx, SubmitInput{
		RequestID: "req-1", ProviderID: "prov-2", Fee: 1500, ETAMinutes: 30,
	}); err != nil {
		t.Fatalf("SubmitQuote failed: %v", err)
	}

	own, err := svc.ListQuotes(ctx, "req-1", "prov-1", "provider")
	if err != nil {
		t.Fatalf("ListQuotes failed: %v", err)
	}
	if len(own) != 1 || own[0].ProviderID != "prov-1" {
		t.Fatalf("Expected provider to see only their own quote, got %d", len(own))
	}

	if _, err := svc.ListQuotes(ctx, "req-1", "stranger", "requester"); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("Expected ErrForbidden for a non-owner requester, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	now := time.Now()
	quotes := []models.Quote{
		{Fee: 1500, ETAMinutes: 30, Status: models.QuotePending, SubmittedAt: now},
		{Fee: 1200, ETAMinutes: 45, Status: models.QuotePending, SubmittedAt: now},
		{Fee: 900, ETAMinutes: 20, Status: models.QuoteRejected, SubmittedAt: now},
	}

	summary := Summarize(quotes)
	if summary.Count != 3 || summary.Pending != 2 {
		t.Errorf("Expected count 3 / pending 2, got %d / %d", summary.Count, summary.Pending)
	}
	if summary.CheapestFee != 1200 {
		t.Errorf("Expected cheapest pending fee 1200, got %.2f", summary.CheapestFee)
	}
	if summary.FastestETA != 30 {
		t.Errorf("Expected fastest pending ETA 30, got %d", summary.FastestETA)
	}
}
