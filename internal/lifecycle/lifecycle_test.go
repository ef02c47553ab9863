package lifecycle

import (
	"context"
	"errors"
	"strings"
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
	return NewService(st, locks.NewManager(), nil, logger), st
}

func seedOrder(t *testing.T, st *store.MemoryStore, status models.OrderState) *models.Order {
	t.Helper()
	now := time.Now()
	order := models.Order{
		ID:               "ord-1",
		RequestID:        "req-1",
		QuoteID:          "q-1",
		RequesterID:      "user-1",
		ProviderID:       "prov-1",
		DeliveryFee:      1200,
		ConfirmationCode: "AB12CD",
		Status:           models.StateOrdered,
		Timeline:         models.NewTimeline(now),
		CreatedAt:        now,
	}

	// Walk the timeline forward to the requested state.
	for i, state := range models.DeliveryStates {
		if i == 0 {
			continue
		}
		if order.Status == status {
			break
		}
		ts := now
		order.Timeline[i].Timestamp = &ts
		order.Timeline[i].Completed = true
		order.Status = state
		if state == status {
			break
		}
	}

	if err := st.ApplyAcceptance(context.Background(), models.QuoteRequest{ID: "req-1", Status: models.RequestAccepted}, nil, order); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return &order
}

func seedRequest(t *testing.T, st *store.MemoryStore) {
	t.Helper()
	req := models.QuoteRequest{ID: "req-1", RequesterID: "user-1", Status: models.RequestOpen,
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}
	if err := st.CreateRequest(context.Background(), req); err != nil {
		t.Fatalf("seed request failed: %v", err)
	}
}

func TestAdvanceHappyPath(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	seedRequest(t, st)
	seedOrder(t, st, models.StateOrdered)

	path := []models.OrderState{
		models.StateConfirmed,
		models.StatePickedUp,
		models.StateInTransit,
		models.StateArrived,
	}

	for _, target := range path {
		order, err := svc.Advance(ctx, "ord-1", target, "prov-1")
		if err != nil {
			t.Fatalf("Advance to %s failed: %v", target, err)
		}
		if order.Status != target {
			t.Fatalf("Expected status %s, got %s", target, order.Status)
		}
	}

	// Timeline is monotonically completed in state order.
	order, _ := st.GetOrder(ctx, "ord-1")
	for i, entry := range order.Timeline {
		expectCompleted := i < 5
		if entry.Completed != expectCompleted {
			t.Errorf("Entry %s: expected completed=%v", entry.State, expectCompleted)
		}
		if entry.Completed && entry.Timestamp == nil {
			t.Errorf("Entry %s completed without a timestamp", entry.State)
		}
	}
}

func TestAdvanceOutOfOrder(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	seedRequest(t, st)
	seedOrder(t, st, models.StateOrdered)

	if _, err := svc.Advance(ctx, "ord-1", models.StateInTransit, "prov-1"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition skipping states, got %v", err)
	}
	if _, err := svc.Advance(ctx, "ord-1", models.StateOrdered, "prov-1"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition going backwards, got %v", err)
	}

	order, _ := st.GetOrder(ctx, "ord-1")
	if order.Status != models.StateOrdered {
		t.Errorf("Failed transition must not change status, got %s", order.Status)
	}
}

func TestAdvanceCannotReachDelivered(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	seedRequest(t, st)
	seedOrder(t, st, models.StateArrived)

	if _, err := svc.Advance(ctx, "ord-1", models.StateDelivered, "prov-1"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("Expected DELIVERED to be unreachable via Advance, got %v", err)
	}
}

func TestAdvanceAuthorization(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	seedRequest(t, st)
	seedOrder(t, st, models.StateOrdered)

	if _, err := svc.Advance(ctx, "ord-1", models.StateConfirmed, "user-1"); !errors.Is(err, models.ErrNotAssignedProvider) {
		t.Fatalf("Expected ErrNotAssignedProvider for the requester, got %v", err)
	}
}

func TestConfirmDelivery(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	seedRequest(t, st)
	seedOrder(t, st, models.StateArrived)

	// Wrong code: recoverable, nothing changes.
	if _, err := svc.ConfirmDelivery(ctx, "ord-1", "user-1", "XXXXXX", 5, ""); !errors.Is(err, models.ErrCodeMismatch) {
		t.Fatalf("Expected ErrCodeMismatch, got %v", err)
	}
	order, _ := st.GetOrder(ctx, "ord-1")
	if order.Status != models.StateArrived {
		t.Fatalf("Wrong code must not change status, got %s", order.Status)
	}

	// Correct code is case-insensitive and clamps the rating.
	delivered, err := svc.ConfirmDelivery(ctx, "ord-1", "user-1", strings.ToLower("AB12CD"), 9, "great service")
	if err != nil {
		t.Fatalf("ConfirmDelivery failed: %v", err)
	}
	if delivered.Status != models.StateDelivered {
		t.Errorf("Expected DELIVERED, got %s", delivered.Status)
	}
	if delivered.Rating != 5 {
		t.Errorf("Expected rating clamped to 5, got %d", delivered.Rating)
	}
	if delivered.ConfirmationCode != "" {
		t.Errorf("Expected confirmation code consumed")
	}
	if delivered.DeliveredAt == nil {
		t.Errorf("Expected delivered timestamp set")
	}
	if last := delivered.Timeline[len(delivered.Timeline)-1]; !last.Completed {
		t.Errorf("Expected final timeline entry completed")
	}

	// The handshake fires exactly once.
	if _, err := svc.ConfirmDelivery(ctx, "ord-1", "user-1", "AB12CD", 5, ""); !errors.Is(err, models.ErrOrderClosed) {
		t.Fatalf("Expected ErrOrderClosed on second confirm, got %v", err)
	}
}

func TestConfirmBeforeArrived(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	seedRequest(t, st)
	seedOrder(t, st, models.StateInTransit)

	if _, err := svc.ConfirmDelivery(ctx, "ord-1", "user-1", "AB12CD", 5, ""); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition before ARRIVED, got %v", err)
	}
}

func TestConfirmAuthorization(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	seedRequest(t, st)
	seedOrder(t, st, models.StateArrived)

	if _, err := svc.ConfirmDelivery(ctx, "ord-1", "prov-1", "AB12CD", 5, ""); !errors.Is(err, models.ErrNotRequestOwner) {
		t.Fatalf("Expected ErrNotRequestOwner for the provider, got %v", err)
	}
}

func TestCancelOrder(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	seedRequest(t, st)
	seedOrder(t, st, models.StateInTransit)

	cancelled, err := svc.Cancel(ctx, "ord-1", "prov-1")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != models.StateCancelled {
		t.Errorf("Expected CANCELLED, got %s", cancelled.Status)
	}

	if _, err := svc.Cancel(ctx, "ord-1", "user-1"); !errors.Is(err, models.ErrOrderClosed) {
		t.Fatalf("Expected ErrOrderClosed cancelling twice, got %v", err)
	}
	if _, err := svc.Advance(ctx, "ord-1", models.StateArrived, "prov-1"); !errors.Is(err, models.ErrOrderClosed) {
		t.Fatalf("Expected ErrOrderClosed advancing a cancelled order, got %v", err)
	}
}

func TestGetOrderVisibility(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()
	seedRequest(t, st)
	seedOrder(t, st, models.StateOrdered)

	if _, err := svc.GetOrder(ctx, "ord-1", "user-1"); err != nil {
		t.Fatalf("Requester should see the order: %v", err)
	}
	if _, err := svc.GetOrder(ctx, "ord-1", "prov-1"); err != nil {
		t.Fatalf("Assigned provider should see the order: %v", err)
	}
	if _, err := svc.GetOrder(ctx, "ord-1", "stranger"); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("Expected ErrForbidden for a stranger, got %v", err)
	}
}
