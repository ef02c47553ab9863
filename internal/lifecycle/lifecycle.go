package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aquamart/dispatch/internal/events"
	"github.com/aquamart/dispatch/internal/locks"
	"github.com/aquamart/dispatch/internal/store"
	"github.com/aquamart/dispatch/pkg/models"
)

// Service drives an order through the delivery state machine. Transitions
// are provider-driven except the final handshake, which the requester
// completes with the confirmation code.
type Service struct {
	store     store.Store
	locks     *locks.Manager
	publisher events.Publisher
	logger    *logrus.Logger
}

func NewService(st store.Store, lm *locks.Manager, publisher events.Publisher, logger *logrus.Logger) *Service {
	return &Service{
		store:     st,
		locks:     lm,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *Service) GetOrder(ctx context.Context, id, actorID string) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.RequesterID != actorID && order.ProviderID != actorID {
		return nil, models.ErrForbidden
	}
	return order, nil
}

func (s *Service) ListOrdersForProvider(ctx context.Context, providerID string) ([]models.Order, error) {
	return s.store.ListOrdersByProvider(ctx, providerID)
}

// Advance moves the order to exactly the next state on the linear path.
// DELIVERED is not reachable here; it requires ConfirmDelivery.
func (s *Service) Advance(ctx context.Context, orderID string, target models.OrderState, actorID string) (*models.Order, error) {
	var advanced *models.Order
	err := s.locks.Do(orderID, func() error {
		order, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.ProviderID != actorID {
			return models.ErrNotAssignedProvider
		}
		if order.Status.Terminal() {
			return models.ErrOrderClosed
		}
		if target == models.StateDelivered {
			return models.ErrInvalidTransition
		}
		next, ok := models.NextState(order.Status)
		if !ok || target != next {
			return models.ErrInvalidTransition
		}

		now := time.Now()
		order.Status = target
		completeEntry(order.Timeline, target, now)
		if err := s.store.UpdateOrder(ctx, *order); err != nil {
			return err
		}
		advanced = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"status":   advanced.Status,
		"actor_id": actorID,
	}).Info("Order advanced")
	s.publishStatus(advanced)
	return advanced, nil
}

// ConfirmDelivery completes the ARRIVED→DELIVERED handshake. A wrong code
// leaves the order untouched and is retryable; a match consumes the code so
// the transition can fire only once.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID, actorID, code string, rating int, feedback string) (*models.Order, error) {
	var delivered *models.Order
	err := s.locks.Do(orderID, func() error {
		order, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.RequesterID != actorID {
			return models.ErrNotRequestOwner
		}
		if order.Status.Terminal() {
			return models.ErrOrderClosed
		}
		if order.Status != models.StateArrived {
			return models.ErrInvalidTransition
		}
		if len(code) != len(order.ConfirmationCode) || !strings.EqualFold(code, order.ConfirmationCode) {
			return models.ErrCodeMismatch
		}

		now := time.Now()
		order.Status = models.StateDelivered
		order.ConfirmationCode = ""
		order.DeliveredAt = &now
		order.Rating = clampRating(rating)
		order.Feedback = feedback
		completeEntry(order.Timeline, models.StateDelivered, now)
		if err := s.store.UpdateOrder(ctx, *order); err != nil {
			return err
		}
		delivered = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"rating":   delivered.Rating,
	}).Info("Delivery confirmed")
	s.publishStatus(delivered)
	return delivered, nil
}

// Cancel is the escape hatch from any non-DELIVERED state, available to the
// requester and the assigned provider.
func (s *Service) Cancel(ctx context.Context, orderID, actorID string) (*models.Order, error) {
	var cancelled *models.Order
	err := s.locks.Do(orderID, func() error {
		order, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.RequesterID != actorID && order.ProviderID != actorID {
			return models.ErrForbidden
		}
		if order.Status.Terminal() {
			return models.ErrOrderClosed
		}

		order.Status = models.StateCancelled
		if err := s.store.UpdateOrder(ctx, *order); err != nil {
			return err
		}
		cancelled = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"actor_id": actorID,
	}).Info("Order cancelled")
	s.publishStatus(cancelled)
	return cancelled, nil
}

func (s *Service) publishStatus(order *models.Order) {
	if s.publisher == nil {
		return
	}
	event := events.OrderStatusChangedEvent{
		OrderID:    order.ID,
		RequestID:  order.RequestID,
		ProviderID: order.ProviderID,
		Status:     order.Status,
	}
	if err := s.publisher.PublishOrderStatusChanged(event); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("Failed to publish order status event")
	}
}

// completeEntry stamps the timeline entry for state. Entries before it are
// already completed by construction: Advance only ever steps to the next
// linear state.
func completeEntry(timeline []models.TimelineEntry, state models.OrderState, ts time.Time) {
	for i := range timeline {
		if timeline[i].State == state {
			t := ts
			timeline[i].Timestamp = &t
			timeline[i].Completed = true
			return
		}
	}
}

func clampRating(rating int) int {
	if rating < 1 {
		return 1
	}
	if rating > 5 {
		return 5
	}
	return rating
}
