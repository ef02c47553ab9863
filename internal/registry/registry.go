package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/aquamart/dispatch/internal/events"
	"github.com/aquamart/dispatch/internal/locks"
	"github.com/aquamart/dispatch/internal/store"
	"github.com/aquamart/dispatch/pkg/models"
)

const (
	DefaultRequestTTL = time.Hour
	DefaultCartTTL    = time.Hour
)

// Service is the Quote Request Registry: it owns quote requests and cart
// reservations. Quote and order mutations live in their own services.
type Service struct {
	store      store.Store
	locks      *locks.Manager
	publisher  events.Publisher
	logger     *logrus.Logger
	requestTTL time.Duration
	cartTTL    time.Duration
}

func NewService(st store.Store, lm *locks.Manager, publisher events.Publisher, logger *logrus.Logger, requestTTL, cartTTL time.Duration) *Service {
	if requestTTL <= 0 {
		requestTTL = DefaultRequestTTL
	}
	if cartTTL <= 0 {
		cartTTL = DefaultCartTTL
	}
	return &Service{
		store:      st,
		locks:      lm,
		publisher:  publisher,
		logger:     logger,
		requestTTL: requestTTL,
		cartTTL:    cartTTL,
	}
}

// CreateRequest opens a new quote request from an immutable item snapshot.
// The requester's cart reservation, if any, is consumed by the snapshot.
func (s *Service) CreateRequest(ctx context.Context, requesterID string, items []models.CartItem, destination models.Address, instructions string, ttl time.Duration) (*models.QuoteRequest, error) {
	if len(items) == 0 {
		return nil, models.ErrInvalidCart
	}
	for _, item := range items {
		if item.ProductID == "" || item.Quantity <= 0 {
			return nil, models.ErrInvalidCart
		}
	}
	if destination.City == "" || destination.Street == "" {
		return nil, models.ErrInvalidAddress
	}
	if ttl <= 0 {
		ttl = s.requestTTL
	}

	now := time.Now()
	req := models.QuoteRequest{
		ID:           uuid.New().String(),
		RequesterID:  requesterID,
		Items:        items,
		ItemsTotal:   models.ItemsTotal(items),
		Destination:  destination,
		Instructions: instructions,
		Status:       models.RequestOpen,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}

	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	if err := s.store.DeleteCart(ctx, requesterID); err != nil {
		s.logger.WithError(err).WithField("requester_id", requesterID).Warn("Failed to clear cart after request creation")
	}

	s.logger.WithFields(logrus.Fields{
		"request_id":   req.ID,
		"requester_id": requesterID,
		"items_total":  req.ItemsTotal,
		"expires_at":   req.ExpiresAt,
	}).Info("Quote request created")

	if s.publisher != nil {
		event := events.QuoteRequestedEvent{
			RequestID:   req.ID,
			RequesterID: req.RequesterID,
			City:        req.Destination.City,
			ItemsTotal:  req.ItemsTotal,
			ExpiresAt:   req.ExpiresAt,
		}
		if err := s.publisher.PublishQuoteRequested(event); err != nil {
			s.logger.WithError(err).Error("Failed to publish quote requested event")
		}
	}

	return &req, nil
}

func (s *Service) GetRequest(ctx context.Context, id, actorID, role string) (*models.QuoteRequest, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != actorID && role != "provider" {
		return nil, models.ErrForbidden
	}
	return req, nil
}

// ListOpenForProvider returns OPEN, unexpired requests whose destination
// city falls in the provider's declared coverage. Expiry is checked at read
// time so a stale request never shows up between sweeps.
func (s *Service) ListOpenForProvider(ctx context.Context, coverage []string) ([]models.QuoteRequest, error) {
	return s.store.ListOpenRequests(ctx, coverage, time.Now())
}

// Cancel withdraws an OPEN request and invalidates its pending quotes.
// Accepted requests cannot be cancelled here; the order escape hatch is
// lifecycle.Cancel.
func (s *Service) Cancel(ctx context.Context, id, actorID string) (*models.QuoteRequest, error) {
	var cancelled *models.QuoteRequest
	err := s.locks.Do(id, func() error {
		req, err := s.store.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if req.RequesterID != actorID {
			return models.ErrNotRequestOwner
		}
		if req.Status != models.RequestOpen {
			return models.ErrRequestNotOpen
		}

		req.Status = models.RequestCancelled
		if err := s.store.UpdateRequest(ctx, *req); err != nil {
			return err
		}

		quotes, err := s.store.ListQuotesByRequest(ctx, id)
		if err != nil {
			return err
		}
		for _, quote := range quotes {
			if quote.Status != models.QuotePending {
				continue
			}
			quote.Status = models.QuoteRejected
			if err := s.store.UpdateQuote(ctx, quote); err != nil {
				return err
			}
		}

		cancelled = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"request_id":   id,
		"requester_id": actorID,
	}).Info("Quote request cancelled")
	return cancelled, nil
}

// SaveCart upserts the requester's cart reservation and refreshes its TTL.
func (s *Service) SaveCart(ctx context.Context, requesterID string, items []models.CartItem) (*models.Cart, error) {
	if len(items) == 0 {
		return nil, models.ErrInvalidCart
	}
	now := time.Now()
	cart := models.Cart{
		RequesterID: requesterID,
		Items:       items,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(s.cartTTL),
	}
	if err := s.store.SaveCart(ctx, cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

// GetCart applies the expiry check at read time: a cart past its TTL is
// cleared and reported as missing even if the sweeper has not run yet.
func (s *Service) GetCart(ctx context.Context, requesterID string) (*models.Cart, error) {
	cart, err := s.store.GetCart(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if !cart.ExpiresAt.After(time.Now()) {
		if err := s.store.DeleteCart(ctx, requesterID); err != nil {
			s.logger.WithError(err).Warn("Failed to clear expired cart")
		}
		return nil, models.ErrNotFound
	}
	return cart, nil
}
