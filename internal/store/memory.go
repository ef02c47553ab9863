package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aquamart/dispatch/pkg/models"
)

// MemoryStore keeps everything in process memory. It backs the test suite
// and local runs without postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]models.QuoteRequest
	quotes   map[string]models.Quote
	orders   map[string]models.Order
	carts    map[string]models.Cart
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]models.QuoteRequest),
		quotes:   make(map[string]models.Quote),
		orders:   make(map[string]models.Order),
		carts:    make(map[string]models.Cart),
	}
}

func (s *MemoryStore) CreateRequest(ctx context.Context, req models.QuoteRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	return nil
}

func (s *MemoryStore) GetRequest(ctx context.Context, id string) (*models.QuoteRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &req, nil
}

func (s *MemoryStore) UpdateRequest(ctx context.Context, req models.QuoteRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return models.ErrNotFound
	}
	s.requests[req.ID] = req
	return nil
}

func (s *MemoryStore) ListOpenRequests(ctx context.Context, cities []string, now time.Time) ([]models.QuoteRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []models.QuoteRequest
	for _, req := range s.requests {
		if req.Status != models.RequestOpen || !req.ExpiresAt.After(now) {
			continue
		}
		if len(cities) > 0 && !cityMatch(req.Destination.City, cities) {
			continue
		}
		result = append(result, req)
	}
	return result, nil
}

func (s *MemoryStore) ListExpiredOpenRequests(ctx context.Context, now time.Time) ([]models.QuoteRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []models.QuoteRequest
	for _, req := range s.requests {
		if req.Status == models.RequestOpen && !req.ExpiresAt.After(now) {
			result = append(result, req)
		}
	}
	return result, nil
}

func (s *MemoryStore) CreateQuote(ctx context.Context, quote models.Quote) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[quote.ID] = quote
	return nil
}

func (s *MemoryStore) GetQuote(ctx context.Context, id string) (*models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	quote, ok := s.quotes[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &quote, nil
}

func (s *MemoryStore) UpdateQuote(ctx context.Context, quote models.Quote) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quotes[quote.ID]; !ok {
		return models.ErrNotFound
	}
	s.quotes[quote.ID] = quote
	return nil
}

func (s *MemoryStore) ListQuotesByRequest(ctx context.Context, requestID string) ([]models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []models.Quote
	for _, quote := range s.quotes {
		if quote.RequestID == requestID {
			result = append(result, quote)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListExpiredPendingQuotes(ctx context.Context, now time.Time) ([]models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []models.Quote
	for _, quote := range s.quotes {
		if quote.Status == models.QuotePending && !quote.ExpiresAt.After(now) {
			result = append(result, quote)
		}
	}
	return result, nil
}

func (s *MemoryStore) ApplyAcceptance(ctx context.Context, req models.QuoteRequest, quotes []models.Quote, order models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return models.ErrNotFound
	}
	s.requests[req.ID] = req
	for _, quote := range quotes {
		s.quotes[quote.ID] = quote
	}
	s.orders[order.ID] = order
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	order.Timeline = append([]models.TimelineEntry(nil), order.Timeline...)
	return &order, nil
}

func (s *MemoryStore) UpdateOrder(ctx context.Context, order models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; !ok {
		return models.ErrNotFound
	}
	s.orders[order.ID] = order
	return nil
}

func (s *MemoryStore) ListOrdersByProvider(ctx context.Context, providerID string) ([]models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []models.Order
	for _, order := range s.orders {
		if order.ProviderID == providerID {
			result = append(result, order)
		}
	}
	return result, nil
}

func (s *MemoryStore) SaveCart(ctx context.Context, cart models.Cart) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[cart.RequesterID] = cart
	return nil
}

func (s *MemoryStore) GetCart(ctx context.Context, requesterID string) (*models.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cart, ok := s.carts[requesterID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &cart, nil
}

func (s *MemoryStore) DeleteCart(ctx context.Context, requesterID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, requesterID)
	return nil
}

func (s *MemoryStore) ListExpiredCarts(ctx context.Context, now time.Time) ([]models.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []models.Cart
	for _, cart := range s.carts {
		if !cart.ExpiresAt.After(now) {
			result = append(result, cart)
		}
	}
	return result, nil
}

func cityMatch(city string, cities []string) bool {
	for _, c := range cities {
		if strings.EqualFold(strings.TrimSpace(c), city) {
			return true
		}
	}
	return false
}
