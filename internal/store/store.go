package store

import (
	"context"
	"time"

	"github.com/aquamart/dispatch/pkg/models"
)

// Store is the persistence boundary for the dispatch core. Implementations
// must be safe for concurrent use; serialization of read-modify-write
// sequences on a single entity is the caller's job (see internal/locks).
type Store interface {
	CreateRequest(ctx context.Context, req models.QuoteRequest) error
	GetRequest(ctx context.Context, id string) (*models.QuoteRequest, error)
	UpdateRequest(ctx context.Context, req models.QuoteRequest) error
	ListOpenRequests(ctx context.Context, cities []string, now time.Time) ([]models.QuoteRequest, error)
	ListExpiredOpenRequests(ctx context.Context, now time.Time) ([]models.QuoteRequest, error)

	CreateQuote(ctx context.Context, quote models.Quote) error
	GetQuote(ctx context.Context, id string) (*models.Quote, error)
	UpdateQuote(ctx context.Context, quote models.Quote) error
	ListQuotesByRequest(ctx context.Context, requestID string) ([]models.Quote, error)
	ListExpiredPendingQuotes(ctx context.Context, now time.Time) ([]models.Quote, error)

	// ApplyAcceptance persists the whole acceptance outcome: the updated
	// request, the accepted quote, the rejected siblings, and the new order.
	// Implementations make this atomic (a transaction in postgres).
	ApplyAcceptance(ctx context.Context, req models.QuoteRequest, quotes []models.Quote, order models.Order) error

	GetOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateOrder(ctx context.Context, order models.Order) error
	ListOrdersByProvider(ctx context.Context, providerID string) ([]models.Order, error)

	SaveCart(ctx context.Context, cart models.Cart) error
	GetCart(ctx context.Context, requesterID string) (*models.Cart, error)
	DeleteCart(ctx context.Context, requesterID string) error
	ListExpiredCarts(ctx context.Context, now time.Time) ([]models.Cart, error)
}
