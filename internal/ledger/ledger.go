package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/aquamart/dispatch/internal/locks"
	"github.com/aquamart/dispatch/internal/store"
	"github.com/aquamart/dispatch/pkg/models"
)

const DefaultQuoteTTL = 15 * time.Minute

// Service is the Quote Ledger: provider offers against open requests.
type Service struct {
	store  store.Store
	locks  *locks.Manager
	logger *logrus.Logger
}

func NewService(st store.Store, lm *locks.Manager, logger *logrus.Logger) *Service {
	return &Service{
		store:  st,
		locks:  lm,
		logger: logger,
	}
}

type SubmitInput struct {
	RequestID     string
	ProviderID    string
	ProviderName  string
	ProviderPhone string
	Fee           float64
	ETAMinutes    int
	Notes         string
	TTL           time.Duration
}

// SubmitQuote records a provider's offer. One PENDING quote per
// (request, provider); a pending quote whose own validity lapsed is expired
// in place and no longer blocks a fresh offer.
func (s *Service) SubmitQuote(ctx context.Context, in SubmitInput) (*models.Quote, error) {
	if in.Fee < 0 || in.ETAMinutes <= 0 {
		return nil, models.ErrInvalidQuote
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}

	var quote *models.Quote
	err := s.locks.Do(in.RequestID, func() error {
		req, err := s.store.GetRequest(ctx, in.RequestID)
		if err != nil {
			return err
		}
		now := time.Now()
		if req.Status != models.RequestOpen || !req.ExpiresAt.After(now) {
			return models.ErrRequestNotOpen
		}

		existing, err := s.store.ListQuotesByRequest(ctx, in.RequestID)
		if err != nil {
			return err
		}
		for _, q := range existing {
			if q.ProviderID != in.ProviderID || q.Status != models.QuotePending {
				continue
			}
			if q.ExpiresAt.After(now) {
				return models.ErrDuplicateQuote
			}
			q.Status = models.QuoteExpired
			if err := s.store.UpdateQuote(ctx, q); err != nil {
				return err
			}
		}

		quote = &models.Quote{
			ID:            uuid.New().String(),
			RequestID:     in.RequestID,
			ProviderID:    in.ProviderID,
			ProviderName:  in.ProviderName,
			ProviderPhone: in.ProviderPhone,
			Fee:           in.Fee,
			ETAMinutes:    in.ETAMinutes,
			Notes:         in.Notes,
			Status:        models.QuotePending,
			SubmittedAt:   now,
			ExpiresAt:     now.Add(ttl),
		}
		return s.store.CreateQuote(ctx, *quote)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"quote_id":    quote.ID,
		"request_id":  in.RequestID,
		"provider_id": in.ProviderID,
		"fee":         in.Fee,
		"eta_minutes": in.ETAMinutes,
	}).Info("Quote submitted")
	return quote, nil
}

// ListQuotes returns the quotes a caller is allowed to see: the requester
// sees every quote cheapest-first, a provider sees only their own.
func (s *Service) ListQuotes(ctx context.Context, requestID, actorID, role string) ([]models.Quote, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	quotes, err := s.store.ListQuotesByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if req.RequesterID != actorID {
		if role != "provider" {
			return nil, models.ErrForbidden
		}
		var own []models.Quote
		for _, q := range quotes {
			if q.ProviderID == actorID {
				own = append(own, q)
			}
		}
		quotes = own
	}

	SortByFee(quotes)
	return quotes, nil
}

// SortByFee orders quotes cheapest-first, earlier submission winning ties.
func SortByFee(quotes []models.Quote) {
	sort.SliceStable(quotes, func(i, j int) bool {
		if quotes[i].Fee != quotes[j].Fee {
			return quotes[i].Fee < quotes[j].Fee
		}
		return quotes[i].SubmittedAt.Before(quotes[j].SubmittedAt)
	})
}

type Summary struct {
	Count       int     `json:"count"`
	Pending     int     `json:"pending"`
	CheapestFee float64 `json:"cheapest_fee,omitempty"`
	FastestETA  int     `json:"fastest_eta_minutes,omitempty"`
}

// Summarize condenses a quote set for the requester's comparison view.
func Summarize(quotes []models.Quote) Summary {
	summary := Summary{Count: len(quotes)}
	for _, q := range quotes {
		if q.Status != models.QuotePending {
			continue
		}
		summary.Pending++
		if summary.Pending == 1 || q.Fee < summary.CheapestFee {
			summary.CheapestFee = q.Fee
		}
		if summary.Pending == 1 || q.ETAMinutes < summary.FastestETA {
			summary.FastestETA = q.ETAMinutes
		}
	}
	return summary
}
