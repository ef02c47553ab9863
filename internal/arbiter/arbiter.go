package arbiter

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/aquamart/dispatch/internal/events"
	"github.com/aquamart/dispatch/internal/locks"
	"github.com/aquamart/dispatch/internal/store"
	"github.com/aquamart/dispatch/pkg/models"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

// Service is the Acceptance Arbiter: it enforces at-most-one accepted quote
// per request and turns the winning quote into an order.
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

// AcceptQuote closes the request around the chosen quote. The whole
// read-modify-write runs under the request's lock, so two concurrent calls
// on one request resolve to exactly one success; the loser sees
// ErrAlreadyAccepted. Deadlines are enforced here regardless of whether the
// sweeper has caught up.
func (s *Service) AcceptQuote(ctx context.Context, requestID, quoteID, requesterID string) (*models.Order, error) {
	var order *models.Order
	err := s.locks.Do(requestID, func() error {
		req, err := s.store.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.RequesterID != requesterID {
			return models.ErrNotRequestOwner
		}
		if req.Status == models.RequestAccepted {
			return models.ErrAlreadyAccepted
		}
		now := time.Now()
		if req.Status != models.RequestOpen || !req.ExpiresAt.After(now) {
			return models.ErrRequestNotOpen
		}

		quotes, err := s.store.ListQuotesByRequest(ctx, requestID)
		if err != nil {
			return err
		}
		var chosen *models.Quote
		for i := range quotes {
			if quotes[i].ID == quoteID {
				chosen = &quotes[i]
				break
			}
		}
		if chosen == nil {
			return models.ErrNotFound
		}
		switch chosen.Status {
		case models.QuotePending:
		case models.QuoteAccepted:
			return models.ErrAlreadyAccepted
		default:
			return models.ErrQuoteExpired
		}
		if !chosen.ExpiresAt.After(now) {
			return models.ErrQuoteExpired
		}

		code, err := generateCode()
		if err != nil {
			return err
		}

		order = &models.Order{
			ID:               uuid.New().String(),
			RequestID:        req.ID,
			QuoteID:          chosen.ID,
			RequesterID:      req.RequesterID,
			ProviderID:       chosen.ProviderID,
			ProviderName:     chosen.ProviderName,
			ProviderPhone:    chosen.ProviderPhone,
			Items:            req.Items,
			ItemsTotal:       req.ItemsTotal,
			DeliveryFee:      chosen.Fee,
			Destination:      req.Destination,
			ConfirmationCode: code,
			Status:           models.StateOrdered,
			Timeline:         models.NewTimeline(now),
			CreatedAt:        now,
		}

		req.Status = models.RequestAccepted
		updated := make([]models.Quote, 0, len(quotes))
		for _, q := range quotes {
			switch {
			case q.ID == chosen.ID:
				q.Status = models.QuoteAccepted
			case q.Status == models.QuotePending:
				q.Status = models.QuoteRejected
			default:
				continue
			}
			updated = append(updated, q)
		}

		return s.store.ApplyAcceptance(ctx, *req, updated, *order)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"quote_id":   quoteID,
		"order_id":   order.ID,
		"fee":        order.DeliveryFee,
	}).Info("Quote accepted, order created")

	if s.publisher != nil {
		event := events.QuoteAcceptedEvent{
			RequestID:  requestID,
			QuoteID:    quoteID,
			OrderID:    order.ID,
			ProviderID: order.ProviderID,
			Fee:        order.DeliveryFee,
		}
		if err := s.publisher.PublishQuoteAccepted(event); err != nil {
			s.logger.WithError(err).Error("Failed to publish quote accepted event")
		}
	}

	return order, nil
}

func generateCode() (string, error) {
	code := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}
