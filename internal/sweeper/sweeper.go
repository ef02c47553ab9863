package sweeper

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aquamart/dispatch/internal/locks"
	"github.com/aquamart/dispatch/internal/store"
	"github.com/aquamart/dispatch/pkg/models"
)

const DefaultInterval = 30 * time.Second

// Sweeper expires stale requests, quotes, and cart reservations on a fixed
// interval. Every mutation happens under the same per-entity lock the
// request handlers use, so a sweep and a concurrent accept cannot both win.
type Sweeper struct {
	store    store.Store
	locks    *locks.Manager
	logger   *logrus.Logger
	interval time.Duration
}

func New(st store.Store, lm *locks.Manager, logger *logrus.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		store:    st,
		locks:    lm,
		logger:   logger,
		interval: interval,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval.String()).Info("Expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Expiry sweeper stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx, time.Now()); err != nil {
				s.logger.WithError(err).Error("Sweep failed")
			}
		}
	}
}

// Sweep runs one pass. It is idempotent: when nothing has expired it reads
// and writes nothing.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) error {
	expiredRequests, err := s.sweepRequests(ctx, now)
	if err != nil {
		return err
	}
	expiredQuotes, err := s.sweepQuotes(ctx, now)
	if err != nil {
		return err
	}
	clearedCarts, err := s.sweepCarts(ctx, now)
	if err != nil {
		return err
	}

	if expiredRequests+expiredQuotes+clearedCarts > 0 {
		s.logger.WithFields(logrus.Fields{
			"expired_requests": expiredRequests,
			"expired_quotes":   expiredQuotes,
			"cleared_carts":    clearedCarts,
		}).Info("Sweep completed")
	}
	return nil
}

func (s *Sweeper) sweepRequests(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.store.ListExpiredOpenRequests(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, req := range stale {
		err := s.locks.Do(req.ID, func() error {
			// Re-read under the lock; an accept may have won the race.
			current, err := s.store.GetRequest(ctx, req.ID)
			if err != nil {
				return err
			}
			if current.Status != models.RequestOpen || current.ExpiresAt.After(now) {
				return nil
			}

			current.Status = models.RequestExpired
			if err := s.store.UpdateRequest(ctx, *current); err != nil {
				return err
			}

			quotes, err := s.store.ListQuotesByRequest(ctx, req.ID)
			if err != nil {
				return err
			}
			for _, quote := range quotes {
				if quote.Status != models.QuotePending {
					continue
				}
				quote.Status = models.QuoteExpired
				if err := s.store.UpdateQuote(ctx, quote); err != nil {
					return err
				}
			}
			expired++
			return nil
		})
		if err != nil {
			return expired, err
		}
	}
	return expired, nil
}

func (s *Sweeper) sweepQuotes(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.store.ListExpiredPendingQuotes(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, quote := range stale {
		err := s.locks.Do(quote.RequestID, func() error {
			current, err := s.store.GetQuote(ctx, quote.ID)
			if err != nil {
				return err
			}
			if current.Status != models.QuotePending || current.ExpiresAt.After(now) {
				return nil
			}
			current.Status = models.QuoteExpired
			if err := s.store.UpdateQuote(ctx, *current); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil {
			return expired, err
		}
	}
	return expired, nil
}

func (s *Sweeper) sweepCarts(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.store.ListExpiredCarts(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, cart := range stale {
		if err := s.store.DeleteCart(ctx, cart.RequesterID); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}
