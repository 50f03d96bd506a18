// Package scheduler runs the periodic entitlement sweeps: trial accounts
// whose trial lapsed and payment_failed accounts whose paid period ran out
// are marked expired and their active automations disabled. The sweeps are
// idempotent, so overlapping runs across restarts or replicas converge on
// the same state.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/replyloop/go-dm-backend/internal/domain"
	"github.com/replyloop/go-dm-backend/internal/repo"
)

// Sweeper owns the sweep tickers.
type Sweeper struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Log is the structured logger.
	Log zerolog.Logger

	// TrialInterval is how often expired trials are swept.
	TrialInterval time.Duration
	// PaymentInterval is how often lapsed payment_failed accounts are swept.
	PaymentInterval time.Duration
}

// NewSweeper constructs a Sweeper with the given intervals.
func NewSweeper(db *gorm.DB, log zerolog.Logger, trial, payment time.Duration) *Sweeper {
	return &Sweeper{DB: db, Log: log, TrialInterval: trial, PaymentInterval: payment}
}

// Start launches both sweep loops. Each runs once immediately so a restart
// does not wait a full interval to catch up, then ticks until ctx ends.
func (s *Sweeper) Start(ctx context.Context) {
	go s.loop(ctx, s.TrialInterval, s.SweepExpiredTrials)
	go s.loop(ctx, s.PaymentInterval, s.SweepLapsedPayments)
}

func (s *Sweeper) loop(ctx context.Context, interval time.Duration, sweep func(context.Context) (int, error)) {
	run := func() {
		if n, err := sweep(ctx); err != nil {
			s.Log.Error().Err(err).Msg("sweep failed")
		} else if n > 0 {
			s.Log.Info().Int("accounts", n).Msg("sweep expired accounts")
		}
	}
	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// SweepExpiredTrials expires trial accounts past their deadline and disables
// their automations. Returns the number of accounts expired.
func (s *Sweeper) SweepExpiredTrials(ctx context.Context) (int, error) {
	accounts, err := repo.ListExpiredTrialAccounts(ctx, s.DB, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return s.expire(ctx, accounts)
}

// SweepLapsedPayments expires payment_failed accounts whose paid period has
// ended and disables their automations.
func (s *Sweeper) SweepLapsedPayments(ctx context.Context) (int, error) {
	accounts, err := repo.ListLapsedPaymentAccounts(ctx, s.DB, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return s.expire(ctx, accounts)
}

func (s *Sweeper) expire(ctx context.Context, accounts []domain.Account) (int, error) {
	n := 0
	for _, acct := range accounts {
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := repo.MarkSubscriptionExpired(ctx, tx, acct.ID); err != nil {
				return err
			}
			disabled, err := repo.DisableAutomationsForAccount(ctx, tx, acct.ID)
			if err != nil {
				return err
			}
			s.Log.Info().
				Str("account_id", acct.ID).
				Str("was", string(acct.SubscriptionStatus)).
				Int64("automations_disabled", disabled).
				Msg("account expired")
			return nil
		})
		if err != nil {
			// Keep sweeping the rest; this account is retried next tick.
			s.Log.Error().Err(err).Str("account_id", acct.ID).Msg("account expiry failed")
			continue
		}
		n++
	}
	return n, nil
}
