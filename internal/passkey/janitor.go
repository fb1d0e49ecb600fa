package passkey

import (
	"context"
	"time"

	"github.com/linkshelf/storefront/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// DefaultJanitorInterval is how often expired challenges are swept.
const DefaultJanitorInterval = 10 * time.Minute

// Janitor periodically clears expired challenges. It only bounds stale state;
// expiry is enforced when a challenge is redeemed.
type Janitor struct {
	store    *Store
	interval time.Duration
	clock    func() time.Time
}

// NewJanitor creates a janitor over store.
func NewJanitor(store *Store, interval time.Duration) *Janitor {
	if store == nil {
		return nil
	}
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	return &Janitor{store: store, interval: interval, clock: time.Now}
}

// Run sweeps immediately and then on every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	if j == nil {
		return nil
	}
	log.Infof("challenge janitor started (interval=%s)", j.interval)
	for {
		if ctx.Err() != nil {
			return nil
		}
		j.SweepOnce(ctx)
		timer := time.NewTimer(j.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return nil
		case <-timer.C:
		}
	}
}

// SweepOnce clears all expired challenges in one bulk update. Errors are logged.
func (j *Janitor) SweepOnce(ctx context.Context) int64 {
	if j == nil || j.store == nil {
		return 0
	}
	n, err := j.store.SweepExpiredChallenges(ctx, j.clock())
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Warn("challenge janitor: sweep failed")
		}
		return 0
	}
	if n > 0 {
		metrics.ChallengesSweptTotal.Add(float64(n))
		log.Debugf("challenge janitor: cleared %d expired challenges", n)
	}
	return n
}
