// Package sweeper runs the long-lived background task that reclaims
// expired queue leases.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Reclaimer is the slice of the job queue store the sweeper drives.
type Reclaimer interface {
	ReclaimExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// Sweeper clears lease_holder and lease_acquired_at on every queue entry
// whose lease predates now minus its timeout, on a fixed cadence. It runs
// exactly once per process, as a single cooperative task.
type Sweeper struct {
	store    Reclaimer
	interval time.Duration
	timeout  time.Duration
	log      *logrus.Entry

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a Sweeper that sweeps every interval, reclaiming leases older
// than timeout.
func New(store Reclaimer, interval, timeout time.Duration, log *logrus.Entry) *Sweeper {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Sweeper{store: store, interval: interval, timeout: timeout, log: log}
}

// Start launches the sweeper's background goroutine. A second call while
// already running is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.sweep(runCtx)
			}
		}
	}()

	s.log.Info("lease sweeper started")
}

// Stop cancels the background goroutine and waits for it to exit, or for
// ctx to be done.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("lease sweeper stopped")
	return nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.timeout)
	reclaimed, err := s.store.ReclaimExpired(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Error("lease sweep failed")
		return
	}
	if reclaimed > 0 {
		s.log.WithField("reclaimed", reclaimed).Info("swept expired leases")
	}
}
