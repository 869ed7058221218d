package sweeper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type fakeReclaimer struct {
	calls int32
}

func (f *fakeReclaimer) ReclaimExpired(ctx context.Context, cutoff time.Time) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	return 0, nil
}

func TestSweeperTicksAtLeastOnce(t *testing.T) {
	reclaimer := &fakeReclaimer{}
	s := New(reclaimer, 10*time.Millisecond, 30*time.Second, logrus.NewEntry(logrus.New()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = s.Stop(stopCtx)
	}()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&reclaimer.calls) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected at least one sweep tick within 500ms")
}

func TestSweeperStartIsIdempotent(t *testing.T) {
	reclaimer := &fakeReclaimer{}
	s := New(reclaimer, 10*time.Millisecond, 30*time.Second, logrus.NewEntry(logrus.New()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
