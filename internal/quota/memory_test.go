package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Namann-14/artifex/internal/domain"
	"github.com/Namann-14/artifex/internal/infra"
)

func TestMemoryReserveWithinLimit(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	res, err := l.Reserve(ctx, ReserveRequest{OwnerID: "u1", JobID: "j1", Units: 4, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationActive, res.Status)

	_, err = l.Reserve(ctx, ReserveRequest{OwnerID: "u1", JobID: "j2", Units: 7, Limit: 10})
	assert.ErrorIs(t, err, ErrInsufficientQuota)

	usage, err := l.Usage(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Used)
	assert.Equal(t, 4, usage.Reserved)
	assert.Equal(t, 6, usage.Remaining())
}

func TestMemoryRejectsDuplicateJob(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	_, err := l.Reserve(ctx, ReserveRequest{OwnerID: "u1", JobID: "j1", Units: 1, Limit: 10})
	require.NoError(t, err)
	_, err = l.Reserve(ctx, ReserveRequest{OwnerID: "u1", JobID: "j1", Units: 1, Limit: 10})
	assert.ErrorIs(t, err, ErrDuplicateReservation)
}

func TestMemoryRejectsInvalidRequest(t *testing.T) {
	_, err := NewMemoryLedger().Reserve(context.Background(), ReserveRequest{OwnerID: "u1", JobID: "j1", Units: 0, Limit: 10})
	assert.True(t, domain.IsValidation(err))
}

func TestMemoryCommitAndRollbackAreIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	a, err := l.Reserve(ctx, ReserveRequest{OwnerID: "u1", JobID: "a", Units: 3, Limit: 10})
	require.NoError(t, err)
	b, err := l.Reserve(ctx, ReserveRequest{OwnerID: "u1", JobID: "b", Units: 2, Limit: 10})
	require.NoError(t, err)

	require.NoError(t, l.Commit(ctx, a.ID))
	require.NoError(t, l.Commit(ctx, a.ID))
	require.NoError(t, l.Rollback(ctx, b.ID))
	require.NoError(t, l.Rollback(ctx, b.ID))

	usage, err := l.Usage(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, usage.Used)
	assert.Equal(t, 0, usage.Reserved)

	// the first resolution wins
	assert.NoError(t, l.Rollback(ctx, a.ID))
	assert.NoError(t, l.Commit(ctx, b.ID))
	usage, err = l.Usage(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, usage.Used)
	assert.Equal(t, 0, usage.Reserved)
	assert.ErrorIs(t, l.Commit(ctx, "missing"), ErrReservationNotFound)

	stored, ok := l.Reservation(a.ID)
	require.True(t, ok)
	assert.Equal(t, domain.ReservationCommitted, stored.Status)
}

func TestMemoryConcurrentReservationsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	const limit = 10

	var (
		wg       sync.WaitGroup
		granted  atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Reserve(ctx, ReserveRequest{OwnerID: "u1", JobID: fmt.Sprintf("job-%d", i), Units: 1, Limit: limit})
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, ErrInsufficientQuota):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(limit), granted.Load())
	assert.Equal(t, int32(10), rejected.Load())
	usage, err := l.Usage(ctx, "u1", limit)
	require.NoError(t, err)
	assert.Equal(t, limit, usage.Used+usage.Reserved)
}

func TestMemoryUsageResetsOnNewDay(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	day := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return day }

	res, err := l.Reserve(ctx, ReserveRequest{OwnerID: "u1", JobID: "j1", Units: 5, Limit: 5})
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, res.ID))

	_, err = l.Reserve(ctx, ReserveRequest{OwnerID: "u1", JobID: "j2", Units: 1, Limit: 5})
	assert.ErrorIs(t, err, ErrInsufficientQuota)

	day = day.Add(24 * time.Hour)
	_, err = l.Reserve(ctx, ReserveRequest{OwnerID: "u1", JobID: "j3", Units: 5, Limit: 5})
	assert.NoError(t, err)
}

func TestMemoryReleaseStaleRollsBackAbandonedReservations(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	now := start
	l.now = func() time.Time { return now }

	abandoned, err := l.Reserve(ctx, ReserveRequest{OwnerID: "u1", JobID: "old", Units: 4, Limit: 10})
	require.NoError(t, err)
	done, err := l.Reserve(ctx, ReserveRequest{OwnerID: "u1", JobID: "done", Units: 1, Limit: 10})
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, done.ID))

	now = start.Add(10 * time.Minute)
	fresh, err := l.Reserve(ctx, ReserveRequest{OwnerID: "u1", JobID: "fresh", Units: 2, Limit: 10})
	require.NoError(t, err)

	n, err := l.ReleaseStale(ctx, start.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	usage, err := l.Usage(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Used)
	assert.Equal(t, 2, usage.Reserved)

	stored, _ := l.Reservation(abandoned.ID)
	assert.Equal(t, domain.ReservationRolledBack, stored.Status)
	stored, _ = l.Reservation(fresh.ID)
	assert.Equal(t, domain.ReservationActive, stored.Status)

	// a late finish of the swept job does not release twice
	require.NoError(t, l.Rollback(ctx, abandoned.ID))
	require.NoError(t, l.Commit(ctx, abandoned.ID))
	usage, err = l.Usage(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Used)
	assert.Equal(t, 2, usage.Reserved)

	n, err = l.ReleaseStale(ctx, start.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

type countingSweeper struct {
	calls   atomic.Int32
	cutoffs chan time.Time
}

func (s *countingSweeper) ReleaseStale(_ context.Context, cutoff time.Time) (int, error) {
	s.calls.Add(1)
	select {
	case s.cutoffs <- cutoff:
	default:
	}
	return 1, nil
}

func TestRunSweeperSweepsUntilCancelled(t *testing.T) {
	s := &countingSweeper{cutoffs: make(chan time.Time, 8)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunSweeper(ctx, s, time.Hour, time.Millisecond, infra.NopLogger())
	}()

	first := <-s.cutoffs
	assert.WithinDuration(t, time.Now().Add(-time.Hour), first, time.Minute)
	<-s.cutoffs
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
	assert.GreaterOrEqual(t, s.calls.Load(), int32(2))
}

func TestRunSweeperWithoutIntervalSweepsOnce(t *testing.T) {
	s := &countingSweeper{cutoffs: make(chan time.Time, 1)}
	RunSweeper(context.Background(), s, time.Minute, 0, infra.NopLogger())
	assert.Equal(t, int32(1), s.calls.Load())
}
