// Package quota keeps per-owner usage ledgers. A job reserves its cost before
// reaching the provider and the reservation is later committed into usage or
// rolled back, exactly once.
package quota

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Namann-14/artifex/internal/domain"
	"github.com/Namann-14/artifex/internal/infra"
)

var (
	// ErrInsufficientQuota means the reservation would exceed the owner's limit.
	ErrInsufficientQuota = errors.New("quota: insufficient units")
	// ErrDuplicateReservation means the job already holds a reservation.
	ErrDuplicateReservation = errors.New("quota: job already reserved")
	ErrReservationNotFound  = errors.New("quota: reservation not found")
)

// ReserveRequest asks for Units against an owner whose period allowance is
// Limit.
type ReserveRequest struct {
	OwnerID string
	JobID   string
	Units   int
	Limit   int
}

func (r ReserveRequest) validate() error {
	switch {
	case strings.TrimSpace(r.OwnerID) == "":
		return domain.NewValidationError("owner_id", "is required")
	case strings.TrimSpace(r.JobID) == "":
		return domain.NewValidationError("job_id", "is required")
	case r.Units <= 0:
		return domain.NewValidationError("units", "must be positive")
	case r.Limit < 0:
		return domain.NewValidationError("limit", "must not be negative")
	}
	return nil
}

// Ledger is implemented by every quota backend. Reserve is atomic with
// respect to concurrent reservations for the same owner: the sum of used and
// reserved units never exceeds the limit. A reservation is resolved once:
// Commit or Rollback on an already resolved reservation is a no-op, whatever
// the earlier outcome was.
type Ledger interface {
	Reserve(ctx context.Context, req ReserveRequest) (domain.QuotaReservation, error)
	Commit(ctx context.Context, reservationID string) error
	Rollback(ctx context.Context, reservationID string) error
	Usage(ctx context.Context, ownerID string, limit int) (domain.QuotaUsage, error)
}

// Sweeper releases reservations left active by runs that never finished,
// for instance when the process stopped mid-job.
type Sweeper interface {
	ReleaseStale(ctx context.Context, cutoff time.Time) (int, error)
}

// RunSweeper rolls back reservations older than maxAge right away and then on
// every interval tick until ctx is done. maxAge has to exceed the longest run.
// A non-positive interval sweeps once.
func RunSweeper(ctx context.Context, s Sweeper, maxAge, interval time.Duration, logger infra.Logger) {
	sweep := func() {
		n, err := s.ReleaseStale(ctx, time.Now().Add(-maxAge))
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Warn().Err(err).Msg("quota: stale reservation sweep failed")
		case n > 0:
			logger.Warn().Int("released", n).Dur("max_age", maxAge).Msg("quota: rolled back stale reservations")
		}
	}
	sweep()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// pending reports whether a commit or rollback still has to be applied.
func pending(status domain.ReservationStatus) bool {
	return status == domain.ReservationActive
}
