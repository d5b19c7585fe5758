package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Namann-14/artifex/internal/domain"
)

type memoryAccount struct {
	period   string
	used     int
	reserved int
}

// MemoryLedger keeps balances in process. It suits tests and single-node
// development.
type MemoryLedger struct {
	mu           sync.Mutex
	accounts     map[string]*memoryAccount
	reservations map[string]*domain.QuotaReservation
	byJob        map[string]string
	now          func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts:     make(map[string]*memoryAccount),
		reservations: make(map[string]*domain.QuotaReservation),
		byJob:        make(map[string]string),
		now:          time.Now,
	}
}

// account returns the owner's row, resetting usage when the day rolled over.
// Callers hold mu.
func (l *MemoryLedger) account(ownerID string) *memoryAccount {
	today := l.now().UTC().Format(time.DateOnly)
	acct, ok := l.accounts[ownerID]
	if !ok {
		acct = &memoryAccount{period: today}
		l.accounts[ownerID] = acct
	}
	if acct.period != today {
		acct.period = today
		acct.used = 0
	}
	return acct
}

func (l *MemoryLedger) Reserve(_ context.Context, req ReserveRequest) (domain.QuotaReservation, error) {
	if err := req.validate(); err != nil {
		return domain.QuotaReservation{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byJob[req.JobID]; ok {
		return domain.QuotaReservation{}, ErrDuplicateReservation
	}
	acct := l.account(req.OwnerID)
	if acct.used+acct.reserved+req.Units > req.Limit {
		return domain.QuotaReservation{}, ErrInsufficientQuota
	}
	acct.reserved += req.Units
	res := &domain.QuotaReservation{
		ID:        uuid.NewString(),
		OwnerID:   req.OwnerID,
		JobID:     req.JobID,
		Units:     req.Units,
		Status:    domain.ReservationActive,
		CreatedAt: l.now().UTC(),
	}
	l.reservations[res.ID] = res
	l.byJob[req.JobID] = res.ID
	return *res, nil
}

func (l *MemoryLedger) Commit(_ context.Context, reservationID string) error {
	return l.finish(reservationID, domain.ReservationCommitted)
}

func (l *MemoryLedger) Rollback(_ context.Context, reservationID string) error {
	return l.finish(reservationID, domain.ReservationRolledBack)
}

func (l *MemoryLedger) finish(reservationID string, target domain.ReservationStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[reservationID]
	if !ok {
		return ErrReservationNotFound
	}
	if !pending(res.Status) {
		return nil
	}
	acct := l.account(res.OwnerID)
	acct.reserved -= res.Units
	if acct.reserved < 0 {
		acct.reserved = 0
	}
	if target == domain.ReservationCommitted {
		acct.used += res.Units
	}
	res.Status = target
	return nil
}

func (l *MemoryLedger) Usage(_ context.Context, ownerID string, limit int) (domain.QuotaUsage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.account(ownerID)
	return domain.QuotaUsage{OwnerID: ownerID, Used: acct.used, Reserved: acct.reserved, Limit: limit}, nil
}

// ReleaseStale rolls back active reservations created before cutoff.
func (l *MemoryLedger) ReleaseStale(_ context.Context, cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	released := 0
	for _, res := range l.reservations {
		if !pending(res.Status) || !res.CreatedAt.Before(cutoff) {
			continue
		}
		acct := l.account(res.OwnerID)
		acct.reserved = max(acct.reserved-res.Units, 0)
		res.Status = domain.ReservationRolledBack
		released++
	}
	return released, nil
}

// Reservation returns a copy of the stored reservation.
func (l *MemoryLedger) Reservation(reservationID string) (domain.QuotaReservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.reservations[reservationID]
	if !ok {
		return domain.QuotaReservation{}, false
	}
	return *res, true
}

var (
	_ Ledger  = (*MemoryLedger)(nil)
	_ Sweeper = (*MemoryLedger)(nil)
)
