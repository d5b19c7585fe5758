package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Namann-14/artifex/internal/domain"
	"github.com/Namann-14/artifex/internal/infra"
	"github.com/Namann-14/artifex/internal/sqlinline"
)

// PostgresLedger stores balances in quota_accounts and holds in
// quota_reservations. Each reservation is a single guarded statement so the
// account row lock serializes concurrent requests for one owner.
type PostgresLedger struct {
	sql infra.SQLExecutor
	now func() time.Time
}

func NewPostgresLedger(sql infra.SQLExecutor) *PostgresLedger {
	return &PostgresLedger{sql: sql, now: time.Now}
}

func (l *PostgresLedger) Reserve(ctx context.Context, req ReserveRequest) (domain.QuotaReservation, error) {
	if err := req.validate(); err != nil {
		return domain.QuotaReservation{}, err
	}
	if _, err := l.sql.Exec(ctx, sqlinline.QEnsureQuotaAccount, req.OwnerID); err != nil {
		return domain.QuotaReservation{}, fmt.Errorf("quota: ensure account: %w", err)
	}

	id := uuid.NewString()
	var (
		reserved  int
		duplicate bool
	)
	row := l.sql.QueryRow(ctx, sqlinline.QReserveQuota, req.OwnerID, req.JobID, req.Units, req.Limit, id)
	if err := row.Scan(&reserved, &duplicate); err != nil {
		return domain.QuotaReservation{}, fmt.Errorf("quota: reserve: %w", err)
	}
	switch {
	case reserved == 1:
	case duplicate:
		return domain.QuotaReservation{}, ErrDuplicateReservation
	default:
		return domain.QuotaReservation{}, ErrInsufficientQuota
	}
	return domain.QuotaReservation{
		ID:        id,
		OwnerID:   req.OwnerID,
		JobID:     req.JobID,
		Units:     req.Units,
		Status:    domain.ReservationActive,
		CreatedAt: l.now().UTC(),
	}, nil
}

func (l *PostgresLedger) Commit(ctx context.Context, reservationID string) error {
	return l.finish(ctx, reservationID, sqlinline.QCommitReservation, domain.ReservationCommitted)
}

func (l *PostgresLedger) Rollback(ctx context.Context, reservationID string) error {
	return l.finish(ctx, reservationID, sqlinline.QRollbackReservation, domain.ReservationRolledBack)
}

func (l *PostgresLedger) finish(ctx context.Context, reservationID, query string, target domain.ReservationStatus) error {
	if _, err := uuid.Parse(reservationID); err != nil {
		return ErrReservationNotFound
	}
	tag, err := l.sql.Exec(ctx, query, reservationID)
	if err != nil {
		return fmt.Errorf("quota: %s: %w", target, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// nothing moved: already resolved or unknown
	var status string
	if err := l.sql.QueryRow(ctx, sqlinline.QSelectReservationStatus, reservationID).Scan(&status); err != nil {
		if infra.IsNoRows(err) {
			return ErrReservationNotFound
		}
		return fmt.Errorf("quota: reservation status: %w", err)
	}
	if pending(domain.ReservationStatus(status)) {
		return fmt.Errorf("quota: %s: reservation %s still active", target, reservationID)
	}
	return nil
}

// ReleaseStale rolls back active reservations created before cutoff.
func (l *PostgresLedger) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	var released int
	if err := l.sql.QueryRow(ctx, sqlinline.QReleaseStaleReservations, cutoff.UTC()).Scan(&released); err != nil {
		return 0, fmt.Errorf("quota: release stale: %w", err)
	}
	return released, nil
}

func (l *PostgresLedger) Usage(ctx context.Context, ownerID string, limit int) (domain.QuotaUsage, error) {
	usage := domain.QuotaUsage{OwnerID: ownerID, Limit: limit}
	err := l.sql.QueryRow(ctx, sqlinline.QSelectQuotaUsage, ownerID).Scan(&usage.Used, &usage.Reserved)
	if err != nil && !infra.IsNoRows(err) {
		return domain.QuotaUsage{}, fmt.Errorf("quota: usage: %w", err)
	}
	return usage, nil
}

var (
	_ Ledger  = (*PostgresLedger)(nil)
	_ Sweeper = (*PostgresLedger)(nil)
)
