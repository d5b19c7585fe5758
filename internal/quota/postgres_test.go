package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Namann-14/artifex/internal/sqlinline"
)

type execCall struct {
	query string
	args  []any
}

// scriptedExecutor answers each query constant with a canned row.
type scriptedExecutor struct {
	execs    []execCall
	affected int64
	execErr  error
	rows     map[string]scriptedRow
}

func (s *scriptedExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, execCall{query: query, args: args})
	if s.execErr != nil {
		return pgconn.CommandTag{}, s.execErr
	}
	if query == sqlinline.QEnsureQuotaAccount {
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	if s.affected > 0 {
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return pgconn.NewCommandTag("UPDATE 0"), nil
}

func (s *scriptedExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.execs = append(s.execs, execCall{query: query, args: args})
	if row, ok := s.rows[query]; ok {
		return row
	}
	return scriptedRow{err: pgx.ErrNoRows}
}

func (s *scriptedExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type scriptedRow struct {
	values []any
	err    error
}

func (r scriptedRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("scan arity mismatch")
	}
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *int:
			*d = v.(int)
		case *bool:
			*d = v.(bool)
		case *string:
			*d = v.(string)
		default:
			return errors.New("unsupported dest")
		}
	}
	return nil
}

func TestPostgresReserveGranted(t *testing.T) {
	exec := &scriptedExecutor{rows: map[string]scriptedRow{
		sqlinline.QReserveQuota: {values: []any{1, false}},
	}}
	l := NewPostgresLedger(exec)

	res, err := l.Reserve(context.Background(), ReserveRequest{OwnerID: "u1", JobID: "j1", Units: 3, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Units)
	_, err = uuid.Parse(res.ID)
	assert.NoError(t, err)

	require.Len(t, exec.execs, 2)
	assert.Equal(t, sqlinline.QEnsureQuotaAccount, exec.execs[0].query)
	assert.Equal(t, []any{"u1", "j1", 3, 10, res.ID}, exec.execs[1].args)
}

func TestPostgresReserveOutcomes(t *testing.T) {
	cases := []struct {
		name string
		row  scriptedRow
		want error
	}{
		{"over limit", scriptedRow{values: []any{0, false}}, ErrInsufficientQuota},
		{"duplicate job", scriptedRow{values: []any{0, true}}, ErrDuplicateReservation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := &scriptedExecutor{rows: map[string]scriptedRow{sqlinline.QReserveQuota: tc.row}}
			_, err := NewPostgresLedger(exec).Reserve(context.Background(), ReserveRequest{OwnerID: "u1", JobID: "j1", Units: 1, Limit: 1})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPostgresReserveWrapsStoreErrors(t *testing.T) {
	exec := &scriptedExecutor{execErr: errors.New("connection refused")}
	_, err := NewPostgresLedger(exec).Reserve(context.Background(), ReserveRequest{OwnerID: "u1", JobID: "j1", Units: 1, Limit: 1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficientQuota)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPostgresCommitApplied(t *testing.T) {
	exec := &scriptedExecutor{affected: 1}
	err := NewPostgresLedger(exec).Commit(context.Background(), uuid.NewString())
	require.NoError(t, err)
	require.Len(t, exec.execs, 1)
	assert.Equal(t, sqlinline.QCommitReservation, exec.execs[0].query)
}

func TestPostgresResolveWhenNothingMoved(t *testing.T) {
	cases := []struct {
		name     string
		rollback bool
		row      *scriptedRow
		want     error
	}{
		{"commit twice", false, &scriptedRow{values: []any{"committed"}}, nil},
		{"rollback twice", true, &scriptedRow{values: []any{"rolled_back"}}, nil},
		{"commit after rollback", false, &scriptedRow{values: []any{"rolled_back"}}, nil},
		{"rollback after commit", true, &scriptedRow{values: []any{"committed"}}, nil},
		{"unknown reservation", true, nil, ErrReservationNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := &scriptedExecutor{rows: map[string]scriptedRow{}}
			if tc.row != nil {
				exec.rows[sqlinline.QSelectReservationStatus] = *tc.row
			}
			l := NewPostgresLedger(exec)
			var err error
			if tc.rollback {
				err = l.Rollback(context.Background(), uuid.NewString())
			} else {
				err = l.Commit(context.Background(), uuid.NewString())
			}
			if tc.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestPostgresReleaseStale(t *testing.T) {
	exec := &scriptedExecutor{rows: map[string]scriptedRow{
		sqlinline.QReleaseStaleReservations: {values: []any{3}},
	}}
	cutoff := time.Date(2025, 3, 1, 10, 0, 0, 0, time.FixedZone("WIB", 7*3600))

	n, err := NewPostgresLedger(exec).ReleaseStale(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, exec.execs, 1)
	assert.Equal(t, sqlinline.QReleaseStaleReservations, exec.execs[0].query)
	assert.Equal(t, []any{cutoff.UTC()}, exec.execs[0].args)
}

func TestPostgresReleaseStaleError(t *testing.T) {
	exec := &scriptedExecutor{rows: map[string]scriptedRow{
		sqlinline.QReleaseStaleReservations: {err: errors.New("connection reset")},
	}}
	_, err := NewPostgresLedger(exec).ReleaseStale(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPostgresUsage(t *testing.T) {
	exec := &scriptedExecutor{rows: map[string]scriptedRow{
		sqlinline.QSelectQuotaUsage: {values: []any{4, 2}},
	}}
	usage, err := NewPostgresLedger(exec).Usage(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, 4, usage.Used)
	assert.Equal(t, 2, usage.Reserved)
	assert.Equal(t, 4, usage.Remaining())

	usage, err = NewPostgresLedger(&scriptedExecutor{}).Usage(context.Background(), "new", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, usage.Remaining())
}
