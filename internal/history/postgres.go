package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Namann-14/artifex/internal/domain"
	"github.com/Namann-14/artifex/internal/infra"
	"github.com/Namann-14/artifex/internal/sqlinline"
)

type PostgresStore struct {
	sql infra.SQLExecutor
}

func NewPostgresStore(sql infra.SQLExecutor) *PostgresStore {
	return &PostgresStore{sql: sql}
}

func (s *PostgresStore) Record(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.JobID) == "" {
		return domain.NewValidationError("job_id", "is required")
	}
	enc, err := encode(rec)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QInsertGenerationHistory,
		rec.JobID,
		rec.OwnerID,
		string(rec.Kind),
		string(rec.State),
		rec.Prompt,
		enc.parameters,
		enc.outputs,
		enc.transitions,
		string(rec.FailureReason),
		rec.ErrorDetail,
		rec.ProviderTaskID,
		rec.CostUnits,
		enc.metadata,
		rec.CreatedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("history: insert %s: %w", rec.JobID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, ownerID, jobID string) (Record, error) {
	rec, err := scanRecord(s.sql.QueryRow(ctx, sqlinline.QSelectGenerationHistory, ownerID, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return Record{}, domain.ErrNotFound
		}
		return Record{}, fmt.Errorf("history: get %s: %w", jobID, err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, ownerID string, limit, offset int) ([]Record, error) {
	limit, offset = ClampPage(limit, offset)
	rows, err := s.sql.Query(ctx, sqlinline.QListGenerationHistory, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("history: list scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec           Record
		enc           encodedRecord
		kind, state   string
		failureReason string
	)
	err := row.Scan(
		&rec.JobID,
		&rec.OwnerID,
		&kind,
		&state,
		&rec.Prompt,
		&enc.parameters,
		&enc.outputs,
		&enc.transitions,
		&failureReason,
		&rec.ErrorDetail,
		&rec.ProviderTaskID,
		&rec.CostUnits,
		&enc.metadata,
		&rec.CreatedAt,
		&rec.FinishedAt,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Kind = domain.Kind(kind)
	rec.State = domain.State(state)
	rec.FailureReason = domain.FailureReason(failureReason)
	if err := enc.decodeInto(&rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

var _ Store = (*PostgresStore)(nil)
