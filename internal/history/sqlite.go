package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Namann-14/artifex/internal/domain"
)

// fixed width so text ordering matches time ordering
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore keeps history in a local sqlite file for development.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens dsn and creates the schema. ":memory:" is allowed and pins
// the pool to a single connection so every query sees the same database.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS generation_history (
			job_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			prompt TEXT NOT NULL,
			parameters TEXT NOT NULL DEFAULT '{}',
			outputs TEXT NOT NULL DEFAULT '[]',
			transitions TEXT NOT NULL DEFAULT '[]',
			failure_reason TEXT NOT NULL DEFAULT '',
			error_detail TEXT NOT NULL DEFAULT '',
			provider_task_id TEXT NOT NULL DEFAULT '',
			cost_units INTEGER NOT NULL DEFAULT 0,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_generation_history_owner
		 ON generation_history (owner_id, created_at DESC);`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Record(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.JobID) == "" {
		return domain.NewValidationError("job_id", "is required")
	}
	enc, err := encode(rec)
	if err != nil {
		return err
	}
	query := `
	INSERT OR IGNORE INTO generation_history (
		job_id, owner_id, kind, state, prompt, parameters, outputs, transitions,
		failure_reason, error_detail, provider_task_id, cost_units, metadata,
		created_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.JobID,
		rec.OwnerID,
		string(rec.Kind),
		string(rec.State),
		rec.Prompt,
		string(enc.parameters),
		string(enc.outputs),
		string(enc.transitions),
		string(rec.FailureReason),
		rec.ErrorDetail,
		rec.ProviderTaskID,
		rec.CostUnits,
		string(enc.metadata),
		rec.CreatedAt.UTC().Format(sqliteTimeLayout),
		rec.FinishedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("history: insert %s: %w", rec.JobID, err)
	}
	return nil
}

const sqliteColumns = `job_id, owner_id, kind, state, prompt, parameters, outputs, transitions,
	failure_reason, error_detail, provider_task_id, cost_units, metadata, created_at, finished_at`

func (s *SQLiteStore) Get(ctx context.Context, ownerID, jobID string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM generation_history WHERE owner_id = ? AND job_id = ? LIMIT 1`,
		ownerID, jobID)
	rec, err := scanSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, domain.ErrNotFound
		}
		return Record{}, fmt.Errorf("history: get %s: %w", jobID, err)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context, ownerID string, limit, offset int) ([]Record, error) {
	limit, offset = ClampPage(limit, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM generation_history WHERE owner_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanSQLite(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (Record, error) {
	var (
		rec                    Record
		kind, state, reason    string
		params, outputs, trans string
		metadata               string
		createdAt, finishedAt  string
	)
	err := row.Scan(
		&rec.JobID, &rec.OwnerID, &kind, &state, &rec.Prompt,
		&params, &outputs, &trans,
		&reason, &rec.ErrorDetail, &rec.ProviderTaskID, &rec.CostUnits,
		&metadata, &createdAt, &finishedAt,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Kind = domain.Kind(kind)
	rec.State = domain.State(state)
	rec.FailureReason = domain.FailureReason(reason)
	if rec.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
		return Record{}, fmt.Errorf("decode created_at: %w", err)
	}
	if rec.FinishedAt, err = time.Parse(sqliteTimeLayout, finishedAt); err != nil {
		return Record{}, fmt.Errorf("decode finished_at: %w", err)
	}
	enc := encodedRecord{
		parameters:  []byte(params),
		outputs:     []byte(outputs),
		transitions: []byte(trans),
		metadata:    []byte(metadata),
	}
	if err := enc.decodeInto(&rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

var _ Store = (*SQLiteStore)(nil)
