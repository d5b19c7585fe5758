// Package history persists one immutable summary per finished generation job.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Namann-14/artifex/internal/domain"
)

// Metadata keys written by the orchestrator.
const (
	MetaUploadFailures = "upload_failures"
	MetaQuotaError     = "quota_resolution_error"
	MetaProvider       = "provider"
	MetaClientCountry  = "client_country"
	MetaReservationID  = "reservation_id"
	MetaSubmitAttempts = "submit_attempts"
	MetaPollAttempts   = "poll_attempts"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Record is the stored form of a finished job.
type Record struct {
	JobID          string                   `json:"jobId"`
	OwnerID        string                   `json:"ownerId"`
	Kind           domain.Kind              `json:"kind"`
	State          domain.State             `json:"state"`
	Prompt         string                   `json:"prompt"`
	Parameters     domain.Parameters        `json:"parameters"`
	Outputs        []domain.MediaAsset      `json:"outputs"`
	Transitions    []domain.StateTransition `json:"transitions"`
	FailureReason  domain.FailureReason     `json:"failureReason,omitempty"`
	ErrorDetail    string                   `json:"errorDetail,omitempty"`
	ProviderTaskID string                   `json:"providerTaskId,omitempty"`
	CostUnits      int                      `json:"costUnits"`
	Metadata       map[string]any           `json:"metadata,omitempty"`
	CreatedAt      time.Time                `json:"createdAt"`
	FinishedAt     time.Time                `json:"finishedAt"`
}

// FromJob snapshots job into a Record.
func FromJob(job domain.GenerationJob, metadata map[string]any, finishedAt time.Time) Record {
	rec := Record{
		JobID:          job.ID,
		OwnerID:        job.OwnerID,
		Kind:           job.Kind,
		State:          job.State,
		Prompt:         job.Prompt,
		Parameters:     job.Parameters,
		Outputs:        job.Outputs,
		Transitions:    job.Transitions,
		ProviderTaskID: job.ProviderTaskID,
		CostUnits:      job.CostUnits,
		Metadata:       metadata,
		CreatedAt:      job.CreatedAt.UTC(),
		FinishedAt:     finishedAt.UTC(),
	}
	if job.Failure != nil {
		rec.FailureReason = job.Failure.Reason
		rec.ErrorDetail = job.Failure.Detail
	}
	return rec
}

// Job rebuilds the job view of a Record.
func (r Record) Job() domain.GenerationJob {
	job := domain.GenerationJob{
		ID:             r.JobID,
		OwnerID:        r.OwnerID,
		Kind:           r.Kind,
		Prompt:         r.Prompt,
		Parameters:     r.Parameters,
		State:          r.State,
		ProviderTaskID: r.ProviderTaskID,
		Outputs:        r.Outputs,
		CostUnits:      r.CostUnits,
		Transitions:    r.Transitions,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.FinishedAt,
	}
	if r.FailureReason != "" {
		job.Failure = &domain.Failure{Reason: r.FailureReason, Detail: r.ErrorDetail}
	}
	return job
}

// Store is implemented by the history backends. Record is write-once per job
// id: a repeated write for the same job is ignored.
type Store interface {
	Record(ctx context.Context, rec Record) error
	Get(ctx context.Context, ownerID, jobID string) (Record, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]Record, error)
}

// ClampPage bounds limit and offset for List.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

type encodedRecord struct {
	parameters  []byte
	outputs     []byte
	transitions []byte
	metadata    []byte
}

func encode(rec Record) (encodedRecord, error) {
	var (
		out encodedRecord
		err error
	)
	if out.parameters, err = json.Marshal(rec.Parameters); err != nil {
		return out, fmt.Errorf("encode parameters: %w", err)
	}
	outputs := rec.Outputs
	if outputs == nil {
		outputs = []domain.MediaAsset{}
	}
	if out.outputs, err = json.Marshal(outputs); err != nil {
		return out, fmt.Errorf("encode outputs: %w", err)
	}
	transitions := rec.Transitions
	if transitions == nil {
		transitions = []domain.StateTransition{}
	}
	if out.transitions, err = json.Marshal(transitions); err != nil {
		return out, fmt.Errorf("encode transitions: %w", err)
	}
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	if out.metadata, err = json.Marshal(metadata); err != nil {
		return out, fmt.Errorf("encode metadata: %w", err)
	}
	return out, nil
}

func (e encodedRecord) decodeInto(rec *Record) error {
	if err := unmarshalIfSet(e.parameters, &rec.Parameters); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}
	if err := unmarshalIfSet(e.outputs, &rec.Outputs); err != nil {
		return fmt.Errorf("decode outputs: %w", err)
	}
	if err := unmarshalIfSet(e.transitions, &rec.Transitions); err != nil {
		return fmt.Errorf("decode transitions: %w", err)
	}
	if err := unmarshalIfSet(e.metadata, &rec.Metadata); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	return nil
}

func unmarshalIfSet(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
