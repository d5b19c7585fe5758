package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates supported generation job categories.
type Kind string

const (
	KindTextToImage  Kind = "text-to-image"
	KindImageToImage Kind = "image-to-image"
	KindMultiImage   Kind = "multi-image"
	KindRefine       Kind = "refine"
	KindImageToVideo Kind = "image-to-video"
)

// Kinds lists every supported kind in display order.
var Kinds = []Kind{KindTextToImage, KindImageToImage, KindMultiImage, KindRefine, KindImageToVideo}

// ParseKind accepts the canonical kind name, case-insensitively.
func ParseKind(raw string) (Kind, error) {
	needle := Kind(strings.ToLower(strings.TrimSpace(raw)))
	for _, k := range Kinds {
		if k == needle {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidKind, raw)
}

// IsVideo reports whether the kind produces video output.
func (k Kind) IsVideo() bool {
	return k == KindImageToVideo
}

// MinInputImages is the number of conditioning images the kind requires.
func (k Kind) MinInputImages() int {
	switch k {
	case KindImageToImage, KindRefine, KindImageToVideo:
		return 1
	case KindMultiImage:
		return 2
	default:
		return 0
	}
}

// State enumerates job lifecycle states.
type State string

const (
	StateCreated       State = "created"
	StateQuotaReserved State = "quota_reserved"
	StateSubmitted     State = "submitted"
	StatePolling       State = "polling"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

var stateRank = map[State]int{
	StateCreated:       0,
	StateQuotaReserved: 1,
	StateSubmitted:     2,
	StatePolling:       3,
	StateCompleted:     4,
	StateFailed:        4,
}

// Terminal reports whether no further transitions may occur.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ImageRef is one conditioning input: a remote URL or inline bytes.
type ImageRef struct {
	URL  string `json:"url,omitempty"`
	Data []byte `json:"-"`
	MIME string `json:"mime,omitempty"`
}

// Inline reports whether the reference carries its own bytes.
func (r ImageRef) Inline() bool {
	return len(r.Data) > 0
}

// Parameters is the configuration bag passed through to providers.
type Parameters struct {
	Quality         string `json:"quality,omitempty"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	Size            string `json:"size,omitempty"`
	Style           string `json:"style,omitempty"`
	Seed            *int64 `json:"seed,omitempty"`
	NegativePrompt  string `json:"negative_prompt,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	BatchSize       int    `json:"batch_size,omitempty"`
	Provider        string `json:"provider,omitempty"`
	Model           string `json:"model,omitempty"`
}

// Batch returns the requested output count, at least one.
func (p Parameters) Batch() int {
	if p.BatchSize < 1 {
		return 1
	}
	return p.BatchSize
}

// StateTransition is one recorded step of a job's state history.
type StateTransition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Failure describes why a job ended in StateFailed.
type Failure struct {
	Reason FailureReason `json:"reason"`
	Detail string        `json:"detail"`
}

// GenerationJob is one attempt to produce media from a request. It is owned
// by a single orchestrator run and mutated only through its methods.
type GenerationJob struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"owner_id"`
	Kind           Kind              `json:"kind"`
	Prompt         string            `json:"prompt"`
	InputImages    []ImageRef        `json:"input_images,omitempty"`
	Parameters     Parameters        `json:"parameters"`
	State          State             `json:"state"`
	ProviderTaskID string            `json:"provider_task_id,omitempty"`
	Outputs        []MediaAsset      `json:"outputs,omitempty"`
	CostUnits      int               `json:"cost_units"`
	Failure        *Failure          `json:"failure,omitempty"`
	Transitions    []StateTransition `json:"transitions,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NewJob creates a job in StateCreated with a fresh identifier.
func NewJob(ownerID string, kind Kind, prompt string, images []ImageRef, params Parameters, now time.Time) *GenerationJob {
	return &GenerationJob{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Kind:        kind,
		Prompt:      prompt,
		InputImages: images,
		Parameters:  params,
		State:       StateCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ErrorDetail returns the failure detail, empty unless the job failed.
func (j *GenerationJob) ErrorDetail() string {
	if j.Failure == nil {
		return ""
	}
	return j.Failure.Detail
}

// SetCost fixes the job's cost. It may be called once, before reservation.
func (j *GenerationJob) SetCost(units int) error {
	if j.State != StateCreated || j.CostUnits != 0 {
		return fmt.Errorf("%w: cost already fixed", ErrInvalidTransition)
	}
	if units <= 0 {
		return fmt.Errorf("%w: cost must be positive", ErrInvalidTransition)
	}
	j.CostUnits = units
	return nil
}

// Advance moves the job to a later non-terminal state.
func (j *GenerationJob) Advance(to State, at time.Time) error {
	if to.Terminal() {
		return fmt.Errorf("%w: use Complete or Fail to reach %s", ErrInvalidTransition, to)
	}
	return j.transition(to, at)
}

// Complete moves the job to StateCompleted with at least one output.
func (j *GenerationJob) Complete(outputs []MediaAsset, at time.Time) error {
	if len(outputs) == 0 {
		return fmt.Errorf("%w: completed job needs outputs", ErrInvalidTransition)
	}
	if err := j.transition(StateCompleted, at); err != nil {
		return err
	}
	j.Outputs = outputs
	return nil
}

// Fail moves the job to StateFailed and drops any outputs.
func (j *GenerationJob) Fail(reason FailureReason, detail string, at time.Time) error {
	if err := j.transition(StateFailed, at); err != nil {
		return err
	}
	if strings.TrimSpace(detail) == "" {
		detail = string(reason)
	}
	j.Outputs = nil
	j.Failure = &Failure{Reason: reason, Detail: detail}
	return nil
}

func (j *GenerationJob) transition(to State, at time.Time) error {
	from := j.State
	if from.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	if stateRank[to] <= stateRank[from] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	j.State = to
	j.UpdatedAt = at
	j.Transitions = append(j.Transitions, StateTransition{From: from, To: to, At: at})
	return nil
}

// Snapshot returns a copy that shares no slices with j.
func (j *GenerationJob) Snapshot() GenerationJob {
	out := *j
	out.InputImages = append([]ImageRef(nil), j.InputImages...)
	out.Outputs = append([]MediaAsset(nil), j.Outputs...)
	out.Transitions = append([]StateTransition(nil), j.Transitions...)
	if j.Failure != nil {
		failure := *j.Failure
		out.Failure = &failure
	}
	return out
}
