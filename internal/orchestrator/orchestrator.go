// Package orchestrator drives one generation job from validation to its
// history record: reserve quota, submit with retry, poll to a terminal state,
// persist outputs, resolve the reservation and record the result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Namann-14/artifex/internal/domain"
	"github.com/Namann-14/artifex/internal/history"
	"github.com/Namann-14/artifex/internal/infra"
	"github.com/Namann-14/artifex/internal/providers"
	"github.com/Namann-14/artifex/internal/quota"
	"github.com/Namann-14/artifex/internal/storage"
)

// Request is one generation ask from an authenticated owner.
type Request struct {
	OwnerID    string
	Tier       domain.Tier
	Kind       domain.Kind
	Prompt     string
	Images     []domain.ImageRef
	Parameters domain.Parameters
	// Metadata is copied into the history record.
	Metadata map[string]any
}

// UploadFailure records an output that could not be persisted.
type UploadFailure struct {
	Index  int    `json:"index"`
	Source string `json:"source"`
	Error  string `json:"error"`
}

// SideEffects collects best-effort failures that never change the outcome.
type SideEffects struct {
	UploadFailures []UploadFailure
	QuotaError     string
	HistoryError   string
}

// Result is the outcome of Run. Reason is empty for completed jobs.
type Result struct {
	Job         domain.GenerationJob
	Reason      domain.FailureReason
	RateLimited bool
	SideEffects SideEffects
}

// OK reports whether the job completed.
func (r Result) OK() bool {
	return r.Job.State == domain.StateCompleted
}

// MediaStore persists one provider output.
type MediaStore interface {
	Persist(ctx context.Context, src storage.Source, folder string) (storage.PersistedAsset, error)
}

// Observer is told about every state a job enters.
type Observer interface {
	Observe(job domain.GenerationJob)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(job domain.GenerationJob)

func (f ObserverFunc) Observe(job domain.GenerationJob) { f(job) }

// Deps wires the collaborators of an Orchestrator.
type Deps struct {
	Ledger       quota.Ledger
	Providers    *providers.Registry
	Media        MediaStore
	History      history.Store
	Capabilities domain.CapabilityTable
	Policy       Policy
	Sleep        Sleeper
	Observers    []Observer
	Logger       *infra.Logger
	Now          func() time.Time
}

type Orchestrator struct {
	ledger    quota.Ledger
	providers *providers.Registry
	media     MediaStore
	history   history.Store
	caps      domain.CapabilityTable
	policy    Policy
	sleep     Sleeper
	observers []Observer
	logger    zerolog.Logger
	now       func() time.Time
}

func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		ledger:    d.Ledger,
		providers: d.Providers,
		media:     d.Media,
		history:   d.History,
		caps:      d.Capabilities,
		policy:    d.Policy,
		sleep:     d.Sleep,
		observers: d.Observers,
		now:       d.Now,
	}
	if o.caps == nil {
		o.caps = domain.DefaultCapabilities()
	}
	if o.policy.SubmitAttempts <= 0 {
		o.policy = DefaultPolicy()
	}
	if o.sleep == nil {
		o.sleep = Sleep
	}
	if o.now == nil {
		o.now = time.Now
	}
	if d.Logger != nil {
		o.logger = *d.Logger
	} else {
		o.logger = infra.NopLogger()
	}
	return o
}

// Run executes a job to completion. It never returns an error: every failure
// is a failed job carrying a reason. Cancelling ctx does not abort the run so
// quota and history stay consistent after a client disconnect.
func (o *Orchestrator) Run(ctx context.Context, req Request) (res Result) {
	ctx = context.WithoutCancel(ctx)
	job := domain.NewJob(req.OwnerID, req.Kind, req.Prompt, req.Images, req.Parameters, o.now().UTC())
	r := &run{
		o:    o,
		job:  job,
		meta: make(map[string]any, len(req.Metadata)+4),
		logger: o.logger.With().
			Str("job_id", job.ID).
			Str("owner_id", job.OwnerID).
			Str("kind", string(job.Kind)).
			Logger(),
	}
	for k, v := range req.Metadata {
		r.meta[k] = v
	}
	r.observe()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("orchestrator: run panicked")
			r.fail(domain.ReasonInternal, fmt.Sprintf("internal error: %v", p))
			if !r.finished {
				r.finish(ctx)
			}
			res = r.result()
		}
	}()

	r.execute(ctx, req.Tier)
	r.finish(ctx)
	return r.result()
}

// run is the mutable state of a single Run call.
type run struct {
	o           *Orchestrator
	job         *domain.GenerationJob
	reservation *domain.QuotaReservation
	meta        map[string]any
	effects     SideEffects
	rateLimited bool
	finished    bool
	logger      zerolog.Logger
}

func (r *run) execute(ctx context.Context, tier domain.Tier) {
	o, job := r.o, r.job

	caps, err := o.caps.For(tier)
	if err != nil {
		r.fail(domain.ReasonValidation, err.Error())
		return
	}
	if err := domain.ValidateRequest(job.Kind, job.Prompt, job.InputImages, job.Parameters, caps, o.policy.MaxPromptLength); err != nil {
		r.fail(domain.ReasonValidation, err.Error())
		return
	}
	if o.providers == nil {
		r.fail(domain.ReasonInternal, "no providers configured")
		return
	}
	client, err := o.providers.Resolve(job.Parameters.Provider)
	if err != nil {
		r.fail(domain.ReasonValidation, err.Error())
		return
	}
	r.meta[history.MetaProvider] = client.Name()

	if err := job.SetCost(domain.CostUnits(job.Kind, job.Parameters)); err != nil {
		r.fail(domain.ReasonInternal, err.Error())
		return
	}
	if !r.reserve(ctx, caps.DailyUnits) {
		return
	}

	submitted, ok := r.submit(ctx, client)
	if !ok {
		return
	}
	final := submitted.Immediate
	if final == nil {
		if final = r.poll(ctx, client); final == nil {
			return
		}
	}

	if final.Status == providers.StatusFailed {
		detail := strings.TrimSpace(final.Error)
		if detail == "" {
			detail = "provider reported failure"
		}
		r.fail(domain.ReasonGenerationFailed, detail)
		return
	}
	if len(final.Outputs) == 0 {
		r.fail(domain.ReasonNoOutputs, "provider finished without outputs")
		return
	}

	assets := r.upload(ctx, final.Outputs)
	if err := job.Complete(assets, o.now().UTC()); err != nil {
		r.fail(domain.ReasonInternal, err.Error())
		return
	}
	r.observe()
}

func (r *run) reserve(ctx context.Context, limit int) bool {
	res, err := r.o.ledger.Reserve(ctx, quota.ReserveRequest{
		OwnerID: r.job.OwnerID,
		JobID:   r.job.ID,
		Units:   r.job.CostUnits,
		Limit:   limit,
	})
	switch {
	case err == nil:
	case errors.Is(err, quota.ErrInsufficientQuota):
		r.fail(domain.ReasonQuotaExceeded, fmt.Sprintf("job needs %d units, daily limit is %d", r.job.CostUnits, limit))
		return false
	case domain.IsValidation(err):
		r.fail(domain.ReasonValidation, err.Error())
		return false
	default:
		r.fail(domain.ReasonQuotaUnavailable, err.Error())
		return false
	}
	r.reservation = &res
	r.meta[history.MetaReservationID] = res.ID
	return r.advance(domain.StateQuotaReserved)
}

func (r *run) submit(ctx context.Context, client providers.Client) (providers.SubmitResult, bool) {
	policy := r.o.policy
	req := providers.SubmitRequest{
		JobID:      r.job.ID,
		Kind:       r.job.Kind,
		Prompt:     r.job.Prompt,
		Images:     r.job.InputImages,
		Parameters: r.job.Parameters,
	}

	var lastErr error
	for attempt := 1; attempt <= policy.SubmitAttempts; attempt++ {
		if attempt > 1 {
			r.o.sleep(ctx, policy.submitDelay(attempt-1))
		}
		r.meta[history.MetaSubmitAttempts] = attempt

		out, err := client.Submit(ctx, req)
		if err == nil && out.TaskID == "" && out.Immediate == nil {
			err = &providers.Error{Provider: client.Name(), Kind: providers.KindUnexpected, Message: "submit returned neither task id nor result"}
		}
		if err == nil {
			r.job.ProviderTaskID = out.TaskID
			return out, r.advance(domain.StateSubmitted)
		}

		lastErr = err
		if !providers.IsRetryable(err) {
			r.fail(domain.ReasonProviderRejected, err.Error())
			return providers.SubmitResult{}, false
		}
		r.logger.Warn().Err(err).Int("attempt", attempt).Msg("orchestrator: submit failed, retrying")
	}

	r.rateLimited = providers.KindOf(lastErr) == providers.KindRateLimited
	r.fail(domain.ReasonProviderUnavailable, fmt.Sprintf("provider unavailable after %d attempts: %v", policy.SubmitAttempts, lastErr))
	return providers.SubmitResult{}, false
}

func (r *run) poll(ctx context.Context, client providers.Client) *providers.PollResult {
	if !r.advance(domain.StatePolling) {
		return nil
	}
	policy := r.o.policy
	ceiling := policy.PollCeiling(r.job.Kind)

	var lastErr error
	for attempt := 1; attempt <= ceiling; attempt++ {
		r.o.sleep(ctx, policy.PollInterval)
		r.meta[history.MetaPollAttempts] = attempt

		status, err := client.Poll(ctx, r.job.ProviderTaskID)
		if err != nil {
			if !providers.IsRetryable(err) {
				r.fail(domain.ReasonProviderRejected, err.Error())
				return nil
			}
			lastErr = err
			r.logger.Debug().Err(err).Int("attempt", attempt).Msg("orchestrator: poll failed, still waiting")
			continue
		}
		if status.Status != providers.StatusRunning {
			return &status
		}
	}

	detail := fmt.Sprintf("provider did not finish after %d polls", ceiling)
	if lastErr != nil {
		detail += ": " + lastErr.Error()
	}
	r.fail(domain.ReasonTimeout, detail)
	return nil
}

func (r *run) upload(ctx context.Context, outputs []string) []domain.MediaAsset {
	assets := make([]domain.MediaAsset, len(outputs))
	failures := make([]*UploadFailure, len(outputs))
	folder := path.Join("generations", r.job.OwnerID, r.job.ID)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.o.policy.UploadConcurrency))
	for i, src := range outputs {
		g.Go(func() error {
			assets[i], failures[i] = r.persist(gctx, i, src, folder)
			return nil
		})
	}
	_ = g.Wait()

	for _, f := range failures {
		if f != nil {
			r.effects.UploadFailures = append(r.effects.UploadFailures, *f)
		}
	}
	if len(r.effects.UploadFailures) > 0 {
		r.meta[history.MetaUploadFailures] = r.effects.UploadFailures
	}
	return assets
}

func (r *run) persist(ctx context.Context, index int, src, folder string) (domain.MediaAsset, *UploadFailure) {
	asset := domain.MediaAsset{SourceURL: src}
	var err error
	if r.o.media == nil {
		err = errors.New("media store not configured")
	} else {
		var stored storage.PersistedAsset
		if stored, err = r.o.media.Persist(ctx, storage.Source{URL: src}, folder); err == nil {
			asset.DurableURL = stored.URL
			asset.StorageKey = stored.StorageKey
			asset.Width = stored.Width
			asset.Height = stored.Height
			asset.Format = stored.Format
			asset.ByteSize = stored.ByteSize
			if isDataURI(src) {
				asset.SourceURL = ""
			}
			return asset, nil
		}
	}

	asset.Degraded = true
	asset.UploadError = err.Error()
	r.logger.Warn().Err(err).Int("output", index).Msg("orchestrator: upload failed, keeping provider url")
	return asset, &UploadFailure{Index: index, Source: describeSource(src), Error: err.Error()}
}

// finish resolves the reservation and writes history. It runs once per job,
// after the job reached a terminal state.
func (r *run) finish(ctx context.Context) {
	r.finished = true
	o := r.o
	if !r.job.State.Terminal() {
		r.fail(domain.ReasonInternal, "run ended without a terminal state")
	}

	if r.reservation != nil {
		var err error
		if r.job.State == domain.StateCompleted {
			err = o.ledger.Commit(ctx, r.reservation.ID)
		} else {
			err = o.ledger.Rollback(ctx, r.reservation.ID)
		}
		if err != nil {
			r.effects.QuotaError = err.Error()
			r.meta[history.MetaQuotaError] = err.Error()
			r.logger.Error().Err(err).Str("reservation_id", r.reservation.ID).Msg("orchestrator: quota resolution failed")
		}
	}

	if o.history != nil {
		rec := history.FromJob(r.job.Snapshot(), r.meta, o.now())
		if err := o.history.Record(ctx, rec); err != nil {
			r.effects.HistoryError = err.Error()
			r.logger.Error().Err(err).Msg("orchestrator: history write failed")
		}
	}

	event := r.logger.Info()
	if r.job.Failure != nil {
		event = r.logger.Warn().Str("reason", string(r.job.Failure.Reason)).Str("detail", r.job.Failure.Detail)
	}
	event.
		Str("state", string(r.job.State)).
		Int("cost_units", r.job.CostUnits).
		Int("outputs", len(r.job.Outputs)).
		Dur("took", r.job.UpdatedAt.Sub(r.job.CreatedAt)).
		Msg("orchestrator: job finished")
}

func (r *run) advance(to domain.State) bool {
	if err := r.job.Advance(to, r.o.now().UTC()); err != nil {
		r.fail(domain.ReasonInternal, err.Error())
		return false
	}
	r.observe()
	return true
}

func (r *run) fail(reason domain.FailureReason, detail string) {
	if r.job.State.Terminal() {
		return
	}
	if err := r.job.Fail(reason, detail, r.o.now().UTC()); err != nil {
		r.logger.Error().Err(err).Msg("orchestrator: cannot fail job")
		return
	}
	r.observe()
}

func (r *run) observe() {
	r.logger.Debug().Str("state", string(r.job.State)).Msg("orchestrator: transition")
	if len(r.o.observers) == 0 {
		return
	}
	snapshot := r.job.Snapshot()
	for _, obs := range r.o.observers {
		obs.Observe(snapshot)
	}
}

func (r *run) result() Result {
	res := Result{
		Job:         r.job.Snapshot(),
		RateLimited: r.rateLimited,
		SideEffects: r.effects,
	}
	if r.job.Failure != nil {
		res.Reason = r.job.Failure.Reason
	}
	return res
}

func isDataURI(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// describeSource keeps inline payloads out of logs and history.
func describeSource(src string) string {
	if isDataURI(src) {
		mime, _, _ := strings.Cut(strings.TrimPrefix(src, "data:"), ";")
		return "inline " + mime
	}
	return src
}
