package orchestrator

import (
	"context"
	"time"

	"github.com/Namann-14/artifex/internal/domain"
	"github.com/Namann-14/artifex/internal/infra"
)

// Policy holds the retry, polling and upload limits of a run.
type Policy struct {
	SubmitAttempts    int
	SubmitBaseDelay   time.Duration
	PollInterval      time.Duration
	PollAttemptsImage int
	PollAttemptsVideo int
	UploadConcurrency int
	MaxPromptLength   int
}

func DefaultPolicy() Policy {
	return Policy{
		SubmitAttempts:    3,
		SubmitBaseDelay:   time.Second,
		PollInterval:      2 * time.Second,
		PollAttemptsImage: 30,
		PollAttemptsVideo: 60,
		UploadConcurrency: 4,
		MaxPromptLength:   domain.DefaultMaxPromptLength,
	}
}

// PolicyFromConfig maps the environment configuration onto a Policy, keeping
// defaults for unset values.
func PolicyFromConfig(cfg infra.JobsConfig) Policy {
	p := DefaultPolicy()
	if cfg.SubmitAttempts > 0 {
		p.SubmitAttempts = cfg.SubmitAttempts
	}
	if cfg.SubmitBaseDelay > 0 {
		p.SubmitBaseDelay = cfg.SubmitBaseDelay
	}
	if cfg.PollInterval > 0 {
		p.PollInterval = cfg.PollInterval
	}
	if cfg.PollAttemptsImage > 0 {
		p.PollAttemptsImage = cfg.PollAttemptsImage
	}
	if cfg.PollAttemptsVideo > 0 {
		p.PollAttemptsVideo = cfg.PollAttemptsVideo
	}
	if cfg.UploadConcurrency > 0 {
		p.UploadConcurrency = cfg.UploadConcurrency
	}
	if cfg.MaxPromptLength > 0 {
		p.MaxPromptLength = cfg.MaxPromptLength
	}
	return p
}

// PollCeiling is the poll attempt limit for kind.
func (p Policy) PollCeiling(kind domain.Kind) int {
	if kind.IsVideo() {
		return p.PollAttemptsVideo
	}
	return p.PollAttemptsImage
}

// submitDelay is the wait before retry number attempt (1-based), doubling
// from the base delay.
func (p Policy) submitDelay(attempt int) time.Duration {
	return p.SubmitBaseDelay << (attempt - 1)
}

// Sleeper pauses a run between provider calls. Tests inject a recorder.
type Sleeper func(ctx context.Context, d time.Duration)

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
