package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/Namann-14/artifex/internal/domain"
)

// DefaultRetention is how long a finished job stays visible in the tracker.
const DefaultRetention = 15 * time.Minute

// Tracker keeps the latest snapshot of recent jobs so status lookups can see a
// run in flight. Finished jobs are dropped after the retention window; the
// history store is the durable source after that.
type Tracker struct {
	mu        sync.RWMutex
	jobs      map[string]trackedJob
	retention time.Duration
	now       func() time.Time
}

type trackedJob struct {
	job      domain.GenerationJob
	finished time.Time
}

func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{
		jobs:      make(map[string]trackedJob),
		retention: retention,
		now:       time.Now,
	}
}

// Observe implements Observer.
func (t *Tracker) Observe(job domain.GenerationJob) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	entry := trackedJob{job: withoutInlineData(job)}
	if job.State.Terminal() {
		entry.finished = now
	}
	t.jobs[job.ID] = entry
	t.evictLocked(now)
}

// Get returns the job if it is tracked and belongs to ownerID.
func (t *Tracker) Get(ownerID, jobID string) (domain.GenerationJob, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.jobs[jobID]
	if !ok || entry.job.OwnerID != ownerID {
		return domain.GenerationJob{}, false
	}
	return entry.job, true
}

// InFlight counts tracked jobs that have not reached a terminal state.
func (t *Tracker) InFlight() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, entry := range t.jobs {
		if !entry.job.State.Terminal() {
			n++
		}
	}
	return n
}

// Wait blocks until no tracked job is in flight or ctx ends, and returns the
// number still running.
func (t *Tracker) Wait(ctx context.Context, every time.Duration) int {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		n := t.InFlight()
		if n == 0 {
			return 0
		}
		select {
		case <-ctx.Done():
			return n
		case <-ticker.C:
		}
	}
}

// withoutInlineData drops uploaded image bytes; the snapshot only needs the
// references.
func withoutInlineData(job domain.GenerationJob) domain.GenerationJob {
	if len(job.InputImages) == 0 {
		return job
	}
	images := make([]domain.ImageRef, len(job.InputImages))
	for i, img := range job.InputImages {
		img.Data = nil
		images[i] = img
	}
	job.InputImages = images
	return job
}

func (t *Tracker) evictLocked(now time.Time) {
	for id, entry := range t.jobs {
		if !entry.finished.IsZero() && now.Sub(entry.finished) > t.retention {
			delete(t.jobs, id)
		}
	}
}
