package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/observability"
)

// Status is the lifecycle state of an ingestion task.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Progress is a point-in-time copy of a task's state. Current never
// decreases and Completed flips to true exactly once.
type Progress struct {
	TaskID                  uuid.UUID `json:"taskId"`
	Status                  Status    `json:"status"`
	Total                   int       `json:"total"`
	Current                 int       `json:"current"`
	CurrentRangeDescription string    `json:"currentRangeDescription"`
	Completed               bool      `json:"completed"`
	Persisted               int       `json:"persisted"`
	Skipped                 int       `json:"skipped"`
	FailedInserts           int       `json:"failedInserts"`
	Error                   string    `json:"error,omitempty"`
	SourcePath              string    `json:"sourcePath"`
	StartedAt               time.Time `json:"startedAt"`
	UpdatedAt               time.Time `json:"updatedAt"`
}

// Outcome is what happened to one attempted range.
type Outcome int

const (
	OutcomePersisted Outcome = iota
	OutcomeSkipped
	OutcomeInsertFailed
)

// ProgressPublisher mirrors snapshots elsewhere, e.g. Redis.
type ProgressPublisher interface {
	Publish(ctx context.Context, taskID string, snapshot any) error
}

type taskState struct {
	progress Progress
	changed  chan struct{}
	cancel   context.CancelFunc
}

// Tracker is the process-wide progress table. Only the task's own goroutine
// writes an entry; readers get copies. A completed entry is evicted once a
// reader has observed it.
type Tracker struct {
	mu        sync.Mutex
	tasks     map[uuid.UUID]*taskState
	publisher ProgressPublisher
	logger    *observability.Logger
	now       func() time.Time
}

// NewTracker creates an empty table. publisher may be nil.
func NewTracker(publisher ProgressPublisher, logger *observability.Logger) *Tracker {
	return &Tracker{
		tasks:     make(map[uuid.UUID]*taskState),
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Register adds a task in the created state.
func (t *Tracker) Register(id uuid.UUID, total int, sourcePath string, cancel context.CancelFunc) Progress {
	now := t.now()
	st := &taskState{
		progress: Progress{
			TaskID:     id,
			Status:     StatusCreated,
			Total:      total,
			SourcePath: sourcePath,
			StartedAt:  now,
			UpdatedAt:  now,
		},
		changed: make(chan struct{}),
		cancel:  cancel,
	}

	t.mu.Lock()
	t.tasks[id] = st
	t.mu.Unlock()

	t.publish(st.progress)
	return st.progress
}

// Start moves a task to running.
func (t *Tracker) Start(id uuid.UUID) {
	t.update(id, func(p *Progress) {
		p.Status = StatusRunning
	})
}

// Advance records one attempted range. It is called only after the
// range's persistence attempt has returned.
func (t *Tracker) Advance(id uuid.UUID, description string, outcome Outcome) {
	t.update(id, func(p *Progress) {
		if p.Current < p.Total {
			p.Current++
		}
		p.CurrentRangeDescription = description
		switch outcome {
		case OutcomePersisted:
			p.Persisted++
		case OutcomeSkipped:
			p.Skipped++
		case OutcomeInsertFailed:
			p.FailedInserts++
		}
	})
}

// Finish moves a task to a terminal status and marks it completed.
func (t *Tracker) Finish(id uuid.UUID, status Status, cause error) {
	t.update(id, func(p *Progress) {
		p.Status = status
		p.Completed = true
		if cause != nil {
			p.Error = cause.Error()
		}
	})
}

func (t *Tracker) update(id uuid.UUID, fn func(*Progress)) {
	t.mu.Lock()
	st, ok := t.tasks[id]
	if !ok || st.progress.Completed {
		t.mu.Unlock()
		return
	}
	fn(&st.progress)
	st.progress.UpdatedAt = t.now()
	snap := st.progress
	close(st.changed)
	st.changed = make(chan struct{})
	if snap.Completed {
		st.cancel = nil
	}
	t.mu.Unlock()

	t.publish(snap)
}

// Get returns a snapshot. Observing a completed task evicts it, so the next
// Get for the same id returns domain.ErrTaskNotFound.
func (t *Tracker) Get(id uuid.UUID) (Progress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.tasks[id]
	if !ok {
		return Progress{}, domain.ErrTaskNotFound
	}
	snap := st.progress
	if snap.Completed {
		delete(t.tasks, id)
	}
	return snap, nil
}

// Watch streams snapshots of a task until it completes or ctx ends.
// Intermediate states may be coalesced. The completed snapshot counts as
// observed only once a receiver has taken it; a stalled watcher leaves the
// task available to Get.
func (t *Tracker) Watch(ctx context.Context, id uuid.UUID) (<-chan Progress, error) {
	t.mu.Lock()
	_, ok := t.tasks[id]
	t.mu.Unlock()
	if !ok {
		return nil, domain.ErrTaskNotFound
	}

	out := make(chan Progress)
	go func() {
		defer close(out)
		for {
			t.mu.Lock()
			st, ok := t.tasks[id]
			if !ok {
				t.mu.Unlock()
				return
			}
			snap, changed := st.progress, st.changed
			t.mu.Unlock()

			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}

			if snap.Completed {
				t.mu.Lock()
				delete(t.tasks, id)
				t.mu.Unlock()
				return
			}

			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Cancel asks a running task to stop before its next range.
func (t *Tracker) Cancel(id uuid.UUID) error {
	t.mu.Lock()
	st, ok := t.tasks[id]
	var cancel context.CancelFunc
	if ok {
		cancel = st.cancel
	}
	t.mu.Unlock()

	if !ok {
		return domain.ErrTaskNotFound
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Len returns the number of tracked tasks.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

func (t *Tracker) publish(p Progress) {
	if t.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.publisher.Publish(ctx, p.TaskID.String(), p); err != nil {
		t.logger.Warn().Err(err).Str("task_id", p.TaskID.String()).Msg("progress publish failed")
	}
}
