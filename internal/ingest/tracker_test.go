package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/observability"
)

type recordingPublisher struct {
	mu    sync.Mutex
	snaps []Progress
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, snapshot any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, snapshot.(Progress))
	return p.err
}

func (p *recordingPublisher) snapshots() []Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Progress(nil), p.snaps...)
}

func TestTracker_GetUnknown(t *testing.T) {
	tr := NewTracker(nil, observability.NopLogger())

	_, err := tr.Get(uuid.New())
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestTracker_LifecycleAndEviction(t *testing.T) {
	tr := NewTracker(nil, observability.NopLogger())
	id := uuid.New()

	p := tr.Register(id, 2, "a.pdf", func() {})
	assert.Equal(t, StatusCreated, p.Status)
	assert.Equal(t, 0, p.Current)
	assert.False(t, p.Completed)

	tr.Start(id)
	tr.Advance(id, "序言 (pages 10-13)", OutcomePersisted)

	p, err := tr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, p.Status)
	assert.Equal(t, 1, p.Current)
	assert.Equal(t, "序言 (pages 10-13)", p.CurrentRangeDescription)

	// Reading an unfinished task keeps it.
	_, err = tr.Get(id)
	require.NoError(t, err)

	tr.Advance(id, "第一章 (pages 14-20)", OutcomeSkipped)
	tr.Finish(id, StatusCompleted, nil)

	p, err = tr.Get(id)
	require.NoError(t, err)
	assert.True(t, p.Completed)
	assert.Equal(t, 2, p.Current)
	assert.Equal(t, 1, p.Persisted)
	assert.Equal(t, 1, p.Skipped)

	_, err = tr.Get(id)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_NoUpdatesAfterCompletion(t *testing.T) {
	pub := &recordingPublisher{}
	tr := NewTracker(pub, observability.NopLogger())
	id := uuid.New()

	tr.Register(id, 1, "a.pdf", nil)
	tr.Finish(id, StatusFailed, errors.New("unreadable"))
	tr.Advance(id, "late", OutcomePersisted)
	tr.Finish(id, StatusCompleted, nil)

	p, err := tr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, "unreadable", p.Error)
	assert.Equal(t, 0, p.Current)
	assert.Len(t, pub.snapshots(), 2)
}

func TestTracker_CurrentNeverExceedsTotal(t *testing.T) {
	tr := NewTracker(nil, observability.NopLogger())
	id := uuid.New()
	tr.Register(id, 1, "a.pdf", nil)

	tr.Advance(id, "a", OutcomePersisted)
	tr.Advance(id, "b", OutcomePersisted)

	p, err := tr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Current)
}

func TestTracker_WatchDeliversCompletionAndEvicts(t *testing.T) {
	tr := NewTracker(nil, observability.NopLogger())
	id := uuid.New()
	tr.Register(id, 3, "a.pdf", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updates, err := tr.Watch(ctx, id)
	require.NoError(t, err)

	go func() {
		tr.Start(id)
		for i := 0; i < 3; i++ {
			tr.Advance(id, "range", OutcomePersisted)
		}
		tr.Finish(id, StatusCompleted, nil)
	}()

	var last Progress
	prev := -1
	for p := range updates {
		assert.GreaterOrEqual(t, p.Current, prev)
		prev = p.Current
		last = p
	}

	assert.True(t, last.Completed)
	assert.Equal(t, 3, last.Current)
	_, err = tr.Get(id)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestTracker_WatchUnknown(t *testing.T) {
	tr := NewTracker(nil, observability.NopLogger())

	_, err := tr.Watch(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestTracker_WatchStopsWithContext(t *testing.T) {
	tr := NewTracker(nil, observability.NopLogger())
	id := uuid.New()
	tr.Register(id, 1, "a.pdf", nil)

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := tr.Watch(ctx, id)
	require.NoError(t, err)

	<-updates
	cancel()
	for range updates {
	}

	// The task was never completed, so it must still be there.
	_, err = tr.Get(id)
	assert.NoError(t, err)
}

func TestTracker_StalledWatcherDoesNotEvict(t *testing.T) {
	tr := NewTracker(nil, observability.NopLogger())
	id := uuid.New()
	tr.Register(id, 1, "a.pdf", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := tr.Watch(ctx, id)
	require.NoError(t, err)

	first := <-updates
	assert.False(t, first.Completed)

	// Nobody reads the completed snapshot from updates.
	tr.Advance(id, "a", OutcomePersisted)
	tr.Finish(id, StatusCompleted, nil)
	time.Sleep(50 * time.Millisecond)

	p, err := tr.Get(id)
	require.NoError(t, err)
	assert.True(t, p.Completed)
	assert.Equal(t, StatusCompleted, p.Status)

	cancel()
	for range updates {
	}
	_, err = tr.Get(id)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestTracker_Cancel(t *testing.T) {
	tr := NewTracker(nil, observability.NopLogger())
	id := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	tr.Register(id, 1, "a.pdf", cancel)

	require.NoError(t, tr.Cancel(id))
	assert.Error(t, ctx.Err())

	assert.ErrorIs(t, tr.Cancel(uuid.New()), domain.ErrTaskNotFound)
}

func TestTracker_PublishFailureIsIgnored(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("redis down")}
	tr := NewTracker(pub, observability.NopLogger())
	id := uuid.New()

	tr.Register(id, 1, "a.pdf", nil)
	tr.Advance(id, "a", OutcomePersisted)

	p, err := tr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Current)
	assert.Len(t, pub.snapshots(), 2)
}
