package ocr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/pdf"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/retry"
)

type stubRenderer struct {
	fail map[int]error
}

func (r *stubRenderer) RenderPage(_ context.Context, _ string, page int, dpi float64) (*pdf.PageImage, error) {
	if err := r.fail[page]; err != nil {
		return nil, err
	}
	return &pdf.PageImage{PageNumber: page, DPI: dpi, PNG: []byte{byte(page)}}, nil
}

type stubEngine struct {
	mu       sync.Mutex
	calls    map[int]int
	failFor  map[int]int // page -> number of leading failures
	inFlight int32
	peak     int32
}

func newStubEngine() *stubEngine {
	return &stubEngine{calls: map[int]int{}, failFor: map[int]int{}}
}

func (e *stubEngine) Name() string { return "stub" }

func (e *stubEngine) Recognize(_ context.Context, img *pdf.PageImage, _ []string) (string, error) {
	n := atomic.AddInt32(&e.inFlight, 1)
	defer atomic.AddInt32(&e.inFlight, -1)
	for {
		p := atomic.LoadInt32(&e.peak)
		if n <= p || atomic.CompareAndSwapInt32(&e.peak, p, n) {
			break
		}
	}

	// later pages finish first
	time.Sleep(time.Duration(10-img.PageNumber%10) * time.Millisecond)

	e.mu.Lock()
	e.calls[img.PageNumber]++
	call := e.calls[img.PageNumber]
	fails := e.failFor[img.PageNumber]
	e.mu.Unlock()

	if call <= fails {
		return "", ErrEmptyText
	}
	return fmt.Sprintf("text of page %d", img.PageNumber), nil
}

func TestBatch_PreservesInputOrder(t *testing.T) {
	engine := newStubEngine()
	b := NewBatch(&stubRenderer{}, engine, BatchConfig{Workers: 4, Policy: retry.Fixed(2, 0)}, observability.NopLogger())

	pages := []int{3, 4, 5, 6, 7, 8}
	out, err := b.Recognize(context.Background(), "doc.pdf", pages, 300, []string{"chi_sim"})
	require.NoError(t, err)
	require.Len(t, out, len(pages))

	for i, p := range pages {
		assert.Equal(t, p, out[i].Page)
		assert.Equal(t, fmt.Sprintf("text of page %d", p), out[i].Text)
		assert.NoError(t, out[i].Err)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&engine.peak), int32(4))
}

func TestBatch_DropsFailingPageAndKeepsOthers(t *testing.T) {
	engine := newStubEngine()
	engine.failFor[2] = 5 // never succeeds within budget
	engine.failFor[3] = 1 // succeeds on retry

	b := NewBatch(&stubRenderer{}, engine, BatchConfig{Workers: 2, Policy: retry.Fixed(2, 0)}, observability.NopLogger())

	out, err := b.Recognize(context.Background(), "doc.pdf", []int{1, 2, 3}, 300, nil)
	require.NoError(t, err)

	assert.Equal(t, "text of page 1", out[0].Text)
	assert.Empty(t, out[1].Text)
	assert.ErrorIs(t, out[1].Err, ErrEmptyText)
	assert.Equal(t, "text of page 3", out[2].Text)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Equal(t, 2, engine.calls[2])
	assert.Equal(t, 2, engine.calls[3])
}

func TestBatch_RenderFailureIsNotRetried(t *testing.T) {
	engine := newStubEngine()
	renderer := &stubRenderer{fail: map[int]error{2: domain.RenderError("corrupt page", errors.New("bad xref"))}}
	b := NewBatch(renderer, engine, BatchConfig{Workers: 1, Policy: retry.Fixed(2, time.Hour)}, observability.NopLogger())

	out, err := b.Recognize(context.Background(), "doc.pdf", []int{1, 2}, 300, nil)
	require.NoError(t, err)
	assert.NoError(t, out[0].Err)
	assert.True(t, domain.IsType(out[1].Err, domain.ErrorTypeRender))
}

func TestBatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBatch(&stubRenderer{}, newStubEngine(), BatchConfig{Workers: 2}, observability.NopLogger())
	_, err := b.Recognize(ctx, "doc.pdf", []int{1, 2}, 300, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
