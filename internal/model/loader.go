package model

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
	"github.com/anime-shed/image-classifier-go/internal/observer"
)

// Loader is the process-wide model slot. The slot is empty, loading, or
// ready; concurrent Get calls share one in-flight load, and a ready handle
// is never replaced. A failed load leaves the slot empty.
type Loader struct {
	provider Provider
	modelID  string
	opts     Options
	timeout  time.Duration
	events   observer.Subject

	group  singleflight.Group
	mu     sync.RWMutex
	handle Handle
	loads  atomic.Int64
}

// NewLoader creates an empty slot for modelID. timeout bounds a single load
// attempt; events may be nil.
func NewLoader(provider Provider, modelID string, opts Options, timeout time.Duration, events observer.Subject) *Loader {
	if events == nil {
		events = observer.Nop{}
	}
	return &Loader{
		provider: provider,
		modelID:  modelID,
		opts:     opts,
		timeout:  timeout,
		events:   events,
	}
}

// ModelID returns the identifier passed to the provider
func (l *Loader) ModelID() string {
	return l.modelID
}

// Handle returns the loaded handle without triggering a load
func (l *Loader) Handle() (Handle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.handle, l.handle != nil
}

// Ready reports whether a handle is loaded
func (l *Loader) Ready() bool {
	_, ok := l.Handle()
	return ok
}

// Loads returns how many times the provider has been asked to load
func (l *Loader) Loads() int64 {
	return l.loads.Load()
}

// Get returns the handle, loading it first if needed. Cancelling ctx stops
// the wait but not the shared load, which other callers may be attached to.
func (l *Loader) Get(ctx context.Context) (Handle, error) {
	if h, ok := l.Handle(); ok {
		return h, nil
	}

	ch := l.group.DoChan(l.modelID, func() (interface{}, error) {
		return l.load(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Handle), nil
	}
}

func (l *Loader) load(ctx context.Context) (Handle, error) {
	// A previous flight may have finished between the fast path and DoChan
	if h, ok := l.Handle(); ok {
		return h, nil
	}

	l.loads.Add(1)
	l.events.NotifyObservers(ctx, observer.Event{
		EventType: observer.ModelLoadStarted,
		ModelID:   l.modelID,
		Metadata:  map[string]interface{}{"quantized": l.opts.Quantized},
	})

	start := time.Now()
	loadCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	h, err := l.provider.Load(loadCtx, l.modelID, l.opts)
	if err == nil && h == nil {
		err = errors.New("provider returned no handle")
	}
	if err != nil {
		l.events.NotifyObservers(ctx, observer.Event{
			EventType:      observer.ModelLoadFailed,
			ModelID:        l.modelID,
			ProcessingTime: time.Since(start),
			ErrorMessage:   err.Error(),
		})
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.NewModelLoadError("model load timed out", err)
		}
		return nil, apperrors.NewModelLoadError("failed to load model "+l.modelID, err)
	}

	l.mu.Lock()
	l.handle = h
	l.mu.Unlock()

	l.events.NotifyObservers(ctx, observer.Event{
		EventType:      observer.ModelReady,
		ModelID:        l.modelID,
		ProcessingTime: time.Since(start),
		Success:        true,
	})
	return h, nil
}

// Close releases the loaded handle, if any. The slot stays filled so later
// Get calls do not reload a model during shutdown.
func (l *Loader) Close() error {
	l.mu.RLock()
	h := l.handle
	l.mu.RUnlock()
	if h == nil {
		return nil
	}
	return h.Close()
}
