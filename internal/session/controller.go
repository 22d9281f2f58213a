package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
	"github.com/anime-shed/image-classifier-go/internal/logger"
	"github.com/anime-shed/image-classifier-go/internal/model"
	"github.com/anime-shed/image-classifier-go/internal/observer"
)

// ModelSource is the shared model slot. *model.Loader implements it.
type ModelSource interface {
	Get(ctx context.Context) (model.Handle, error)
	Handle() (model.Handle, bool)
	ModelID() string
}

// Options configure a controller
type Options struct {
	TopK int
	// AnalysisTimeout bounds one analysis, including any model wait. Zero
	// means no limit.
	AnalysisTimeout time.Duration
}

// Controller holds one user's session. All methods are safe for
// concurrent use; when analyses overlap only the most recently started one
// is ever applied to the state.
type Controller struct {
	id     string
	models ModelSource
	events observer.Subject
	opts   Options

	mu         sync.Mutex
	st         state
	seq        uint64
	lastActive time.Time
}

// NewController creates a session in the Idle phase. events may be nil.
func NewController(id string, models ModelSource, events observer.Subject, opts Options) *Controller {
	if events == nil {
		events = observer.Nop{}
	}
	if opts.TopK <= 0 {
		opts.TopK = model.DefaultTopK
	}
	return &Controller{
		id:         id,
		models:     models,
		events:     events,
		opts:       opts,
		st:         initialState(),
		lastActive: time.Now(),
	}
}

// ID returns the session identifier
func (c *Controller) ID() string {
	return c.id
}

// Snapshot returns a copy of the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:              c.id,
		ActiveInputMode: c.st.inputMode,
		PendingURLText:  c.st.pendingURL,
		Results:         append([]Result{}, c.st.results...),
		StatusMessage:   c.st.statusMessage,
		IsAnalyzing:     c.st.isAnalyzing,
		Phase:           c.st.phase(),
		UpdatedAt:       c.lastActive,
	}
	if c.st.currentImage != nil {
		img := *c.st.currentImage
		snap.CurrentImage = &img
	}
	if c.st.lastError != nil {
		e := *c.st.lastError
		snap.LastError = &e
	}
	_, snap.ModelReady = c.models.Handle()
	return snap
}

// LastActive is the time of the last state change or touch
func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Touch marks the session as in use
func (c *Controller) Touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

// SetInputMode switches the active input tab
func (c *Controller) SetInputMode(mode InputMode) error {
	if _, err := ParseInputMode(string(mode)); err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.inputMode = mode
	c.lastActive = time.Now()
	return nil
}

// SetPendingURL stores the URL text being typed in URL mode
func (c *Controller) SetPendingURL(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.pendingURL = text
	c.lastActive = time.Now()
}

// EnsureModelReady makes sure the shared model is loaded, showing the
// initializing status while this session waits for it. It never triggers a
// second load.
func (c *Controller) EnsureModelReady(ctx context.Context) error {
	return c.ensureModelReady(ctx, 0)
}

// ensureModelReady with a non-zero seq only touches the status while that
// analysis is still the latest.
func (c *Controller) ensureModelReady(ctx context.Context, seq uint64) error {
	if _, ok := c.models.Handle(); ok {
		return nil
	}

	c.setStatus(seq, StatusInitializingModel)
	_, err := c.models.Get(ctx)
	c.clearStatus(StatusInitializingModel)

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"session_id": c.id,
			"model_id":   c.models.ModelID(),
		}).WithError(err).Warn("Model not ready")
	}
	return err
}

func (c *Controller) setStatus(seq uint64, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != 0 && seq != c.seq {
		return
	}
	c.st.statusMessage = msg
}

// clearStatus only clears msg if nothing newer replaced it
func (c *Controller) clearStatus(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.statusMessage == msg {
		c.st.statusMessage = ""
	}
}

// Analyze classifies the image behind ref and records the outcome in the
// session. Failures end up in the session's LastError; the returned error
// is only set for an empty ref, which leaves the state untouched.
func (c *Controller) Analyze(ctx context.Context, ref string) (Snapshot, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return c.Snapshot(), apperrors.NewValidationError("image reference is empty", nil)
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.st.isAnalyzing = true
	c.st.lastError = nil
	c.st.results = []Result{}
	c.st.currentImage = &ref
	c.lastActive = time.Now()
	c.mu.Unlock()

	c.events.NotifyObservers(ctx, observer.Event{
		EventType: observer.AnalysisStarted,
		SessionID: c.id,
		ModelID:   c.models.ModelID(),
		ImageRef:  ref,
		Sequence:  seq,
	})

	start := time.Now()
	results, err := c.run(ctx, seq, ref)
	elapsed := time.Since(start)

	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		c.events.NotifyObservers(ctx, observer.Event{
			EventType:      observer.AnalysisDiscarded,
			SessionID:      c.id,
			ImageRef:       ref,
			Sequence:       seq,
			ProcessingTime: elapsed,
		})
		return c.Snapshot(), nil
	}

	c.st.isAnalyzing = false
	c.st.statusMessage = ""
	if err != nil {
		info := DescribeFailure(ref, err)
		c.st.lastError = &info
		c.st.results = []Result{}
	} else {
		c.st.results = results
	}
	c.lastActive = time.Now()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	event := observer.Event{
		EventType:      observer.AnalysisCompleted,
		SessionID:      c.id,
		ModelID:        c.models.ModelID(),
		ImageRef:       ref,
		Sequence:       seq,
		ProcessingTime: elapsed,
		Success:        err == nil,
		Metadata:       map[string]interface{}{"results": len(results)},
	}
	if err != nil {
		event.EventType = observer.AnalysisFailed
		event.ErrorMessage = err.Error()
		event.Metadata["error_title"] = snap.LastError.Title
	}
	c.events.NotifyObservers(ctx, event)

	return snap, nil
}

// run does the work of one analysis. Panics from the model are turned into
// errors so that a session always settles.
func (c *Controller) run(ctx context.Context, seq uint64, ref string) (results []Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewInternalError("classifier panicked", fmt.Errorf("%v", r))
		}
	}()

	if c.opts.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.AnalysisTimeout)
		defer cancel()
	}

	handle, ok := c.models.Handle()
	if !ok {
		if err := c.ensureModelReady(ctx, seq); err != nil {
			return nil, err
		}
		if handle, ok = c.models.Handle(); !ok {
			return nil, apperrors.NewModelLoadError("model is not available", nil)
		}
	}

	c.setStatus(seq, StatusAnalyzing)

	raw, err := handle.Classify(ctx, ref, model.ClassifyOptions{TopK: c.opts.TopK})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.Is(err, context.DeadlineExceeded) && !errors.As(err, &appErr) {
			return nil, apperrors.NewProcessingError("analysis timed out", err)
		}
		return nil, err
	}
	return ParseResults(raw), nil
}

// FailInput records that the user's file could not be turned into an image
// reference. Any analysis still running for this session is superseded. The
// session ends Failed with no CurrentImage since nothing was acquired.
func (c *Controller) FailInput(err error) Snapshot {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	info := ErrAnalysisFailed
	c.st.isAnalyzing = false
	c.st.statusMessage = ""
	c.st.results = []Result{}
	c.st.currentImage = nil
	c.st.lastError = &info
	c.lastActive = time.Now()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.events.NotifyObservers(context.Background(), observer.Event{
		EventType:    observer.AnalysisFailed,
		SessionID:    c.id,
		Sequence:     seq,
		ErrorMessage: err.Error(),
		Metadata:     map[string]interface{}{"error_title": info.Title, "stage": "input"},
	})
	return snap
}

// Reset returns the session to Idle. The input mode and the loaded model
// are kept; in-flight analyses are discarded when they finish.
func (c *Controller) Reset() Snapshot {
	c.mu.Lock()
	c.seq++
	mode := c.st.inputMode
	c.st = initialState()
	c.st.inputMode = mode
	c.lastActive = time.Now()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.events.NotifyObservers(context.Background(), observer.Event{
		EventType: observer.SessionReset,
		SessionID: c.id,
	})
	return snap
}
