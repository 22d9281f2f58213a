package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Event describes something that happened to a session or to the shared model
type Event struct {
	EventType      EventType              `json:"event_type"`
	Timestamp      time.Time              `json:"timestamp"`
	SessionID      string                 `json:"session_id,omitempty"`
	ModelID        string                 `json:"model_id,omitempty"`
	ImageRef       string                 `json:"image_ref,omitempty"`
	Sequence       uint64                 `json:"sequence,omitempty"`
	ProcessingTime time.Duration          `json:"processing_time"`
	Success        bool                   `json:"success"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of event
type EventType string

const (
	SessionCreated    EventType = "session_created"
	SessionReset      EventType = "session_reset"
	ModelLoadStarted  EventType = "model_load_started"
	ModelReady        EventType = "model_ready"
	ModelLoadFailed   EventType = "model_load_failed"
	AnalysisStarted   EventType = "analysis_started"
	AnalysisCompleted EventType = "analysis_completed"
	AnalysisFailed    EventType = "analysis_failed"
	// AnalysisDiscarded when a newer analysis superseded this one
	AnalysisDiscarded EventType = "analysis_discarded"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event Event)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event Event)
}

// LoggingObserver logs events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event Event) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"success":    event.Success,
	}
	if event.SessionID != "" {
		fields["session_id"] = event.SessionID
	}
	if event.ModelID != "" {
		fields["model_id"] = event.ModelID
	}
	if event.ImageRef != "" {
		fields["image_ref"] = ShortRef(event.ImageRef)
	}
	if event.Sequence != 0 {
		fields["sequence"] = event.Sequence
	}
	if event.ProcessingTime > 0 {
		fields["processing_time"] = event.ProcessingTime
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case SessionCreated:
		entry.Info("Session created")
	case SessionReset:
		entry.Debug("Session reset")
	case ModelLoadStarted:
		entry.Info("Model load started")
	case ModelReady:
		entry.Info("Model ready")
	case ModelLoadFailed:
		entry.Error("Model load failed")
	case AnalysisStarted:
		entry.Info("Image analysis started")
	case AnalysisCompleted:
		entry.Info("Image analysis completed")
	case AnalysisFailed:
		entry.Error("Image analysis failed")
	case AnalysisDiscarded:
		entry.Debug("Superseded analysis discarded")
	default:
		entry.Info("Event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// ShortRef keeps log lines small when the reference is an embedded upload
func ShortRef(ref string) string {
	const max = 96
	if len(ref) <= max {
		return ref
	}
	return ref[:max] + "..."
}

// MetricsObserver collects counters from events
type MetricsObserver struct {
	mu                  sync.RWMutex
	totalAnalyses       int64
	successfulAnalyses  int64
	failedAnalyses      int64
	discardedAnalyses   int64
	modelLoads          int64
	modelLoadFailures   int64
	sessionsCreated     int64
	totalProcessingTime time.Duration
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

// OnEvent handles events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case SessionCreated:
		o.sessionsCreated++
	case ModelReady:
		o.modelLoads++
	case ModelLoadFailed:
		o.modelLoadFailures++
	case AnalysisStarted:
		o.totalAnalyses++
	case AnalysisCompleted:
		o.successfulAnalyses++
		o.totalProcessingTime += event.ProcessingTime
	case AnalysisFailed:
		o.failedAnalyses++
	case AnalysisDiscarded:
		o.discardedAnalyses++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avgProcessingTime := time.Duration(0)
	if o.successfulAnalyses > 0 {
		avgProcessingTime = o.totalProcessingTime / time.Duration(o.successfulAnalyses)
	}

	return map[string]interface{}{
		"sessions_created":       o.sessionsCreated,
		"model_loads":            o.modelLoads,
		"model_load_failures":    o.modelLoadFailures,
		"total_analyses":         o.totalAnalyses,
		"successful_analyses":    o.successfulAnalyses,
		"failed_analyses":        o.failedAnalyses,
		"discarded_analyses":     o.discardedAnalyses,
		"total_processing_time":  o.totalProcessingTime.String(),
		"avg_processing_time":    avgProcessingTime.String(),
		"avg_processing_time_ms": avgProcessingTime.Milliseconds(),
	}
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
	sync      bool
}

// NewEventPublisher creates a publisher that notifies observers concurrently
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// NewSyncEventPublisher creates a publisher that notifies observers inline,
// in subscription order. Used by the CLI and in tests.
func NewSyncEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
		sync:      true,
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers notifies all observers of an event
func (p *EventPublisher) NotifyObservers(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		if p.sync {
			notify(ctx, observer, event)
			continue
		}
		go notify(ctx, observer, event)
	}
}

func notify(ctx context.Context, obs Observer, event Event) {
	defer func() {
		if r := recover(); r != nil {
			// Log panic but don't crash the application
			logrus.WithField("observer", obs.GetObserverName()).
				WithField("panic", r).
				Error("Observer panicked while handling event")
		}
	}()
	obs.OnEvent(ctx, event)
}

// Nop discards events
type Nop struct{}

func (Nop) Subscribe(Observer)                      {}
func (Nop) Unsubscribe(Observer)                    {}
func (Nop) NotifyObservers(context.Context, Event) {}
