package observer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryObserver reports model load and analysis failures to Sentry
type SentryObserver struct {
	hub *sentry.Hub
}

// NewSentryObserver creates a client for dsn. An empty dsn is an error;
// callers only subscribe this observer when one is configured.
func NewSentryObserver(dsn, release string) (*SentryObserver, error) {
	if dsn == "" {
		return nil, errors.New("sentry dsn is empty")
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:     dsn,
		Release: release,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}
	return &SentryObserver{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// OnEvent captures failure events
func (o *SentryObserver) OnEvent(ctx context.Context, event Event) {
	if event.EventType != AnalysisFailed && event.EventType != ModelLoadFailed {
		return
	}

	o.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("event_type", string(event.EventType))
		if event.ModelID != "" {
			scope.SetTag("model_id", event.ModelID)
		}
		if event.SessionID != "" {
			scope.SetTag("session_id", event.SessionID)
		}
		if event.ImageRef != "" {
			scope.SetExtra("image_ref", ShortRef(event.ImageRef))
		}
		for k, v := range event.Metadata {
			scope.SetExtra(k, v)
		}
		o.hub.CaptureException(fmt.Errorf("%s: %s", event.EventType, event.ErrorMessage))
	})
}

// GetObserverName returns the observer name
func (o *SentryObserver) GetObserverName() string {
	return "sentry_observer"
}

// Flush waits for buffered events to be delivered
func (o *SentryObserver) Flush(timeout time.Duration) bool {
	return o.hub.Flush(timeout)
}
