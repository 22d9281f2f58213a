package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
	"github.com/anime-shed/image-classifier-go/internal/logger"
	"github.com/anime-shed/image-classifier-go/internal/observer"
)

// Store keeps the live sessions of a server process. Every session shares
// the same ModelSource.
type Store struct {
	models ModelSource
	events observer.Subject
	opts   Options
	warm   bool

	mu       sync.RWMutex
	sessions map[string]*Controller
}

// NewStore creates an empty store. When warm is set, every new session
// starts loading the model in the background.
func NewStore(models ModelSource, events observer.Subject, opts Options, warm bool) *Store {
	if events == nil {
		events = observer.Nop{}
	}
	return &Store{
		models:   models,
		events:   events,
		opts:     opts,
		warm:     warm,
		sessions: make(map[string]*Controller),
	}
}

// Create starts a new session
func (s *Store) Create() *Controller {
	id := uuid.NewString()
	c := NewController(id, s.models, s.events, s.opts)

	s.mu.Lock()
	s.sessions[id] = c
	s.mu.Unlock()

	s.events.NotifyObservers(context.Background(), observer.Event{
		EventType: observer.SessionCreated,
		SessionID: id,
	})

	if s.warm {
		go func() {
			if err := c.EnsureModelReady(context.Background()); err != nil {
				logger.WithField("session_id", id).WithError(err).Error("Background model load failed")
			}
		}()
	}
	return c
}

// Get looks a session up and marks it as in use
func (s *Store) Get(id string) (*Controller, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewNotFoundError("session not found", nil)
	}

	s.mu.RLock()
	c, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFoundError("session not found", nil)
	}
	c.Touch()
	return c, nil
}

// Delete removes a session; it reports whether it existed
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// Len returns the number of live sessions
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes sessions idle for longer than ttl, skipping any that are
// still analyzing, and returns how many were removed.
func (s *Store) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, c := range s.sessions {
		snap := c.Snapshot()
		if snap.IsAnalyzing || c.LastActive().After(cutoff) {
			continue
		}
		delete(s.sessions, id)
		removed++
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done
func (s *Store) RunSweeper(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(ttl); n > 0 {
				logger.WithFields(map[string]interface{}{
					"removed":   n,
					"remaining": s.Len(),
				}).Info("Expired sessions removed")
			}
		}
	}
}
