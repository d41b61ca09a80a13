// Package throttle decides whether a detected opening warrants a
// notification. One state machine serves both the standalone deployment
// (in-memory store) and the persistence-backed deployment (storage
// package) through the Store interface.
package throttle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"seatwatch/pkg/watch"
)

// Store persists per-class alert state. Get returns ok=false when no
// state has been recorded for the class yet.
type Store interface {
	Get(ctx context.Context, classID string) (watch.AlertState, bool, error)
	Put(ctx context.Context, classID string, state watch.AlertState) error
	Delete(ctx context.Context, classID string) error
}

// Throttle is the per-class notification gate.
type Throttle struct {
	store       Store
	logger      *slog.Logger
	minRenotify time.Duration
}

// New creates a throttle over the given state store. minRenotify is the
// minimum elapsed time before repeating an alert for an unchanged,
// still-open class.
func New(store Store, minRenotify time.Duration, logger *slog.Logger) *Throttle {
	return &Throttle{
		store:       store,
		minRenotify: minRenotify,
		logger:      logger,
	}
}

// ShouldNotify decides whether the given open count for a class warrants
// an alert at time now. It never mutates state:
//
//   - never notified and openCount > 0: notify
//   - notified before and the count changed: notify, regardless of how
//     recently the previous alert went out
//   - notified before, count unchanged, and the re-notify window has
//     elapsed: notify (periodic reminder)
//   - openCount == 0: never notify and leave the last-notified record
//     untouched, so a close followed by a reopen to the same count is
//     treated as unchanged
func (t *Throttle) ShouldNotify(ctx context.Context, classID string, openCount int, now time.Time) (bool, error) {
	if openCount <= 0 {
		return false, nil
	}

	state, ok, err := t.store.Get(ctx, classID)
	if err != nil {
		return false, err
	}
	if !ok || !state.Notified() {
		return true, nil
	}
	if openCount != state.LastOpenCount {
		return true, nil
	}
	return now.Sub(state.LastNotifiedAt) >= t.minRenotify, nil
}

// Record advances the state machine after a dispatch attempt has been
// issued. The transition is optimistic: delivery is not confirmed, and a
// failed send still counts as notified.
func (t *Throttle) Record(ctx context.Context, classID string, openCount int, now time.Time) error {
	return t.store.Put(ctx, classID, watch.AlertState{
		LastOpenCount:  openCount,
		LastNotifiedAt: now,
	})
}

// Forget drops the state for a class that left the watch-set.
func (t *Throttle) Forget(ctx context.Context, classID string) error {
	return t.store.Delete(ctx, classID)
}

// MemoryStore is the in-process Store for the standalone deployment.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]watch.AlertState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]watch.AlertState)}
}

// Get returns the recorded state for a class.
func (m *MemoryStore) Get(_ context.Context, classID string) (watch.AlertState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[classID]
	return state, ok, nil
}

// Put records the state for a class.
func (m *MemoryStore) Put(_ context.Context, classID string, state watch.AlertState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[classID] = state
	return nil
}

// Delete removes the state for a class.
func (m *MemoryStore) Delete(_ context.Context, classID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, classID)
	return nil
}
