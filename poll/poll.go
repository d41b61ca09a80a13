// Package poll runs the seat-watching loop: one batched seats fetch per
// cycle, openings detection, throttled notification dispatch, then sleep.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"seatwatch/detect"
	"seatwatch/pkg/watch"
)

// Fetcher produces seat snapshots for a term and a batch of courses.
type Fetcher interface {
	Seats(ctx context.Context, term string, courseIDs []string) ([]watch.SeatSnapshot, error)
}

// Throttle gates notifications per class.
type Throttle interface {
	ShouldNotify(ctx context.Context, classID string, openCount int, now time.Time) (bool, error)
	Record(ctx context.Context, classID string, openCount int, now time.Time) error
}

// Dispatcher publishes a textual alert to a notification topic.
type Dispatcher interface {
	Publish(ctx context.Context, topic, message, title, priority string) error
}

// Config holds monitor construction parameters.
type Config struct {
	Fetcher    Fetcher
	Throttle   Throttle
	Dispatcher Dispatcher
	Logger     *slog.Logger
	Term       string
	Topic      string
	Interval   time.Duration
}

// Monitor owns the watch-set and drives poll cycles until the context is
// cancelled. Cycles never overlap: the next one starts only after the
// current cycle's fetch, detection, and dispatch work is done.
type Monitor struct {
	fetcher    Fetcher
	throttle   Throttle
	dispatcher Dispatcher
	logger     *slog.Logger
	term       string
	topic      string
	interval   time.Duration
	now        func() time.Time

	mu      sync.Mutex
	set     *watch.Set
	refresh chan struct{}
}

// New creates a monitor over an initial watch-set.
func New(cfg Config, set *watch.Set) *Monitor {
	return &Monitor{
		fetcher:    cfg.Fetcher,
		throttle:   cfg.Throttle,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
		term:       cfg.Term,
		topic:      cfg.Topic,
		interval:   cfg.Interval,
		now:        time.Now,
		set:        set,
		refresh:    make(chan struct{}, 1),
	}
}

// Refresh asks the loop to skip the remainder of its sleep and begin the
// next cycle immediately. At most one refresh is pending at a time; the
// signal is cleared when the loop observes it.
func (m *Monitor) Refresh() {
	select {
	case m.refresh <- struct{}{}:
	default:
	}
}

// UpdateWatchSet swaps in a new watch-set and requests an immediate
// cycle. The set takes effect at the next cycle boundary; the running
// cycle keeps its own snapshot.
func (m *Monitor) UpdateWatchSet(set *watch.Set) {
	m.mu.Lock()
	m.set = set
	m.mu.Unlock()
	m.Refresh()
}

func (m *Monitor) watchSet() *watch.Set {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set
}

// Run announces startup and polls until ctx is cancelled. Every
// per-cycle failure is logged and survived; only cancellation ends the
// loop.
func (m *Monitor) Run(ctx context.Context) error {
	set := m.watchSet()
	m.logger.Info("Watcher started",
		"term", m.term,
		"sections", set.Len(),
		"courses", set.Courses(),
		"interval", m.interval.String())

	startMsg := fmt.Sprintf("Watcher started (term %s); monitoring %d section(s) across %d course(s)",
		m.term, set.Len(), set.Courses())
	if err := m.dispatcher.Publish(ctx, m.topic, startMsg, "Seat watcher", "low"); err != nil {
		m.logger.Warn("Startup notification failed", "error", err)
	}

	for {
		if ctx.Err() != nil {
			m.logger.Info("Shutting down watcher", "error", ctx.Err())
			return ctx.Err()
		}

		m.runCycle(ctx)

		timer := time.NewTimer(m.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info("Shutting down watcher", "error", ctx.Err())
			return ctx.Err()
		case <-m.refresh:
			timer.Stop()
			m.logger.Info("Refresh requested, polling immediately")
		case <-timer.C:
		}
	}
}

// runCycle performs one fetch-detect-throttle-dispatch pass. A fetch
// failure skips the cycle; per-class failures skip the class.
func (m *Monitor) runCycle(ctx context.Context) {
	set := m.watchSet()
	if set.Len() == 0 {
		m.logger.Debug("Watch-set empty, nothing to poll")
		return
	}

	snaps, err := m.fetcher.Seats(ctx, m.term, set.CourseIDs())
	if err != nil {
		m.logger.Warn("Seat fetch failed, skipping cycle", "error", err)
		return
	}

	openings := detect.Openings(snaps, set)
	if open := summarize(openings); open != "" {
		m.logger.Info("Openings detected", "openings", open)
	}

	now := m.now()
	for _, op := range openings {
		send, err := m.throttle.ShouldNotify(ctx, op.ClassID, op.OpenCount, now)
		if err != nil {
			m.logger.Warn("Throttle state read failed", "class_id", op.ClassID, "error", err)
			continue
		}
		if !send {
			continue
		}

		msg := alertMessage(set, op)
		if err := m.dispatcher.Publish(ctx, m.topic, msg, "Seat opening detected", "high"); err != nil {
			// Best effort: the throttle still advances below so a
			// transient dispatch failure cannot cause an alert storm.
			m.logger.Warn("Notification dispatch failed", "class_id", op.ClassID, "error", err)
		}
		if err := m.throttle.Record(ctx, op.ClassID, op.OpenCount, now); err != nil {
			m.logger.Warn("Throttle state write failed", "class_id", op.ClassID, "error", err)
		}

		m.logger.Info("Notified",
			"class_id", op.ClassID,
			"course_id", op.CourseID,
			"open", op.OpenCount)
	}
}

// summarize renders the positive openings in a cycle for logging.
func summarize(openings []watch.Opening) string {
	var parts []string
	for _, op := range openings {
		if op.OpenCount > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", op.ClassID, op.OpenCount))
		}
	}
	return strings.Join(parts, ", ")
}

// alertMessage formats the notification body, including the course code
// and section when the target came from catalog resolution.
func alertMessage(set *watch.Set, op watch.Opening) string {
	if t, ok := set.Target(op.ClassID); ok && t.CourseCode != "" {
		return fmt.Sprintf("%d open spot(s): %s %s (class %s) in course %s.",
			op.OpenCount, t.CourseCode, t.Section, op.ClassID, op.CourseID)
	}
	return fmt.Sprintf("%d open spot(s): class %s in course %s.",
		op.OpenCount, op.ClassID, op.CourseID)
}
