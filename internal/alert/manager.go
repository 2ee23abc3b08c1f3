// Package alert evaluates alert conditions per frame and delivers cooldown
// gated email notifications.
package alert

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/crowdvision/people-counter/internal/counter"
	"github.com/crowdvision/people-counter/internal/logger"
	"github.com/crowdvision/people-counter/pkg/types"
)

// Kind identifies an alert triggering condition. Each kind has its own
// cooldown bucket.
type Kind string

const (
	// KindCapacity fires when a count exceeds the configured capacity.
	KindCapacity Kind = "capacity"
	// KindRestricted fires when a restricted item label is detected.
	KindRestricted Kind = "restricted"
)

// DeliveryError reports a failed email send. Delivery is best effort; the
// pipeline keeps running.
type DeliveryError struct {
	Kind Kind
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s alert: %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Event records one alert that passed the cooldown gate.
type Event struct {
	Kind     Kind      `json:"kind"`
	Message  string    `json:"message"`
	Labels   []string  `json:"labels,omitempty"`
	Count    int       `json:"count,omitempty"`
	Capacity int       `json:"capacity,omitempty"`
	SentAt   time.Time `json:"sent_at"`
}

// Manager evaluates the two alert conditions every frame and sends at most
// one email per kind per cooldown window. Sends run on their own goroutine so
// a slow mail server never stalls frame processing.
type Manager struct {
	capacity    int
	restricted  map[string]struct{}
	cooldown    time.Duration
	historySize int
	mailer      Mailer
	now         func() time.Time

	mu       sync.Mutex
	lastSent map[Kind]time.Time
	history  []Event
	lastErr  string
	hooks    Hooks
	wg       sync.WaitGroup
}

// Hooks receive alert lifecycle notifications, e.g. for metrics.
type Hooks struct {
	Triggered      func(Kind)
	DeliveryFailed func(Kind)
}

// NewManager creates an alert manager. restricted labels are matched case
// insensitively. mailer may be nil, in which case triggered alerts are only
// recorded.
func NewManager(capacity int, restricted []string, cooldown time.Duration, historySize int, mailer Mailer) *Manager {
	set := make(map[string]struct{}, len(restricted))
	for _, label := range restricted {
		set[strings.ToLower(label)] = struct{}{}
	}
	if historySize < 1 {
		historySize = 16
	}
	return &Manager{
		capacity:    capacity,
		restricted:  set,
		cooldown:    cooldown,
		historySize: historySize,
		mailer:      mailer,
		now:         time.Now,
		lastSent:    make(map[Kind]time.Time),
	}
}

// Capacity returns the configured capacity limit.
func (m *Manager) Capacity() int { return m.capacity }

// SetHooks installs lifecycle hooks. Call before the pipeline starts.
func (m *Manager) SetHooks(h Hooks) {
	m.hooks = h
}

// Evaluate checks both conditions for one frame and returns the kinds that
// are active this frame (for overlay banners), regardless of cooldown state.
func (m *Manager) Evaluate(counts counter.Counts, detections []types.Detection) []Kind {
	var active []Kind

	if exceeded, worst := m.capacityExceeded(counts); exceeded {
		active = append(active, KindCapacity)
		m.trigger(Event{
			Kind:     KindCapacity,
			Message:  fmt.Sprintf("Current count of %d has exceeded the set capacity of %d.", worst, m.capacity),
			Count:    worst,
			Capacity: m.capacity,
		})
	}

	if labels := m.restrictedLabels(detections); len(labels) > 0 {
		active = append(active, KindRestricted)
		m.trigger(Event{
			Kind:    KindRestricted,
			Message: fmt.Sprintf("Restricted item(s) detected: %s.", strings.Join(labels, ", ")),
			Labels:  labels,
		})
	}

	return active
}

func (m *Manager) capacityExceeded(counts counter.Counts) (bool, int) {
	worst := counts.Total
	for _, lane := range counts.Lanes {
		if lane > worst {
			worst = lane
		}
	}
	return worst > m.capacity, worst
}

func (m *Manager) restrictedLabels(detections []types.Detection) []string {
	if len(m.restricted) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var labels []string
	for _, det := range detections {
		key := strings.ToLower(det.Label)
		if _, ok := m.restricted[key]; !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		labels = append(labels, det.Label)
	}
	sort.Strings(labels)
	return labels
}

// trigger applies the cooldown gate. The last-sent timestamp is claimed under
// the lock before the asynchronous send starts, so concurrent frames can
// never double-send within a window.
func (m *Manager) trigger(event Event) {
	m.mu.Lock()
	now := m.now()
	if last, ok := m.lastSent[event.Kind]; ok && now.Sub(last) < m.cooldown {
		m.mu.Unlock()
		return
	}
	m.lastSent[event.Kind] = now
	event.SentAt = now

	m.history = append([]Event{event}, m.history...)
	if len(m.history) > m.historySize {
		m.history = m.history[:m.historySize]
	}
	m.mu.Unlock()

	logger.Info("Alert", "%s alert triggered: %s", event.Kind, event.Message)
	if m.hooks.Triggered != nil {
		m.hooks.Triggered(event.Kind)
	}

	if m.mailer == nil {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		subject := subjectFor(event.Kind)
		body := fmt.Sprintf("Alert Type: %s\n\nDetails: %s", subject, event.Message)
		if err := m.mailer.Send(subject, body); err != nil {
			derr := &DeliveryError{Kind: event.Kind, Err: err}
			logger.Error("Alert", "%v", derr)
			m.mu.Lock()
			m.lastErr = derr.Error()
			m.mu.Unlock()
			if m.hooks.DeliveryFailed != nil {
				m.hooks.DeliveryFailed(event.Kind)
			}
			return
		}
		logger.Info("Alert", "%s alert email sent", event.Kind)
	}()
}

func subjectFor(kind Kind) string {
	switch kind {
	case KindCapacity:
		return "Capacity Alert"
	case KindRestricted:
		return "Restricted Item Alert"
	default:
		return "Alert"
	}
}

// History returns the recorded alert events, most recent first.
func (m *Manager) History() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.history))
	copy(out, m.history)
	return out
}

// LastEvent returns the most recent alert event, if any.
func (m *Manager) LastEvent() (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return Event{}, false
	}
	return m.history[0], true
}

// LastDeliveryError returns the most recent delivery failure message, or ""
// if every send so far succeeded.
func (m *Manager) LastDeliveryError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Flush waits for in-flight email sends to finish. Used on shutdown and by
// tests.
func (m *Manager) Flush() {
	m.wg.Wait()
}
