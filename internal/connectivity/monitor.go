package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stacklok/offline-sync/internal/events"
)

const (
	// DefaultCheckInterval is the period between background probes
	DefaultCheckInterval = 30 * time.Second

	// DefaultTimeout bounds each endpoint probe
	DefaultTimeout = 5 * time.Second

	checkKey = "check"
)

// EventType names a connectivity event
type EventType string

const (
	// EventOnline fires when the monitor transitions to online
	EventOnline EventType = "online"

	// EventOffline fires when the monitor transitions to offline
	EventOffline EventType = "offline"

	// EventStatusChanged fires after every transition, following EventOnline or EventOffline
	EventStatusChanged EventType = "statusChanged"
)

// Event is delivered to subscribers on a status transition
type Event struct {
	Type   EventType
	Status Status
}

// Status is a snapshot of the monitor state
type Status struct {
	IsOnline            bool       `json:"isOnline"`
	LastChecked         *time.Time `json:"lastChecked,omitempty"`
	LastOnline          *time.Time `json:"lastOnline,omitempty"`
	LastOffline         *time.Time `json:"lastOffline,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
}

// Config controls probing
type Config struct {
	// Endpoints are tried in order until one answers
	Endpoints []string

	// CheckInterval is the period between background probes
	CheckInterval time.Duration

	// Timeout applies to each endpoint separately
	Timeout time.Duration
}

// MetricsRecorder receives the result of every check
type MetricsRecorder interface {
	RecordOnline(ctx context.Context, online bool)
}

// Monitor polls the configured endpoints and publishes transitions. The zero
// state is offline until the first successful check.
type Monitor struct {
	prober  Prober
	cfg     Config
	metrics MetricsRecorder
	now     func() time.Time

	group singleflight.Group
	bus   events.Bus[Event]

	mu       sync.RWMutex
	status   Status
	checked  bool
	onlineCh chan struct{}

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// Option configures a Monitor
type Option func(*Monitor)

// WithMetrics records the online gauge on every check
func WithMetrics(m MetricsRecorder) Option {
	return func(mon *Monitor) {
		mon.metrics = m
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(mon *Monitor) {
		mon.now = now
	}
}

// NewMonitor creates a stopped monitor
func NewMonitor(prober Prober, cfg Config, opts ...Option) (*Monitor, error) {
	if prober == nil {
		return nil, errors.New("prober is required")
	}
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("at least one connectivity endpoint is required")
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	m := &Monitor{
		prober:   prober,
		cfg:      cfg,
		now:      time.Now,
		onlineCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Subscribe registers fn for online, offline and statusChanged events
func (m *Monitor) Subscribe(fn events.Listener[Event]) (unsubscribe func()) {
	return m.bus.Subscribe(fn)
}

// Start performs one check and then polls in the background until Stop is
// called or ctx is cancelled. Calling Start on a running monitor does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.lifecycleMu.Lock()
	if m.cancel != nil {
		m.lifecycleMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.lifecycleMu.Unlock()

	slog.Info("Starting connectivity monitor",
		"endpoints", m.cfg.Endpoints,
		"interval", m.cfg.CheckInterval)

	m.CheckConnectivity(pollCtx)
	go m.poll(pollCtx, done)
}

// Stop cancels background polling and waits for it to exit
func (m *Monitor) Stop() {
	m.lifecycleMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.done = nil
	m.lifecycleMu.Unlock()

	if cancel == nil {
		return
	}
	slog.Info("Stopping connectivity monitor")
	cancel()
	<-done
}

// Running reports whether background polling is active
func (m *Monitor) Running() bool {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	return m.cancel != nil
}

func (m *Monitor) poll(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CheckConnectivity(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckConnectivity probes the endpoints in order and reports whether any of
// them answered. Concurrent callers share a single in-flight check.
func (m *Monitor) CheckConnectivity(ctx context.Context) bool {
	// The shared check must not be cut short by whichever caller started it
	checkCtx := context.WithoutCancel(ctx)

	ch := m.group.DoChan(checkKey, func() (any, error) {
		online := m.probeAll(checkCtx)
		m.record(checkCtx, online)
		return online, nil
	})

	select {
	case res := <-ch:
		online, _ := res.Val.(bool)
		return online
	case <-ctx.Done():
		return m.IsOnline()
	}
}

func (m *Monitor) probeAll(ctx context.Context) bool {
	for _, endpoint := range m.cfg.Endpoints {
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		err := m.prober.Probe(probeCtx, endpoint)
		cancel()
		if err == nil {
			return true
		}
		slog.Debug("Connectivity probe failed", "endpoint", endpoint, "error", err)
	}
	return false
}

func (m *Monitor) record(ctx context.Context, online bool) {
	m.mu.Lock()
	now := m.now().UTC()
	wasOnline := m.status.IsOnline
	first := !m.checked
	m.checked = true

	m.status.LastChecked = &now
	if online {
		m.status.ConsecutiveFailures = 0
	} else {
		m.status.ConsecutiveFailures++
	}

	changed := online != wasOnline
	if changed {
		m.status.IsOnline = online
		if online {
			m.status.LastOnline = &now
			close(m.onlineCh)
		} else {
			m.status.LastOffline = &now
			m.onlineCh = make(chan struct{})
		}
	} else if first && !online {
		// Baseline for the offline duration when starting without a network
		m.status.LastOffline = &now
	}
	snapshot := m.status
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordOnline(ctx, online)
	}
	if !changed {
		return
	}

	eventType := EventOffline
	if online {
		eventType = EventOnline
		slog.Info("Connectivity restored", "endpoints", m.cfg.Endpoints)
	} else {
		slog.Warn("Connectivity lost", "consecutive_failures", snapshot.ConsecutiveFailures)
	}
	m.bus.Publish(Event{Type: eventType, Status: snapshot})
	m.bus.Publish(Event{Type: EventStatusChanged, Status: snapshot})
}

// IsOnline returns the result of the most recent check
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.IsOnline
}

// Status returns a snapshot of the monitor state
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// WaitForConnection returns true as soon as the monitor is online. It returns
// false when timeout elapses or ctx is done first. A zero timeout waits on ctx only.
func (m *Monitor) WaitForConnection(ctx context.Context, timeout time.Duration) bool {
	m.mu.RLock()
	online, ch := m.status.IsOnline, m.onlineCh
	m.mu.RUnlock()
	if online {
		return true
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

// GetOfflineDuration returns how long the monitor has been offline. ok is false
// while online or before the first check.
func (m *Monitor) GetOfflineDuration() (d time.Duration, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status.IsOnline || m.status.LastOffline == nil {
		return 0, false
	}
	return m.now().Sub(*m.status.LastOffline), true
}
