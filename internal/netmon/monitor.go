// Package netmon probes server reachability, tracks latency history,
// classifies connection quality and drives reconnection backoff.
package netmon

import (
	"log/slog"
	"sync"
	"time"

	"github.com/marlow/boardsync/internal/events"
	"github.com/marlow/boardsync/internal/retry"
)

const (
	// DefaultProbeInterval is the steady-state liveness probe period.
	DefaultProbeInterval = 5 * time.Second

	ringSize         = 10
	stableWindow     = 5
	stableRate       = 0.8
	stableMaxLatency = 500 * time.Millisecond
)

// PingResult is a single probe outcome.
type PingResult struct {
	Timestamp time.Time
	Latency   time.Duration
	Success   bool
}

// ConnectionMetrics is the monitor's externally visible state.
type ConnectionMetrics struct {
	Latency                  time.Duration
	Quality                  Quality
	IsOnline                 bool
	ReconnectAttempts        int
	LastSuccessfulConnection time.Time
	PacketsLost              int64
	TotalPackets             int64
}

// Prober performs a single liveness probe. Satisfied by
// *syncclient.Client.
type Prober interface {
	Ping() (time.Duration, error)
}

// ChangeNotifier is a pluggable source of host-platform network-change
// notifications. A notification triggers an immediate re-probe instead of
// waiting for the next tick.
type ChangeNotifier interface {
	Changes() <-chan struct{}
}

// Monitor is the connection monitor state machine: online, reconnecting
// with backoff, or offline after the attempt budget is spent.
type Monitor struct {
	prober   Prober
	clock    retry.Clock
	notifier ChangeNotifier
	stream   *events.Stream

	ProbeInterval time.Duration
	Policy        retry.Policy

	mu                sync.Mutex
	online            bool
	everProbed        bool
	quality           Quality
	reconnectAttempts int
	lastSuccess       time.Time
	packetsLost       int64
	totalPackets      int64
	ring              []PingResult
	retryTimer        retry.Timer
	ticker            retry.Ticker
	destroyed         bool
	done              chan struct{}
}

// New creates a monitor. Pass nil notifier when the host platform offers
// no network-change signal.
func New(prober Prober, clock retry.Clock, notifier ChangeNotifier) *Monitor {
	return &Monitor{
		prober:        prober,
		clock:         clock,
		notifier:      notifier,
		stream:        events.NewStream(),
		ProbeInterval: DefaultProbeInterval,
		Policy:        retry.ReconnectPolicy(),
		quality:       QualityUnknown,
		done:          make(chan struct{}),
	}
}

// Events exposes the monitor's lifecycle stream.
func (m *Monitor) Events() *events.Stream {
	return m.stream
}

// Start probes immediately and then begins the periodic probe loop.
func (m *Monitor) Start() {
	m.mu.Lock()
	m.ticker = m.clock.NewTicker(m.ProbeInterval)
	ticker := m.ticker
	m.mu.Unlock()

	m.Probe()

	var changes <-chan struct{}
	if m.notifier != nil {
		changes = m.notifier.Changes()
	}

	go func() {
		for {
			select {
			case <-m.done:
				return
			case <-ticker.C():
				// While offline the backoff timer owns probing.
				if m.isOnline() {
					m.Probe()
				}
			case _, ok := <-changes:
				if !ok {
					changes = nil
					continue
				}
				slog.Debug("network change notification, probing")
				m.Probe()
			}
		}
	}()
}

// Probe performs one synchronous liveness probe and updates state.
func (m *Monitor) Probe() PingResult {
	latency, err := m.prober.Ping()

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return PingResult{Timestamp: m.clock.Now(), Success: false}
	}

	result := PingResult{Timestamp: m.clock.Now(), Latency: latency, Success: err == nil}
	m.record(result)

	var evs []events.Event
	if err == nil {
		evs = m.probeSucceededLocked(result)
	} else {
		slog.Debug("probe failed", "err", err)
		evs = m.probeFailedLocked()
	}
	m.mu.Unlock()

	for _, ev := range evs {
		m.stream.Publish(ev)
	}
	return result
}

func (m *Monitor) probeSucceededLocked(r PingResult) []events.Event {
	var evs []events.Event

	wasOffline := m.everProbed && !m.online
	m.everProbed = true
	m.online = true
	m.reconnectAttempts = 0
	m.lastSuccess = r.Timestamp
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}

	if wasOffline {
		slog.Info("connection restored", "latency", r.Latency)
		evs = append(evs, events.Event{
			Type:    events.ConnectionRestored,
			Payload: events.ConnectionPayload{Online: true, Quality: string(Classify(r.Latency)), Latency: r.Latency},
		})
	}

	// Quality events fire only on bucket changes, not sub-threshold jitter.
	q := Classify(r.Latency)
	if q != m.quality {
		prev := m.quality
		m.quality = q
		evs = append(evs, events.Event{
			Type: events.ConnectionQuality,
			Payload: events.ConnectionPayload{
				Online: true, Quality: string(q), PreviousQuality: string(prev), Latency: r.Latency,
			},
		})
	}
	return evs
}

func (m *Monitor) probeFailedLocked() []events.Event {
	var evs []events.Event

	wasOnline := m.online
	m.everProbed = true
	m.online = false

	if wasOnline {
		slog.Warn("connection lost")
		evs = append(evs, events.Event{
			Type:    events.ConnectionLost,
			Payload: events.ConnectionPayload{Online: false, Quality: string(m.quality)},
		})
	}

	if m.Policy.Exhausted(m.reconnectAttempts) {
		slog.Warn("reconnect budget spent, automatic probing stopped",
			"attempts", m.reconnectAttempts)
		return evs
	}

	delay := m.Policy.Delay(m.reconnectAttempts)
	m.reconnectAttempts++
	slog.Debug("scheduling reconnect probe", "attempt", m.reconnectAttempts, "delay", delay)
	m.retryTimer = m.clock.AfterFunc(delay, func() {
		m.Probe()
	})
	return evs
}

func (m *Monitor) record(r PingResult) {
	m.totalPackets++
	if !r.Success {
		m.packetsLost++
	}
	m.ring = append(m.ring, r)
	if len(m.ring) > ringSize {
		m.ring = m.ring[len(m.ring)-ringSize:]
	}
}

// ForceReconnect resets the attempt counter and metrics and probes
// immediately. It is the only way to resume probing once the automatic
// budget is spent.
func (m *Monitor) ForceReconnect() PingResult {
	m.mu.Lock()
	m.reconnectAttempts = 0
	m.packetsLost = 0
	m.totalPackets = 0
	m.ring = nil
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.mu.Unlock()
	return m.Probe()
}

// IsOnline reports the raw reachability state.
func (m *Monitor) IsOnline() bool {
	return m.isOnline()
}

func (m *Monitor) isOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// IsStable gates whether the queue manager attempts a send: the success
// rate over the recent probe window must be at least 80% and the latest
// successful latency under 500ms. A technically online but lossy link
// should queue rather than thrash.
func (m *Monitor) IsStable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.online || len(m.ring) == 0 {
		return false
	}

	window := m.ring
	if len(window) > stableWindow {
		window = window[len(window)-stableWindow:]
	}
	ok := 0
	var latest *PingResult
	for i := range window {
		if window[i].Success {
			ok++
			latest = &window[i]
		}
	}
	if latest == nil {
		return false
	}
	rate := float64(ok) / float64(len(window))
	return rate >= stableRate && latest.Latency < stableMaxLatency
}

// Metrics returns a snapshot of the monitor's state.
func (m *Monitor) Metrics() ConnectionMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	cm := ConnectionMetrics{
		Quality:                  m.quality,
		IsOnline:                 m.online,
		ReconnectAttempts:        m.reconnectAttempts,
		LastSuccessfulConnection: m.lastSuccess,
		PacketsLost:              m.packetsLost,
		TotalPackets:             m.totalPackets,
	}
	for i := len(m.ring) - 1; i >= 0; i-- {
		if m.ring[i].Success {
			cm.Latency = m.ring[i].Latency
			break
		}
	}
	return cm
}

// History returns the probe ring buffer, oldest first.
func (m *Monitor) History() []PingResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PingResult, len(m.ring))
	copy(out, m.ring)
	return out
}

// Destroy stops all timers and drops all subscribers. In-flight probe
// callbacks check the destroyed flag before touching state.
func (m *Monitor) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	if m.ticker != nil {
		m.ticker.Stop()
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	close(m.done)
	m.mu.Unlock()

	m.stream.Close()
}
