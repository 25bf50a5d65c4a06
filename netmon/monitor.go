// Package netmon tracks connectivity status and quality for the client
// context the auth flows run in. The platform specifics (browser events,
// OS signals, probe endpoints) live behind ConnectivitySource so the
// monitor is testable without any of them.
package netmon

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status is the coarse connectivity state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Quality classifies a usable connection by speed.
type Quality string

const (
	QualityFast        Quality = "fast"
	QualityMedium      Quality = "medium"
	QualitySlow        Quality = "slow"
	QualityVerySlow    Quality = "very-slow"
	QualityUnavailable Quality = "unavailable"
)

// Operation names a class of work with its own connectivity needs.
type Operation string

const (
	// OperationAuth covers token exchanges and session calls; it only
	// needs the connection to not be unavailable.
	OperationAuth Operation = "auth"
	// OperationSync covers queue replay and profile sync.
	OperationSync Operation = "sync"
	// OperationStreaming needs a fast connection with excellent
	// reliability.
	OperationStreaming Operation = "streaming"
)

// Sample is one connectivity observation from the platform.
type Sample struct {
	Online        bool
	EffectiveType string        // e.g. "4g", "3g", "2g", "slow-2g"
	DownlinkMbps  float64       // 0 when unknown
	RTT           time.Duration // 0 when unknown
}

// ConnectivitySource abstracts the platform's connectivity signals.
type ConnectivitySource interface {
	// Probe returns the current connectivity observation.
	Probe(ctx context.Context) Sample
	// Transitions returns a channel delivering immediate online/offline
	// flips between probes. May return nil if the platform has no
	// push signal.
	Transitions() <-chan Sample
}

// Monitor polls a ConnectivitySource and exposes status, quality, and
// transition callbacks. Safe for concurrent use.
type Monitor struct {
	source        ConnectivitySource
	log           zerolog.Logger
	probeInterval time.Duration

	mu             sync.RWMutex
	current        Sample
	waiters        []chan struct{}
	listeners      []func(Status)
	probeListeners []func(Status)
}

// MonitorOption modifies a Monitor instance.
type MonitorOption func(*Monitor)

// WithProbeInterval overrides the default 30s polling interval.
func WithProbeInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.probeInterval = d
	}
}

// NewMonitor creates a monitor around a connectivity source. The initial
// status is whatever the source reports on the first probe; before Run is
// called the monitor assumes online so it never spuriously defers work.
func NewMonitor(source ConnectivitySource, log zerolog.Logger, options ...MonitorOption) *Monitor {
	m := &Monitor{
		source:        source,
		log:           log,
		probeInterval: 30 * time.Second,
		current:       Sample{Online: true},
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Run drives the probe loop until ctx is done. It also consumes the
// source's immediate transition signal when one is available.
func (m *Monitor) Run(ctx context.Context) {
	m.observe(m.source.Probe(ctx))

	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	transitions := m.source.Transitions()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.observe(m.source.Probe(ctx))
		case sample, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			m.observe(sample)
		}
	}
}

// observe records a sample, firing waiters and transition listeners on an
// offline → online transition and probe listeners on every sample.
func (m *Monitor) observe(sample Sample) {
	m.mu.Lock()
	wasOnline := m.current.Online
	m.current = sample

	var toRelease []chan struct{}
	var listeners []func(Status)
	if sample.Online != wasOnline {
		listeners = append(listeners, m.listeners...)
	}
	probeListeners := append(([]func(Status))(nil), m.probeListeners...)
	if sample.Online && !wasOnline {
		toRelease = m.waiters
		m.waiters = nil
	}
	m.mu.Unlock()

	if sample.Online != wasOnline {
		m.log.Info().Bool("online", sample.Online).Msg("connectivity transition")
	}
	for _, ch := range toRelease {
		close(ch)
	}
	status := StatusOffline
	if sample.Online {
		status = StatusOnline
	}
	for _, fn := range listeners {
		fn(status)
	}
	for _, fn := range probeListeners {
		fn(status)
	}
}

// Status returns the coarse connectivity state.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current.Online {
		return StatusOnline
	}
	return StatusOffline
}

// Quality classifies the current connection.
func (m *Monitor) Quality() Quality {
	m.mu.RLock()
	sample := m.current
	m.mu.RUnlock()
	return classify(sample)
}

func classify(s Sample) Quality {
	if !s.Online {
		return QualityUnavailable
	}
	switch s.EffectiveType {
	case "slow-2g":
		return QualityVerySlow
	case "2g":
		return QualitySlow
	case "3g":
		return QualityMedium
	case "4g", "5g":
		// Downgrade nominally fast links with poor measurements.
		if s.RTT > 500*time.Millisecond || (s.DownlinkMbps > 0 && s.DownlinkMbps < 1) {
			return QualityMedium
		}
		return QualityFast
	}
	// No hints available: infer from measurements, defaulting to medium.
	if s.RTT > time.Second {
		return QualityVerySlow
	}
	if s.RTT > 500*time.Millisecond {
		return QualitySlow
	}
	if s.DownlinkMbps >= 5 && s.RTT > 0 && s.RTT < 150*time.Millisecond {
		return QualityFast
	}
	return QualityMedium
}

// SuitableFor reports whether the current connection can support the given
// operation class.
func (m *Monitor) SuitableFor(op Operation) bool {
	q := m.Quality()
	switch op {
	case OperationAuth:
		return q != QualityUnavailable
	case OperationSync:
		return q != QualityUnavailable && q != QualityVerySlow
	case OperationStreaming:
		m.mu.RLock()
		rtt := m.current.RTT
		m.mu.RUnlock()
		return q == QualityFast && rtt < 200*time.Millisecond
	}
	return q != QualityUnavailable
}

// OnTransition registers a callback invoked on every online/offline flip.
// Callbacks run on the monitor goroutine and must not block.
func (m *Monitor) OnTransition(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// OnProbe registers a callback invoked after every observation, whether or
// not the status changed: each periodic probe, each transition signal, and
// the initial probe in Run. Callbacks run on the monitor goroutine and must
// not block.
func (m *Monitor) OnProbe(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeListeners = append(m.probeListeners, fn)
}

// WaitForOnline returns true immediately when already online, otherwise
// blocks until the next online transition, the timeout elapses, or ctx is
// done. A timeout or cancellation returns false.
func (m *Monitor) WaitForOnline(ctx context.Context, timeout time.Duration) bool {
	m.mu.Lock()
	if m.current.Online {
		m.mu.Unlock()
		return true
	}
	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
