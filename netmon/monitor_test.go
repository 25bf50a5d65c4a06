package netmon_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/storefront-labs/authcore/netmon"
)

// fakeSource is a scriptable ConnectivitySource.
type fakeSource struct {
	mu          sync.Mutex
	sample      netmon.Sample
	transitions chan netmon.Sample
}

func newFakeSource(online bool) *fakeSource {
	return &fakeSource{
		sample:      netmon.Sample{Online: online},
		transitions: make(chan netmon.Sample, 4),
	}
}

func (f *fakeSource) Probe(context.Context) netmon.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sample
}

func (f *fakeSource) Transitions() <-chan netmon.Sample {
	return f.transitions
}

func (f *fakeSource) flip(sample netmon.Sample) {
	f.mu.Lock()
	f.sample = sample
	f.mu.Unlock()
	f.transitions <- sample
}

func TestWaitForOnlineImmediateWhenOnline(t *testing.T) {
	source := newFakeSource(true)
	m := netmon.NewMonitor(source, zerolog.Nop())

	require.True(t, m.WaitForOnline(context.Background(), time.Millisecond))
}

func TestWaitForOnlineResolvesOnTransition(t *testing.T) {
	source := newFakeSource(false)
	m := netmon.NewMonitor(source, zerolog.Nop(), netmon.WithProbeInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// Wait until the initial probe marks us offline.
	require.Eventually(t, func() bool {
		return m.Status() == netmon.StatusOffline
	}, time.Second, time.Millisecond)

	done := make(chan bool, 1)
	go func() {
		done <- m.WaitForOnline(context.Background(), 5*time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	source.flip(netmon.Sample{Online: true, EffectiveType: "4g"})

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("WaitForOnline did not resolve")
	}
}

func TestWaitForOnlineTimesOut(t *testing.T) {
	source := newFakeSource(false)
	m := netmon.NewMonitor(source, zerolog.Nop(), netmon.WithProbeInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		return m.Status() == netmon.StatusOffline
	}, time.Second, time.Millisecond)

	require.False(t, m.WaitForOnline(context.Background(), 20*time.Millisecond))
}

func TestTransitionCallbacksFire(t *testing.T) {
	source := newFakeSource(true)
	m := netmon.NewMonitor(source, zerolog.Nop(), netmon.WithProbeInterval(time.Hour))

	var mu sync.Mutex
	var seen []netmon.Status
	m.OnTransition(func(status netmon.Status) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, status)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	time.Sleep(10 * time.Millisecond)
	source.flip(netmon.Sample{Online: false})
	source.flip(netmon.Sample{Online: true})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2 && seen[0] == netmon.StatusOffline && seen[1] == netmon.StatusOnline
	}, time.Second, time.Millisecond)
}

func TestProbeCallbacksFireOnEverySample(t *testing.T) {
	source := newFakeSource(true)
	m := netmon.NewMonitor(source, zerolog.Nop(), netmon.WithProbeInterval(5*time.Millisecond))

	var mu sync.Mutex
	var seen []netmon.Status
	m.OnProbe(func(status netmon.Status) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, status)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// Probe callbacks keep firing while the status never changes.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, status := range seen {
		require.Equal(t, netmon.StatusOnline, status)
	}
}

func TestQualityClassification(t *testing.T) {
	tests := []struct {
		name   string
		sample netmon.Sample
		want   netmon.Quality
	}{
		{"offline", netmon.Sample{Online: false}, netmon.QualityUnavailable},
		{"slow 2g", netmon.Sample{Online: true, EffectiveType: "slow-2g"}, netmon.QualityVerySlow},
		{"2g", netmon.Sample{Online: true, EffectiveType: "2g"}, netmon.QualitySlow},
		{"3g", netmon.Sample{Online: true, EffectiveType: "3g"}, netmon.QualityMedium},
		{"4g", netmon.Sample{Online: true, EffectiveType: "4g", DownlinkMbps: 10, RTT: 50 * time.Millisecond}, netmon.QualityFast},
		{"4g high rtt", netmon.Sample{Online: true, EffectiveType: "4g", RTT: 800 * time.Millisecond}, netmon.QualityMedium},
		{"no hints fast", netmon.Sample{Online: true, DownlinkMbps: 20, RTT: 40 * time.Millisecond}, netmon.QualityFast},
		{"no hints default", netmon.Sample{Online: true}, netmon.QualityMedium},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			source := newFakeSource(true)
			source.sample = tc.sample
			m := netmon.NewMonitor(source, zerolog.Nop(), netmon.WithProbeInterval(time.Hour))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go m.Run(ctx)

			require.Eventually(t, func() bool {
				return m.Quality() == tc.want
			}, time.Second, time.Millisecond)
		})
	}
}

func TestOperationSuitability(t *testing.T) {
	source := newFakeSource(true)
	source.sample = netmon.Sample{Online: true, EffectiveType: "2g"}
	m := netmon.NewMonitor(source, zerolog.Nop(), netmon.WithProbeInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		return m.Quality() == netmon.QualitySlow
	}, time.Second, time.Millisecond)

	// Auth only needs the network to not be unavailable.
	require.True(t, m.SuitableFor(netmon.OperationAuth))
	// Streaming needs a fast connection.
	require.False(t, m.SuitableFor(netmon.OperationStreaming))

	source.flip(netmon.Sample{Online: false})
	require.Eventually(t, func() bool {
		return m.Status() == netmon.StatusOffline
	}, time.Second, time.Millisecond)
	require.False(t, m.SuitableFor(netmon.OperationAuth))

	source.flip(netmon.Sample{Online: true, EffectiveType: "4g", DownlinkMbps: 25, RTT: 30 * time.Millisecond})
	require.Eventually(t, func() bool {
		return m.SuitableFor(netmon.OperationStreaming)
	}, time.Second, time.Millisecond)
}
