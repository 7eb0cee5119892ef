package services

import (
	"sync"

	"alpinenet/internal/core/domain"
)

// NetworkWindowSize is the number of observed arrivals the conditions
// window holds. Metrics are computed over exactly this many frames once
// the window has filled.
const NetworkWindowSize = 8

type arrival struct {
	seq        uint64
	arrivalUs  uint64
	deadlineUs uint64
}

// NetworkMonitor maintains the fixed-size sliding window of observed
// (sequence, arrival, deadline) tuples for one stream and derives the
// deterministic health metrics from it. The metrics are a pure function
// of the window contents: replaying an identical arrival trace
// reproduces identical values bit-for-bit.
type NetworkMonitor struct {
	mu       sync.Mutex
	window   []arrival
	arrivals uint64
}

// NewNetworkMonitor creates an empty monitor.
func NewNetworkMonitor() *NetworkMonitor {
	return &NetworkMonitor{window: make([]arrival, 0, NetworkWindowSize)}
}

// RecordArrival feeds one observed frame arrival. Out-of-order and
// duplicate sequences do not affect the window; the streaming gate
// rejects them before application anyway. The second return value is
// true when this arrival completes a window, which is when the recovery
// monitor and adaptation engine evaluate window-scoped rules.
func (m *NetworkMonitor) RecordArrival(seq, arrivalUs, deadlineUs uint64) (domain.NetworkMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n := len(m.window); n > 0 && seq <= m.window[n-1].seq {
		return computeMetrics(m.window), false
	}

	if len(m.window) == NetworkWindowSize {
		copy(m.window, m.window[1:])
		m.window = m.window[:NetworkWindowSize-1]
	}
	m.window = append(m.window, arrival{seq: seq, arrivalUs: arrivalUs, deadlineUs: deadlineUs})
	m.arrivals++

	return computeMetrics(m.window), m.arrivals%NetworkWindowSize == 0
}

// Snapshot returns the current metrics without mutating the window.
func (m *NetworkMonitor) Snapshot() domain.NetworkMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return computeMetrics(m.window)
}

// computeMetrics derives the four health metrics from the window. Kept
// free of any clock or state access so the determinism property holds
// by construction.
func computeMetrics(window []arrival) domain.NetworkMetrics {
	metrics := domain.NetworkMetrics{WindowFrames: len(window)}
	if len(window) == 0 {
		return metrics
	}

	// Loss and burst gaps from the sequence coverage of the window.
	expected := window[len(window)-1].seq - window[0].seq + 1
	observed := uint64(len(window))
	if expected > observed {
		metrics.LossRatio = float64(expected-observed) / float64(expected)
	}
	for i := 1; i < len(window); i++ {
		if gap := window[i].seq - window[i-1].seq - 1; gap > metrics.MaxLossGap {
			metrics.MaxLossGap = gap
		}
	}

	// Late frames against their per-frame deadlines.
	late := 0
	for _, a := range window {
		if a.arrivalUs > a.deadlineUs {
			late++
		}
	}
	metrics.LateFrameRate = float64(late) / float64(len(window))

	// Jitter as the mean absolute deviation of inter-arrival intervals.
	if len(window) >= 3 {
		intervals := make([]float64, 0, len(window)-1)
		for i := 1; i < len(window); i++ {
			intervals = append(intervals, float64(window[i].arrivalUs-window[i-1].arrivalUs))
		}
		var sum float64
		for _, iv := range intervals {
			sum += iv
		}
		mean := sum / float64(len(intervals))
		var dev float64
		for _, iv := range intervals {
			if iv > mean {
				dev += iv - mean
			} else {
				dev += mean - iv
			}
		}
		metrics.JitterMs = dev / float64(len(intervals)) / 1000.0
		metrics.JitterValid = true
	}

	return metrics
}
