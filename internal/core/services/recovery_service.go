package services

import (
	"sync"

	"alpinenet/internal/core/domain"
)

// Recovery thresholds. Sustained loss is judged per completed window,
// burst loss fires on any observation.
const (
	SustainedLossThreshold = 0.25
	SustainedLossWindows   = 2
	RecoveryBurstGap       = 5
	RecoveryClearLoss      = 0.05
	RecoveryClearGap       = 1
	RecoveryClearWindows   = 2
)

// RecoveryMonitor tracks whether the stream is inside a loss episode.
// Phases move Idle -> Active -> Complete -> Idle; the Complete phase is
// observed exactly once, by the caller that consumes it, so the
// adaptation reset it triggers cannot fire twice for one episode.
type RecoveryMonitor struct {
	mu           sync.Mutex
	phase        domain.RecoveryPhase
	reason       domain.RecoveryReason
	overWindows  int
	clearWindows int
}

// NewRecoveryMonitor creates a monitor in the Idle phase.
func NewRecoveryMonitor() *RecoveryMonitor {
	return &RecoveryMonitor{phase: domain.RecoveryIdle}
}

// Observe feeds one metrics sample. Burst entry is immediate on any
// sample; sustained entry and clearing are evaluated only when the
// sample completes a conditions window.
func (m *RecoveryMonitor) Observe(metrics domain.NetworkMetrics, windowComplete bool) domain.RecoveryState {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case domain.RecoveryIdle:
		if metrics.MaxLossGap > RecoveryBurstGap {
			m.enter(domain.RecoveryBurstLoss)
			break
		}
		if !windowComplete {
			break
		}
		if metrics.LossRatio > SustainedLossThreshold {
			m.overWindows++
			if m.overWindows >= SustainedLossWindows {
				m.enter(domain.RecoverySustainedLoss)
			}
		} else {
			m.overWindows = 0
		}

	case domain.RecoveryActive:
		if !windowComplete {
			break
		}
		if metrics.LossRatio <= RecoveryClearLoss && metrics.MaxLossGap <= RecoveryClearGap {
			m.clearWindows++
			if m.clearWindows >= RecoveryClearWindows {
				m.phase = domain.RecoveryComplete
			}
		} else {
			m.clearWindows = 0
		}

	case domain.RecoveryComplete:
		// Held until consumed.
	}

	return domain.RecoveryState{Phase: m.phase, Reason: m.reason}
}

func (m *RecoveryMonitor) enter(reason domain.RecoveryReason) {
	m.phase = domain.RecoveryActive
	m.reason = reason
	m.overWindows = 0
	m.clearWindows = 0
}

// State returns the current phase and reason.
func (m *RecoveryMonitor) State() domain.RecoveryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.RecoveryState{Phase: m.phase, Reason: m.reason}
}

// ConsumeComplete acknowledges a Complete phase and returns the monitor
// to Idle. Returns false if the monitor was not in Complete, making the
// Idle transition a single-consumer operation.
func (m *RecoveryMonitor) ConsumeComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != domain.RecoveryComplete {
		return false
	}
	m.phase = domain.RecoveryIdle
	return true
}
