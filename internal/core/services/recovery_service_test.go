package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"alpinenet/internal/core/domain"
)

func TestRecovery_BurstEntryIsImmediate(t *testing.T) {
	m := NewRecoveryMonitor()
	state := m.Observe(domain.NetworkMetrics{MaxLossGap: 6}, false)
	assert.Equal(t, domain.RecoveryActive, state.Phase)
	assert.Equal(t, domain.RecoveryBurstLoss, state.Reason)
}

func TestRecovery_GapAtThresholdDoesNotTrigger(t *testing.T) {
	m := NewRecoveryMonitor()
	state := m.Observe(domain.NetworkMetrics{MaxLossGap: RecoveryBurstGap}, true)
	assert.Equal(t, domain.RecoveryIdle, state.Phase)
}

func TestRecovery_SustainedNeedsConsecutiveWindows(t *testing.T) {
	m := NewRecoveryMonitor()
	lossy := domain.NetworkMetrics{LossRatio: 0.35}

	state := m.Observe(lossy, true)
	assert.Equal(t, domain.RecoveryIdle, state.Phase)

	// A clean window in between resets the streak.
	m.Observe(domain.NetworkMetrics{LossRatio: 0.0}, true)
	state = m.Observe(lossy, true)
	assert.Equal(t, domain.RecoveryIdle, state.Phase)

	state = m.Observe(lossy, true)
	assert.Equal(t, domain.RecoveryActive, state.Phase)
	assert.Equal(t, domain.RecoverySustainedLoss, state.Reason)
}

func TestRecovery_MidWindowSamplesDoNotCount(t *testing.T) {
	m := NewRecoveryMonitor()
	lossy := domain.NetworkMetrics{LossRatio: 0.9}
	for i := 0; i < 10; i++ {
		state := m.Observe(lossy, false)
		assert.Equal(t, domain.RecoveryIdle, state.Phase)
	}
}

func TestRecovery_ClearsAfterTwoCleanWindows(t *testing.T) {
	m := NewRecoveryMonitor()
	m.Observe(domain.NetworkMetrics{MaxLossGap: 8}, false)

	clean := domain.NetworkMetrics{LossRatio: 0.01, MaxLossGap: 1}
	state := m.Observe(clean, true)
	assert.Equal(t, domain.RecoveryActive, state.Phase)

	// Residual loss resets the clear streak.
	state = m.Observe(domain.NetworkMetrics{LossRatio: 0.2, MaxLossGap: 2}, true)
	assert.Equal(t, domain.RecoveryActive, state.Phase)

	m.Observe(clean, true)
	state = m.Observe(clean, true)
	assert.Equal(t, domain.RecoveryComplete, state.Phase)
	assert.Equal(t, domain.RecoveryBurstLoss, state.Reason)
}

func TestRecovery_CompleteIsOneShot(t *testing.T) {
	m := NewRecoveryMonitor()
	m.Observe(domain.NetworkMetrics{MaxLossGap: 8}, false)
	clean := domain.NetworkMetrics{LossRatio: 0, MaxLossGap: 0}
	m.Observe(clean, true)
	m.Observe(clean, true)
	assert.Equal(t, domain.RecoveryComplete, m.State().Phase)

	// Complete holds until consumed, then consumes exactly once.
	m.Observe(clean, true)
	assert.Equal(t, domain.RecoveryComplete, m.State().Phase)
	assert.True(t, m.ConsumeComplete())
	assert.False(t, m.ConsumeComplete())
	assert.Equal(t, domain.RecoveryIdle, m.State().Phase)
}
