package services

import (
	"alpinenet/internal/core/domain"
)

// Adaptation rule thresholds. All normative: two compliant endpoints
// fed the same metrics sequence reach the same configuration.
const (
	DwellFrames = 8

	LossThresholdKeyframe  = 0.30
	BurstThresholdKeyframe = 5

	LateThresholdDelta     = 0.20
	JitterSpikeThresholdMs = 5.0

	LossThresholdDisable  = 0.50
	BurstThresholdDisable = 8

	LossThresholdDegrade  = 0.60
	BurstThresholdDegrade = 10

	// Deadline offsets move by this fraction of the profile's allowed
	// range per adjustment.
	DeadlineStepFraction = 0.10
)

// Decision is the outcome of one adaptation evaluation.
type Decision struct {
	State  domain.AdaptationState
	Reason domain.TransitionReason
	// ConsumedRecovery is true when the decision absorbed a
	// RecoveryComplete and the recovery monitor should return to Idle.
	ConsumedRecovery bool
}

// Decide runs the adaptation reducer over one metrics sample. It is a
// pure function of its inputs: no clocks, no randomness, no hidden
// state. Rules that read window-scoped signals (late-frame jitter
// spikes, jitter trends) only fire when windowComplete is set.
//
// Transitions only ever tighten the configuration. The single loosening
// path is the snapshot restore on RecoveryComplete, which reinstates the
// pre-episode configuration exactly.
func Decide(prev domain.AdaptationState, metrics domain.NetworkMetrics, windowComplete bool, recovery domain.RecoveryState, profile domain.CompiledProfile) Decision {
	next := prev
	next.FramesInState++
	next.LastReason = domain.ReasonNone

	// Jitter trend bookkeeping runs regardless of dwell so rule four
	// sees genuine consecutive-window movement.
	jitterSpike := false
	if windowComplete && metrics.JitterValid {
		if prev.LastJitterValid {
			delta := metrics.JitterMs - prev.LastJitterMs
			jitterSpike = delta > JitterSpikeThresholdMs
			switch {
			case delta > 0:
				if prev.JitterTrend > 0 {
					next.JitterTrend = prev.JitterTrend + 1
				} else {
					next.JitterTrend = 1
				}
			case delta < 0:
				if prev.JitterTrend < 0 {
					next.JitterTrend = prev.JitterTrend - 1
				} else {
					next.JitterTrend = -1
				}
			default:
				next.JitterTrend = 0
			}
		}
		next.LastJitterMs = metrics.JitterMs
		next.LastJitterValid = true
	}

	// Degraded-safe suspends all adaptation until recovery completes,
	// then restores the saved snapshot exactly.
	if prev.DegradedSafe {
		if recovery.Phase == domain.RecoveryComplete {
			restoreSnapshot(&next, profile)
			next.LastReason = domain.ReasonExitedDegradedSafe
			next.FramesInState = 0
			return Decision{State: next, Reason: next.LastReason, ConsumedRecovery: true}
		}
		return Decision{State: next, Reason: domain.ReasonNone}
	}

	// RecoveryComplete outside degraded-safe restores whatever snapshot
	// an earlier delta disable captured. Without a snapshot it is a
	// no-op beyond consuming the phase.
	if recovery.Phase == domain.RecoveryComplete {
		if prev.SafeSnapshot != nil {
			restoreSnapshot(&next, profile)
			next.LastReason = domain.ReasonExitedDegradedSafe
			next.FramesInState = 0
			return Decision{State: next, Reason: next.LastReason, ConsumedRecovery: true}
		}
		return Decision{State: next, Reason: domain.ReasonNone, ConsumedRecovery: true}
	}

	// Degrade entry is checked before the dwell gate: a collapse this
	// severe must not wait out a hold-down.
	if metrics.LossRatio >= LossThresholdDegrade && metrics.MaxLossGap >= BurstThresholdDegrade {
		enterDegradedSafe(&next, prev, profile)
		return Decision{State: next, Reason: next.LastReason}
	}

	if next.FramesInState < DwellFrames {
		return Decision{State: next, Reason: domain.ReasonNone}
	}

	burstActive := recovery.Phase == domain.RecoveryActive && recovery.Reason == domain.RecoveryBurstLoss
	anyActive := recovery.Phase == domain.RecoveryActive

	// Rule three, delta disable. Eligibility depends on intent: Install
	// reacts to thresholds alone, Auto requires an active recovery
	// episode, Realtime requires specifically burst-loss recovery.
	thresholdsMet := metrics.LossRatio >= LossThresholdDisable && metrics.MaxLossGap >= BurstThresholdDisable
	eligible := false
	switch profile.Intent {
	case domain.IntentInstall:
		eligible = thresholdsMet || anyActive
	case domain.IntentAuto:
		eligible = anyActive
	case domain.IntentRealtime:
		eligible = burstActive
	}
	if (thresholdsMet || burstActive) && eligible && prev.DeltaDepth > 0 {
		if profile.Bounds.MinDeltaDepth > 0 {
			// Zero delta depth crosses this profile's floor, so the
			// disable becomes a degraded-safe entry instead.
			enterDegradedSafe(&next, prev, profile)
			return Decision{State: next, Reason: next.LastReason}
		}
		if next.SafeSnapshot == nil {
			next.SafeSnapshot = snapshotOf(prev)
		}
		next.DeltaDepth = 0
		next.LastReason = domain.ReasonDeltaDisabled
		next.FramesInState = 0
		return Decision{State: next, Reason: next.LastReason}
	}

	// Rule one, keyframe cadence.
	if metrics.LossRatio >= LossThresholdKeyframe || metrics.MaxLossGap >= BurstThresholdKeyframe {
		if prev.KeyframeInterval <= profile.Bounds.MinKeyframeInterval {
			enterDegradedSafe(&next, prev, profile)
			return Decision{State: next, Reason: next.LastReason}
		}
		next.KeyframeInterval = prev.KeyframeInterval - 1
		next.LastReason = domain.ReasonKeyframeCadence
		next.FramesInState = 0
		return Decision{State: next, Reason: next.LastReason}
	}

	// Rule two, delta depth reduction on late frames plus a jitter
	// spike between consecutive windows.
	if windowComplete && metrics.LateFrameRate >= LateThresholdDelta && jitterSpike && prev.DeltaDepth > profile.Bounds.MinDeltaDepth {
		next.DeltaDepth = prev.DeltaDepth - 1
		next.LastReason = domain.ReasonDeltaDepthReduced
		next.FramesInState = 0
		return Decision{State: next, Reason: next.LastReason}
	}

	// Rule four, deadline adjustment on a sustained jitter trend across
	// two windows. Offsets clamp to the profile range; a step that
	// cannot move (Realtime's fixed ceiling) is not a transition.
	if windowComplete && metrics.JitterValid {
		step := deadlineStep(profile.Bounds)
		var target int16
		switch {
		case next.JitterTrend >= 2:
			target = clampOffset(prev.DeadlineOffsetMs-step, profile.Bounds)
		case next.JitterTrend <= -2:
			target = clampOffset(prev.DeadlineOffsetMs+step, profile.Bounds)
		default:
			return Decision{State: next, Reason: domain.ReasonNone}
		}
		if target != prev.DeadlineOffsetMs {
			next.DeadlineOffsetMs = target
			next.LastReason = domain.ReasonDeadlineAdjusted
			next.FramesInState = 0
			next.JitterTrend = 0
			return Decision{State: next, Reason: next.LastReason}
		}
	}

	return Decision{State: next, Reason: domain.ReasonNone}
}

func snapshotOf(state domain.AdaptationState) *domain.AdaptationSnapshot {
	return &domain.AdaptationSnapshot{
		KeyframeInterval: state.KeyframeInterval,
		DeltaDepth:       state.DeltaDepth,
		DeadlineOffsetMs: state.DeadlineOffsetMs,
	}
}

func enterDegradedSafe(next *domain.AdaptationState, prev domain.AdaptationState, profile domain.CompiledProfile) {
	if next.SafeSnapshot == nil {
		next.SafeSnapshot = snapshotOf(prev)
	}
	next.DegradedSafe = true
	next.DeltaDepth = 0
	next.KeyframeInterval = profile.Bounds.MinKeyframeInterval
	next.LastReason = domain.ReasonEnteredDegradedSafe
	next.FramesInState = 0
}

func restoreSnapshot(next *domain.AdaptationState, profile domain.CompiledProfile) {
	if snap := next.SafeSnapshot; snap != nil {
		next.KeyframeInterval = snap.KeyframeInterval
		next.DeltaDepth = snap.DeltaDepth
		next.DeadlineOffsetMs = snap.DeadlineOffsetMs
	} else {
		next.KeyframeInterval = profile.Bounds.BaseKeyframeInterval
		next.DeltaDepth = profile.Bounds.BaseDeltaDepth
		next.DeadlineOffsetMs = 0
	}
	next.DegradedSafe = false
	next.SafeSnapshot = nil
	next.JitterTrend = 0
}

func deadlineStep(bounds domain.ProfileBounds) int16 {
	step := int16(float64(bounds.DeadlineRangeMs()) * DeadlineStepFraction)
	if step < 1 {
		step = 1
	}
	return step
}

func clampOffset(offset int16, bounds domain.ProfileBounds) int16 {
	if offset < bounds.MinDeadlineOffsetMs {
		return bounds.MinDeadlineOffsetMs
	}
	if offset > bounds.MaxDeadlineOffsetMs {
		return bounds.MaxDeadlineOffsetMs
	}
	return offset
}
