package domain

// NetworkMetrics is a deterministic snapshot of per-stream health,
// computed over a fixed-size sliding window of observed arrivals.
// Replaying an identical arrival trace reproduces identical values
// bit-for-bit.
type NetworkMetrics struct {
	LossRatio     float64
	LateFrameRate float64
	JitterMs      float64
	JitterValid   bool
	MaxLossGap    uint64
	WindowFrames  int
}

// RecoveryReason explains why recovery became active.
type RecoveryReason uint8

const (
	RecoverySustainedLoss RecoveryReason = iota
	RecoveryBurstLoss
)

func (r RecoveryReason) String() string {
	switch r {
	case RecoverySustainedLoss:
		return "sustained_loss"
	case RecoveryBurstLoss:
		return "burst_loss"
	default:
		return "unknown"
	}
}

// RecoveryPhase is the recovery state machine position.
type RecoveryPhase uint8

const (
	RecoveryIdle RecoveryPhase = iota
	RecoveryActive
	RecoveryComplete
)

func (p RecoveryPhase) String() string {
	switch p {
	case RecoveryIdle:
		return "idle"
	case RecoveryActive:
		return "active"
	case RecoveryComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// RecoveryState is the externally visible recovery status. Reason is
// meaningful only while Phase is Active or Complete.
type RecoveryState struct {
	Phase  RecoveryPhase
	Reason RecoveryReason
}

// TransitionReason records which adaptation rule fired last.
type TransitionReason string

const (
	ReasonNone                TransitionReason = ""
	ReasonKeyframeCadence     TransitionReason = "keyframe_cadence_increased"
	ReasonDeltaDepthReduced   TransitionReason = "delta_depth_reduced"
	ReasonDeltaDisabled       TransitionReason = "delta_disabled"
	ReasonDeadlineAdjusted    TransitionReason = "deadline_adjusted"
	ReasonEnteredDegradedSafe TransitionReason = "entered_degraded_safe"
	ReasonExitedDegradedSafe  TransitionReason = "exited_degraded_safe"
)

// AdaptationSnapshot is the restorable portion of an adaptation state,
// captured on degraded-safe entry and restored exactly on recovery.
type AdaptationSnapshot struct {
	KeyframeInterval uint8
	DeltaDepth       uint8
	DeadlineOffsetMs int16
}

// AdaptationState is owned by the streaming session and mutated only by
// the adaptation engine. Transitions are monotonic (more conservative)
// until an explicit reset on RecoveryComplete.
type AdaptationState struct {
	Intent           StreamIntent
	KeyframeInterval uint8
	DeltaDepth       uint8
	DeadlineOffsetMs int16
	DegradedSafe     bool
	FramesInState    uint32
	LastJitterMs     float64
	LastJitterValid  bool
	JitterTrend      int8
	LastReason       TransitionReason
	SafeSnapshot     *AdaptationSnapshot
}

// BaselineAdaptation returns the starting adaptation state for a
// compiled profile. FramesInState starts at the dwell bound so the first
// genuine signal may act immediately.
func BaselineAdaptation(profile CompiledProfile, dwellFrames uint32) AdaptationState {
	return AdaptationState{
		Intent:           profile.Intent,
		KeyframeInterval: profile.Bounds.BaseKeyframeInterval,
		DeltaDepth:       profile.Bounds.BaseDeltaDepth,
		DeadlineOffsetMs: 0,
		FramesInState:    dwellFrames,
	}
}

// Meta projects the state onto the frame metadata stamped by the gate.
func (s AdaptationState) Meta() AdaptationMeta {
	return AdaptationMeta{
		KeyframeInterval: s.KeyframeInterval,
		DeltaDepth:       s.DeltaDepth,
		DeadlineOffsetMs: s.DeadlineOffsetMs,
		DegradedSafe:     s.DegradedSafe,
	}
}
