package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// StreamIntent selects one of the protocol-fixed streaming behaviors.
type StreamIntent uint8

const (
	IntentAuto StreamIntent = iota
	IntentRealtime
	IntentInstall
)

func (i StreamIntent) String() string {
	switch i {
	case IntentAuto:
		return "auto"
	case IntentRealtime:
		return "realtime"
	case IntentInstall:
		return "install"
	default:
		return "unknown"
	}
}

// StreamProfile declares streaming intent plus latency/resilience weights.
// Profiles are immutable; they compile into a CompiledProfile whose
// config_id is stable for identical resolved parameters.
type StreamProfile struct {
	Intent           StreamIntent
	LatencyWeight    uint8
	ResilienceWeight uint8
}

// AutoProfile is the safe default balancing latency and resilience.
func AutoProfile() StreamProfile {
	return StreamProfile{Intent: IntentAuto, LatencyWeight: 50, ResilienceWeight: 50}
}

// RealtimeProfile favors quick delivery over smoothing.
func RealtimeProfile() StreamProfile {
	return StreamProfile{Intent: IntentRealtime, LatencyWeight: 80, ResilienceWeight: 20}
}

// InstallProfile favors smoothness and resilience over instant updates.
func InstallProfile() StreamProfile {
	return StreamProfile{Intent: IntentInstall, LatencyWeight: 25, ResilienceWeight: 75}
}

// ProfileBounds are the hard adaptation constraints for a profile. The
// adaptation engine never crosses them; an adaptation that would is
// converted into degraded-safe entry instead.
type ProfileBounds struct {
	MinKeyframeInterval  uint8
	BaseKeyframeInterval uint8
	MinDeltaDepth        uint8
	BaseDeltaDepth       uint8
	MinDeadlineOffsetMs  int16
	MaxDeadlineOffsetMs  int16
}

// DeadlineRangeMs returns the width of the allowed deadline offset range.
func (b ProfileBounds) DeadlineRangeMs() int16 {
	return b.MaxDeadlineOffsetMs - b.MinDeadlineOffsetMs
}

func boundsForIntent(intent StreamIntent) ProfileBounds {
	switch intent {
	case IntentRealtime:
		return ProfileBounds{
			MinKeyframeInterval:  8,
			BaseKeyframeInterval: 12,
			MinDeltaDepth:        1,
			BaseDeltaDepth:       2,
			MinDeadlineOffsetMs:  -20,
			MaxDeadlineOffsetMs:  0,
		}
	case IntentInstall:
		return ProfileBounds{
			MinKeyframeInterval:  4,
			BaseKeyframeInterval: 8,
			MinDeltaDepth:        0,
			BaseDeltaDepth:       3,
			MinDeadlineOffsetMs:  -10,
			MaxDeadlineOffsetMs:  25,
		}
	default:
		return ProfileBounds{
			MinKeyframeInterval:  6,
			BaseKeyframeInterval: 10,
			MinDeltaDepth:        1,
			BaseDeltaDepth:       3,
			MinDeadlineOffsetMs:  -15,
			MaxDeadlineOffsetMs:  15,
		}
	}
}

// CompiledProfile is the validated, resolved form of a StreamProfile.
// ConfigID is a stable hash of the resolved parameters: identical inputs
// always produce identical ids, any differing parameter a differing id.
type CompiledProfile struct {
	Intent           StreamIntent
	LatencyWeight    uint8
	ResilienceWeight uint8
	Bounds           ProfileBounds
	ConfigID         string
}

// Compile validates the profile and resolves it to a runtime configuration.
// Invalid weight combinations are rejected synchronously, never coerced.
func (p StreamProfile) Compile() (CompiledProfile, error) {
	if p.LatencyWeight > 100 {
		return CompiledProfile{}, NewError(ErrCodeProfileInvalid, "latency weight must be between 0 and 100 inclusive")
	}
	if p.ResilienceWeight > 100 {
		return CompiledProfile{}, NewError(ErrCodeProfileInvalid, "resilience weight must be between 0 and 100 inclusive")
	}
	if p.LatencyWeight == 0 && p.ResilienceWeight == 0 {
		return CompiledProfile{}, NewError(ErrCodeProfileInvalid, "latency and resilience weights cannot both be zero")
	}

	bounds := boundsForIntent(p.Intent)

	h := sha256.New()
	h.Write([]byte{p.LatencyWeight, p.ResilienceWeight, byte(p.Intent)})
	h.Write([]byte{
		bounds.MinKeyframeInterval, bounds.BaseKeyframeInterval,
		bounds.MinDeltaDepth, bounds.BaseDeltaDepth,
		byte(uint16(bounds.MinDeadlineOffsetMs) >> 8), byte(bounds.MinDeadlineOffsetMs),
		byte(uint16(bounds.MaxDeadlineOffsetMs) >> 8), byte(bounds.MaxDeadlineOffsetMs),
	})

	return CompiledProfile{
		Intent:           p.Intent,
		LatencyWeight:    p.LatencyWeight,
		ResilienceWeight: p.ResilienceWeight,
		Bounds:           bounds,
		ConfigID:         hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// JitterStrategy derives the receive-side gap-filling policy from the
// profile weights. Lerp additionally requires the peer to advertise
// interpolable payloads; the streaming gate enforces that.
func (c CompiledProfile) JitterStrategy() JitterStrategy {
	switch {
	case c.Intent == IntentRealtime:
		return JitterDrop
	case c.LatencyWeight >= c.ResilienceWeight:
		return JitterHoldLast
	default:
		return JitterLerp
	}
}
