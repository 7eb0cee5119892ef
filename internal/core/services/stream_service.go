package services

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"alpinenet/internal/core/domain"
	"alpinenet/internal/core/ports"
	"alpinenet/internal/infrastructure/crypto"
	"alpinenet/pkg/logger"
	"alpinenet/pkg/wire"
)

// DefaultFrameDeadlineMs is the base delivery deadline applied to every
// frame before the profile's adaptive offset.
const DefaultFrameDeadlineMs = 50

// StreamService opens streaming gates on established sessions. The gate
// binds the stream profile to the session exactly once; every frame
// after that carries the adaptation metadata derived from it.
type StreamService struct {
	maxChannels int
	metrics     ports.MetricsCollector
	log         *logger.ContextLogger
}

// NewStreamService creates the streaming layer. maxChannels caps frame
// width for this device regardless of what peers advertise.
func NewStreamService(maxChannels int, metrics ports.MetricsCollector, log *logger.ContextLogger) *StreamService {
	return &StreamService{maxChannels: maxChannels, metrics: metrics, log: log}
}

// StartStream binds a profile to the session and returns the sending
// gate. A second call with any profile fails with profile-immutable and
// leaves the original binding untouched.
func (s *StreamService) StartStream(session *domain.Session, transport ports.PacketTransport, profile domain.StreamProfile) (*StreamSender, error) {
	compiled, err := profile.Compile()
	if err != nil {
		return nil, err
	}
	if err := session.BindProfile(compiled); err != nil {
		return nil, err
	}
	s.log.WithSession(string(session.ID)).Info("stream started",
		zap.String("intent", compiled.Intent.String()),
		zap.String("config_id", compiled.ConfigID),
	)
	return &StreamSender{
		session:     session,
		transport:   transport,
		profile:     compiled,
		state:       domain.BaselineAdaptation(compiled, DwellFrames),
		recovery:    NewRecoveryMonitor(),
		maxChannels: negotiatedMaxChannels(session.Capabilities, s.maxChannels),
		metrics:     s.metrics,
		log:         s.log,
		// The first frame of a stream is always a keyframe.
		framesSinceKey: uint32(compiled.Bounds.BaseKeyframeInterval),
	}, nil
}

// AcceptStream opens the receiving gate for a session whose peer started
// a stream with the given profile. The jitter strategy downgrades from
// Lerp to HoldLast when the peer never advertised interpolable payloads.
func (s *StreamService) AcceptStream(session *domain.Session, profile domain.StreamProfile) (*StreamReceiver, error) {
	compiled, err := profile.Compile()
	if err != nil {
		return nil, err
	}
	if err := session.BindProfile(compiled); err != nil {
		return nil, err
	}
	strategy := compiled.JitterStrategy()
	if strategy == domain.JitterLerp && !session.Capabilities.Has(domain.CapabilityInterpolable) {
		strategy = domain.JitterHoldLast
	}
	return &StreamReceiver{
		session:  session,
		profile:  compiled,
		strategy: strategy,
		monitor:  NewNetworkMonitor(),
		recovery: NewRecoveryMonitor(),
		state:    domain.BaselineAdaptation(compiled, DwellFrames),
		metrics:  s.metrics,
		log:      s.log,
	}, nil
}

// negotiatedMaxChannels resolves the channel cap from the negotiated
// capability set, bounded by the local limit.
func negotiatedMaxChannels(caps domain.CapabilitySet, local int) int {
	params, ok := caps[domain.CapabilityMaxChannels]
	if !ok || len(params) == 0 {
		return local
	}
	n, err := strconv.Atoi(params[0])
	if err != nil || n <= 0 || n > local {
		return local
	}
	return n
}

// StreamSender is the sending half of a streaming gate. It stamps every
// frame with the current adaptation configuration and folds observed
// network metrics back into that configuration through the reducer.
type StreamSender struct {
	session     *domain.Session
	transport   ports.PacketTransport
	profile     domain.CompiledProfile
	maxChannels int
	metrics     ports.MetricsCollector
	log         *logger.ContextLogger

	mu             sync.Mutex
	state          domain.AdaptationState
	recovery       *RecoveryMonitor
	seq            uint64
	framesSinceKey uint32
	forceKey       bool
}

// SendFrame emits one lighting frame. Keyframe cadence follows the
// adaptation state; recovery activation forces the next frame to be a
// keyframe and marks it as forced.
func (s *StreamSender) SendFrame(ctx context.Context, captureMicros uint64, format domain.ChannelFormat, channels []uint16) error {
	if s.session.Closed() {
		return domain.NewError(domain.ErrCodeSessionClosed, "session closed")
	}
	if len(channels) > s.maxChannels {
		return domain.NewError(domain.ErrCodeStreamTooLarge, "frame exceeds negotiated channel capacity")
	}
	if format == domain.ChannelFormatU8 {
		for _, v := range channels {
			if v > 0xFF {
				return domain.NewError(domain.ErrCodeUnsupportedChannelMode, "u8 frame carries value above 255")
			}
		}
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.framesSinceKey++
	keyframe := s.forceKey || s.framesSinceKey >= uint32(s.state.KeyframeInterval)
	forced := s.forceKey
	if keyframe {
		s.framesSinceKey = 0
	}
	s.forceKey = false
	meta := s.state.Meta()
	rec := s.recovery.State()
	offset := s.state.DeadlineOffsetMs
	s.mu.Unlock()

	env := domain.FrameEnvelope{
		SessionID:     s.session.ID,
		Sequence:      seq,
		CaptureMicros: captureMicros,
		DeadlineMs:    int64(captureMicros/1000) + DefaultFrameDeadlineMs + int64(offset),
		Keyframe:      keyframe,
		ForcedKey:     forced,
		DeltaDepth:    meta.DeltaDepth,
		ChannelFormat: format,
		Channels:      channels,
		Adaptation:    &meta,
	}
	if rec.Phase != domain.RecoveryIdle {
		env.Recovery = &domain.RecoveryMeta{Phase: rec.Phase.String(), Reason: rec.Reason.String()}
	}

	mac, err := frameMAC(s.session.Keys.FrameKey, env)
	if err != nil {
		return err
	}
	env.MAC = mac

	packet, err := wire.EncodePacket(domain.MsgFrame, env)
	if err != nil {
		return err
	}
	if err := s.transport.Send(ctx, packet); err != nil {
		return err
	}
	s.session.Touch()
	s.metrics.FrameSent()
	return nil
}

// Observe folds one network metrics sample into the recovery monitor and
// the adaptation reducer. Called with the metrics the receiving side
// derived from this stream's arrivals.
func (s *StreamSender) Observe(metrics domain.NetworkMetrics, windowComplete bool) domain.AdaptationState {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.recovery.State().Phase
	rec := s.recovery.Observe(metrics, windowComplete)
	if before == domain.RecoveryIdle && rec.Phase == domain.RecoveryActive {
		s.forceKey = true
		s.metrics.RecoveryActivated(rec.Reason.String())
	}

	decision := Decide(s.state, metrics, windowComplete, rec, s.profile)
	if decision.ConsumedRecovery {
		s.recovery.ConsumeComplete()
	}
	if decision.Reason == domain.ReasonEnteredDegradedSafe {
		s.metrics.DegradedSafeEntered()
		s.log.WithSession(string(s.session.ID)).Warn("degraded safe entered",
			zap.Float64("loss_ratio", metrics.LossRatio),
			zap.Uint64("max_loss_gap", metrics.MaxLossGap),
		)
	}
	s.state = decision.State
	s.metrics.ObserveLossRatio(metrics.LossRatio)
	return s.state
}

// State returns the current adaptation configuration.
func (s *StreamSender) State() domain.AdaptationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Recovery returns the sender's view of the recovery state machine.
func (s *StreamSender) Recovery() domain.RecoveryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recovery.State()
}

// StreamReceiver is the receiving half of a streaming gate: frame
// authentication, strict in-order application, the conditions window,
// and gap filling per the profile's jitter strategy.
type StreamReceiver struct {
	session  *domain.Session
	profile  domain.CompiledProfile
	strategy domain.JitterStrategy
	metrics  ports.MetricsCollector
	log      *logger.ContextLogger

	mu          sync.Mutex
	monitor     *NetworkMonitor
	recovery    *RecoveryMonitor
	state       domain.AdaptationState
	lastApplied uint64
	prev        *domain.FrameEnvelope
	last        *domain.FrameEnvelope
}

// Receive verifies and applies one inbound frame. Frames are applied
// strictly in order: anything at or below the last applied sequence is
// dropped. The returned metrics reflect the window after this arrival.
func (r *StreamReceiver) Receive(env domain.FrameEnvelope, arrivalMicros uint64) (domain.NetworkMetrics, error) {
	if r.session.Closed() {
		return domain.NetworkMetrics{}, domain.NewError(domain.ErrCodeSessionClosed, "session closed")
	}

	mac := env.MAC
	env.MAC = nil
	expected, err := frameMAC(r.session.Keys.FrameKey, env)
	if err != nil {
		return domain.NetworkMetrics{}, err
	}
	if !crypto.EqualMAC(expected, mac) {
		r.metrics.FrameRejected(string(domain.ErrCodeMACInvalid))
		return domain.NetworkMetrics{}, domain.NewError(domain.ErrCodeMACInvalid, "frame MAC rejected")
	}
	env.MAC = mac

	r.mu.Lock()
	defer r.mu.Unlock()

	if env.Sequence <= r.lastApplied {
		r.metrics.FrameRejected(string(domain.ErrCodeSequenceReplayed))
		return r.monitor.Snapshot(), domain.NewError(domain.ErrCodeSequenceReplayed, "frame at or below last applied sequence")
	}

	metrics, windowComplete := r.monitor.RecordArrival(env.Sequence, arrivalMicros, uint64(env.DeadlineMs)*1000)

	before := r.recovery.State().Phase
	rec := r.recovery.Observe(metrics, windowComplete)
	if before == domain.RecoveryIdle && rec.Phase == domain.RecoveryActive {
		r.metrics.RecoveryActivated(rec.Reason.String())
	}
	decision := Decide(r.state, metrics, windowComplete, rec, r.profile)
	if decision.ConsumedRecovery {
		r.recovery.ConsumeComplete()
	}
	r.state = decision.State

	r.lastApplied = env.Sequence
	r.prev, r.last = r.last, &env
	r.session.Touch()
	r.metrics.FrameReceived()
	return metrics, nil
}

// Output produces the channel values to drive fixtures with at nowMicros,
// filling gaps per the jitter strategy. The second return value is false
// when the strategy yields no output (Drop past deadline, or nothing
// received yet).
func (r *StreamReceiver) Output(nowMicros uint64) ([]uint16, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil, false
	}

	switch r.strategy {
	case domain.JitterDrop:
		if nowMicros > uint64(r.last.DeadlineMs)*1000 {
			return nil, false
		}
		return r.last.Channels, true

	case domain.JitterLerp:
		if r.prev == nil || len(r.prev.Channels) != len(r.last.Channels) {
			return r.last.Channels, true
		}
		span := r.last.CaptureMicros - r.prev.CaptureMicros
		if span == 0 || nowMicros >= r.last.CaptureMicros {
			return r.last.Channels, true
		}
		if nowMicros <= r.prev.CaptureMicros {
			return r.prev.Channels, true
		}
		t := float64(nowMicros-r.prev.CaptureMicros) / float64(span)
		out := make([]uint16, len(r.last.Channels))
		for i := range out {
			a := float64(r.prev.Channels[i])
			b := float64(r.last.Channels[i])
			out[i] = uint16(a + (b-a)*t)
		}
		return out, true

	default: // HoldLast
		return r.last.Channels, true
	}
}

// Strategy returns the effective jitter strategy after capability
// downgrades.
func (r *StreamReceiver) Strategy() domain.JitterStrategy {
	return r.strategy
}

// Conditions returns the current network metrics snapshot.
func (r *StreamReceiver) Conditions() domain.NetworkMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.monitor.Snapshot()
}

// State returns the receiver's mirrored adaptation state.
func (r *StreamReceiver) State() domain.AdaptationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// frameMAC authenticates the canonical encoding of a frame envelope with
// the MAC field unset.
func frameMAC(frameKey []byte, env domain.FrameEnvelope) ([]byte, error) {
	env.MAC = nil
	body, err := wire.Marshal(env)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeMalformedMessage, "encode frame for authentication")
	}
	return crypto.ComputeMAC(frameKey, env.SessionID, env.Sequence, body), nil
}
