package domain

// MessageType discriminates packets on the wire.
type MessageType uint8

const (
	MsgDiscoveryRequest MessageType = iota + 1
	MsgDiscoveryReply
	MsgSessionInit
	MsgSessionAck
	MsgSessionReady
	MsgSessionComplete
	MsgControl
	MsgControlAck
	MsgFrame
	MsgKeepalive
)

// JitterStrategy is the policy used to fill output when the next frame
// is late. The set is protocol-fixed.
type JitterStrategy uint8

const (
	JitterHoldLast JitterStrategy = iota
	JitterDrop
	JitterLerp
)

func (s JitterStrategy) String() string {
	switch s {
	case JitterHoldLast:
		return "hold_last"
	case JitterDrop:
		return "drop"
	case JitterLerp:
		return "lerp"
	default:
		return "unknown"
	}
}

// ChannelFormat describes the width of lighting channel values.
type ChannelFormat uint8

const (
	ChannelFormatU8 ChannelFormat = iota
	ChannelFormatU16
)

// ControlOp identifies the command carried by a control envelope.
type ControlOp string

const (
	OpSetChannels ControlOp = "set_channels"
	OpSetGroups   ControlOp = "set_groups"
	OpIdentify    ControlOp = "identify"
	OpStreamStart ControlOp = "stream_start"
	OpStreamStop  ControlOp = "stream_stop"
)

// ControlEnvelope is a reliable, authenticated control command. The MAC
// covers session_id + sequence + payload; sequences are strictly
// increasing and never reused within a session.
type ControlEnvelope struct {
	SessionID SessionID `cbor:"session_id"`
	Sequence  uint64    `cbor:"seq"`
	Op        ControlOp `cbor:"op"`
	Payload   []byte    `cbor:"payload"`
	Encrypted bool      `cbor:"encrypted,omitempty"`
	MAC       []byte    `cbor:"mac"`
}

// Acknowledge confirms a control envelope by sequence number. The MAC
// binds the ack to the session so acks cannot be forged or replayed
// across sessions.
type Acknowledge struct {
	SessionID SessionID `cbor:"session_id"`
	Sequence  uint64    `cbor:"seq"`
	OK        bool      `cbor:"ok"`
	Detail    string    `cbor:"detail,omitempty"`
	MAC       []byte    `cbor:"mac"`
}

// AdaptationMeta is the adaptation metadata stamped onto every outgoing
// frame under the alpine_adaptation key.
type AdaptationMeta struct {
	KeyframeInterval uint8 `cbor:"keyframe_interval"`
	DeltaDepth       uint8 `cbor:"delta_depth"`
	DeadlineOffsetMs int16 `cbor:"deadline_offset_ms"`
	DegradedSafe     bool  `cbor:"degraded_safe"`
}

// RecoveryMeta is present under alpine_recovery while recovery is active.
type RecoveryMeta struct {
	Phase  string `cbor:"phase"`
	Reason string `cbor:"reason"`
}

// FrameEnvelope is a time-sensitive lighting frame. Sequences are
// monotonic per stream; frames are never reordered or rewound once
// emitted.
type FrameEnvelope struct {
	SessionID     SessionID       `cbor:"session_id"`
	Sequence      uint64          `cbor:"seq"`
	CaptureMicros uint64          `cbor:"capture_us"`
	DeadlineMs    int64           `cbor:"deadline_ms"`
	Keyframe      bool            `cbor:"keyframe"`
	ForcedKey     bool            `cbor:"forced_keyframe,omitempty"`
	DeltaDepth    uint8           `cbor:"delta_depth"`
	ChannelFormat ChannelFormat   `cbor:"channel_format"`
	Channels      []uint16        `cbor:"channels"`
	Adaptation    *AdaptationMeta `cbor:"alpine_adaptation,omitempty"`
	Recovery      *RecoveryMeta   `cbor:"alpine_recovery,omitempty"`
	// MAC covers the canonical encoding of the envelope with MAC unset,
	// keyed with the session frame key.
	MAC []byte `cbor:"mac,omitempty"`
}

// SetChannelsPayload is the body of a set_channels control operation.
type SetChannelsPayload struct {
	Format ChannelFormat `cbor:"format"`
	Values []uint16      `cbor:"values"`
}

// SetGroupsPayload addresses named fixture groups instead of raw
// channel indexes.
type SetGroupsPayload struct {
	Groups map[string][]uint16 `cbor:"groups"`
}

// StreamStartPayload carries the requested stream profile to the
// receiving device. The receiver compiles it independently; both sides
// arrive at the same config_id or the stream is refused.
type StreamStartPayload struct {
	Intent           StreamIntent `cbor:"intent"`
	LatencyWeight    uint8        `cbor:"latency_weight"`
	ResilienceWeight uint8        `cbor:"resilience_weight"`
	ConfigID         string       `cbor:"config_id"`
}

// KeepaliveMessage refreshes session activity and resets the control
// retransmit attempt counter on the peer.
type KeepaliveMessage struct {
	SessionID SessionID `cbor:"session_id"`
	SentMs    uint64    `cbor:"sent_ms"`
}
