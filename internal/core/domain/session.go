package domain

import (
	"sync"
	"time"
)

// SessionRole distinguishes the handshake initiator from the responder.
type SessionRole uint8

const (
	RoleInitiator SessionRole = iota
	RoleResponder
)

// SessionKeys is the symmetric key material derived at handshake
// completion. Keys are immutable after derivation.
type SessionKeys struct {
	ControlKey []byte // HMAC key for control envelopes and acks
	FrameKey   []byte // HMAC key for frame envelopes
	PayloadKey []byte // AEAD key for optional payload encryption
}

// replayWindowSize is the span of the receive-side sequence window.
const replayWindowSize = 64

// Session owns one established session's cryptographic material,
// sequence counters, and the bound stream profile. Only handshake
// completion creates a Session; idle timeout or explicit close destroys
// it. All mutation goes through the session's own lock (single-writer
// discipline), so handshake, control, and streaming for one session
// never block those of another.
type Session struct {
	ID           SessionID
	Role         SessionRole
	Keys         SessionKeys
	Peer         DeviceIdentity
	Capabilities CapabilitySet // negotiated intersection
	CreatedAt    time.Time

	mu           sync.Mutex
	lastActivity time.Time
	localSeq     uint64
	replayFloor  uint64
	replayBitmap uint64
	profile      *CompiledProfile
	closed       bool
}

// NewSession builds an established session. Called by the handshake
// layer only.
func NewSession(id SessionID, role SessionRole, keys SessionKeys, peer DeviceIdentity, caps CapabilitySet) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		Role:         role,
		Keys:         keys,
		Peer:         peer,
		Capabilities: caps,
		CreatedAt:    now,
		lastActivity: now,
	}
}

// NextSequence returns the next strictly increasing outbound sequence.
// Sequences are never reused within a session.
func (s *Session) NextSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localSeq++
	return s.localSeq
}

// Touch refreshes the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IdleFor reports how long the session has been inactive.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// AcceptSequence applies replay protection to an inbound sequence.
// Sequences at or below the window floor, or already seen inside the
// window, are rejected without any state mutation.
func (s *Session) AcceptSequence(seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NewError(ErrCodeSessionClosed, "session closed")
	}
	if seq <= s.replayFloor {
		return NewError(ErrCodeSequenceReplayed, "sequence at or below replay window floor")
	}
	if seq <= s.replayFloor+replayWindowSize {
		bit := uint64(1) << (seq - s.replayFloor - 1)
		if s.replayBitmap&bit != 0 {
			return NewError(ErrCodeSequenceReplayed, "sequence already seen")
		}
		s.replayBitmap |= bit
	} else {
		// Window advances; everything at or below the new floor is
		// implicitly rejected from now on.
		shift := seq - replayWindowSize - s.replayFloor
		if shift >= replayWindowSize {
			s.replayBitmap = 0
		} else {
			s.replayBitmap >>= shift
		}
		s.replayFloor += shift
		s.replayBitmap |= uint64(1) << (seq - s.replayFloor - 1)
	}
	s.lastActivity = time.Now()
	return nil
}

// BindProfile binds a compiled stream profile exactly once. Any later
// attempt with a different configuration is rejected; the original
// config_id is left unchanged.
func (s *Session) BindProfile(profile CompiledProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NewError(ErrCodeSessionClosed, "session closed")
	}
	if s.profile != nil {
		return NewError(ErrCodeProfileImmutable, "stream profile already bound to session")
	}
	s.profile = &profile
	return nil
}

// Profile returns the bound profile, if any.
func (s *Session) Profile() (CompiledProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return CompiledProfile{}, false
	}
	return *s.profile, true
}

// ConfigID returns the bound profile's config id, or "".
func (s *Session) ConfigID() string {
	if p, ok := s.Profile(); ok {
		return p.ConfigID
	}
	return ""
}

// Close marks the session closed. In-flight reads addressed to a closed
// session are dropped rather than processed.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Encrypted reports whether the negotiated capabilities enable payload
// encryption on the control channel.
func (s *Session) Encrypted() bool {
	return s.Capabilities.Has(CapabilityEncryption)
}
