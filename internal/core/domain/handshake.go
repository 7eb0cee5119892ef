package domain

// Handshake and discovery wire messages. Signatures cover the canonical
// CBOR encoding of the *Signed companion structs so both sides reproduce
// identical bytes.

// DiscoveryRequest is broadcast to locate devices. The nonce is
// single-use per outstanding request and ties each reply to it.
type DiscoveryRequest struct {
	Nonce        []byte   `cbor:"nonce"`
	Capabilities []string `cbor:"capabilities"`
}

// DiscoveryReply advertises a device's identity and capability set. The
// signature, when present, covers (reply nonce, request nonce, identity,
// capabilities) and verifies against the claimed public key.
type DiscoveryReply struct {
	Identity     DeviceIdentity `cbor:"identity"`
	Capabilities CapabilitySet  `cbor:"capabilities"`
	RequestNonce []byte         `cbor:"request_nonce"`
	ReplyNonce   []byte         `cbor:"reply_nonce"`
	Signed       bool           `cbor:"signed"`
	Signature    []byte         `cbor:"signature,omitempty"`
}

// DiscoveryReplySigned is the canonical signed portion of a reply.
type DiscoveryReplySigned struct {
	Identity     DeviceIdentity `cbor:"identity"`
	Capabilities CapabilitySet  `cbor:"capabilities"`
	RequestNonce []byte         `cbor:"request_nonce"`
	ReplyNonce   []byte         `cbor:"reply_nonce"`
}

// SessionInitMessage opens a handshake: the initiator's ephemeral X25519
// public key, identity, and requested capabilities, signed with its
// Ed25519 key.
type SessionInitMessage struct {
	Ephemeral    []byte         `cbor:"ephemeral"`
	Identity     DeviceIdentity `cbor:"identity"`
	Capabilities CapabilitySet  `cbor:"capabilities"`
	Signature    []byte         `cbor:"signature"`
}

// SessionInitSigned is the canonical signed portion of a session_init.
type SessionInitSigned struct {
	Ephemeral    []byte         `cbor:"ephemeral"`
	Identity     DeviceIdentity `cbor:"identity"`
	Capabilities CapabilitySet  `cbor:"capabilities"`
}

// SessionAckMessage answers a session_init with the responder's
// ephemeral key and identity, signed. The responder echoes the
// initiator's ephemeral key so the signature binds both contributions.
type SessionAckMessage struct {
	Ephemeral     []byte         `cbor:"ephemeral"`
	PeerEphemeral []byte         `cbor:"peer_ephemeral"`
	Identity      DeviceIdentity `cbor:"identity"`
	Capabilities  CapabilitySet  `cbor:"capabilities"`
	Signature     []byte         `cbor:"signature"`
}

// SessionAckSigned is the canonical signed portion of a session_ack.
type SessionAckSigned struct {
	Ephemeral     []byte         `cbor:"ephemeral"`
	PeerEphemeral []byte         `cbor:"peer_ephemeral"`
	Identity      DeviceIdentity `cbor:"identity"`
	Capabilities  CapabilitySet  `cbor:"capabilities"`
}

// SessionReadyMessage confirms key derivation on the initiator side.
// It is authenticated with the freshly derived control key rather than
// the long-term identity key, proving the sender holds the session keys.
type SessionReadyMessage struct {
	SessionID    SessionID     `cbor:"session_id"`
	Capabilities CapabilitySet `cbor:"capabilities"` // negotiated intersection
	MAC          []byte        `cbor:"mac"`
}

// SessionCompleteMessage is the responder's final confirmation,
// authenticated with the derived control key.
type SessionCompleteMessage struct {
	SessionID SessionID `cbor:"session_id"`
	MAC       []byte    `cbor:"mac"`
}
