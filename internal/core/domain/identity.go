package domain

import (
	"crypto/ed25519"
	"encoding/hex"
)

type DeviceID string
type SessionID string

// DeviceIdentity is the stable public identity of a device: its Ed25519
// public key plus a human-readable name. Immutable once created.
type DeviceIdentity struct {
	DeviceID  DeviceID `cbor:"device_id"`
	Name      string   `cbor:"name"`
	PublicKey []byte   `cbor:"public_key"`
}

// Key returns the identity's Ed25519 verification key.
func (d DeviceIdentity) Key() ed25519.PublicKey {
	return ed25519.PublicKey(d.PublicKey)
}

// Fingerprint returns a short hex form of the public key for logging.
func (d DeviceIdentity) Fingerprint() string {
	if len(d.PublicKey) < 8 {
		return hex.EncodeToString(d.PublicKey)
	}
	return hex.EncodeToString(d.PublicKey[:8])
}

// Capability names recognized by the protocol.
const (
	CapabilitySigning      = "signing"
	CapabilityEncryption   = "encryption"
	CapabilityInterpolable = "interpolable"
	CapabilityMaxChannels  = "max_channels"
	CapabilityJitter       = "jitter_strategies"
)

// CapabilitySet maps a capability name to its declared parameters.
// Produced by a device, consumed read-only by peers.
type CapabilitySet map[string][]string

// Has reports whether the capability is declared at all.
func (c CapabilitySet) Has(name string) bool {
	_, ok := c[name]
	return ok
}

// Intersect returns the capabilities declared by both sets. Parameters
// are taken from the receiver; negotiation keeps the advertiser's values.
func (c CapabilitySet) Intersect(other CapabilitySet) CapabilitySet {
	out := make(CapabilitySet)
	for name, params := range c {
		if other.Has(name) {
			out[name] = params
		}
	}
	return out
}

// Clone returns an independent copy so peers cannot mutate shared state.
func (c CapabilitySet) Clone() CapabilitySet {
	out := make(CapabilitySet, len(c))
	for name, params := range c {
		cp := make([]string, len(params))
		copy(cp, params)
		out[name] = cp
	}
	return out
}
