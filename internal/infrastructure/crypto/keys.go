package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"

	"alpinenet/internal/core/domain"
)

const sessionKeyInfo = "alpine-session-keys-v1"

// DeriveSessionID computes the deterministic session identifier from
// both parties' ephemeral public keys. The keys are hashed in canonical
// (lexicographic) order so initiator and responder agree on the id
// without additional negotiation.
func DeriveSessionID(ephemeralA, ephemeralB []byte) domain.SessionID {
	first, second := ephemeralA, ephemeralB
	if bytes.Compare(first, second) > 0 {
		first, second = second, first
	}
	h := sha256.New()
	h.Write(first)
	h.Write(second)
	return domain.SessionID(hex.EncodeToString(h.Sum(nil)))
}

// DeriveSessionKeys expands the X25519 shared secret into the session's
// symmetric keys via HKDF-SHA256, salted with the session id. Both sides
// derive byte-identical values from the same handshake contributions.
func DeriveSessionKeys(sharedSecret []byte, sessionID domain.SessionID) (domain.SessionKeys, error) {
	reader := hkdf.New(sha256.New, sharedSecret, []byte(sessionID), []byte(sessionKeyInfo))
	material := make([]byte, 96)
	if _, err := io.ReadFull(reader, material); err != nil {
		return domain.SessionKeys{}, domain.WrapError(err, domain.ErrCodeHandshakeFailed, "derive session keys")
	}
	return domain.SessionKeys{
		ControlKey: material[:32],
		FrameKey:   material[32:64],
		PayloadKey: material[64:96],
	}, nil
}
