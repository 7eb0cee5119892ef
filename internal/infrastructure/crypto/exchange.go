package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/curve25519"

	"alpinenet/internal/core/domain"
)

// EphemeralKey is a single-use X25519 keypair generated per handshake.
type EphemeralKey struct {
	private [curve25519.ScalarSize]byte
	Public  []byte
}

// NewEphemeralKey generates a fresh X25519 keypair.
func NewEphemeralKey() (*EphemeralKey, error) {
	var k EphemeralKey
	if _, err := rand.Read(k.private[:]); err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeTransport, "generate ephemeral key")
	}
	pub, err := curve25519.X25519(k.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeHandshakeFailed, "derive ephemeral public key")
	}
	k.Public = pub
	return &k, nil
}

// SharedSecret computes the X25519 shared secret with the peer's
// ephemeral public key. Low-order points are rejected by the curve
// implementation and surface as handshake failures.
func (k *EphemeralKey) SharedSecret(peerPublic []byte) ([]byte, error) {
	secret, err := curve25519.X25519(k.private[:], peerPublic)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeHandshakeFailed, "compute shared secret")
	}
	return secret, nil
}
