// Package crypto bundles the protocol's cryptographic primitives:
// Ed25519 identity signatures, X25519 ephemeral key agreement,
// HKDF-SHA256 session key derivation, HMAC-SHA256 envelope MACs, and
// ChaCha20-Poly1305 for optional payload encryption.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/google/uuid"

	"alpinenet/internal/core/domain"
)

// Credentials holds a device's long-term Ed25519 keypair together with
// its public identity.
type Credentials struct {
	Identity   domain.DeviceIdentity
	privateKey ed25519.PrivateKey
}

// GenerateCredentials creates a fresh device identity and signing key.
func GenerateCredentials(name string) (*Credentials, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeTransport, "generate identity key")
	}
	return &Credentials{
		Identity: domain.DeviceIdentity{
			DeviceID:  domain.DeviceID(uuid.NewString()),
			Name:      name,
			PublicKey: pub,
		},
		privateKey: priv,
	}, nil
}

// Sign produces an Ed25519 signature over message.
func (c *Credentials) Sign(message []byte) []byte {
	return ed25519.Sign(c.privateKey, message)
}

// Verify checks an Ed25519 signature against a claimed public key.
// Malformed keys verify as false, never panic.
func Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// NonceSize is the size of discovery and handshake nonces in bytes.
const NonceSize = 16

// NewNonce returns a fresh random nonce.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeTransport, "generate nonce")
	}
	return nonce, nil
}
