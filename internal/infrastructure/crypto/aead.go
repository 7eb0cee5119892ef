package crypto

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"

	"alpinenet/internal/core/domain"
)

// SealPayload encrypts a control payload with ChaCha20-Poly1305 when the
// session negotiated the encryption capability. The nonce is derived
// from the envelope sequence, which is strictly increasing and never
// reused within a session, so nonce reuse cannot occur.
func SealPayload(key []byte, sessionID domain.SessionID, sequence uint64, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeMACInvalid, "init payload cipher")
	}
	nonce := payloadNonce(sequence)
	return aead.Seal(nil, nonce, plaintext, []byte(sessionID)), nil
}

// OpenPayload decrypts and authenticates a sealed control payload.
// Authentication failure is fail-closed: the envelope is dropped and
// never applied to session state.
func OpenPayload(key []byte, sessionID domain.SessionID, sequence uint64, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeMACInvalid, "init payload cipher")
	}
	nonce := payloadNonce(sequence)
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(sessionID))
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeMACInvalid, "payload authentication failed")
	}
	return plaintext, nil
}

func payloadNonce(sequence uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], sequence)
	return nonce
}
