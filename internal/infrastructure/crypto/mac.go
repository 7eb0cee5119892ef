package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"alpinenet/internal/core/domain"
)

// ComputeMAC authenticates session_id + sequence + payload with the
// given key. The sequence is encoded big-endian so the construction is
// identical across platforms.
func ComputeMAC(key []byte, sessionID domain.SessionID, sequence uint64, payload []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(sessionID))
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], sequence)
	mac.Write(seq[:])
	mac.Write(payload)
	return mac.Sum(nil)
}

// VerifyMAC checks an envelope MAC in constant time.
func VerifyMAC(key []byte, sessionID domain.SessionID, sequence uint64, payload, expected []byte) bool {
	return hmac.Equal(ComputeMAC(key, sessionID, sequence, payload), expected)
}

// EqualMAC compares two MAC values in constant time.
func EqualMAC(a, b []byte) bool {
	return hmac.Equal(a, b)
}
