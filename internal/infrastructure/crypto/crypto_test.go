package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alpinenet/internal/core/domain"
)

func TestSignVerify(t *testing.T) {
	creds, err := GenerateCredentials("unit")
	require.NoError(t, err)

	msg := []byte("hello fixtures")
	sig := creds.Sign(msg)
	assert.True(t, Verify(creds.Identity.PublicKey, msg, sig))
	assert.False(t, Verify(creds.Identity.PublicKey, []byte("tampered"), sig))
	assert.False(t, Verify([]byte("short key"), msg, sig))
}

func TestDeriveSessionID_OrderIndependent(t *testing.T) {
	a, err := NewEphemeralKey()
	require.NoError(t, err)
	b, err := NewEphemeralKey()
	require.NoError(t, err)

	assert.Equal(t, DeriveSessionID(a.Public, b.Public), DeriveSessionID(b.Public, a.Public))
	assert.Len(t, string(DeriveSessionID(a.Public, b.Public)), 64)
}

func TestDeriveSessionKeys_BothSidesAgree(t *testing.T) {
	a, err := NewEphemeralKey()
	require.NoError(t, err)
	b, err := NewEphemeralKey()
	require.NoError(t, err)

	secretA, err := a.SharedSecret(b.Public)
	require.NoError(t, err)
	secretB, err := b.SharedSecret(a.Public)
	require.NoError(t, err)
	require.Equal(t, secretA, secretB)

	id := DeriveSessionID(a.Public, b.Public)
	keysA, err := DeriveSessionKeys(secretA, id)
	require.NoError(t, err)
	keysB, err := DeriveSessionKeys(secretB, id)
	require.NoError(t, err)

	assert.Equal(t, keysA, keysB)
	assert.Len(t, keysA.ControlKey, 32)
	assert.Len(t, keysA.FrameKey, 32)
	assert.Len(t, keysA.PayloadKey, 32)
	assert.NotEqual(t, keysA.ControlKey, keysA.FrameKey)
	assert.NotEqual(t, keysA.FrameKey, keysA.PayloadKey)
}

func TestMAC_TamperDetected(t *testing.T) {
	key := make([]byte, 32)
	key[0] = 7
	id := domain.SessionID("sid")
	payload := []byte("set_channels")

	mac := ComputeMAC(key, id, 42, payload)
	assert.True(t, VerifyMAC(key, id, 42, payload, mac))
	assert.False(t, VerifyMAC(key, id, 43, payload, mac))
	assert.False(t, VerifyMAC(key, id, 42, []byte("set_groups"), mac))
	assert.False(t, VerifyMAC(key, "other", 42, payload, mac))

	mac[0] ^= 0x01
	assert.False(t, VerifyMAC(key, id, 42, payload, mac))
}

func TestPayloadSealOpen(t *testing.T) {
	key := make([]byte, 32)
	key[31] = 9
	id := domain.SessionID("sid")
	plain := []byte{1, 2, 3, 250}

	sealed, err := SealPayload(key, id, 5, plain)
	require.NoError(t, err)
	opened, err := OpenPayload(key, id, 5, sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, opened)

	// Wrong sequence means wrong nonce.
	_, err = OpenPayload(key, id, 6, sealed)
	assert.True(t, domain.IsCode(err, domain.ErrCodeMACInvalid))

	sealed[0] ^= 0xFF
	_, err = OpenPayload(key, id, 5, sealed)
	assert.True(t, domain.IsCode(err, domain.ErrCodeMACInvalid))
}

func TestNewNonce_Fresh(t *testing.T) {
	a, err := NewNonce()
	require.NoError(t, err)
	b, err := NewNonce()
	require.NoError(t, err)
	assert.Len(t, a, NonceSize)
	assert.NotEqual(t, a, b)
}
