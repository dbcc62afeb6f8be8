package crypto

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyring(t *testing.T, activeID string, ids ...string) *Keyring {
	t.Helper()
	keys := make(map[string]string, len(ids))
	for _, id := range ids {
		key, err := GenerateKey()
		require.NoError(t, err)
		keys[id] = key
	}
	ring, err := NewKeyring(keys, activeID)
	require.NoError(t, err)
	return ring
}

func TestSealOpenRoundTrip(t *testing.T) {
	ring := testKeyring(t, "v1", "v1")

	envelope, err := ring.Seal([]byte(`{"api_key":"secret"}`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(envelope, "v1."))

	plaintext, err := ring.Open(envelope)
	require.NoError(t, err)
	assert.Equal(t, `{"api_key":"secret"}`, string(plaintext))
}

func TestSealProducesFreshNonces(t *testing.T) {
	ring := testKeyring(t, "v1", "v1")

	a, err := ring.Seal([]byte("same"))
	require.NoError(t, err)
	b, err := ring.Seal([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenAfterKeyRotation(t *testing.T) {
	old := testKeyring(t, "v1", "v1")
	envelope, err := old.Seal([]byte("rotate me"))
	require.NoError(t, err)

	// build a ring where v2 is active but v1 stays openable
	rotated := &Keyring{
		keys:     map[string][]byte{"v1": old.keys["v1"], "v2": testKeyring(t, "v2", "v2").keys["v2"]},
		activeID: "v2",
	}

	plaintext, err := rotated.Open(envelope)
	require.NoError(t, err)
	assert.Equal(t, "rotate me", string(plaintext))

	fresh, err := rotated.Seal([]byte("new secret"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fresh, "v2."))
}

func TestOpenRejectsTampering(t *testing.T) {
	ring := testKeyring(t, "v1", "v1")
	envelope, err := ring.Seal([]byte("payload"))
	require.NoError(t, err)

	// flip a character in the ciphertext
	tampered := envelope[:len(envelope)-2] + "AA"
	_, err = ring.Open(tampered)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "payload")
}

func TestOpenRejectsUnknownKeyID(t *testing.T) {
	ring := testKeyring(t, "v1", "v1")
	envelope, err := ring.Seal([]byte("payload"))
	require.NoError(t, err)

	other := testKeyring(t, "v9", "v9")
	_, err = other.Open(envelope)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown envelope key id")
}

func TestOpenRejectsMalformedEnvelope(t *testing.T) {
	ring := testKeyring(t, "v1", "v1")

	for _, envelope := range []string{"", "no-separator", "v1.%%%not-base64%%%", "v1.aGk="} {
		_, err := ring.Open(envelope)
		assert.Error(t, err, "envelope %q", envelope)
	}
}

func TestNewKeyringValidation(t *testing.T) {
	_, err := NewKeyring(nil, "v1")
	require.Error(t, err)

	_, err = NewKeyring(map[string]string{"v1": "dG9vIHNob3J0"}, "v1")
	require.Error(t, err, "short keys must be rejected")

	key, err := GenerateKey()
	require.NoError(t, err)
	_, err = NewKeyring(map[string]string{"v1": key}, "v2")
	require.Error(t, err, "active id must exist in the ring")
}

func TestSignCallbackRoundTrip(t *testing.T) {
	secret := []byte("shared-secret")
	timestamp := time.Now().UTC().Format(time.RFC3339)
	body := []byte(`{"job_id":"j1","status":"completed"}`)

	sig := SignCallback(secret, timestamp, body)
	assert.True(t, VerifyCallback(secret, timestamp, body, sig))

	assert.False(t, VerifyCallback([]byte("wrong-secret"), timestamp, body, sig))
	assert.False(t, VerifyCallback(secret, timestamp, []byte(`{"job_id":"j2"}`), sig))
	assert.False(t, VerifyCallback(secret, "2000-01-01T00:00:00Z", body, sig))
	assert.False(t, VerifyCallback(secret, timestamp, body, "deadbeef"))
}

func TestSignCallbackBindsTimestampToBody(t *testing.T) {
	secret := []byte("s")
	// moving the boundary between timestamp and body must change the mac
	a := SignCallback(secret, "ab", []byte("c"))
	b := SignCallback(secret, "a", []byte("bc"))
	assert.NotEqual(t, a, b)
}
