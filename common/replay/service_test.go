package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomery/loom/common/models"
)

func TestFingerprintStable(t *testing.T) {
	headers := map[string]string{"Content-Type": "application/json", "X-Request-ID": "abc"}
	body := []byte(`{"channel":"#ops"}`)

	a := Fingerprint("POST", "https://slack.com/api/chat.postMessage", headers, body)
	b := Fingerprint("POST", "https://slack.com/api/chat.postMessage", headers, body)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprintNormalisesMethodAndHeaderCase(t *testing.T) {
	body := []byte(`{}`)

	a := Fingerprint("post", "https://api.example.com", map[string]string{"Content-Type": "application/json"}, body)
	b := Fingerprint("POST", "https://api.example.com", map[string]string{"content-type": "application/json"}, body)
	assert.Equal(t, a, b)
}

func TestFingerprintIgnoresVolatileHeaders(t *testing.T) {
	base := map[string]string{"Content-Type": "application/json"}
	noisy := map[string]string{
		"Content-Type":   "application/json",
		"Authorization":  "Bearer rotating-token",
		"Cookie":         "session=xyz",
		"Date":           "Tue, 25 Aug 2026 10:00:00 GMT",
		"User-Agent":     "loom/1.0",
		"Connection":     "keep-alive",
		"Content-Length": "17",
	}

	body := []byte(`{"a":1}`)
	assert.Equal(t,
		Fingerprint("GET", "https://api.example.com", base, body),
		Fingerprint("GET", "https://api.example.com", noisy, body),
	)
}

func TestFingerprintSensitivity(t *testing.T) {
	headers := map[string]string{"Content-Type": "application/json"}
	body := []byte(`{"a":1}`)
	base := Fingerprint("GET", "https://api.example.com/v1", headers, body)

	assert.NotEqual(t, base, Fingerprint("DELETE", "https://api.example.com/v1", headers, body))
	assert.NotEqual(t, base, Fingerprint("GET", "https://api.example.com/v2", headers, body))
	assert.NotEqual(t, base, Fingerprint("GET", "https://api.example.com/v1", headers, []byte(`{"a":2}`)))
	assert.NotEqual(t, base, Fingerprint("GET", "https://api.example.com/v1", map[string]string{"Content-Type": "text/plain"}, body))
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	// the NUL separators keep adjacent fields from bleeding into each other
	a := Fingerprint("GET", "https://example.com/ab", nil, []byte("c"))
	b := Fingerprint("GET", "https://example.com/a", nil, []byte("bc"))
	assert.NotEqual(t, a, b)
}

func TestMergeTrigger(t *testing.T) {
	base := map[string]interface{}{
		"user":    map[string]interface{}{"id": "u1", "plan": "free"},
		"channel": "#ops",
	}
	override := map[string]interface{}{
		"user": map[string]interface{}{"plan": "pro"},
	}

	merged, err := mergeTrigger(base, override)
	require.NoError(t, err)

	user := merged["user"].(map[string]interface{})
	assert.Equal(t, "u1", user["id"], "untouched fields survive")
	assert.Equal(t, "pro", user["plan"], "override wins")
	assert.Equal(t, "#ops", merged["channel"])
}

func TestMergeTriggerNullRemoves(t *testing.T) {
	base := map[string]interface{}{"keep": 1, "drop": 2}
	merged, err := mergeTrigger(base, map[string]interface{}{"drop": nil})
	require.NoError(t, err)

	_, present := merged["drop"]
	assert.False(t, present, "merge-patch null deletes the field")
	assert.Contains(t, merged, "keep")
}

func TestMergeTriggerEmptyOverride(t *testing.T) {
	base := map[string]interface{}{"a": "b"}
	merged, err := mergeTrigger(base, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, base, merged)
}

func TestReplaySnapshotDefaultCarriesSource(t *testing.T) {
	source := &models.ExecutionReplayPack{
		WorkflowSnapshot: map[string]interface{}{"name": "billing-sync"},
	}

	snapshot := replaySnapshot(source, RerunOptions{})
	assert.Equal(t, source.WorkflowSnapshot, snapshot)
}

func TestReplaySnapshotUseLatestWorkflow(t *testing.T) {
	source := &models.ExecutionReplayPack{
		WorkflowSnapshot: map[string]interface{}{"name": "billing-sync"},
	}

	snapshot := replaySnapshot(source, RerunOptions{UseLatestWorkflow: true})
	assert.Nil(t, snapshot, "rerun against the live workflow carries no snapshot")
}
