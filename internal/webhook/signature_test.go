package webhook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"event":"shipment.delivered"}`)
	sig := Sign(secret, body)

	assert.True(t, Verify(secret, sig, body))
	assert.True(t, Verify(secret, "sha256="+sig, body))
	assert.True(t, Verify(secret, strings.ToUpper(sig), body))

	assert.False(t, Verify(secret, sig, []byte(`{"event":"shipment.failed"}`)))
	assert.False(t, Verify([]byte("other"), sig, body))
	assert.False(t, Verify(secret, "", body))
	assert.False(t, Verify(secret, "not-hex", body))
	assert.False(t, Verify(nil, Sign(nil, body), body))
}
