package lsps2

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func sampleRawParams(t *testing.T, validUntil string) RawOpeningFeeParams {
	return RawOpeningFeeParams{
		MinFeeMsat:           100,
		Proportional:         21,
		ValidUntil:           mustParse(t, validUntil),
		MinLifetime:          144,
		MaxClientToSelfDelay: 128,
	}
}

func TestPromiseValidity(t *testing.T) {
	var secret [32]byte
	for i := range secret {
		secret[i] = 0x01
	}

	raw := sampleRawParams(t, "2035-05-20T08:30:45Z")
	params := raw.Promise(secret)

	now := mustParse(t, "2024-01-01T00:00:00Z")
	assert.True(t, VerifyPromise(params, secret, now))
}

func TestPromiseTamperDetection(t *testing.T) {
	var secret [32]byte
	for i := range secret {
		secret[i] = 0x01
	}

	raw := sampleRawParams(t, "2035-05-20T08:30:45Z")
	params := raw.Promise(secret)
	params.MinFeeMsat = 101 // tampered without recomputing the promise

	now := mustParse(t, "2024-01-01T00:00:00Z")
	assert.False(t, VerifyPromise(params, secret, now))
}

func TestPromiseWrongSecret(t *testing.T) {
	var secret, other [32]byte
	for i := range secret {
		secret[i] = 0x01
		other[i] = 0x02
	}

	raw := sampleRawParams(t, "2035-05-20T08:30:45Z")
	params := raw.Promise(secret)

	now := mustParse(t, "2024-01-01T00:00:00Z")
	assert.False(t, VerifyPromise(params, other, now))
}

func TestPromiseExpiry(t *testing.T) {
	var secret [32]byte
	for i := range secret {
		secret[i] = 0x01
	}

	raw := sampleRawParams(t, "2023-05-20T08:30:45Z")
	params := raw.Promise(secret)

	now := mustParse(t, "2024-01-01T00:00:00Z")
	assert.False(t, VerifyPromise(params, secret, now))
}

func TestPromiseRoundTripForAllSecrets(t *testing.T) {
	secrets := [][32]byte{{}, {0xff}, {0x01, 0x02, 0x03}}
	for _, secret := range secrets {
		raw := sampleRawParams(t, "2035-05-20T08:30:45Z")
		params := raw.Promise(secret)
		now := mustParse(t, "2024-01-01T00:00:00Z")
		assert.True(t, VerifyPromise(params, secret, now))
	}
}
