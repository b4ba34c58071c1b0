package lsps2

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// Promise computes the HMAC-SHA256 "promise" that authenticates a fee
// offer, turning raw into an OpeningFeeParams ready to put on the wire.
// The HMAC input is fixed-width big-endian for the numeric fields and
// the RFC 3339 string form of ValidUntil, byte-for-byte - any other
// canonicalization of the timestamp silently breaks verification
// against another implementation.
func (raw RawOpeningFeeParams) Promise(secret [32]byte) OpeningFeeParams {
	mac := hmac.New(sha256.New, secret[:])
	mac.Write(promiseInput(raw.MinFeeMsat, raw.Proportional, raw.ValidUntil, raw.MinLifetime, raw.MaxClientToSelfDelay))

	return OpeningFeeParams{
		MinFeeMsat:           raw.MinFeeMsat,
		Proportional:         raw.Proportional,
		ValidUntil:           raw.ValidUntil,
		MinLifetime:          raw.MinLifetime,
		MaxClientToSelfDelay: raw.MaxClientToSelfDelay,
		Promise:              hex.EncodeToString(mac.Sum(nil)),
	}
}

// VerifyPromise recomputes the HMAC over params under secret and compares
// it in constant time against params.Promise, additionally requiring the
// offer has not expired as of now. All three conditions - field
// validity implicit in the HMAC match, HMAC equality, and non-expiry -
// must hold for the offer to be honored.
func VerifyPromise(params OpeningFeeParams, secret [32]byte, now time.Time) bool {
	if now.After(params.ValidUntil) {
		return false
	}

	mac := hmac.New(sha256.New, secret[:])
	mac.Write(promiseInput(params.MinFeeMsat, params.Proportional, params.ValidUntil, params.MinLifetime, params.MaxClientToSelfDelay))
	expected := mac.Sum(nil)

	given, err := hex.DecodeString(params.Promise)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, given)
}

func promiseInput(minFeeMsat uint64, proportional uint32, validUntil time.Time, minLifetime, maxClientToSelfDelay uint32) []byte {
	buf := make([]byte, 0, 8+4+4+4+32)

	var feeBuf [8]byte
	binary.BigEndian.PutUint64(feeBuf[:], minFeeMsat)
	buf = append(buf, feeBuf[:]...)

	var propBuf [4]byte
	binary.BigEndian.PutUint32(propBuf[:], proportional)
	buf = append(buf, propBuf[:]...)

	buf = append(buf, []byte(validUntil.UTC().Format(time.RFC3339))...)

	var lifetimeBuf [4]byte
	binary.BigEndian.PutUint32(lifetimeBuf[:], minLifetime)
	buf = append(buf, lifetimeBuf[:]...)

	var delayBuf [4]byte
	binary.BigEndian.PutUint32(delayBuf[:], maxClientToSelfDelay)
	buf = append(buf, delayBuf[:]...)

	return buf
}
