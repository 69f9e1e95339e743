package canonical

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

var (
	// ErrInvalidSignature indicates signature verification failed
	ErrInvalidSignature = errors.New("invalid HMAC signature")
)

// SignHMAC signs a canonical payload using HMAC-SHA256 and returns the
// base64-encoded signature.
//
// Example:
//
//	payload, _ := TransitionBytes("s1", obs)
//	sig := SignHMAC(payload, []byte("my-secret-key"))
func SignHMAC(payload, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC verifies a base64 HMAC-SHA256 signature over payload using a
// constant-time comparison.
func VerifyHMAC(payload []byte, sigB64 string, key []byte) error {
	got, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), got) {
		return ErrInvalidSignature
	}
	return nil
}
