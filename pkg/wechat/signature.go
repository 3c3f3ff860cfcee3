// Package wechat implements the WeChat official-account wire protocol:
// webhook signatures, inbound message decoding, passive text replies and
// the small slice of the platform API used for media downloads.
package wechat

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// Signature computes the webhook signature for the given shared token,
// timestamp and nonce: the three values are sorted, concatenated and
// hashed with SHA-1.
func Signature(token, timestamp, nonce string) string {
	parts := []string{token, timestamp, nonce}
	sort.Strings(parts)

	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// VerifySignature reports whether signature matches the expected value.
// An empty token never verifies.
func VerifySignature(token, timestamp, nonce, signature string) bool {
	if token == "" || signature == "" {
		return false
	}
	expected := Signature(token, timestamp, nonce)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(signature))) == 1
}
