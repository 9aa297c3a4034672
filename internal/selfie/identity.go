package selfie

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashClient derives the stored client identity from an IP address.
func HashClient(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

// HashUserAgent returns a shortened digest of ua, or "" when ua is empty.
func HashUserAgent(ua string) string {
	if ua == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ua))
	return hex.EncodeToString(sum[:])[:32]
}
