package common

import (
	"crypto/rand"
	"time"
)

// GenerateRandByteArray returns size bytes from the system CSPRNG.
// It panics if the generator fails, which on supported platforms
// indicates a broken environment rather than a recoverable error.
func GenerateRandByteArray(size int) []byte {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// WipeByteArray overwrites the contents of the provided byte slice with zeros.
// This is useful for removing sensitive data such as decrypted content or
// cryptographic keys from memory after use.
//
// If the slice is nil, the function does nothing.
func WipeByteArray(b []byte) {
	if b == nil {
		return
	}
	for i := range b {
		b[i] = 0
	}
}

// TimestampMs returns the current wall-clock time in milliseconds.
// Record timestamps are informative, not strictly ordered.
func TimestampMs() int64 {
	return time.Now().UnixMilli()
}

// SizeUnknown is the sentinel used for records whose content size has not
// been computed (doc and form records).
const SizeUnknown int64 = -1
