// Package hash provides hashing utilities.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Bounds on the BLAKE2b output length, in bytes.
const (
	MinBlake2bSize = 1
	MaxBlake2bSize = blake2b.Size
)

// Blake2b computes an unkeyed BLAKE2b digest of size bytes over data and
// returns it as lowercase hex (2*size characters).
func Blake2b(data []byte, size int) (string, error) {
	if size < MinBlake2bSize || size > MaxBlake2bSize {
		return "", fmt.Errorf("blake2b digest size %d out of range [%d, %d]", size, MinBlake2bSize, MaxBlake2bSize)
	}

	h, err := blake2b.New(size, nil)
	if err != nil {
		return "", fmt.Errorf("creating blake2b hash: %w", err)
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Blake2bString computes the BLAKE2b digest of a string.
func Blake2bString(s string, size int) (string, error) {
	return Blake2b([]byte(s), size)
}

// SHA256 computes the SHA256 hash of data and returns it as a hex string.
func SHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256String computes the SHA256 hash of a string.
func SHA256String(s string) string {
	return SHA256([]byte(s))
}

// SHA256Short returns the first n characters of a SHA256 hash.
func SHA256Short(data []byte, n int) string {
	h := SHA256(data)
	if n > len(h) {
		return h
	}
	return h[:n]
}
