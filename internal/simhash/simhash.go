// Package simhash implements the Charikar SimHash fingerprint: a
// fixed-width integer summary of a weighted token multiset such that
// small Hamming distances between fingerprints correlate with
// textual similarity.
package simhash

import (
	"encoding/base64"
	"fmt"
	"math/big"

	"golang.org/x/crypto/blake2b"
)

// ValidSizes lists the fingerprint bit widths the service supports.
var ValidSizes = map[int]bool{64: true, 128: true, 256: true, 512: true}

// HashFunc maps a token to an unsigned integer of at least `size`
// bits. Implementations may supply their own for testing; the
// default is blake2b-512 truncated to size bits.
type HashFunc func(token string) *big.Int

// defaultHash is a cryptographically-weak-but-well-distributed
// 512-bit hash, truncated per-call to the configured width.
func defaultHash(token string) *big.Int {
	sum := blake2b.Sum512([]byte(token))
	return new(big.Int).SetBytes(sum[:])
}

// Compute returns the size-bit SimHash fingerprint of features using
// h as the per-token hash function. size must be one of ValidSizes;
// callers that accept external configuration should validate size
// once at startup rather than on every call.
func Compute(features map[string]int, size int, h HashFunc) *big.Int {
	if h == nil {
		h = defaultHash
	}
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(size)), big.NewInt(1))
	vector := make([]int, size)

	for token, weight := range features {
		if weight <= 0 {
			continue
		}
		hv := new(big.Int).And(h(token), mask)
		for i := 0; i < size; i++ {
			if hv.Bit(i) == 1 {
				vector[i] += weight
			} else {
				vector[i] -= weight
			}
		}
	}

	fingerprint := big.NewInt(0)
	for i := 0; i < size; i++ {
		if vector[i] > 0 {
			fingerprint.SetBit(fingerprint, i, 1)
		}
	}
	return fingerprint
}

// Encode serializes a fingerprint as size/8 little-endian bytes,
// base64-encoded with the standard alphabet and padding.
func Encode(fingerprint *big.Int, size int) string {
	return base64.StdEncoding.EncodeToString(pack(fingerprint, size))
}

// Decode is the inverse of Encode.
func Decode(encoded string, size int) (*big.Int, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("simhash: decode: %w", err)
	}
	if len(raw) != size/8 {
		return nil, fmt.Errorf("simhash: decode: expected %d bytes, got %d", size/8, len(raw))
	}
	return unpack(raw), nil
}

// pack writes fingerprint as size/8 little-endian bytes.
func pack(fingerprint *big.Int, size int) []byte {
	n := size / 8
	be := fingerprint.FillBytes(make([]byte, n))
	for i, j := 0, len(be)-1; i < j; i, j = i+1, j-1 {
		be[i], be[j] = be[j], be[i]
	}
	return be
}

// unpack is the inverse of pack.
func unpack(le []byte) *big.Int {
	be := make([]byte, len(le))
	for i, b := range le {
		be[len(le)-1-i] = b
	}
	return new(big.Int).SetBytes(be)
}

// EncodedFingerprint computes and encodes a fingerprint in one step,
// matching the convenience entry point the job runner calls per
// capture.
func EncodedFingerprint(features map[string]int, size int, h HashFunc) string {
	return Encode(Compute(features, size, h), size)
}
