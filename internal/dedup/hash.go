package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultHammingThreshold is the maximum Hamming distance at which two
// 64-bit SimHash fingerprints are considered near-duplicate candidates.
// False negatives are rare at 3; false positives remain possible and must
// be confirmed by the caller if exactness matters.
const DefaultHammingThreshold = 3

// ContentHash returns the SHA-256 hex digest of the text. Equal digests
// guarantee byte-identical input.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Fingerprint computes a 64-bit SimHash over the whitespace-tokenized,
// lowercased words of text and returns it as a fixed-width hex string.
// Hamming distance between fingerprints approximates textual similarity.
func Fingerprint(text string) string {
	return formatFingerprint(simhash(tokenize(text)))
}

func formatFingerprint(v uint64) string {
	return fmt.Sprintf("%016x", v)
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

func simhash(tokens []string) uint64 {
	var v [64]int
	weights := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		weights[tok]++
	}
	for tok, weight := range weights {
		h := xxhash.Sum64String(tok)
		for i := 0; i < 64; i++ {
			if h&(1<<uint(i)) != 0 {
				v[i] += weight
			} else {
				v[i] -= weight
			}
		}
	}
	var fp uint64
	for i := 0; i < 64; i++ {
		if v[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// HammingDistance returns the number of differing bits between two hex
// fingerprints.
func HammingDistance(fp1, fp2 string) (int, error) {
	a, err := strconv.ParseUint(fp1, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse fingerprint %q: %w", fp1, err)
	}
	b, err := strconv.ParseUint(fp2, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse fingerprint %q: %w", fp2, err)
	}
	return bits.OnesCount64(a ^ b), nil
}

// IsNearDuplicate reports whether two fingerprints are within threshold
// Hamming distance. A non-positive threshold falls back to
// DefaultHammingThreshold. Unparseable fingerprints are never duplicates.
func IsNearDuplicate(fp1, fp2 string, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultHammingThreshold
	}
	d, err := HammingDistance(fp1, fp2)
	if err != nil {
		return false
	}
	return d <= threshold
}
