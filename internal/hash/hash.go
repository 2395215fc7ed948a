// Package hash implements the deterministic subject-hashing scheme used for
// rollout checks and variant assignment (spec §4.8).
package hash

import (
	"crypto/sha1" //nolint:gosec // not used for anything security-sensitive, only deterministic bucketing
	"encoding/hex"
	"fmt"
)

// maxHexDigits is the number of leading hex characters of the SHA1 digest
// used to build the 60-bit integer.
const maxHexDigits = 15

// denominator is 2^60 - 1, matching spec §4.8.
const denominator = float64((uint64(1) << 60) - 1)

// Hash computes the deterministic hash of (key, subjectID[, salt]) used
// throughout the feature-flag subsystem. The result lies in [0, 1].
// Equal arguments always produce a bitwise-identical result.
func Hash(key, subjectID, salt string) float64 {
	input := fmt.Sprintf("%s.%s%s", key, subjectID, salt)
	sum := sha1.Sum([]byte(input)) //nolint:gosec
	digest := hex.EncodeToString(sum[:])[:maxHexDigits]

	var n uint64
	for i := 0; i < len(digest); i++ {
		n <<= 4
		n |= uint64(hexVal(digest[i]))
	}

	return float64(n) / denominator
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

// InRollout reports whether subjectID falls within the given rollout
// percentage (0-100) for flag key. 0 never matches; 100 always matches.
func InRollout(key, subjectID string, rolloutPercentage float64) bool {
	if rolloutPercentage >= 100 {
		return true
	}
	if rolloutPercentage <= 0 {
		return false
	}
	return Hash(key, subjectID, "") < rolloutPercentage/100
}

// Variant computes the variant-assignment hash, salted distinctly from the
// rollout hash so that the two draws are independent.
func Variant(key, subjectID string) float64 {
	return Hash(key, subjectID, "variant")
}

// PickVariant returns the key of the variant whose contiguous [0,1) range
// (in declaration order, by cumulative rollout percentage) contains h, or
// "" if none does (e.g. percentages sum to less than 100).
func PickVariant(h float64, variants []VariantRange) string {
	var cumulative float64
	for _, v := range variants {
		cumulative += v.RolloutPercentage / 100
		if h < cumulative {
			return v.Key
		}
	}
	return ""
}

// VariantRange is the minimal shape PickVariant needs; kept independent of
// the model package to avoid an import cycle.
type VariantRange struct {
	Key               string
	RolloutPercentage float64
}
