package attribution

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fingerprintPrefix namespaces fingerprints so they are recognizable in logs
// and query results.
const fingerprintPrefix = "fp_"

// fingerprintHexLen is how much of the hex digest we keep.
const fingerprintHexLen = 16

// GenerateFingerprint derives a stable pseudo-identifier from coarse client
// signals. Absent signals must be passed as empty strings — absence changes
// the hash. The pipe delimiter cannot appear in any legitimate input value.
//
// This is NOT a unique visitor identifier: a shared office IP with a common
// browser produces the same fingerprint for many visitors. Treat it as a
// low-confidence probabilistic signal only.
func GenerateFingerprint(ip, userAgent, screenResolution, timezone, language string) string {
	joined := strings.Join([]string{ip, userAgent, screenResolution, timezone, language}, "|")
	sum := sha256.Sum256([]byte(joined))
	return fingerprintPrefix + hex.EncodeToString(sum[:])[:fingerprintHexLen]
}

// FingerprintSimilarity compares two fingerprints. Exact hashes carry no
// distance information, so the result is 1.0 for identical values and 0.0
// otherwise; no partial credit is computed today.
func FingerprintSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	return 0.0
}
