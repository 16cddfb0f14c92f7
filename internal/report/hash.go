package report

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeHash returns the sha256 hex digest of canonical bytes, or "" for none.
//
// The input must already be canonical (Report.CanonicalJSON, or the raw bytes
// of a trace file when hashing the trace itself).
func ComputeHash(canonical []byte) string {
	if len(canonical) == 0 {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
