// services/fingerprint.go
package services

import "regexp"

// FingerprintVersion tags which historical serialization a raw fingerprint uses.
// Versions are declared by the caller (per endpoint), never sniffed from the string.
type FingerprintVersion int

const (
	FingerprintV1 FingerprintVersion = 1 // legacy, compared against fingerprint_old only
	FingerprintV2 FingerprintVersion = 2 // byte-swapped variant of the canonical form
	FingerprintV3 FingerprintVersion = 3 // canonical form, stored as-is
)

// v2SwapPattern matches the fixed group structure of a V2 fingerprint. The third
// and fourth two-character groups are stored swapped relative to the canonical form.
var v2SwapPattern = regexp.MustCompile(`^(\w+)-(\w+)-(\w{2})(\w{2})-`)

// NormalizeFingerprint canonicalizes a raw fingerprint for lookup. V3 and V1 input
// is returned unchanged (V1 is matched against the legacy column, not transformed).
// V2 input that doesn't match the expected structure passes through untouched:
// historical clients shipped malformed fingerprints and we keep accepting them.
func NormalizeFingerprint(raw string, version FingerprintVersion) string {
	if version == FingerprintV2 {
		return v2SwapPattern.ReplaceAllString(raw, "$1-$2-$4$3-")
	}
	return raw
}
