package services

import "testing"

func TestNormalizeFingerprintV3Identity(t *testing.T) {
	inputs := []string{
		"abc-def-0102-rest",
		"e2b0f537-e5a0-0102-a873",
		"",
		"nonsense",
	}
	for _, in := range inputs {
		if got := NormalizeFingerprint(in, FingerprintV3); got != in {
			t.Errorf("NormalizeFingerprint(%q, V3) = %q, want input unchanged", in, got)
		}
	}
}

func TestNormalizeFingerprintV2Swap(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc-def-0102-rest", "abc-def-0201-rest"},
		{"a1-b2-cdef-tail", "a1-b2-efcd-tail"},
		// structurally invalid input passes through unchanged
		{"a-b-c-d", "a-b-c-d"},
		{"nonsense", "nonsense"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeFingerprint(tt.in, FingerprintV2); got != tt.want {
			t.Errorf("NormalizeFingerprint(%q, V2) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeFingerprintV2Involution(t *testing.T) {
	inputs := []string{
		"abc-def-0102-rest",
		"aa-bb-ccdd-",
		"e2b0f537-e5a0-3699-a873",
	}
	for _, in := range inputs {
		once := NormalizeFingerprint(in, FingerprintV2)
		twice := NormalizeFingerprint(once, FingerprintV2)
		if twice != in {
			t.Errorf("double swap of %q = %q, want original", in, twice)
		}
	}
}

func TestNormalizeFingerprintV1Untouched(t *testing.T) {
	if got := NormalizeFingerprint("abc-def-0102-rest", FingerprintV1); got != "abc-def-0102-rest" {
		t.Errorf("V1 normalization must not transform, got %q", got)
	}
}

func TestNormalizeFingerprintDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		if got := NormalizeFingerprint("abc-def-0102-rest", FingerprintV2); got != "abc-def-0201-rest" {
			t.Fatalf("run %d: got %q", i, got)
		}
	}
}
