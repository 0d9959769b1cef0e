package logging

import "testing"

func TestMaskFieldRedactsCredentials(t *testing.T) {
	attr := MaskField("authorization", "Bearer super-secret-token")
	if got := attr.Value.String(); got != RedactedValue {
		t.Fatalf("authorization value = %q, want %q", got, RedactedValue)
	}
	attr = MaskField("method", "escrow_createJob")
	if got := attr.Value.String(); got != "escrow_createJob" {
		t.Fatalf("allowlisted value = %q, want passthrough", got)
	}
	attr = MaskField("token", "")
	if got := attr.Value.String(); got != "" {
		t.Fatalf("empty value = %q, want empty passthrough", got)
	}
}

func TestIsAllowlistedNormalizesKey(t *testing.T) {
	if !IsAllowlisted(" Method ") {
		t.Fatalf("expected trimmed, case-folded key to be allowlisted")
	}
	if IsAllowlisted("secret") {
		t.Fatalf("secret must not be allowlisted")
	}
}
