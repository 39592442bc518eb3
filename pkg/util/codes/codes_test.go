package codes

import (
	"strings"
	"testing"
)

func TestGenerateConfirmationCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code, err := GenerateConfirmationCode(DefaultConfig())
		if err != nil {
			t.Fatalf("GenerateConfirmationCode() error = %v", err)
		}
		if len(code) != ConfirmationCodeLength {
			t.Fatalf("len = %d, want %d", len(code), ConfirmationCodeLength)
		}
		if strings.ContainsAny(code, "0O1IL") {
			t.Fatalf("code %q contains an ambiguous character", code)
		}
		if code != NormalizeCode(code) {
			t.Fatalf("code %q is not normalised", code)
		}
		seen[code] = true
	}
	if len(seen) < 195 {
		t.Errorf("too many collisions: %d unique of 200", len(seen))
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	formatted := FormatCode("ABCD2345", 4)
	if formatted != "ABCD-2345" {
		t.Fatalf("FormatCode() = %q", formatted)
	}
	if got := ParseCode(" abcd-2345 "); got != "ABCD2345" {
		t.Fatalf("ParseCode() = %q", got)
	}
}

func TestGenerateCode_Errors(t *testing.T) {
	if _, err := GenerateCode(0, "AB"); err != ErrInvalidLength {
		t.Errorf("GenerateCode(0) error = %v", err)
	}
	if _, err := GenerateCode(4, ""); err == nil {
		t.Error("GenerateCode with empty charset should fail")
	}
	if _, err := GenerateSecureToken(0); err != ErrInvalidLength {
		t.Errorf("GenerateSecureToken(0) error = %v", err)
	}
	tok, err := GenerateSecureToken(16)
	if err != nil || len(tok) != 32 {
		t.Errorf("GenerateSecureToken(16) = %q, %v", tok, err)
	}
}
