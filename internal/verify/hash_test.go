package verify

import (
	"encoding/hex"
	"testing"
)

func TestHashCodeHex_consistency(t *testing.T) {
	phone, code, salt := "+49123", "123456", "test-salt"
	h1 := hashCodeHex(phone, code, salt)
	h2 := hashCodeHex(phone, code, salt)
	if h1 != h2 {
		t.Errorf("hash should be deterministic: %q != %q", h1, h2)
	}
	decoded, err := hex.DecodeString(h1)
	if err != nil {
		t.Fatalf("hash should be valid hex: %v", err)
	}
	if len(decoded) != 32 {
		t.Errorf("SHA-256 hash should be 32 bytes, got %d", len(decoded))
	}
}

func TestHashCodeHex_differentInputsDifferentHash(t *testing.T) {
	salt := "salt"
	h1 := hashCodeHex("+49123", "123456", salt)
	h2 := hashCodeHex("+49124", "123456", salt)
	h3 := hashCodeHex("+49123", "654321", salt)
	if h1 == h2 || h1 == h3 || h2 == h3 {
		t.Error("different inputs should produce different hashes")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	a := []byte("same")
	b := []byte("same")
	if !constantTimeEqual(a, b) {
		t.Error("identical slices should compare equal")
	}
	if constantTimeEqual(a, []byte("diff")) {
		t.Error("different slices should not compare equal")
	}
	if constantTimeEqual([]byte("a"), []byte("ab")) {
		t.Error("different length slices should not compare equal")
	}
	if constantTimeEqual(nil, []byte("x")) {
		t.Error("nil and non-nil should not compare equal")
	}
}

func TestCryptoCodeSource_range(t *testing.T) {
	src := CryptoCodeSource{}
	for i := 0; i < 200; i++ {
		code, err := src.Code()
		if err != nil {
			t.Fatalf("code generation failed: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("code %q is not 6 digits", code)
		}
		if code[0] == '0' {
			t.Fatalf("code %q outside 100000-999999", code)
		}
	}
}
