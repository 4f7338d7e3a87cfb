package auth

import (
	"strings"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	gk, err := GenerateKey("ak_")
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	if !strings.HasPrefix(gk.PlainKey, "ak_") {
		t.Errorf("PlainKey %q missing ak_ prefix", gk.PlainKey)
	}
	if len(gk.PlainKey) != len("ak_")+KeyRandomBytes*2 {
		t.Errorf("PlainKey length = %d, want %d", len(gk.PlainKey), len("ak_")+KeyRandomBytes*2)
	}
	if gk.Prefix != gk.PlainKey[:PrefixLength] {
		t.Errorf("Prefix = %q, want first %d chars of key", gk.Prefix, PrefixLength)
	}
	if gk.Hash == gk.PlainKey {
		t.Error("hash must not equal plaintext")
	}
	if !strings.HasPrefix(gk.Hash, "$2a$") && !strings.HasPrefix(gk.Hash, "$2b$") {
		t.Errorf("Hash %q is not a bcrypt hash", gk.Hash)
	}
}

func TestGenerateKeyUniqueness(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		gk, err := GenerateKey("ak_")
		if err != nil {
			t.Fatal(err)
		}
		if seen[gk.PlainKey] {
			t.Fatal("duplicate key generated")
		}
		seen[gk.PlainKey] = true
	}
}

func TestCompareKey(t *testing.T) {
	gk, err := GenerateKey("ak_")
	if err != nil {
		t.Fatal(err)
	}

	if !CompareKey(gk.Hash, gk.PlainKey) {
		t.Error("CompareKey rejected the matching key")
	}
	if CompareKey(gk.Hash, gk.PlainKey+"x") {
		t.Error("CompareKey accepted a tampered key")
	}
	if CompareKey(gk.Hash, "") {
		t.Error("CompareKey accepted an empty key")
	}
	if CompareKey("not-a-hash", gk.PlainKey) {
		t.Error("CompareKey accepted a garbage hash")
	}
}

func TestKeyLookupPrefix(t *testing.T) {
	if got := KeyLookupPrefix("ak_0123456789abcdef"); got != "ak_0123456" {
		t.Errorf("KeyLookupPrefix = %q, want ak_0123456", got)
	}
	if got := KeyLookupPrefix("short"); got != "" {
		t.Errorf("KeyLookupPrefix(short) = %q, want empty", got)
	}
}

func TestPlausibleKey(t *testing.T) {
	gk, err := GenerateKey("ak_")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		key  string
		want bool
	}{
		{gk.PlainKey, true},
		{"", false},
		{"ak_", false},
		{"wrong_" + gk.PlainKey[3:], false},
		{gk.PlainKey + "extra", false},
	}
	for _, tt := range tests {
		if got := PlausibleKey("ak_", tt.key); got != tt.want {
			t.Errorf("PlausibleKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestMaskKey(t *testing.T) {
	if got := MaskKey("ak_0123456"); got != "ak_0123456..." {
		t.Errorf("MaskKey = %q", got)
	}
}
