package auth

import (
	"strings"
	"testing"
	"time"
)

func TestMintTokenNeverStoresSecret(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, token, err := mintToken("user-1", now, time.Hour)
	if err != nil {
		t.Fatalf("mintToken: %v", err)
	}

	id, secret, err := splitToken(raw)
	if err != nil {
		t.Fatalf("splitToken: %v", err)
	}
	if id != token.ID {
		t.Fatalf("wire id %s, record id %s", id, token.ID)
	}
	if strings.Contains(token.SecretHash, secret) {
		t.Fatal("secret leaked into stored hash")
	}
	if !verifyTokenSecret(token.SecretHash, secret) {
		t.Fatal("stored hash does not verify the minted secret")
	}
	if verifyTokenSecret(token.SecretHash, secret+"x") {
		t.Fatal("tampered secret verified")
	}
}

func TestMintTokenSecretsAreUnique(t *testing.T) {
	now := time.Now().UTC()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		raw, _, err := mintToken("user-1", now, time.Hour)
		if err != nil {
			t.Fatalf("mintToken: %v", err)
		}
		if seen[raw] {
			t.Fatal("duplicate token minted")
		}
		seen[raw] = true
	}
}

func TestSplitTokenRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "nodot", ".", "a.", ".b", "a.b.c"} {
		if _, _, err := splitToken(raw); err == nil {
			t.Fatalf("splitToken(%q) accepted malformed input", raw)
		}
	}
}
