package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestSignAndVerifySessionID(t *testing.T) {
	secret := []byte("secret")
	id, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID() error = %v", err)
	}
	cookie := SignSessionID(secret, id)
	got, err := VerifySessionID(secret, cookie)
	if err != nil {
		t.Fatalf("VerifySessionID() error = %v", err)
	}
	if got != id {
		t.Fatalf("expected %q, got %q", id, got)
	}
}

func TestVerifySessionIDRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	cookie := SignSessionID(secret, "abc")

	cases := map[string]string{
		"other secret": SignSessionID([]byte("other"), "abc"),
		"swapped id":   "abd" + cookie[strings.Index(cookie, "."):],
		"no signature": "abc",
		"empty id":     "." + strings.SplitN(cookie, ".", 2)[1],
		"empty":        "",
	}
	for name, value := range cases {
		if _, err := VerifySessionID(secret, value); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("a") != HashToken("a") || HashToken("a") == HashToken("b") {
		t.Fatal("HashToken must be deterministic and distinguish inputs")
	}
	if len(HashToken("a")) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(HashToken("a")))
	}
}
