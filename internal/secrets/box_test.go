package secrets

import (
	"errors"
	"strings"
	"testing"
)

func newTestBox(t *testing.T) *Box {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	b, err := NewBox(key)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	return b
}

func TestSealOpen(t *testing.T) {
	b := newTestBox(t)
	sealed, err := b.Seal([]byte(`{"access_token":"EAAG-secret"}`))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if strings.Contains(sealed, "EAAG-secret") {
		t.Fatal("sealed value leaks plaintext")
	}
	plain, err := b.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(plain) != `{"access_token":"EAAG-secret"}` {
		t.Fatalf("unexpected plaintext %q", plain)
	}
}

func TestOpenWithWrongKey(t *testing.T) {
	sealed, err := newTestBox(t).Seal([]byte("token"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := newTestBox(t).Open(sealed); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestNewBoxRejectsShortKey(t *testing.T) {
	if _, err := NewBox("c2hvcnQ="); err == nil {
		t.Fatal("expected error for short key")
	}
}
