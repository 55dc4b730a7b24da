package keyvault

import (
	"errors"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	vault, err := New("server-side-secret")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	inputs := []string{"sk-test-1234567890", "", "ключ-с-юникодом", "sk-" + string(make([]byte, 200))}
	for _, input := range inputs {
		sealed, err := vault.Encrypt(input)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		got, err := vault.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if got != input {
			t.Fatalf("round trip mismatch: got %q want %q", got, input)
		}
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	vault, err := New("server-side-secret")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	first, _ := vault.Encrypt("sk-same")
	second, _ := vault.Encrypt("sk-same")
	if first.IV == second.IV {
		t.Fatal("expected distinct IVs")
	}
	if first.Ciphertext == second.Ciphertext {
		t.Fatal("expected distinct ciphertexts")
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	a, _ := New("key-a")
	b, _ := New("key-b")
	sealed, err := a.Encrypt("sk-secret")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := b.Decrypt(sealed); !errors.Is(err, ErrInvalidCiphertext) {
		t.Fatalf("expected ErrInvalidCiphertext, got %v", err)
	}
}

func TestDecryptRejectsTamperedIV(t *testing.T) {
	vault, _ := New("key-a")
	sealed, _ := vault.Encrypt("sk-secret")
	sealed.IV = "bm90LWFuLWl2"
	if _, err := vault.Decrypt(sealed); !errors.Is(err, ErrInvalidCiphertext) {
		t.Fatalf("expected ErrInvalidCiphertext, got %v", err)
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New("  "); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
}

func TestHint(t *testing.T) {
	if got := Hint("sk-abcdef1234"); got != "...1234" {
		t.Fatalf("Hint() = %q", got)
	}
	if got := Hint("abc"); got != "***" {
		t.Fatalf("Hint() = %q", got)
	}
}
