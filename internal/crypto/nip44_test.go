package crypto_test

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/humansinstitute/ambulando-sub000/internal/crypto"
	"github.com/humansinstitute/ambulando-sub000/internal/domain"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	alice, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	bob, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	for _, msg := range []string{"x", "hello, relay", strings.Repeat("a", 300), strings.Repeat("b", 65535)} {
		payload, err := crypto.Encrypt(alice.Secret, bob.Public, msg)
		if err != nil {
			t.Fatalf("Encrypt(%d bytes): %v", len(msg), err)
		}
		got, err := crypto.Decrypt(bob.Secret, alice.Public, payload)
		if err != nil {
			t.Fatalf("Decrypt(%d bytes): %v", len(msg), err)
		}
		if got != msg {
			t.Fatalf("round trip mismatch for %d-byte message", len(msg))
		}
	}
}

func TestConversationKey_Symmetric(t *testing.T) {
	alice, _ := crypto.GenerateKeyPair()
	bob, _ := crypto.GenerateKeyPair()

	ab, err := crypto.ConversationKey(alice.Secret, bob.Public)
	if err != nil {
		t.Fatalf("ConversationKey(alice, bob): %v", err)
	}
	ba, err := crypto.ConversationKey(bob.Secret, alice.Public)
	if err != nil {
		t.Fatalf("ConversationKey(bob, alice): %v", err)
	}
	if ab != ba {
		t.Fatal("conversation keys differ between the two sides")
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	alice, _ := crypto.GenerateKeyPair()
	bob, _ := crypto.GenerateKeyPair()
	eve, _ := crypto.GenerateKeyPair()

	payload, err := crypto.Encrypt(alice.Secret, bob.Public, "for bob only")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := crypto.Decrypt(eve.Secret, alice.Public, payload); !errors.Is(err, domain.ErrDecryptionFailed) {
		t.Fatalf("want ErrDecryptionFailed for eavesdropper, got %v", err)
	}
}

func TestDecrypt_Tampered(t *testing.T) {
	alice, _ := crypto.GenerateKeyPair()
	bob, _ := crypto.GenerateKeyPair()

	payload, err := crypto.Encrypt(alice.Secret, bob.Public, "untouched")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	raw[len(raw)/2] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := crypto.Decrypt(bob.Secret, alice.Public, tampered); !errors.Is(err, domain.ErrDecryptionFailed) {
		t.Fatalf("want ErrDecryptionFailed for tampered payload, got %v", err)
	}
}

func TestDecrypt_Malformed(t *testing.T) {
	alice, _ := crypto.GenerateKeyPair()
	bob, _ := crypto.GenerateKeyPair()

	for _, payload := range []string{"", "#v0payload", "not base64 at all!!", base64.StdEncoding.EncodeToString([]byte{2, 1, 2, 3})} {
		if _, err := crypto.Decrypt(bob.Secret, alice.Public, payload); !errors.Is(err, domain.ErrDecryptionFailed) {
			t.Fatalf("payload %q: want ErrDecryptionFailed, got %v", payload, err)
		}
	}
}

func TestEncrypt_PlaintextBounds(t *testing.T) {
	alice, _ := crypto.GenerateKeyPair()
	bob, _ := crypto.GenerateKeyPair()

	if _, err := crypto.Encrypt(alice.Secret, bob.Public, ""); err == nil {
		t.Fatal("empty plaintext accepted")
	}
	if _, err := crypto.Encrypt(alice.Secret, bob.Public, strings.Repeat("a", 65536)); err == nil {
		t.Fatal("oversized plaintext accepted")
	}
}
