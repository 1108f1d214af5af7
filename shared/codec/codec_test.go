package codec

import (
	"errors"
	"strings"
	"testing"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/keys"
)

func mustKeyPair(t *testing.T, owner int64) *keys.KeyPair {
	t.Helper()
	kp, err := keys.GenerateKeyPair(owner, nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return kp
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	recipient := mustKeyPair(t, 2)

	inputs := []string{
		"Hello",
		"",
		"multi\nline\nmessage",
		"emoji 🚗 and unicode 停车位",
		strings.Repeat("x", 64*1024),
		EnvelopeHeader,
	}

	for _, plaintext := range inputs {
		content, err := Encrypt(plaintext, recipient.Public)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if !content.IsEncrypted() {
			t.Fatal("encrypted content should be tagged as encrypted")
		}
		got, err := Decrypt(content, recipient)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip mismatch: got %q want %q", got, plaintext)
		}
	}
}

func TestEncrypt_SenderCopy(t *testing.T) {
	sender := mustKeyPair(t, 1)
	recipient := mustKeyPair(t, 2)

	content, err := Encrypt("see you at bay 4", recipient.Public, sender.Public, recipient.Public)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if n := int(content.Payload()[0]); n != 2 {
		t.Errorf("duplicate recipients should be collapsed, got %d", n)
	}

	for _, kp := range []*keys.KeyPair{sender, recipient} {
		got, err := Decrypt(content, kp)
		if err != nil {
			t.Fatalf("Decrypt for %d: %v", kp.OwnerID, err)
		}
		if got != "see you at bay 4" {
			t.Errorf("unexpected plaintext %q", got)
		}
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	recipient := mustKeyPair(t, 2)
	stranger := mustKeyPair(t, 3)

	content, err := Encrypt("secret", recipient.Public)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	_, err = Decrypt(content, stranger)
	if !errors.Is(err, sharedErrors.ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}

	text, ok := Reveal(content, stranger)
	if ok || text != UndecryptablePlaceholder {
		t.Errorf("Reveal should return the placeholder, got %q %v", text, ok)
	}
}

func TestDecrypt_Corrupted(t *testing.T) {
	kp := mustKeyPair(t, 2)
	content, err := Encrypt("secret", kp.Public)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tampered := content.Payload()
	tampered[len(tampered)-1] ^= 0xff

	if _, err := Decrypt(content, kp); !errors.Is(err, sharedErrors.ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed for tampered payload, got %v", err)
	}

	broken := Detect(EnvelopeHeader + "\nnot base64 at all\n")
	if !broken.IsEncrypted() {
		t.Fatal("body with envelope header must be tagged encrypted")
	}
	if _, err := Decrypt(broken, kp); !errors.Is(err, sharedErrors.ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed for malformed envelope, got %v", err)
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind Kind
	}{
		{"legacy plaintext", "Is the spot still free?", KindPlaintext},
		{"empty", "", KindPlaintext},
		{"header mid text", "look: " + EnvelopeHeader, KindPlaintext},
		{"leading whitespace", "\n  " + EnvelopeHeader + "\n", KindEncrypted},
		{"other pem", "-----BEGIN PUBLIC KEY-----", KindPlaintext},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Detect(tt.body)
			if c.Kind() != tt.kind {
				t.Errorf("Detect(%q) kind = %v, want %v", tt.body, c.Kind(), tt.kind)
			}
			if c.Wire() != tt.body {
				t.Errorf("Wire() must return the original body")
			}
		})
	}
}

func TestPlaintextPassThrough(t *testing.T) {
	c := Detect("legacy hello")
	got, err := Decrypt(c, nil)
	if err != nil {
		t.Fatalf("plaintext decrypt should not fail: %v", err)
	}
	if got != "legacy hello" {
		t.Errorf("got %q", got)
	}
	if Preview("legacy hello") != "legacy hello" {
		t.Error("plaintext preview should be the body")
	}
}

func TestPreview_Encrypted(t *testing.T) {
	kp := mustKeyPair(t, 1)
	c, err := Encrypt("hidden", kp.Public)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if Preview(c.Wire()) != "" {
		t.Error("encrypted preview must be empty")
	}
}

func TestEncrypt_NoRecipients(t *testing.T) {
	if _, err := Encrypt("x"); err == nil {
		t.Fatal("expected error without recipients")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestEncrypt_CryptoUnavailable(t *testing.T) {
	kp := mustKeyPair(t, 1)
	_, err := EncryptWithRandom(failingReader{}, "x", kp.Public)
	if !errors.Is(err, sharedErrors.ErrCryptoUnavailable) {
		t.Fatalf("expected ErrCryptoUnavailable, got %v", err)
	}
}
