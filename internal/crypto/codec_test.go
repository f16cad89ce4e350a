package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/loqui/social-core/internal/domain"
)

const testKeyHex = "6368616e676520746869732070617373776f726420746f206120736563726574"

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	key, err := DeriveKey(testKeyHex)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	c, err := NewCodec(key)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestDeriveKey_RejectsBadInput(t *testing.T) {
	if _, err := DeriveKey("not-hex"); err == nil {
		t.Error("expected error for non-hex input")
	}
	if _, err := DeriveKey("abcd"); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := DeriveKey(testKeyHex + "ff"); err == nil {
		t.Error("expected error for oversized key")
	}
}

func TestRoundTrip(t *testing.T) {
	c := newTestCodec(t)

	for _, plaintext := range []string{"hi", "", "héllo wörld 👍", strings.Repeat("x", 4096)} {
		blob, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		got, err := c.Decrypt(blob)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip mismatch: got %q want %q", got, plaintext)
		}
	}
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	c := newTestCodec(t)

	b1, err := c.Encrypt("same input")
	if err != nil {
		t.Fatal(err)
	}
	b2, err := c.Encrypt("same input")
	if err != nil {
		t.Fatal(err)
	}
	if b1 == b2 {
		t.Error("two encryptions of the same plaintext produced identical blobs")
	}
}

func TestDecrypt_BitFlipFailsIntegrity(t *testing.T) {
	c := newTestCodec(t)

	blob, err := c.Encrypt("attack at dawn")
	if err != nil {
		t.Fatal(err)
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		t.Fatal(err)
	}

	// Flipping any single byte (nonce, ciphertext, or tag) must fail.
	for i := range raw {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[i] ^= 0x01

		_, err := c.Decrypt(base64.StdEncoding.EncodeToString(mutated))
		if !errors.Is(err, domain.ErrIntegrity) {
			t.Fatalf("byte %d: expected ErrIntegrity, got %v", i, err)
		}
	}
}

func TestDecrypt_ShortBlob(t *testing.T) {
	c := newTestCodec(t)

	short := base64.StdEncoding.EncodeToString([]byte("tiny"))
	if _, err := c.Decrypt(short); !errors.Is(err, domain.ErrIntegrity) {
		t.Errorf("expected ErrIntegrity for short blob, got %v", err)
	}

	if _, err := c.Decrypt("%%%not base64%%%"); !errors.Is(err, domain.ErrIntegrity) {
		t.Errorf("expected ErrIntegrity for invalid encoding, got %v", err)
	}
}
