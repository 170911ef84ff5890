package vault

import (
	"bytes"
	"errors"
	"testing"

	scanerrors "github.com/sentinelsec/sentinel/internal/shared/errors"
)

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	cases := []struct {
		name      string
		plaintext []byte
	}{
		{"short", []byte("secret")},
		{"empty", []byte{}},
		{"binary", []byte{0x00, 0xff, 0x10, 0x80}},
		{"larger", bytes.Repeat([]byte("payload "), 512)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blob, err := Encrypt(tc.plaintext, "correct horse")
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			got, err := Decrypt(blob, "correct horse")
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if !bytes.Equal(got, tc.plaintext) {
				t.Errorf("roundtrip mismatch: %q vs %q", got, tc.plaintext)
			}
		})
	}
}

func TestEncrypt_FreshSaltAndNonce(t *testing.T) {
	a, err := Encrypt([]byte("same input"), "pass")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt([]byte("same input"), "pass")
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same input produced identical blobs")
	}
}

func TestEncrypt_EmptyPassphrase(t *testing.T) {
	if _, err := Encrypt([]byte("x"), ""); !errors.Is(err, scanerrors.ErrEmptyPassphrase) {
		t.Errorf("Encrypt = %v, want ErrEmptyPassphrase", err)
	}
	if _, err := Decrypt([]byte("x"), ""); !errors.Is(err, scanerrors.ErrEmptyPassphrase) {
		t.Errorf("Decrypt = %v, want ErrEmptyPassphrase", err)
	}
}

func TestDecrypt_WrongPassphrase(t *testing.T) {
	blob, err := Encrypt([]byte("secret"), "right")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(blob, "wrong"); !errors.Is(err, scanerrors.ErrDecryptFailed) {
		t.Errorf("Decrypt = %v, want ErrDecryptFailed", err)
	}
}

func TestDecrypt_TamperedBlob(t *testing.T) {
	blob, err := Encrypt([]byte("secret"), "pass")
	if err != nil {
		t.Fatal(err)
	}
	blob[len(blob)-1] ^= 0x01
	if _, err := Decrypt(blob, "pass"); !errors.Is(err, scanerrors.ErrDecryptFailed) {
		t.Errorf("Decrypt of tampered blob = %v, want ErrDecryptFailed", err)
	}
}

func TestDecrypt_TruncatedBlob(t *testing.T) {
	for _, n := range []int{0, 1, saltLen, saltLen + nonceLen} {
		if _, err := Decrypt(make([]byte, n), "pass"); !errors.Is(err, scanerrors.ErrCiphertextFormat) {
			t.Errorf("Decrypt of %d-byte blob = %v, want ErrCiphertextFormat", n, err)
		}
	}
}
