package vault

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name       string
		plaintext  []byte
		passphrase string
	}{
		{"short", []byte("hello"), "correct horse battery staple"},
		{"empty", []byte{}, "p"},
		{"binary", []byte{0x00, 0xff, 0x13, 0x37, 0x00}, "pass"},
		{"json", []byte(`{"cookies":[{"name":"sid","value":"abc"}]}`), "hunter2"},
		{"unicode passphrase", []byte("payload"), "pâssphrasé✓"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := Encrypt(tc.plaintext, tc.passphrase)
			if err != nil {
				t.Fatalf("encrypt: %v", err)
			}
			got, err := Decrypt(rec, tc.passphrase)
			if err != nil {
				t.Fatalf("decrypt: %v", err)
			}
			if !bytes.Equal(got, tc.plaintext) {
				t.Fatalf("round trip mismatch: got %q, want %q", got, tc.plaintext)
			}
		})
	}
}

func TestWrongPassphrase(t *testing.T) {
	rec, err := Encrypt([]byte("secret"), "right")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(rec, "wrong"); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestTamperDetection(t *testing.T) {
	rec, err := Encrypt([]byte("the eagle has landed"), "k")
	if err != nil {
		t.Fatal(err)
	}
	blob, err := base64.StdEncoding.DecodeString(rec)
	if err != nil {
		t.Fatal(err)
	}

	// Flip one bit at every byte position: salt, nonce, tag, and
	// ciphertext corruption must all fail closed.
	for i := range blob {
		mutated := make([]byte, len(blob))
		copy(mutated, blob)
		mutated[i] ^= 0x01
		_, err := Decrypt(base64.StdEncoding.EncodeToString(mutated), "k")
		if !errors.Is(err, ErrAuthentication) {
			t.Fatalf("byte %d: expected ErrAuthentication, got %v", i, err)
		}
	}
}

func TestMalformedRecords(t *testing.T) {
	cases := []struct {
		name   string
		record string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"empty", ""},
		{"too short", base64.StdEncoding.EncodeToString([]byte("abc"))},
		{"header only", base64.StdEncoding.EncodeToString(make([]byte, minRecordLen-1))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decrypt(tc.record, "k"); !errors.Is(err, ErrAuthentication) {
				t.Fatalf("expected ErrAuthentication, got %v", err)
			}
		})
	}
}

func TestNonDeterminism(t *testing.T) {
	a, err := Encrypt([]byte("same input"), "same passphrase")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt([]byte("same input"), "same passphrase")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("two encryptions of identical input produced identical records")
	}
}

func TestRecordLayout(t *testing.T) {
	plaintext := []byte("0123456789")
	rec, err := Encrypt(plaintext, "k")
	if err != nil {
		t.Fatal(err)
	}
	blob, err := base64.StdEncoding.DecodeString(rec)
	if err != nil {
		t.Fatal(err)
	}
	want := saltLen + nonceLen + tagLen + len(plaintext)
	if len(blob) != want {
		t.Fatalf("record length: got %d, want %d", len(blob), want)
	}
}
