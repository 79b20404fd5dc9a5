// Package vault encrypts opaque byte payloads under a human-supplied
// passphrase. Records are self-contained: each one carries the KDF salt
// and cipher nonce needed to decrypt it, so the only secret to manage is
// the passphrase itself.
//
// Wire format, base64 (standard encoding) of:
//
//	salt(32) ‖ nonce(12) ‖ tag(16) ‖ ciphertext
//
// A fresh salt is drawn on every encryption, even when re-encrypting the
// same logical content. That forces key rederivation per record and
// guarantees a nonce is never reused under the same key.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters, version 1. Fixed so that a future parameter
// change can be detected instead of silently producing wrong keys.
const (
	KDFVersion   = 1
	kdfTime      = 3
	kdfMemory    = 64 * 1024 // 64 MiB
	kdfThreads   = 4
	kdfKeyLen    = 32 // 256-bit AES key
	saltLen      = 32
	nonceLen     = 12
	tagLen       = 16
	minRecordLen = saltLen + nonceLen + tagLen
)

// ErrAuthentication is returned when a record cannot be decrypted: wrong
// passphrase, truncated or malformed record, or any tampering with the
// ciphertext or tag. Decryption fails closed and never returns partial
// or garbage plaintext.
var ErrAuthentication = errors.New("vault: authentication failed")

// Encrypt seals plaintext under passphrase and returns a transportable
// record string. Identical inputs produce different records on every
// call (fresh salt and nonce).
func Encrypt(plaintext []byte, passphrase string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("vault: generate salt: %w", err)
	}

	gcm, err := newAEAD(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}

	// Seal appends the tag after the ciphertext; the record format wants
	// the tag up front, so split it out.
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	record := make([]byte, 0, minRecordLen+len(ct))
	record = append(record, salt...)
	record = append(record, nonce...)
	record = append(record, tag...)
	record = append(record, ct...)

	return base64.StdEncoding.EncodeToString(record), nil
}

// Decrypt opens a record produced by Encrypt. Any failure (undecodable
// base64, short record, wrong passphrase, a flipped bit anywhere) yields
// an error wrapping ErrAuthentication.
func Decrypt(record string, passphrase string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(record)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrAuthentication, err)
	}
	if len(blob) < minRecordLen {
		return nil, fmt.Errorf("%w: record too short", ErrAuthentication)
	}

	salt := blob[:saltLen]
	nonce := blob[saltLen : saltLen+nonceLen]
	tag := blob[saltLen+nonceLen : minRecordLen]
	ct := blob[minRecordLen:]

	gcm, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	// Reassemble ciphertext‖tag, the layout GCM verifies.
	sealed := make([]byte, 0, len(ct)+tagLen)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return plaintext, nil
}

// newAEAD derives a 256-bit key from passphrase and salt via Argon2id
// and builds the AES-GCM AEAD over it.
func newAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create gcm: %w", err)
	}
	return gcm, nil
}
