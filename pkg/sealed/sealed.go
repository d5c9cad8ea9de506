// Package sealed encrypts individual record fields at rest with age.
//
// A Cipher is built from a single deployment secret in AGE-SECRET-KEY-1...
// form. Sealing encrypts to the secret's own X25519 recipient, so the same
// key both writes and reads. Ciphertext is raw age binary; callers that
// need text should encode it themselves.
package sealed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// ErrEmptyKey is returned by NewCipher when no key material is supplied.
var ErrEmptyKey = errors.New("sealed: encryption key is empty")

// Cipher seals and opens byte slices with a fixed age X25519 identity.
// It is safe for concurrent use.
type Cipher struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewCipher parses an age secret key and returns a Cipher bound to it.
func NewCipher(secretKey string) (*Cipher, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, ErrEmptyKey
	}
	identity, err := age.ParseX25519Identity(secretKey)
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing encryption key: %w", err)
	}
	return &Cipher{
		identity:  identity,
		recipient: identity.Recipient(),
	}, nil
}

// GenerateKey returns a fresh age secret key and its public recipient.
func GenerateKey() (secretKey, publicKey string, err error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("sealed: generating key: %w", err)
	}
	return identity.String(), identity.Recipient().String(), nil
}

// Seal encrypts plaintext. Empty input produces a valid (non-empty) age
// ciphertext that opens to an empty slice.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := age.Encrypt(&buf, c.recipient)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("sealed: writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finalizing: %w", err)
	}
	return buf.Bytes(), nil
}

// Open decrypts ciphertext produced by Seal with the same key.
func (c *Cipher) Open(ciphertext []byte) ([]byte, error) {
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), c.identity)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	return plaintext, nil
}

// Recipient returns the public recipient string (age1...). Safe to log.
func (c *Cipher) Recipient() string {
	return c.recipient.String()
}
