package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
)

var (
	keyOnce sync.Once
	keyPEM  []byte
	keyErr  error
)

// PrivateKeyPEM returns a PKCS#1 RSA key generated once per test binary.
func PrivateKeyPEM(t testing.TB) []byte {
	t.Helper()
	keyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			keyErr = err
			return
		}
		keyPEM = pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		})
	})
	if keyErr != nil {
		t.Fatalf("generate RSA key: %v", keyErr)
	}
	return keyPEM
}
