package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"net/http"
	"strings"
)

// Signature headers set by the platform on every delivery.
const (
	HeaderSignature    = "X-Hub-Signature"
	HeaderSignature256 = "X-Hub-Signature-256"
)

var (
	// ErrMissingSignature is returned when a delivery carries neither
	// signature header.
	ErrMissingSignature = errors.New("webhook: missing signature")

	// ErrSignatureMismatch is returned when a present signature does not
	// match the body.
	ErrSignatureMismatch = errors.New("webhook: signature mismatch")
)

type algorithm struct {
	header string
	prefix string
	hash   func() hash.Hash
}

var algorithms = []algorithm{
	{header: HeaderSignature, prefix: "sha1=", hash: sha1.New},
	{header: HeaderSignature256, prefix: "sha256=", hash: sha256.New},
}

// Verify checks the delivery signatures in header against body. Every
// signature present must match and at least one must be present.
func Verify(secret, body []byte, header http.Header) error {
	present := 0
	for _, alg := range algorithms {
		signature := header.Get(alg.header)
		if signature == "" {
			continue
		}
		present++
		if err := verifyOne(alg, secret, body, signature); err != nil {
			return err
		}
	}
	if present == 0 {
		return ErrMissingSignature
	}
	return nil
}

func verifyOne(alg algorithm, secret, body []byte, signature string) error {
	hexSignature, ok := strings.CutPrefix(signature, alg.prefix)
	if !ok {
		return fmt.Errorf("%w: %s lacks %q prefix", ErrSignatureMismatch, alg.header, alg.prefix)
	}
	signatureBytes, err := hex.DecodeString(hexSignature)
	if err != nil {
		return fmt.Errorf("%w: %s is not hex", ErrSignatureMismatch, alg.header)
	}
	if !hmac.Equal(sum(alg.hash, secret, body), signatureBytes) {
		return fmt.Errorf("%w: %s", ErrSignatureMismatch, alg.header)
	}
	return nil
}

func sum(h func() hash.Hash, secret, body []byte) []byte {
	mac := hmac.New(h, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign returns the X-Hub-Signature-256 value for body.
func Sign(secret, body []byte) string {
	return "sha256=" + hex.EncodeToString(sum(sha256.New, secret, body))
}

// SignSHA1 returns the legacy X-Hub-Signature value for body.
func SignSHA1(secret, body []byte) string {
	return "sha1=" + hex.EncodeToString(sum(sha1.New, secret, body))
}
