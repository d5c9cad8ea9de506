package client

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/ticket-tagger/pkg/ratelimit"
)

// AppClient authenticates as the application itself. It can read the app's
// own metadata and mint installation clients.
type AppClient struct {
	transport  *Transport
	appID      int64
	privateKey *rsa.PrivateKey
	now        func() time.Time
}

// App is the application's metadata.
type App struct {
	ID          int64             `json:"id"`
	Slug        string            `json:"slug"`
	Name        string            `json:"name"`
	Owner       Account           `json:"owner"`
	Permissions map[string]string `json:"permissions"`
	Events      []string          `json:"events"`
}

// Account is a user or organization.
type Account struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Type  string `json:"type"`
}

// NewAppClient parses privateKeyPEM and creates an app client.
func NewAppClient(transport *Transport, appID int64, privateKeyPEM []byte) (*AppClient, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if appID <= 0 {
		return nil, fmt.Errorf("app id is required")
	}
	key, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	return &AppClient{
		transport:  transport,
		appID:      appID,
		privateKey: key,
		now:        time.Now,
	}, nil
}

// ParsePrivateKey decodes a PEM RSA key in PKCS#1 or PKCS#8 form.
func ParsePrivateKey(privateKeyPEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block from private key")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err == nil {
		return key, nil
	}
	parsed, pkcs8Err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if pkcs8Err != nil {
		return nil, fmt.Errorf("parse private key: %w (also tried PKCS8: %v)", err, pkcs8Err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}

// ID returns the application id.
func (a *AppClient) ID() int64 {
	return a.appID
}

// JWT returns a freshly signed RS256 assertion. It is backdated 60 seconds
// to absorb clock skew and expires after 10 minutes.
func (a *AppClient) JWT() (string, error) {
	now := a.now()

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	claims, err := json.Marshal(struct {
		IssuedAt  int64  `json:"iat"`
		ExpiresAt int64  `json:"exp"`
		Issuer    string `json:"iss"`
	}{
		IssuedAt:  now.Add(-60 * time.Second).Unix(),
		ExpiresAt: now.Add(10 * time.Minute).Unix(),
		Issuer:    strconv.FormatInt(a.appID, 10),
	})
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	signingInput := header + "." + base64.RawURLEncoding.EncodeToString(claims)
	digest := sha256.Sum256([]byte(signingInput))
	signature, err := rsa.SignPKCS1v15(rand.Reader, a.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign JWT: %w", err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

func (a *AppClient) authorization() (string, error) {
	jwt, err := a.JWT()
	if err != nil {
		return "", err
	}
	return "Bearer " + jwt, nil
}

// GetApp reads the application's metadata. Every call signs a new JWT, so
// the response is cached by URL only.
func (a *AppClient) GetApp(ctx context.Context) (*App, error) {
	auth, err := a.authorization()
	if err != nil {
		return nil, err
	}
	payload, err := a.transport.getShared(ratelimit.WithBucket(ctx, ratelimit.DefaultBucket), "/app", auth)
	if err != nil {
		return nil, fmt.Errorf("get app: %w", err)
	}
	var app App
	if err := json.Unmarshal(payload, &app); err != nil {
		return nil, fmt.Errorf("decode app: %w", err)
	}
	return &app, nil
}

// CreateInstallationClient exchanges a JWT for an installation token and
// returns a client bound to it. The token carries the permissions granted
// to the installation.
func (a *AppClient) CreateInstallationClient(ctx context.Context, installationID int64) (*InstallationClient, error) {
	if installationID <= 0 {
		return nil, fmt.Errorf("installation id is required")
	}
	auth, err := a.authorization()
	if err != nil {
		return nil, err
	}

	path := "/app/installations/" + strconv.FormatInt(installationID, 10) + "/access_tokens"
	data, _, err := a.transport.send(ratelimit.WithBucket(ctx, ratelimit.DefaultBucket), "POST", path, auth, nil)
	if err != nil {
		return nil, fmt.Errorf("create installation token: %w", err)
	}

	var token struct {
		Token       string            `json:"token"`
		ExpiresAt   time.Time         `json:"expires_at"`
		Permissions map[string]string `json:"permissions"`
	}
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode installation token: %w", err)
	}
	if token.Token == "" {
		return nil, fmt.Errorf("token exchange returned empty token")
	}

	return newInstallationClient(a.transport, installationID, token.Token, token.ExpiresAt, ParsePermissions(token.Permissions)), nil
}
