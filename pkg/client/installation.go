package client

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/ticket-tagger/pkg/ratelimit"
)

// InstallationClient acts on behalf of one installation. Revoke is terminal:
// afterwards every call returns ErrClientRevoked and the client reports no
// permissions.
type InstallationClient struct {
	transport   *Transport
	id          int64
	token       string
	expiresAt   time.Time
	permissions Permissions

	mu      sync.RWMutex
	revoked bool
}

func newInstallationClient(transport *Transport, id int64, token string, expiresAt time.Time, permissions Permissions) *InstallationClient {
	return &InstallationClient{
		transport:   transport,
		id:          id,
		token:       token,
		expiresAt:   expiresAt,
		permissions: permissions,
	}
}

// ID returns the installation id.
func (c *InstallationClient) ID() int64 {
	return c.id
}

// ExpiresAt returns when the token expires if it is not revoked first.
func (c *InstallationClient) ExpiresAt() time.Time {
	return c.expiresAt
}

// Permissions returns the permissions attached to the token. A revoked
// client holds no permissions.
func (c *InstallationClient) Permissions() Permissions {
	if c.Revoked() {
		return Permissions{}
	}
	return c.permissions
}

// CanRead reports whether the token may read r. It is false once the client
// is revoked.
func (c *InstallationClient) CanRead(r Resource) bool {
	return c.Permissions().Get(r).Read
}

// CanWrite reports whether the token may write r. It is false once the
// client is revoked.
func (c *InstallationClient) CanWrite(r Resource) bool {
	return c.Permissions().Get(r).Write
}

// Revoked reports whether Revoke has been called.
func (c *InstallationClient) Revoked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.revoked
}

// bucket is the rate limit bucket of this installation's token.
func (c *InstallationClient) bucket() string {
	return "installation:" + strconv.FormatInt(c.id, 10)
}

// authorize returns the Authorization header value and a context tagged
// with the installation's rate limit bucket.
func (c *InstallationClient) authorize(ctx context.Context) (context.Context, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.revoked {
		return ctx, "", ErrClientRevoked
	}
	return ratelimit.WithBucket(ctx, c.bucket()), "Bearer " + c.token, nil
}

// Repository returns a client scoped to owner/repo.
func (c *InstallationClient) Repository(owner, repo string) (*RepositoryClient, error) {
	if c.Revoked() {
		return nil, ErrClientRevoked
	}
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("owner and repo are required")
	}
	return &RepositoryClient{installation: c, owner: owner, repo: repo}, nil
}

// Revoke invalidates the token at the origin. The client is unusable
// afterwards even if the request fails.
func (c *InstallationClient) Revoke(ctx context.Context) error {
	c.mu.Lock()
	if c.revoked {
		c.mu.Unlock()
		return ErrClientRevoked
	}
	c.revoked = true
	token := c.token
	c.mu.Unlock()

	ctx = ratelimit.WithBucket(ctx, c.bucket())
	if _, _, err := c.transport.send(ctx, "DELETE", "/installation/token", "Bearer "+token, nil); err != nil {
		return fmt.Errorf("revoke installation token: %w", err)
	}
	c.transport.logger.Info().Int64("installation_id", c.id).Msg("Installation token revoked")
	return nil
}
