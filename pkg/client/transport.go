// Package client is the platform REST API client.
//
// Access escalates through three tiers that share one Transport:
//
//	app, _ := client.NewAppClient(transport, appID, privateKeyPEM)
//	installation, _ := app.CreateInstallationClient(ctx, installationID)
//	defer installation.Revoke(ctx)
//	repo, _ := installation.Repository("octo", "hello")
//	cfg, _ := repo.GetConfig(ctx)
//
// Every read goes through a Fetcher (conditional GET backed by the cache
// store). Writes are sent directly and never cached.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/ticket-tagger/pkg/cache"
	"github.com/Sternrassler/ticket-tagger/pkg/logging"
)

// DefaultBaseURL is the public platform API.
const DefaultBaseURL = "https://api.github.com"

// APIVersion pins the REST API version.
const APIVersion = "2022-11-28"

// mediaType is sent as Accept on every request.
const mediaType = "application/vnd.github+json"

// TransportConfig holds the transport configuration.
type TransportConfig struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// HTTPClient defaults to a client with a 30 second timeout. Wrap its
	// transport with ratelimit.NewGate to enforce the shared budget.
	HTTPClient *http.Client

	// Store caches read responses (required).
	Store cache.Store

	// Namespace tags cache keys. Defaults to cache.DefaultNamespace.
	Namespace string

	// UserAgent is required by the platform.
	UserAgent string

	// Logger defaults to the "platform-client" component logger.
	Logger *zerolog.Logger
}

// Transport is the HTTP layer shared by all client tiers.
type Transport struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	identity   *Fetcher
	public     *Fetcher
	logger     zerolog.Logger
}

// NewTransport validates cfg and creates a Transport.
func NewTransport(cfg TransportConfig) (*Transport, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	logger := logging.NewLogger("platform-client")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Transport{
		baseURL:    baseURL,
		httpClient: httpClient,
		userAgent:  cfg.UserAgent,
		identity:   NewFetcher(httpClient, cfg.Store, cache.IdentityKey{Namespace: cfg.Namespace}, logger),
		public:     NewFetcher(httpClient, cfg.Store, cache.URLKey{Namespace: cfg.Namespace}, logger),
		logger:     logger,
	}, nil
}

// BaseURL returns the API root without a trailing slash.
func (t *Transport) BaseURL() string {
	return t.baseURL
}

func (t *Transport) url(path string) string {
	return t.baseURL + path
}

// header builds the standard request headers for authorization.
func (t *Transport) header(authorization string) http.Header {
	h := http.Header{}
	h.Set("Authorization", authorization)
	h.Set("Accept", mediaType)
	h.Set("X-GitHub-Api-Version", APIVersion)
	h.Set("User-Agent", t.userAgent)
	return h
}

// get performs an identity-scoped cached read.
func (t *Transport) get(ctx context.Context, path, authorization string) (json.RawMessage, error) {
	return t.identity.Fetch(ctx, t.url(path), t.header(authorization))
}

// getShared performs a cached read keyed by URL only. Use it for resources
// whose content does not depend on the credential.
func (t *Transport) getShared(ctx context.Context, path, authorization string) (json.RawMessage, error) {
	return t.public.Fetch(ctx, t.url(path), t.header(authorization))
}

// send performs an uncached request. body, when non-nil, is sent as JSON.
// Non-2xx responses are returned as *APIError.
func (t *Transport) send(ctx context.Context, method, path, authorization string, body any) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.url(path), reader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header = t.header(authorization)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		apiErr := transportError(err)
		observe(method, path, string(apiErr.Class), start)
		errorsTotal.WithLabelValues(string(apiErr.Class)).Inc()
		return nil, 0, apiErr
	}
	defer resp.Body.Close()
	observe(method, path, statusLabel(resp.StatusCode), start)

	data, err := readBody(resp)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseAPIError(resp.StatusCode, data)
		errorsTotal.WithLabelValues(string(apiErr.Class)).Inc()
		t.logger.Warn().
			Str("method", method).
			Str("endpoint", endpointLabel(path)).
			Int("status", resp.StatusCode).
			Str("error_class", string(apiErr.Class)).
			Msg("Platform request failed")
		return nil, resp.StatusCode, apiErr
	}
	return data, resp.StatusCode, nil
}
