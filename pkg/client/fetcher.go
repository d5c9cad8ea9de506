package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/ticket-tagger/pkg/cache"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 10 << 20

// Fetcher performs conditional GETs through a cache store. It is the only
// read path to the platform API.
//
// Fetch issues exactly one request per call and never retries. A cached
// record turns the request into a revalidation (If-None-Match); a 304
// answer returns the cached payload unchanged. Successful responses with an
// ETag replace the record; responses without one pass through uncached.
type Fetcher struct {
	httpClient *http.Client
	store      cache.Store
	keys       cache.KeyComputer
	logger     zerolog.Logger
}

// NewFetcher creates a fetcher. Store failures are logged and never fail a
// fetch, so store may be a best-effort backend.
func NewFetcher(httpClient *http.Client, store cache.Store, keys cache.KeyComputer, logger zerolog.Logger) *Fetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Fetcher{
		httpClient: httpClient,
		store:      store,
		keys:       keys,
		logger:     logger,
	}
}

// Fetch GETs rawURL with header and returns the response body. Non-2xx
// responses other than 304 are returned as *APIError. A 304 for a request
// that carried no validator yields ErrNotModifiedWithoutRecord.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, header http.Header) (json.RawMessage, error) {
	key, err := f.keys.ComputeKey(rawURL, header)
	if err != nil {
		return nil, fmt.Errorf("compute cache key: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if header != nil {
		req.Header = header.Clone()
	}
	// Only a validator taken from the store may make the origin answer 304.
	req.Header.Del("If-None-Match")
	req.Header.Del("If-Modified-Since")

	record, err := f.store.FindByKey(ctx, key)
	switch {
	case err == nil:
		if cache.AddConditionalHeaders(req, record) {
			cache.ConditionalRequestsSent.Inc()
			f.logger.Debug().
				Str("path", req.URL.Path).
				Str("key", key).
				Str("etag", record.ETag).
				Msg("Making conditional request")
		}
	case errors.Is(err, cache.ErrCacheMiss):
		record = nil
		f.logger.Debug().Str("path", req.URL.Path).Str("key", key).Msg("Cache miss")
	default:
		record = nil
		f.logger.Warn().Err(err).Str("path", req.URL.Path).Msg("Cache lookup failed, fetching unconditionally")
	}

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		apiErr := transportError(err)
		observe(http.MethodGet, req.URL.Path, string(apiErr.Class), start)
		errorsTotal.WithLabelValues(string(apiErr.Class)).Inc()
		return nil, apiErr
	}
	defer resp.Body.Close()
	observe(http.MethodGet, req.URL.Path, statusLabel(resp.StatusCode), start)

	if resp.StatusCode == http.StatusNotModified {
		if record == nil {
			f.logger.Error().
				Str("path", req.URL.Path).
				Str("key", key).
				Msg("Origin answered 304 to an unconditional request")
			return nil, fmt.Errorf("GET %s: %w", req.URL.Path, ErrNotModifiedWithoutRecord)
		}
		cache.NotModifiedResponses.Inc()
		f.logger.Debug().Str("path", req.URL.Path).Msg("304 Not Modified - using cache")
		return record.Payload, nil
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseAPIError(resp.StatusCode, body)
		errorsTotal.WithLabelValues(string(apiErr.Class)).Inc()
		f.logger.Debug().
			Str("path", req.URL.Path).
			Int("status", resp.StatusCode).
			Str("error_class", string(apiErr.Class)).
			Msg("Platform request failed")
		return nil, apiErr
	}

	etag := cache.ResponseETag(resp)
	if etag == "" {
		cache.UncacheableResponses.Inc()
		return body, nil
	}

	if err := f.store.Upsert(ctx, cache.Record{Key: key, ETag: etag, Payload: body}); err != nil {
		f.logger.Warn().Err(err).Str("path", req.URL.Path).Msg("Failed to cache response")
	} else {
		f.logger.Debug().Str("path", req.URL.Path).Str("etag", etag).Msg("Cached response")
	}
	return body, nil
}

// readBody reads the whole response body. A body longer than
// maxResponseBytes is an error, never a truncated payload.
func readBody(resp *http.Response) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Class: ErrorClassNetwork, Message: "read response body", Err: err}
	}
	if len(data) > maxResponseBytes {
		errorsTotal.WithLabelValues(string(ErrorClassClient)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassClient,
			Message:    fmt.Sprintf("response exceeds %d bytes", maxResponseBytes),
		}
	}
	return data, nil
}

// FetchJSON is Fetch followed by decoding into T.
func FetchJSON[T any](ctx context.Context, f *Fetcher, rawURL string, header http.Header) (T, error) {
	var out T
	payload, err := f.Fetch(ctx, rawURL, header)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
