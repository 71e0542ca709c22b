// Package edge implements the edge/CDN cache tier. The vendor API is
// treated as an opaque HTTP service exposing object reads, push-style
// writes, and purge operations. The tier can be excluded from direct object
// writes (Enabled=false on the descriptor) while still participating in
// purge-style invalidation.
package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"cache-orchestrator/pkg/cache"
)

// Cache is the edge tier client.
type Cache struct {
	name   string
	config Config
	http   *http.Client
	codec  cache.Codec
}

// Config holds edge tier configuration.
type Config struct {
	// Name is the level identifier. Defaults to "edge".
	Name string

	// Provider names the CDN vendor, used only for logging and reports.
	Provider string

	// BaseURL is the vendor API endpoint.
	BaseURL string

	// APIKey authenticates vendor API calls.
	APIKey string

	// DefaultTTL applies when Set receives a zero TTL.
	DefaultTTL time.Duration

	// RequestTimeout bounds every vendor call.
	RequestTimeout time.Duration
}

// PurgeRequest selects what to purge. Exactly one field should be set;
// Everything wins if combined.
type PurgeRequest struct {
	URLs       []string `json:"urls,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Everything bool     `json:"everything,omitempty"`
}

// Status is the vendor-reported health of the edge cache.
type Status struct {
	Healthy   bool   `json:"healthy"`
	Provider  string `json:"provider"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// New creates an edge tier client.
func New(config Config) (*Cache, error) {
	if config.Name == "" {
		config.Name = string(cache.LevelEdge)
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("%w: edge cache requires BaseURL", cache.ErrInvalidConfig)
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: edge BaseURL: %v", cache.ErrInvalidConfig, err)
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 24 * time.Hour
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 5 * time.Second
	}

	return &Cache{
		name:   config.Name,
		config: config,
		http:   &http.Client{Timeout: config.RequestTimeout},
	}, nil
}

// Get fetches an object by cache key (the vendor keys objects by URL path).
func (e *Cache) Get(ctx context.Context, key string) (interface{}, error) {
	resp, err := e.do(ctx, http.MethodGet, "/objects/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, cache.ErrCacheMiss
	default:
		return nil, fmt.Errorf("%w: edge get status %d", cache.ErrLevelUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("edge get: %w", err)
	}

	var value interface{}
	if err := e.codec.Decode(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// Set pushes an object to the edge. This is a push/purge-style write, not a
// shared-store write; most deployments exclude edge from direct writes.
func (e *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = e.config.DefaultTTL
	}

	data, _, err := e.codec.Encode(value)
	if err != nil {
		return err
	}

	body := struct {
		Content    json.RawMessage `json:"content"`
		TTLSeconds int64           `json:"ttl_seconds"`
	}{Content: data, TTLSeconds: int64(ttl.Seconds())}

	resp, err := e.do(ctx, http.MethodPut, "/objects/"+url.PathEscape(key), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: edge set status %d", cache.ErrLevelUnavailable, resp.StatusCode)
	}
	return nil
}

// Delete removes a single object from the edge.
func (e *Cache) Delete(ctx context.Context, key string) error {
	resp, err := e.do(ctx, http.MethodDelete, "/objects/"+url.PathEscape(key), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: edge delete status %d", cache.ErrLevelUnavailable, resp.StatusCode)
	}
	return nil
}

// Has reports whether the edge currently holds the object.
func (e *Cache) Has(ctx context.Context, key string) (bool, error) {
	resp, err := e.do(ctx, http.MethodHead, "/objects/"+url.PathEscape(key), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// Purge invalidates by URLs, tags, or everything.
func (e *Cache) Purge(ctx context.Context, req PurgeRequest) error {
	resp, err := e.do(ctx, http.MethodPost, "/purge", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: edge purge status %d", cache.ErrLevelUnavailable, resp.StatusCode)
	}
	return nil
}

// Health queries the vendor status endpoint.
func (e *Cache) Health(ctx context.Context) (Status, error) {
	start := time.Now()
	resp, err := e.do(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return Status{Provider: e.config.Provider}, err
	}
	defer resp.Body.Close()

	status := Status{
		Provider:  e.config.Provider,
		Healthy:   resp.StatusCode == http.StatusOK,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if resp.StatusCode != http.StatusOK {
		status.Message = fmt.Sprintf("status endpoint returned %d", resp.StatusCode)
	}
	return status, nil
}

// Name returns the level identifier.
func (e *Cache) Name() string {
	return e.name
}

// Close releases idle connections.
func (e *Cache) Close() error {
	e.http.CloseIdleConnections()
	return nil
}

func (e *Cache) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", cache.ErrSerialization, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.config.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("edge request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, cache.ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", cache.ErrLevelUnavailable, err)
	}
	return resp, nil
}
