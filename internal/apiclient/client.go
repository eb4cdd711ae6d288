// Package apiclient selects among candidate backend bases, caches liveness
// and performs POSTs with cross-base failover and bounded retry.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"posterstudio/internal/domain"
	"posterstudio/internal/infra"
)

// Defaults confirmed against the server team's consolidated contract.
const (
	DefaultHealthTTL    = 60 * time.Second
	DefaultProbeTimeout = 2500 * time.Millisecond
	DefaultRetryBackoff = 800 * time.Millisecond
	DefaultBodyLimit    = 300_000
	DefaultRetry        = 1
)

// Inline base64 images must never leak into a JSON request body; they
// belong in the object store.
var dataURLPattern = regexp.MustCompile(`data:[A-Za-z0-9.+/-]+;base64,`)

// Options configures the client. Zero values take the documented defaults.
type Options struct {
	HTTPClient   *http.Client
	Logger       *infra.Logger
	HealthTTL    time.Duration
	ProbeTimeout time.Duration
	RetryBackoff time.Duration
	BodyLimit    int

	// sleep is replaced in tests to skip the inter-attempt delay.
	sleep func(context.Context, time.Duration)
}

// Client issues health probes and failover POSTs. Safe for concurrent use;
// concurrent warm-ups for the same base set share one in-flight task.
type Client struct {
	httpClient   *http.Client
	logger       *infra.Logger
	cache        *HealthCache
	probeTimeout time.Duration
	backoff      time.Duration
	bodyLimit    int
	group        singleflight.Group
	sleep        func(context.Context, time.Duration)
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	bodyLimit := opts.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = DefaultBodyLimit
	}
	sleep := opts.sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		}
	}
	return &Client{
		httpClient:   httpClient,
		logger:       logger,
		cache:        NewHealthCache(opts.HealthTTL),
		probeTimeout: probeTimeout,
		backoff:      backoff,
		bodyLimit:    bodyLimit,
		sleep:        sleep,
	}
}

// Cache exposes the health cache for inspection.
func (c *Client) Cache() *HealthCache { return c.cache }

// Response is a successful (2xx) backend reply.
type Response struct {
	Base   string
	Status int
	Body   []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// WarmUpResult partitions a base set by probe outcome, keeping the ranked
// input order within each partition.
type WarmUpResult struct {
	Healthy   []string
	Unhealthy []string
}

// ProbePaths returns the health paths probed for a base, per domain policy:
// onrender.com answers only /health (and without CORS headers, so any
// completed response counts); everything else gets /api/health then /health.
func ProbePaths(base string) []string {
	if isRenderHost(base) {
		return []string{"/health"}
	}
	return []string{"/api/health", "/health"}
}

func (c *Client) probeBase(ctx context.Context, base string) bool {
	opaqueOK := isRenderHost(base)
	for _, path := range ProbePaths(base) {
		if c.probePath(ctx, base, path, opaqueOK) {
			return true
		}
	}
	return false
}

func (c *Client) probePath(ctx context.Context, base, path string, opaqueOK bool) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if opaqueOK {
		// The render origin exposes no CORS headers; reaching it at all
		// means it is up.
		return true
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// WarmUp probes every base concurrently and updates the cache. Fresh cache
// entries short-circuit their probe. Concurrent calls for the same base set
// share a single in-flight task keyed on the sorted base list.
func (c *Client) WarmUp(ctx context.Context, bases []string) WarmUpResult {
	resolved := ResolveBases(bases...)
	if len(resolved) == 0 {
		return WarmUpResult{}
	}
	key := warmUpKey(resolved)
	v, _, _ := c.group.Do(key, func() (any, error) {
		outcomes := make([]bool, len(resolved))
		done := make(chan struct{})
		pending := 0
		for i, base := range resolved {
			if entry, ok := c.cache.Fresh(base); ok {
				outcomes[i] = entry.OK
				continue
			}
			pending++
			go func(i int, base string) {
				ok := c.probeBase(ctx, base)
				c.cache.Set(base, ok)
				outcomes[i] = ok
				done <- struct{}{}
			}(i, base)
		}
		for ; pending > 0; pending-- {
			<-done
		}
		var res WarmUpResult
		for i, base := range resolved {
			if outcomes[i] {
				res.Healthy = append(res.Healthy, base)
			} else {
				res.Unhealthy = append(res.Unhealthy, base)
			}
		}
		return res, nil
	})
	return v.(WarmUpResult)
}

func warmUpKey(resolved []string) string {
	sorted := make([]string, len(resolved))
	copy(sorted, resolved)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// PickHealthyBase returns the first base with a fresh healthy cache entry;
// otherwise it forces a warm-up and returns the first freshly healthy base
// in ranked order, or "" when everything is down.
func (c *Client) PickHealthyBase(ctx context.Context, bases []string) string {
	resolved := ResolveBases(bases...)
	for _, base := range resolved {
		if entry, ok := c.cache.Fresh(base); ok && entry.OK {
			return base
		}
	}
	res := c.WarmUp(ctx, resolved)
	if len(res.Healthy) > 0 {
		return res.Healthy[0]
	}
	return ""
}

// GateBody enforces the pre-flight size gate: bodies over the limit or
// containing an inline base64 data URL are rejected before any network
// request is issued.
func (c *Client) GateBody(raw []byte) error {
	if len(raw) > c.bodyLimit {
		return fmt.Errorf("apiclient: body is %d bytes (limit %d): %w", len(raw), c.bodyLimit, domain.ErrPayloadTooLarge)
	}
	if dataURLPattern.Match(raw) {
		return fmt.Errorf("apiclient: body carries an inline data url: %w", domain.ErrPayloadTooLarge)
	}
	return nil
}

// PostJSONWithRetry POSTs body to path, trying the picked base first and
// failing over to the remaining bases in ranked order, for up to retry+1
// passes with a warm-up and a fixed backoff between passes. rawBody, when
// non-nil, is sent verbatim instead of re-encoding body.
func (c *Client) PostJSONWithRetry(ctx context.Context, bases []string, path string, body any, retry int, rawBody []byte) (*Response, error) {
	resolved := ResolveBases(bases...)
	if len(resolved) == 0 {
		return nil, fmt.Errorf("apiclient: no usable backend base: %w", domain.ErrConfigMissing)
	}
	raw := rawBody
	if raw == nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("apiclient: encode request: %w", err)
		}
		raw = encoded
	}
	if err := c.GateBody(raw); err != nil {
		return nil, err
	}
	if retry < 0 {
		retry = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retry; attempt++ {
		if attempt > 0 {
			c.WarmUp(ctx, resolved)
			c.sleep(ctx, c.backoff)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		order := orderFrom(c.PickHealthyBase(ctx, resolved), resolved)
		for _, base := range order {
			resp, err := c.postOnce(ctx, base, path, raw)
			if err == nil {
				c.cache.Set(base, true)
				return resp, nil
			}
			c.cache.Set(base, false)
			lastErr = err
			c.logger.Warn().Err(err).Str("base", base).Str("path", path).Int("attempt", attempt).Msg("apiclient: post failed, trying next base")
		}
	}
	return nil, fmt.Errorf("apiclient: %w: %v", domain.ErrRequestFailed, lastErr)
}

// orderFrom moves picked to the front, keeping the ranked order for the
// rest. An empty pick falls back to the list as resolved.
func orderFrom(picked string, resolved []string) []string {
	if picked == "" {
		return resolved
	}
	order := make([]string, 0, len(resolved))
	order = append(order, picked)
	for _, base := range resolved {
		if base != picked {
			order = append(order, base)
		}
	}
	return order
}

func (c *Client) postOnce(ctx context.Context, base, path string, raw []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: http request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("apiclient: %s returned %d: %s", base, resp.StatusCode, snippet(data))
	}
	return &Response{Base: base, Status: resp.StatusCode, Body: data}, nil
}

// GetJSON fetches a static JSON document relative to base and unmarshals it
// into v. Used for the template registry and the prompt presets.
func (c *Client) GetJSON(ctx context.Context, base, path string, v any) error {
	normalized, ok := NormalizeBase(base)
	if !ok {
		return fmt.Errorf("apiclient: invalid base %q: %w", base, domain.ErrConfigMissing)
	}
	url := normalized + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("apiclient: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("apiclient: http request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("apiclient: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("apiclient: %s returned %d: %s", url, resp.StatusCode, snippet(data))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("apiclient: decode %s: %w", path, err)
	}
	return nil
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}
