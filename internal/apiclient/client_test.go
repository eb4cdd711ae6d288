package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"posterstudio/internal/domain"
)

// fakeTransport routes requests to canned handlers and counts them by
// method plus URL.
type fakeTransport struct {
	mu       sync.Mutex
	counts   map[string]int
	handlers map[string]func(*http.Request) (*http.Response, error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		counts:   map[string]int{},
		handlers: map[string]func(*http.Request) (*http.Response, error){},
	}
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	key := req.Method + " " + req.URL.String()
	f.mu.Lock()
	f.counts[key]++
	handler := f.handlers[key]
	f.mu.Unlock()
	if handler == nil {
		return nil, errors.New("no route: " + key)
	}
	return handler(req)
}

func (f *fakeTransport) on(method, url string, handler func(*http.Request) (*http.Response, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method+" "+url] = handler
}

func (f *fakeTransport) count(method, url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[method+" "+url]
}

func (f *fakeTransport) totalPosts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for key, n := range f.counts {
		if strings.HasPrefix(key, "POST ") {
			total += n
		}
	}
	return total
}

func respond(status int, body string) func(*http.Request) (*http.Response, error) {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(body)),
		}, nil
	}
}

func newTestClient(transport http.RoundTripper) *Client {
	return NewClient(Options{
		HTTPClient: &http.Client{Transport: transport},
		sleep:      func(context.Context, time.Duration) {},
	})
}

func TestProbePathsByHost(t *testing.T) {
	got := ProbePaths("https://ai-service-x758.onrender.com")
	if len(got) != 1 || got[0] != "/health" {
		t.Fatalf("onrender probe paths = %v", got)
	}
	got = ProbePaths("https://render-proxy.zhaojiffa.workers.dev")
	if len(got) != 2 || got[0] != "/api/health" || got[1] != "/health" {
		t.Fatalf("default probe paths = %v", got)
	}
}

func TestRenderProbeTreatsOpaqueAsHealthy(t *testing.T) {
	transport := newFakeTransport()
	// The render origin answers without CORS headers; even a non-2xx body
	// counts as reachable.
	transport.on("GET", "https://svc.onrender.com/health", respond(http.StatusBadGateway, ""))
	c := newTestClient(transport)

	res := c.WarmUp(context.Background(), []string{"https://svc.onrender.com"})
	if len(res.Healthy) != 1 {
		t.Fatalf("warm up partition = %+v", res)
	}
	if n := transport.count("GET", "https://svc.onrender.com/api/health"); n != 0 {
		t.Fatalf("/api/health must not be probed on onrender.com, got %d", n)
	}
}

func TestDefaultProbeFallsBackToHealth(t *testing.T) {
	transport := newFakeTransport()
	transport.on("GET", "https://api.example.com/api/health", respond(http.StatusNotFound, ""))
	transport.on("GET", "https://api.example.com/health", respond(http.StatusOK, "ok"))
	c := newTestClient(transport)

	res := c.WarmUp(context.Background(), []string{"https://api.example.com"})
	if len(res.Healthy) != 1 {
		t.Fatalf("expected healthy after /health fallback: %+v", res)
	}
}

func TestWarmUpPartition(t *testing.T) {
	transport := newFakeTransport()
	transport.on("GET", "https://up.example.com/api/health", respond(http.StatusOK, "ok"))
	// down.example.com has no routes at all: network error.
	c := newTestClient(transport)

	res := c.WarmUp(context.Background(), []string{"https://up.example.com", "https://down.example.com"})
	if len(res.Healthy) != 1 || res.Healthy[0] != "https://up.example.com" {
		t.Fatalf("healthy = %v", res.Healthy)
	}
	if len(res.Unhealthy) != 1 || res.Unhealthy[0] != "https://down.example.com" {
		t.Fatalf("unhealthy = %v", res.Unhealthy)
	}
}

func TestWarmUpSkipsFreshEntries(t *testing.T) {
	transport := newFakeTransport()
	c := newTestClient(transport)
	c.Cache().Set("https://up.example.com", true)

	res := c.WarmUp(context.Background(), []string{"https://up.example.com"})
	if len(res.Healthy) != 1 {
		t.Fatalf("fresh positive entry should count healthy: %+v", res)
	}
	if n := transport.count("GET", "https://up.example.com/api/health"); n != 0 {
		t.Fatalf("fresh entry must short-circuit the probe, got %d probes", n)
	}
}

func TestPickHealthyBasePrefersFreshCache(t *testing.T) {
	transport := newFakeTransport()
	c := newTestClient(transport)
	c.Cache().Set("https://a.example.com", false)
	c.Cache().Set("https://b.example.com", true)

	got := c.PickHealthyBase(context.Background(), []string{"https://a.example.com", "https://b.example.com"})
	if got != "https://b.example.com" {
		t.Fatalf("picked %q", got)
	}
}

func TestPostRejectsInlineDataURLBeforeAnyFetch(t *testing.T) {
	transport := newFakeTransport()
	c := newTestClient(transport)

	body := map[string]string{"image": "data:image/png;base64,AAAA"}
	_, err := c.PostJSONWithRetry(context.Background(), []string{"https://api.example.com"}, "/api/demo", body, DefaultRetry, nil)
	if !errors.Is(err, domain.ErrPayloadTooLarge) {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
	if transport.totalPosts() != 0 {
		t.Fatalf("size gate must trip before any request")
	}
}

func TestPostRejectsOversizedBody(t *testing.T) {
	transport := newFakeTransport()
	c := newTestClient(transport)

	raw := []byte(`{"pad":"` + strings.Repeat("x", DefaultBodyLimit) + `"}`)
	_, err := c.PostJSONWithRetry(context.Background(), []string{"https://api.example.com"}, "/api/demo", nil, 0, raw)
	if !errors.Is(err, domain.ErrPayloadTooLarge) {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
	if transport.totalPosts() != 0 {
		t.Fatalf("size gate must trip before any request")
	}
}

func TestPostFailsWithConfigMissingOnEmptyBases(t *testing.T) {
	c := newTestClient(newFakeTransport())
	_, err := c.PostJSONWithRetry(context.Background(), nil, "/api/demo", map[string]string{}, 1, nil)
	if !errors.Is(err, domain.ErrConfigMissing) {
		t.Fatalf("err = %v, want ErrConfigMissing", err)
	}
}

func TestPostFailsOverToSecondaryBase(t *testing.T) {
	transport := newFakeTransport()
	transport.on("GET", "https://a.example.com/api/health", respond(http.StatusOK, "ok"))
	transport.on("GET", "https://b.example.com/api/health", respond(http.StatusOK, "ok"))
	transport.on("POST", "https://a.example.com/api/demo", respond(http.StatusInternalServerError, "boom"))
	transport.on("POST", "https://b.example.com/api/demo", func(req *http.Request) (*http.Response, error) {
		echo, _ := io.ReadAll(req.Body)
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(string(echo))),
		}, nil
	})
	c := newTestClient(transport)

	resp, err := c.PostJSONWithRetry(context.Background(),
		[]string{"https://a.example.com", "https://b.example.com"},
		"/api/demo", map[string]string{"demo": "value"}, 1, nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.Base != "https://b.example.com" {
		t.Fatalf("response base = %q, want secondary", resp.Base)
	}
	var echoed map[string]string
	if err := resp.Decode(&echoed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if echoed["demo"] != "value" {
		t.Fatalf("echoed body = %v", echoed)
	}
	if got := transport.totalPosts(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
	if entry, ok := c.Cache().Lookup("https://a.example.com"); !ok || entry.OK {
		t.Fatalf("failed base must be cached negative: %+v ok=%v", entry, ok)
	}
	if entry, ok := c.Cache().Lookup("https://b.example.com"); !ok || !entry.OK {
		t.Fatalf("succeeding base must be cached positive: %+v ok=%v", entry, ok)
	}
}

func TestRetryFanOutIsBounded(t *testing.T) {
	transport := newFakeTransport()
	transport.on("GET", "https://a.example.com/api/health", respond(http.StatusOK, "ok"))
	transport.on("GET", "https://b.example.com/api/health", respond(http.StatusOK, "ok"))
	transport.on("POST", "https://a.example.com/api/demo", respond(http.StatusInternalServerError, "boom"))
	transport.on("POST", "https://b.example.com/api/demo", respond(http.StatusBadGateway, "boom"))
	c := newTestClient(transport)

	_, err := c.PostJSONWithRetry(context.Background(),
		[]string{"https://a.example.com", "https://b.example.com"},
		"/api/demo", map[string]string{"demo": "value"}, 1, nil)
	if !errors.Is(err, domain.ErrRequestFailed) {
		t.Fatalf("err = %v, want ErrRequestFailed", err)
	}
	// retry=1 over two bases caps at 2*2 POSTs.
	if got := transport.totalPosts(); got > 4 {
		t.Fatalf("attempts = %d, want at most 4", got)
	}
}

func TestGetJSONDecodesStaticDocument(t *testing.T) {
	transport := newFakeTransport()
	payload, _ := json.Marshal(map[string]string{"id": "tmpl-1"})
	transport.on("GET", "https://static.example.com/templates/registry.json", respond(http.StatusOK, string(payload)))
	c := newTestClient(transport)

	var doc map[string]string
	if err := c.GetJSON(context.Background(), "https://static.example.com/", "templates/registry.json", &doc); err != nil {
		t.Fatalf("get json: %v", err)
	}
	if doc["id"] != "tmpl-1" {
		t.Fatalf("doc = %v", doc)
	}
}
