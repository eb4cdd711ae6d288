package uploader

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

	"posterstudio/internal/apiclient"
	"posterstudio/internal/assetstore"
)

type stubTransport struct {
	mu       sync.Mutex
	handlers map[string]func(*http.Request) (*http.Response, error)
	puts     int
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	if req.Method == http.MethodPut {
		s.puts++
	}
	handler := s.handlers[req.Method+" "+req.URL.String()]
	s.mu.Unlock()
	if handler == nil {
		return nil, errors.New("no route: " + req.Method + " " + req.URL.String())
	}
	return handler(req)
}

func jsonResponse(status int, v any) func(*http.Request) (*http.Response, error) {
	body, _ := json.Marshal(v)
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(string(body))),
		}, nil
	}
}

func newUploaderWith(handlers map[string]func(*http.Request) (*http.Response, error)) (*Uploader, *assetstore.Store, *stubTransport) {
	transport := &stubTransport{handlers: handlers}
	httpClient := &http.Client{Transport: transport}
	assets := assetstore.NewMemory(nil)
	api := apiclient.NewClient(apiclient.Options{HTTPClient: httpClient})
	u := NewUploader(Options{
		API:        api,
		Assets:     assets,
		Bases:      []string{"https://api.example.com"},
		HTTPClient: httpClient,
	})
	return u, assets, transport
}

func healthyAPIRoutes() map[string]func(*http.Request) (*http.Response, error) {
	return map[string]func(*http.Request) (*http.Response, error){
		"GET https://api.example.com/api/health": jsonResponse(http.StatusOK, map[string]string{"status": "ok"}),
	}
}

func testFile() FileSource {
	return FileSource{
		Name:         "product.png",
		MediaType:    "image/png",
		Data:         []byte{0x89, 'P', 'N', 'G'},
		LastModified: time.UnixMilli(1700000000000),
	}
}

func TestUploadReturnsRemoteDescriptor(t *testing.T) {
	routes := healthyAPIRoutes()
	routes["POST https://api.example.com/api/r2/presign-put"] = jsonResponse(http.StatusOK, map[string]string{
		"put_url":    "https://r2.example.com/bucket/materials/product.png?sig=abc",
		"key":        "materials/product.png",
		"public_url": "https://cdn.example.com/materials/product.png",
	})
	routes["PUT https://r2.example.com/bucket/materials/product.png?sig=abc"] = jsonResponse(http.StatusOK, map[string]string{})

	u, assets, transport := newUploaderWith(routes)
	desc, localOnly := u.Upload(context.Background(), "materials", testFile())
	if localOnly {
		t.Fatalf("expected remote upload")
	}
	if desc.RemoteObjectKey != "materials/product.png" {
		t.Fatalf("remote key = %q", desc.RemoteObjectKey)
	}
	if desc.PreviewURL != "https://cdn.example.com/materials/product.png" {
		t.Fatalf("preview = %q", desc.PreviewURL)
	}
	if desc.StorageKey != "" {
		t.Fatalf("remote upload must not mint a storage key")
	}
	if transport.puts != 1 {
		t.Fatalf("puts = %d", transport.puts)
	}
	if got := assets.Keys(context.Background()); len(got) != 0 {
		t.Fatalf("asset store should stay empty: %v", got)
	}
}

func TestUploadFallsBackWhenPresignFails(t *testing.T) {
	routes := healthyAPIRoutes()
	routes["POST https://api.example.com/api/r2/presign-put"] = jsonResponse(http.StatusBadGateway, map[string]string{"error": "down"})

	u, assets, _ := newUploaderWith(routes)
	desc, localOnly := u.Upload(context.Background(), "materials", testFile())
	if !localOnly {
		t.Fatalf("expected local-only fallback")
	}
	if desc.RemoteObjectKey != "" {
		t.Fatalf("fallback must not carry a remote key")
	}
	if desc.StorageKey == "" || !desc.HasDataURL() {
		t.Fatalf("fallback descriptor = %+v", desc)
	}
	stored, ok := assets.Get(context.Background(), desc.StorageKey)
	if !ok || stored != desc.PreviewURL {
		t.Fatalf("asset store value = %q, %v", stored, ok)
	}
}

func TestUploadFallsBackWhenPutFails(t *testing.T) {
	routes := healthyAPIRoutes()
	routes["POST https://api.example.com/api/r2/presign-put"] = jsonResponse(http.StatusOK, map[string]string{
		"put_url": "https://r2.example.com/obj?sig=x",
		"key":     "materials/product.png",
	})
	routes["PUT https://r2.example.com/obj?sig=x"] = jsonResponse(http.StatusForbidden, map[string]string{})

	u, _, _ := newUploaderWith(routes)
	desc, localOnly := u.Upload(context.Background(), "materials", testFile())
	if !localOnly || desc.StorageKey == "" {
		t.Fatalf("expected local fallback, got %+v localOnly=%v", desc, localOnly)
	}
}

func TestUploadLogoAlwaysOwnsDataURL(t *testing.T) {
	routes := healthyAPIRoutes()
	routes["POST https://api.example.com/api/r2/presign-put"] = jsonResponse(http.StatusOK, map[string]string{
		"put_url":    "https://r2.example.com/logo?sig=x",
		"key":        "logo/brand.png",
		"public_url": "https://cdn.example.com/logo/brand.png",
	})
	routes["PUT https://r2.example.com/logo?sig=x"] = jsonResponse(http.StatusOK, map[string]string{})

	u, assets, _ := newUploaderWith(routes)
	desc, localOnly := u.UploadLogo(context.Background(), testFile())
	if localOnly {
		t.Fatalf("expected remote success")
	}
	if desc.RemoteObjectKey != "logo/brand.png" || desc.StorageKey == "" {
		t.Fatalf("logo descriptor = %+v", desc)
	}
	stored, ok := assets.Get(context.Background(), desc.StorageKey)
	if !ok || !strings.HasPrefix(stored, "data:image/png;base64,") {
		t.Fatalf("logo blob = %q, %v", stored, ok)
	}
}

func TestEncodeDataURL(t *testing.T) {
	got := EncodeDataURL("image/png", []byte{1, 2, 3})
	if got != "data:image/png;base64,AQID" {
		t.Fatalf("data url = %q", got)
	}
}
