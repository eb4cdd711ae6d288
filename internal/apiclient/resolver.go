package apiclient

import (
	"net/url"
	"sort"
	"strings"
)

// Trust/latency classes for candidate hosts. Edge proxies answer fastest and
// carry CORS headers; onrender.com origins cold-start and go last.
const (
	classProxy   = 0
	classUnknown = 1
	classRender  = 2
)

// ResolveBases normalizes candidate endpoint strings into an ordered,
// deduplicated base list. Each input may itself be a comma-joined list.
// Hosts are stable-sorted by trust class: proxy-like hosts first, unknown
// hosts second, onrender.com last.
func ResolveBases(inputs ...string) []string {
	var bases []string
	seen := make(map[string]struct{})
	for _, input := range inputs {
		for _, piece := range strings.Split(input, ",") {
			base, ok := NormalizeBase(piece)
			if !ok {
				continue
			}
			if _, dup := seen[base]; dup {
				continue
			}
			seen[base] = struct{}{}
			bases = append(bases, base)
		}
	}
	sort.SliceStable(bases, func(i, j int) bool {
		return trustClass(bases[i]) < trustClass(bases[j])
	})
	return bases
}

// NormalizeBase parses one candidate into scheme://host[path] with trailing
// slashes stripped from the path. Bare hosts default to https.
func NormalizeBase(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	path := strings.TrimRight(u.Path, "/")
	return strings.ToLower(u.Scheme) + "://" + u.Host + path, true
}

func trustClass(base string) int {
	host := baseHost(base)
	switch {
	case strings.HasSuffix(host, ".workers.dev") || strings.HasSuffix(host, ".pages.dev"):
		return classProxy
	case strings.HasSuffix(host, "onrender.com"):
		return classRender
	default:
		return classUnknown
	}
}

func baseHost(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// isRenderHost reports whether the base points at an onrender.com origin,
// which has no CORS headers and only answers /health.
func isRenderHost(base string) bool {
	return strings.HasSuffix(baseHost(base), "onrender.com")
}
