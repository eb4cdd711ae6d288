package infra

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	// APIBases is the comma-joined candidate backend list (edge proxy and
	// origin). StaticBase hosts templates/ and prompts/; it defaults to the
	// first API base.
	APIBases   string
	StaticBase string

	// DataDir roots the offline asset store and the session store.
	DataDir string
	// FontPath points at a TTF used by the preview renderer; empty keeps
	// the built-in face.
	FontPath string

	HealthTTL    time.Duration
	ProbeTimeout time.Duration
	RetryBackoff time.Duration
	BodyLimit    int
	SessionQuota int64

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. An empty POSTER_API_BASES is tolerated: generation
// and email are blocked later with a config-missing warning, but the
// authoring surface still runs.
func LoadConfig() (*Config, error) {
	dataDir := getEnv("POSTER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = os.TempDir() + "/posterstudio"
	}
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		APIBases:         os.Getenv("POSTER_API_BASES"),
		StaticBase:       os.Getenv("POSTER_STATIC_BASE"),
		DataDir:          dataDir,
		FontPath:         os.Getenv("POSTER_FONT"),
		HealthTTL:        time.Millisecond * time.Duration(getEnvInt("POSTER_HEALTH_TTL_MS", 60_000)),
		ProbeTimeout:     time.Millisecond * time.Duration(getEnvInt("POSTER_PROBE_TIMEOUT_MS", 2_500)),
		RetryBackoff:     time.Millisecond * time.Duration(getEnvInt("POSTER_RETRY_BACKOFF_MS", 800)),
		BodyLimit:        getEnvInt("POSTER_BODY_LIMIT_BYTES", 300_000),
		SessionQuota:     int64(getEnvInt("POSTER_SESSION_QUOTA_BYTES", 5<<20)),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		AllowedOrigins:   splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
	}
	if cfg.StaticBase == "" {
		if bases := splitList(cfg.APIBases); len(bases) > 0 {
			cfg.StaticBase = bases[0]
		}
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
