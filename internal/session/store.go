// Package session persists small JSON snapshots between stages, mirroring
// per-origin session storage: string values under fixed keys, bounded by an
// aggregate quota so blob bytes can never crowd it. Blobs belong to the
// asset store.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"posterstudio/internal/domain"
	"posterstudio/internal/infra"
)

// Well-known keys.
const (
	APIBaseKey = "marketing-poster-api-base"
	Stage1Key  = "marketing-poster-stage1-data"
	Stage2Key  = "marketing-poster-stage2-result"
)

// DefaultQuota mirrors the ~5 MiB per-origin session storage limit.
const DefaultQuota int64 = 5 << 20

// Store is a quota-bounded string KV backed by a directory, with a
// transparent in-memory fallback when the directory is unusable.
type Store struct {
	log   *infra.Logger
	dir   string
	quota int64

	mu  sync.Mutex
	mem map[string]string
}

// Open initializes the store rooted at dir. A zero quota uses DefaultQuota.
// Directory failures degrade to memory-only operation and log.
func Open(dir string, quota int64, log *infra.Logger) *Store {
	if log == nil {
		log = infra.DiscardLogger()
	}
	if quota <= 0 {
		quota = DefaultQuota
	}
	s := &Store{log: log, quota: quota, mem: make(map[string]string)}
	if dir == "" {
		return s
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("session: ensure dir failed, memory only")
		return s
	}
	s.dir = dir
	return s
}

// Get returns the stored value for key.
func (s *Store) Get(key string) (string, bool) {
	name, err := sanitizeKey(key)
	if err != nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir != "" {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err == nil {
			return string(data), true
		}
	}
	v, ok := s.mem[name]
	return v, ok
}

// Set stores value under key. Writes that would push the aggregate size
// past the quota fail with ErrStorageQuota so the caller can run its
// delete-and-retry policy.
func (s *Store) Set(key, value string) error {
	name, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usageLocked(name)+int64(len(value)) > s.quota {
		return fmt.Errorf("session: set %s: %w", name, domain.ErrStorageQuota)
	}
	if s.dir != "" {
		err := os.WriteFile(filepath.Join(s.dir, name), []byte(value), 0o644)
		if err == nil {
			delete(s.mem, name)
			return nil
		}
		s.log.Warn().Err(err).Str("key", name).Msg("session: write failed, keeping in memory")
	}
	s.mem[name] = value
	return nil
}

// Remove deletes key. Idempotent.
func (s *Store) Remove(key string) {
	name, err := sanitizeKey(key)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir != "" {
		_ = os.Remove(filepath.Join(s.dir, name))
	}
	delete(s.mem, name)
}

// Usage reports the aggregate stored size in bytes.
func (s *Store) Usage() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usageLocked("")
}

// usageLocked sums stored sizes, excluding the entry about to be replaced.
func (s *Store) usageLocked(excluding string) int64 {
	var total int64
	counted := make(map[string]struct{})
	if s.dir != "" {
		entries, err := os.ReadDir(s.dir)
		if err == nil {
			for _, entry := range entries {
				if entry.IsDir() || entry.Name() == excluding {
					continue
				}
				if info, err := entry.Info(); err == nil {
					total += info.Size()
					counted[entry.Name()] = struct{}{}
				}
			}
		}
	}
	for name, v := range s.mem {
		if name == excluding {
			continue
		}
		if _, ok := counted[name]; !ok {
			total += int64(len(v))
		}
	}
	return total
}

// sanitizeKey normalizes a key and prevents escaping the store directory.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("session: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.Contains(cleaned, "/") || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("session: invalid key %q", key)
	}
	return cleaned, nil
}
