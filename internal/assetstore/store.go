// Package assetstore keeps large previews out of the quota-limited session
// store. Values are strings (data URLs or remote URLs) addressed by opaque
// storage keys. The primary tier is an embedded sqlite database; any failure
// degrades transparently to a process-local map so no operation ever
// surfaces an error to callers.
package assetstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"posterstudio/internal/infra"
)

// DatabaseFile is the per-user offline database backing the store.
const DatabaseFile = "marketing-poster-assets.db"

type assetRow struct {
	Key   string `gorm:"primaryKey;column:key"`
	Value string `gorm:"column:value"`
}

func (assetRow) TableName() string { return "assets" }

// Store is the multi-tier key→value cache. Safe for concurrent use.
type Store struct {
	log *infra.Logger

	mu       sync.Mutex
	db       *gorm.DB
	fallback map[string]string
}

// Open initializes the store under dir. It never fails: when the database
// cannot be opened or migrated the store runs on the in-memory fallback
// alone and logs the degradation once.
func Open(dir string, log *infra.Logger) *Store {
	if log == nil {
		log = infra.DiscardLogger()
	}
	s := &Store{log: log, fallback: make(map[string]string)}
	if dir == "" {
		log.Warn().Msg("assetstore: no data dir, using in-memory fallback")
		return s
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Err(err).Msg("assetstore: ensure data dir failed, using in-memory fallback")
		return s
	}
	path := filepath.Join(dir, DatabaseFile)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("assetstore: open database failed, using in-memory fallback")
		return s
	}
	if err := db.AutoMigrate(&assetRow{}); err != nil {
		log.Warn().Err(err).Msg("assetstore: migrate failed, using in-memory fallback")
		return s
	}
	s.db = db
	return s
}

// NewMemory returns a store that only uses the in-memory tier. Used by
// tests and by callers without a writable data dir.
func NewMemory(log *infra.Logger) *Store {
	if log == nil {
		log = infra.DiscardLogger()
	}
	return &Store{log: log, fallback: make(map[string]string)}
}

// NewKey mints a fresh opaque storage key.
func NewKey() string {
	return "asset-" + uuid.NewString()
}

// Put stores value under key and returns the key. An empty key mints a
// fresh one. Database failures fall through to the in-memory tier.
func (s *Store) Put(ctx context.Context, key, value string) string {
	if key == "" {
		key = NewKey()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		err := s.db.WithContext(ctx).Save(&assetRow{Key: key, Value: value}).Error
		if err == nil {
			// Drop any stale fallback shadow for the key.
			delete(s.fallback, key)
			return key
		}
		s.log.Warn().Err(err).Str("key", key).Msg("assetstore: put failed, falling back to memory")
	}
	s.fallback[key] = value
	return key
}

// Get returns the most recently stored value for key, checking the database
// first and the fallback map second.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		var row assetRow
		err := s.db.WithContext(ctx).First(&row, "key = ?", key).Error
		if err == nil {
			return row.Value, true
		}
		if err != gorm.ErrRecordNotFound {
			s.log.Warn().Err(err).Str("key", key).Msg("assetstore: get failed, checking fallback")
		}
	}
	v, ok := s.fallback[key]
	return v, ok
}

// Delete removes key from both tiers. Idempotent.
func (s *Store) Delete(ctx context.Context, key string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		if err := s.db.WithContext(ctx).Delete(&assetRow{}, "key = ?", key).Error; err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("assetstore: delete failed")
		}
	}
	delete(s.fallback, key)
}

// Clear drops every stored value.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		if err := s.db.WithContext(ctx).Exec("DELETE FROM assets").Error; err != nil {
			s.log.Warn().Err(err).Msg("assetstore: clear failed")
		}
	}
	s.fallback = make(map[string]string)
}

// Keys lists every key currently held in either tier. Ordering is not
// specified; callers sort when they care.
func (s *Store) Keys(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var keys []string
	if s.db != nil {
		var rows []assetRow
		if err := s.db.WithContext(ctx).Select("key").Find(&rows).Error; err == nil {
			for _, r := range rows {
				seen[r.Key] = struct{}{}
				keys = append(keys, r.Key)
			}
		}
	}
	for k := range s.fallback {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// Sweep deletes every listed key. Used when a snapshot is replaced and its
// previous blobs must not linger.
func (s *Store) Sweep(ctx context.Context, keys []string) {
	for _, k := range keys {
		s.Delete(ctx, k)
	}
}

// Has reports whether a key resolves in either tier.
func (s *Store) Has(ctx context.Context, key string) bool {
	_, ok := s.Get(ctx, key)
	return ok
}

func (s *Store) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tier := "sqlite+memory"
	if s.db == nil {
		tier = "memory"
	}
	return fmt.Sprintf("assetstore(%s)", tier)
}
