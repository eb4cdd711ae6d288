// Package stage1 owns the authoring snapshot: form state, per-material
// modes, the bounded gallery and its persistence. Blob bytes never enter the
// snapshot; assets are referenced by descriptor and swept from the asset
// store when they fall out of the state.
package stage1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"posterstudio/internal/assetstore"
	"posterstudio/internal/domain"
	"posterstudio/internal/infra"
	"posterstudio/internal/session"
)

// Model serializes every mutation and mirrors the snapshot to the session
// store. Any mutation invalidates the preview flag; replacing state without
// the preserve flag also drops the Stage-2 cache and its blobs.
type Model struct {
	log      *infra.Logger
	sessions *session.Store
	assets   *assetstore.Store

	mu   sync.Mutex
	snap domain.Stage1Snapshot
}

// NewModel hydrates the model from the session store or starts fresh.
func NewModel(sessions *session.Store, assets *assetstore.Store, log *infra.Logger) *Model {
	if log == nil {
		log = infra.DiscardLogger()
	}
	m := &Model{log: log, sessions: sessions, assets: assets, snap: defaultSnapshot()}
	if raw, ok := sessions.Get(session.Stage1Key); ok {
		var snap domain.Stage1Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			log.Warn().Err(err).Msg("stage1: discarding unreadable persisted snapshot")
		} else {
			normalize(&snap)
			m.snap = snap
		}
	}
	return m
}

func defaultSnapshot() domain.Stage1Snapshot {
	return domain.Stage1Snapshot{
		ScenarioMode:        domain.ModeUpload,
		ProductMode:         domain.ModeUpload,
		GalleryLimit:        domain.DefaultGalleryLimit,
		GalleryAllowsUpload: true,
		GalleryAllowsPrompt: true,
	}
}

func normalize(snap *domain.Stage1Snapshot) {
	if snap.GalleryLimit <= 0 {
		snap.GalleryLimit = domain.DefaultGalleryLimit
	}
	if snap.ScenarioMode == "" {
		snap.ScenarioMode = domain.ModeUpload
	}
	if snap.ProductMode == "" {
		snap.ProductMode = domain.ModeUpload
	}
	if snap.SeriesDescription == "" && snap.BrandName != "" && snap.ProductName != "" {
		snap.SeriesDescription = fmt.Sprintf("%s·%s 系列推广", snap.BrandName, snap.ProductName)
	}
}

// Snapshot returns a deep copy of the current state.
func (m *Model) Snapshot() domain.Stage1Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSnapshot(m.snap)
}

func cloneSnapshot(s domain.Stage1Snapshot) domain.Stage1Snapshot {
	out := s
	out.Features = append([]string(nil), s.Features...)
	out.Gallery = make([]domain.GalleryEntry, len(s.Gallery))
	for i, e := range s.Gallery {
		out.Gallery[i] = e
		if e.Asset != nil {
			asset := *e.Asset
			out.Gallery[i].Asset = &asset
		}
	}
	out.BrandLogo = cloneDesc(s.BrandLogo)
	out.ScenarioAsset = cloneDesc(s.ScenarioAsset)
	out.ProductAsset = cloneDesc(s.ProductAsset)
	return out
}

func cloneDesc(d *domain.AssetDescriptor) *domain.AssetDescriptor {
	if d == nil {
		return nil
	}
	out := *d
	return &out
}

// Mutate applies fn to the snapshot under the lock, invalidates the preview
// flag, optionally preserves the Stage-2 cache, and persists. preserveStage2
// is for cosmetic mutations such as a template-label refresh.
func (m *Model) Mutate(ctx context.Context, preserveStage2 bool, fn func(*domain.Stage1Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.snap)
	normalize(&m.snap)
	m.snap.PreviewBuilt = false
	if !preserveStage2 {
		m.clearStage2Locked(ctx)
	}
	m.persistLocked()
}

// Replace swaps in a whole snapshot. Without the preserve flag the previous
// Stage-2 cache and its poster blobs are swept.
func (m *Model) Replace(ctx context.Context, snap domain.Stage1Snapshot, preserveStage2 bool) {
	m.Mutate(ctx, preserveStage2, func(cur *domain.Stage1Snapshot) {
		*cur = cloneSnapshot(snap)
	})
}

// clearStage2Locked removes the persisted Stage-2 result and sweeps its
// storage keys so no superseded poster blob lingers.
func (m *Model) clearStage2Locked(ctx context.Context) {
	raw, ok := m.sessions.Get(session.Stage2Key)
	if !ok {
		return
	}
	var result domain.Stage2Result
	if err := json.Unmarshal([]byte(raw), &result); err == nil {
		m.assets.Sweep(ctx, result.StorageKeys())
	}
	m.sessions.Remove(session.Stage2Key)
}

// persistLocked mirrors the snapshot to the session store. A quota failure
// triggers one delete-and-retry; a repeat failure keeps the state in memory
// only and logs.
func (m *Model) persistLocked() {
	raw, err := json.Marshal(m.snap)
	if err != nil {
		m.log.Error().Err(err).Msg("stage1: encode snapshot")
		return
	}
	err = m.sessions.Set(session.Stage1Key, string(raw))
	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrStorageQuota) {
		m.sessions.Remove(session.Stage1Key)
		if retryErr := m.sessions.Set(session.Stage1Key, string(raw)); retryErr == nil {
			return
		}
	}
	m.log.Warn().Err(err).Msg("stage1: persist failed, state lives in memory only")
}

// SetAsset installs a descriptor into one of the three single-asset slots,
// sweeping the replaced blob.
func (m *Model) SetAsset(ctx context.Context, material string, desc *domain.AssetDescriptor) error {
	var ok bool
	m.Mutate(ctx, false, func(s *domain.Stage1Snapshot) {
		var slot **domain.AssetDescriptor
		switch material {
		case domain.MaterialBrandLogo:
			slot = &s.BrandLogo
		case domain.MaterialScenario:
			slot = &s.ScenarioAsset
		case domain.MaterialProduct:
			slot = &s.ProductAsset
		default:
			return
		}
		ok = true
		m.sweepReplaced(ctx, *slot, desc)
		*slot = cloneDesc(desc)
	})
	if !ok {
		return fmt.Errorf("stage1: unknown material %q", material)
	}
	return nil
}

func (m *Model) sweepReplaced(ctx context.Context, old, next *domain.AssetDescriptor) {
	if old == nil || old.StorageKey == "" {
		return
	}
	if next != nil && next.StorageKey == old.StorageKey {
		return
	}
	m.assets.Delete(ctx, old.StorageKey)
}

// SetMode toggles the scenario or product material mode. Entering prompt
// mode deletes the current asset and sweeps its blob.
func (m *Model) SetMode(ctx context.Context, material string, mode domain.MaterialMode) error {
	var ok bool
	m.Mutate(ctx, false, func(s *domain.Stage1Snapshot) {
		switch material {
		case domain.MaterialScenario:
			ok = true
			if mode == domain.ModePrompt {
				m.sweepReplaced(ctx, s.ScenarioAsset, nil)
				s.ScenarioAsset = nil
			}
			s.ScenarioMode = mode
		case domain.MaterialProduct:
			ok = true
			if mode == domain.ModePrompt {
				m.sweepReplaced(ctx, s.ProductAsset, nil)
				s.ProductAsset = nil
			}
			s.ProductMode = mode
		}
	})
	if !ok {
		return fmt.Errorf("stage1: material %q has no mode", material)
	}
	return nil
}

// AddGalleryEntry appends an empty entry, respecting the gallery bound.
func (m *Model) AddGalleryEntry(ctx context.Context, mode domain.MaterialMode) (string, error) {
	id := uuid.NewString()
	var full bool
	m.Mutate(ctx, false, func(s *domain.Stage1Snapshot) {
		if len(s.Gallery) >= s.GalleryLimit {
			full = true
			return
		}
		s.Gallery = append(s.Gallery, domain.GalleryEntry{ID: id, Mode: mode})
	})
	if full {
		return "", fmt.Errorf("stage1: 小图数量已达上限 %d", m.Snapshot().GalleryLimit)
	}
	return id, nil
}

// UpdateGalleryEntry applies fn to the entry with the given id. Switching
// the entry to prompt mode drops and sweeps its asset; installing an asset
// sweeps the replaced one.
func (m *Model) UpdateGalleryEntry(ctx context.Context, id string, fn func(*domain.GalleryEntry)) error {
	var found bool
	m.Mutate(ctx, false, func(s *domain.Stage1Snapshot) {
		for i := range s.Gallery {
			if s.Gallery[i].ID != id {
				continue
			}
			found = true
			before := s.Gallery[i].Asset
			fn(&s.Gallery[i])
			if s.Gallery[i].Mode == domain.ModePrompt && s.Gallery[i].Asset != nil {
				s.Gallery[i].Asset = nil
			}
			m.sweepReplaced(ctx, before, s.Gallery[i].Asset)
			return
		}
	})
	if !found {
		return fmt.Errorf("stage1: gallery entry %q not found", id)
	}
	return nil
}

// RemoveGalleryEntry drops the entry and sweeps its blob.
func (m *Model) RemoveGalleryEntry(ctx context.Context, id string) {
	m.Mutate(ctx, false, func(s *domain.Stage1Snapshot) {
		for i := range s.Gallery {
			if s.Gallery[i].ID != id {
				continue
			}
			m.sweepReplaced(ctx, s.Gallery[i].Asset, nil)
			s.Gallery = append(s.Gallery[:i], s.Gallery[i+1:]...)
			return
		}
	})
}

// StrictComplete gates the transition to Stage 2. The reason is a
// single-line user-facing message; internal detail goes to the log.
func (m *Model) StrictComplete() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &m.snap
	type field struct {
		value  string
		reason string
	}
	for _, f := range []field{
		{s.BrandName, "请填写品牌名称"},
		{s.AgentName, "请填写代理名称"},
		{s.ScenarioText, "请填写场景描述"},
		{s.ProductName, "请填写产品名称"},
		{s.Title, "请填写主标题"},
		{s.Subtitle, "请填写副标题"},
		{s.SeriesDescription, "请填写系列描述"},
		{s.TemplateID, "请选择模板"},
	} {
		if strings.TrimSpace(f.value) == "" {
			return false, f.reason
		}
	}
	if countNonEmpty(s.Features) < 3 {
		return false, "产品卖点至少需要3条"
	}
	if ok, reason := materialComplete(s.ScenarioMode, s.ScenarioAsset, s.ScenarioPrompt, "场景图"); !ok {
		return false, reason
	}
	if ok, reason := materialComplete(s.ProductMode, s.ProductAsset, s.ProductPrompt, "产品图"); !ok {
		return false, reason
	}
	complete := 0
	for i, entry := range s.Gallery {
		if strings.TrimSpace(entry.Caption) == "" {
			return false, fmt.Sprintf("请为第%d张小图填写说明", i+1)
		}
		if entry.Mode == domain.ModePrompt && strings.TrimSpace(entry.Prompt) == "" {
			return false, fmt.Sprintf("请为第%d张小图填写提示词", i+1)
		}
		if entry.Complete() {
			complete++
		}
	}
	if complete < s.GalleryLimit {
		return false, fmt.Sprintf("小图需要集齐%d张", s.GalleryLimit)
	}
	return true, ""
}

func materialComplete(mode domain.MaterialMode, asset *domain.AssetDescriptor, prompt, label string) (bool, string) {
	switch mode {
	case domain.ModePrompt:
		if strings.TrimSpace(prompt) == "" {
			return false, "请填写" + label + "的提示词"
		}
	default:
		if !asset.HasLocation() {
			return false, "请上传" + label
		}
	}
	return true, ""
}

func countNonEmpty(list []string) int {
	n := 0
	for _, s := range list {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}

// MarkPreviewBuilt records that the pixel preview was rendered from a
// strictly complete snapshot. The flag is refused otherwise. The mutation
// is cosmetic and preserves the Stage-2 cache.
func (m *Model) MarkPreviewBuilt(ctx context.Context, layoutPreview string) (bool, string) {
	ok, reason := m.StrictComplete()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.LayoutPreview = layoutPreview
	m.snap.PreviewBuilt = ok
	m.persistLocked()
	return ok, reason
}
