package templates

import (
	"context"

	"posterstudio/internal/assetstore"
	"posterstudio/internal/domain"
	"posterstudio/internal/infra"
	"posterstudio/internal/stage1"
)

// MaterialView is what the material editor renders for one slot after a
// template switch: the template's labels plus the mode the state landed on.
type MaterialView struct {
	Name              string              `json:"name"`
	Label             string              `json:"label"`
	Type              string              `json:"type"`
	AllowsUpload      bool                `json:"allows_upload"`
	AllowsPrompt      bool                `json:"allows_prompt"`
	Count             int                 `json:"count,omitempty"`
	PromptPlaceholder string              `json:"prompt_placeholder,omitempty"`
	Mode              domain.MaterialMode `json:"mode,omitempty"`
}

// Reconciler forces the authoring state into the shape the newly selected
// template allows. Assets dropped by the reconciliation are swept from the
// asset store so no orphan blob survives the switch.
type Reconciler struct {
	assets *assetstore.Store
	log    *infra.Logger
}

// NewReconciler constructs a reconciler over the given asset store.
func NewReconciler(assets *assetstore.Store, log *infra.Logger) *Reconciler {
	if log == nil {
		log = infra.DiscardLogger()
	}
	return &Reconciler{assets: assets, log: log}
}

// Apply installs spec as the active template and coerces every material into
// an allowed mode: upload-only slots drop prompt text, prompt-only slots drop
// their assets, and the gallery is truncated to the template's count.
func (rec *Reconciler) Apply(ctx context.Context, model *stage1.Model, spec *domain.TemplateSpec) []MaterialView {
	scenario := spec.Material(domain.MaterialScenario)
	product := spec.Material(domain.MaterialProduct)
	gallery := spec.Material(domain.MaterialGallery)

	var dropped []string
	model.Mutate(ctx, false, func(s *domain.Stage1Snapshot) {
		s.TemplateID = spec.ID
		s.TemplateLabel = spec.Name
		s.GalleryLimit = gallery.Count
		s.GalleryLabel = gallery.Label
		s.GalleryAllowsUpload = gallery.AllowsUpload
		s.GalleryAllowsPrompt = gallery.AllowsPrompt

		s.ScenarioMode, s.ScenarioPrompt, s.ScenarioAsset =
			coerceSlot(scenario, s.ScenarioMode, s.ScenarioPrompt, s.ScenarioAsset, &dropped)
		s.ProductMode, s.ProductPrompt, s.ProductAsset =
			coerceSlot(product, s.ProductMode, s.ProductPrompt, s.ProductAsset, &dropped)

		if len(s.Gallery) > gallery.Count {
			for _, entry := range s.Gallery[gallery.Count:] {
				collectKey(entry.Asset, &dropped)
			}
			s.Gallery = s.Gallery[:gallery.Count]
		}
		for i := range s.Gallery {
			entry := &s.Gallery[i]
			switch {
			case entry.Mode == domain.ModeUpload && !gallery.AllowsUpload:
				collectKey(entry.Asset, &dropped)
				entry.Asset = nil
				entry.Mode = domain.ModePrompt
			case entry.Mode == domain.ModePrompt && !gallery.AllowsPrompt:
				entry.Prompt = ""
				entry.Mode = domain.ModeUpload
			}
		}
	})
	if len(dropped) > 0 {
		rec.assets.Sweep(ctx, dropped)
		rec.log.Debug().Int("count", len(dropped)).Str("template", spec.ID).
			Msg("templates: swept assets dropped by reconciliation")
	}

	snap := model.Snapshot()
	return []MaterialView{
		viewFor(domain.MaterialBrandLogo, spec.Material(domain.MaterialBrandLogo), domain.ModeUpload),
		viewFor(domain.MaterialScenario, scenario, snap.ScenarioMode),
		viewFor(domain.MaterialProduct, product, snap.ProductMode),
		viewFor(domain.MaterialGallery, gallery, ""),
	}
}

// coerceSlot forces one single-asset material into a mode the template
// allows, recording any dropped storage key.
func coerceSlot(m domain.MaterialSpec, mode domain.MaterialMode, prompt string, asset *domain.AssetDescriptor, dropped *[]string) (domain.MaterialMode, string, *domain.AssetDescriptor) {
	switch {
	case mode == domain.ModeUpload && !m.AllowsUpload:
		collectKey(asset, dropped)
		return domain.ModePrompt, prompt, nil
	case mode == domain.ModePrompt && !m.AllowsPrompt:
		return domain.ModeUpload, "", asset
	}
	return mode, prompt, asset
}

func collectKey(asset *domain.AssetDescriptor, dropped *[]string) {
	if asset != nil && asset.StorageKey != "" {
		*dropped = append(*dropped, asset.StorageKey)
	}
}

func viewFor(name string, m domain.MaterialSpec, mode domain.MaterialMode) MaterialView {
	return MaterialView{
		Name:              name,
		Label:             m.Label,
		Type:              m.Type,
		AllowsUpload:      m.AllowsUpload,
		AllowsPrompt:      m.AllowsPrompt,
		Count:             m.Count,
		PromptPlaceholder: m.PromptPlaceholder,
		Mode:              mode,
	}
}
