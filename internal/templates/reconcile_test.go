package templates

import (
	"context"
	"testing"

	"posterstudio/internal/assetstore"
	"posterstudio/internal/domain"
	"posterstudio/internal/session"
	"posterstudio/internal/stage1"
)

func promptOnlyGallerySpec(count int) *domain.TemplateSpec {
	spec := &domain.TemplateSpec{ID: "modern", Name: "现代横幅"}
	spec.Materials = map[string]domain.MaterialSpec{
		domain.MaterialGallery: {
			Label: "小图", Type: "image",
			AllowsUpload: false, AllowsPrompt: true, Count: count,
		},
	}
	return spec
}

func TestApplyConvertsPromptOnlyGalleryAndTruncates(t *testing.T) {
	ctx := context.Background()
	assets := assetstore.NewMemory(nil)
	model := stage1.NewModel(session.Open("", 0, nil), assets, nil)

	k1 := assets.Put(ctx, "", "g1")
	k2 := assets.Put(ctx, "", "g2")
	k4 := assets.Put(ctx, "", "g4")
	model.Replace(ctx, domain.Stage1Snapshot{
		GalleryLimit:        4,
		GalleryAllowsUpload: true,
		GalleryAllowsPrompt: true,
		Gallery: []domain.GalleryEntry{
			{ID: "a", Caption: "正面", Mode: domain.ModeUpload, Asset: &domain.AssetDescriptor{StorageKey: k1}},
			{ID: "b", Caption: "侧面", Mode: domain.ModeUpload, Asset: &domain.AssetDescriptor{StorageKey: k2}},
			{ID: "c", Caption: "细节", Mode: domain.ModePrompt, Prompt: "特写"},
			{ID: "d", Caption: "包装", Mode: domain.ModeUpload, Asset: &domain.AssetDescriptor{StorageKey: k4}},
		},
	}, false)

	rec := NewReconciler(assets, nil)
	views := rec.Apply(ctx, model, promptOnlyGallerySpec(3))

	snap := model.Snapshot()
	if len(snap.Gallery) != 3 {
		t.Fatalf("gallery length = %d", len(snap.Gallery))
	}
	for _, entry := range snap.Gallery {
		if entry.Mode != domain.ModePrompt {
			t.Fatalf("entry %s mode = %s", entry.ID, entry.Mode)
		}
		if entry.Asset != nil {
			t.Fatalf("entry %s still carries an asset", entry.ID)
		}
	}
	if snap.Gallery[2].Prompt != "特写" {
		t.Fatalf("existing prompt text lost: %+v", snap.Gallery[2])
	}
	for _, key := range []string{k1, k2, k4} {
		if assets.Has(ctx, key) {
			t.Fatalf("dropped asset %s not swept", key)
		}
	}
	if snap.GalleryLimit != 3 || snap.GalleryAllowsUpload || !snap.GalleryAllowsPrompt {
		t.Fatalf("gallery policy not installed: %+v", snap)
	}
	if snap.TemplateID != "modern" || snap.TemplateLabel != "现代横幅" {
		t.Fatalf("template identity not recorded")
	}

	var gallery *MaterialView
	for i := range views {
		if views[i].Name == domain.MaterialGallery {
			gallery = &views[i]
		}
	}
	if gallery == nil || gallery.Label != "小图" || gallery.Count != 3 || gallery.AllowsUpload {
		t.Fatalf("gallery view = %+v", gallery)
	}
}

func TestApplyForcesUploadOnlySlotAndClearsPrompt(t *testing.T) {
	ctx := context.Background()
	assets := assetstore.NewMemory(nil)
	model := stage1.NewModel(session.Open("", 0, nil), assets, nil)
	model.Replace(ctx, domain.Stage1Snapshot{
		ScenarioMode:   domain.ModePrompt,
		ScenarioPrompt: "清晨的厨房",
	}, false)

	spec := &domain.TemplateSpec{ID: "classic", Name: "经典竖版", Materials: map[string]domain.MaterialSpec{
		domain.MaterialScenario: {Label: "场景图", Type: "image", AllowsUpload: true, AllowsPrompt: false},
	}}
	NewReconciler(assets, nil).Apply(ctx, model, spec)

	snap := model.Snapshot()
	if snap.ScenarioMode != domain.ModeUpload {
		t.Fatalf("mode = %s", snap.ScenarioMode)
	}
	if snap.ScenarioPrompt != "" {
		t.Fatalf("prompt text must be cleared: %q", snap.ScenarioPrompt)
	}
}

func TestApplyForcesPromptOnlySlotAndSweepsAsset(t *testing.T) {
	ctx := context.Background()
	assets := assetstore.NewMemory(nil)
	model := stage1.NewModel(session.Open("", 0, nil), assets, nil)
	key := assets.Put(ctx, "", "product")
	model.Replace(ctx, domain.Stage1Snapshot{
		ProductMode:  domain.ModeUpload,
		ProductAsset: &domain.AssetDescriptor{StorageKey: key},
	}, false)

	spec := &domain.TemplateSpec{ID: "sketch", Name: "手绘", Materials: map[string]domain.MaterialSpec{
		domain.MaterialProduct: {Label: "产品图", Type: "image", AllowsUpload: false, AllowsPrompt: true},
	}}
	NewReconciler(assets, nil).Apply(ctx, model, spec)

	snap := model.Snapshot()
	if snap.ProductMode != domain.ModePrompt || snap.ProductAsset != nil {
		t.Fatalf("slot not forced to prompt: mode=%s asset=%+v", snap.ProductMode, snap.ProductAsset)
	}
	if assets.Has(ctx, key) {
		t.Fatalf("forced-out asset not swept")
	}
}

func TestApplyKeepsCompatibleState(t *testing.T) {
	ctx := context.Background()
	assets := assetstore.NewMemory(nil)
	model := stage1.NewModel(session.Open("", 0, nil), assets, nil)
	key := assets.Put(ctx, "", "scene")
	model.Replace(ctx, domain.Stage1Snapshot{
		ScenarioMode:  domain.ModeUpload,
		ScenarioAsset: &domain.AssetDescriptor{StorageKey: key},
		Gallery: []domain.GalleryEntry{
			{ID: "a", Caption: "正面", Mode: domain.ModePrompt, Prompt: "特写"},
		},
	}, false)

	// Permissive defaults: no materials block at all.
	spec := &domain.TemplateSpec{ID: "open", Name: "自由版式"}
	NewReconciler(assets, nil).Apply(ctx, model, spec)

	snap := model.Snapshot()
	if snap.ScenarioMode != domain.ModeUpload || !assets.Has(ctx, key) {
		t.Fatalf("compatible upload slot was disturbed")
	}
	if snap.Gallery[0].Prompt != "特写" {
		t.Fatalf("compatible prompt entry was disturbed")
	}
	if snap.GalleryLimit != domain.DefaultGalleryLimit {
		t.Fatalf("gallery limit = %d", snap.GalleryLimit)
	}
}
