package generate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"posterstudio/internal/apiclient"
	"posterstudio/internal/assetstore"
	"posterstudio/internal/domain"
	"posterstudio/internal/prompts"
	"posterstudio/internal/session"
	"posterstudio/internal/stage1"
)

type fakeTransport struct {
	mu     sync.Mutex
	docs   map[string]string
	bodies map[string][]string
}

func (t *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	key := req.Method + " " + req.URL.String()
	t.mu.Lock()
	if t.bodies == nil {
		t.bodies = make(map[string][]string)
	}
	var body string
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		body = string(raw)
	}
	t.bodies[key] = append(t.bodies[key], body)
	doc, ok := t.docs[key]
	t.mu.Unlock()
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
		doc = `{"error":"not found"}`
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(doc)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func (t *fakeTransport) hits(key string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bodies[key]
}

const testBase = "https://api.example.com"

func readySnapshot() domain.Stage1Snapshot {
	return domain.Stage1Snapshot{
		BrandName:    "星辰",
		AgentName:    "华东代理",
		ScenarioText: "清晨的厨房",
		ProductName:  "破壁机",
		Title:        "唤醒每一天",
		Subtitle:     "一键营养早餐",
		Features:     []string{"静音", "易清洗", "大容量"},
		TemplateID:   "classic",
		ScenarioAsset: &domain.AssetDescriptor{
			RemoteObjectKey: "r2/scene.png",
			PreviewURL:      "https://cdn.example.com/scene.png",
		},
		ProductMode:   domain.ModePrompt,
		ProductPrompt: "白底产品图",
		GalleryLimit:  1,
		Gallery: []domain.GalleryEntry{
			{ID: "g1", Caption: "细节", Mode: domain.ModePrompt, Prompt: "特写镜头"},
		},
	}
}

func newTestOrchestrator(t *testing.T, rt *fakeTransport, bases []string) (*Orchestrator, *session.Store, *assetstore.Store, *prompts.Composer, *stage1.Model) {
	t.Helper()
	sessions := session.Open("", 0, nil)
	assets := assetstore.NewMemory(nil)
	model := stage1.NewModel(sessions, assets, nil)
	composer := prompts.NewComposer(nil, nil)
	api := apiclient.NewClient(apiclient.Options{HTTPClient: &http.Client{Transport: rt}})
	o := NewOrchestrator(Options{
		API: api, Bases: bases, Assets: assets,
		Sessions: sessions, Model: model, Composer: composer,
	})
	return o, sessions, assets, composer, model
}

func TestGenerateRefusesWithoutBases(t *testing.T) {
	o, _, _, _, _ := newTestOrchestrator(t, &fakeTransport{}, nil)
	_, err := o.Generate(context.Background())
	if !errors.Is(err, domain.ErrConfigMissing) {
		t.Fatalf("error = %v", err)
	}
	if status, reason := o.Status(); status != StatusError || reason == "" {
		t.Fatalf("status = %s %q", status, reason)
	}
}

func TestGenerateRefusesIncompleteStage1(t *testing.T) {
	o, _, _, _, _ := newTestOrchestrator(t, &fakeTransport{}, []string{testBase})
	_, err := o.Generate(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("error = %v", err)
	}
}

func TestGenerateSplitsRemoteKeysAndPersists(t *testing.T) {
	rt := &fakeTransport{docs: map[string]string{
		"GET " + testBase + "/api/health": `{"ok":true}`,
		"POST " + testBase + GeneratePath: `{
			"poster_image":{"data_url":"data:image/png;base64,AQID","filename":"poster.png","media_type":"image/png","width":640,"height":900},
			"variants":[{"data_url":"data:image/png;base64,BBBB"},{"url":"https://cdn.example.com/v2.png"}],
			"prompt":"final prompt",
			"email_body":"您好",
			"prompts":{"scenario":{"preset":"server","positive":"from server"}}
		}`,
	}}
	o, sessions, assets, composer, model := newTestOrchestrator(t, rt, []string{testBase})
	ctx := context.Background()

	// A previous generation's blob must be swept once superseded.
	staleKey := assets.Put(ctx, "", "stale poster")
	stale, _ := json.Marshal(domain.Stage2Result{PosterImage: domain.ImageRef{StorageKey: staleKey}})
	if err := sessions.Set(session.Stage2Key, string(stale)); err != nil {
		t.Fatalf("seed stale stage2: %v", err)
	}

	model.Replace(ctx, readySnapshot(), true)
	result, err := o.Generate(ctx)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	posts := rt.hits("POST " + testBase + GeneratePath)
	if len(posts) != 1 {
		t.Fatalf("generate posts = %d", len(posts))
	}
	body := posts[0]
	for _, want := range []string{`"key":"r2/scene.png"`, `"render_mode":"locked"`, `"prompt":"白底产品图"`, `"caption":"细节"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %s:\n%s", want, body)
		}
	}
	if strings.Contains(body, "base64,") {
		t.Fatalf("remote material leaked inline bytes:\n%s", body)
	}

	if result.PosterImage.StorageKey == "" || !assets.Has(ctx, result.PosterImage.StorageKey) {
		t.Fatalf("poster blob not parked: %+v", result.PosterImage)
	}
	if len(result.Variants) != 2 || result.Variants[1].RemoteURL != "https://cdn.example.com/v2.png" {
		t.Fatalf("variants = %+v", result.Variants)
	}
	if assets.Has(ctx, staleKey) {
		t.Fatalf("superseded stage2 blob not swept")
	}
	if _, ok := sessions.Get(session.Stage2Key); !ok {
		t.Fatalf("stage2 record not persisted")
	}
	if slot, _ := composer.Slot(domain.PromptSlotScenario); slot.Positive != "from server" {
		t.Fatalf("server prompt bundle not applied: %+v", slot)
	}
	if status, _ := o.Status(); status != StatusSuccess {
		t.Fatalf("status = %s", status)
	}
}

func TestGenerateRejectsInlineMaterialBeforePost(t *testing.T) {
	rt := &fakeTransport{docs: map[string]string{
		"GET " + testBase + "/api/health": `{"ok":true}`,
	}}
	o, _, assets, _, model := newTestOrchestrator(t, rt, []string{testBase})
	ctx := context.Background()

	snap := readySnapshot()
	key := assets.Put(ctx, "", "data:image/png;base64,AAAA")
	snap.ScenarioAsset = &domain.AssetDescriptor{StorageKey: key, PreviewURL: "data:image/png;base64,AAAA"}
	model.Replace(ctx, snap, true)

	_, err := o.Generate(ctx)
	if !errors.Is(err, domain.ErrPayloadTooLarge) {
		t.Fatalf("error = %v", err)
	}
	if posts := rt.hits("POST " + testBase + GeneratePath); len(posts) != 0 {
		t.Fatalf("request must be rejected before any fetch, got %d posts", len(posts))
	}
}

func TestGenerateABForcesTwoVariants(t *testing.T) {
	rt := &fakeTransport{docs: map[string]string{
		"GET " + testBase + "/api/health": `{"ok":true}`,
		"POST " + testBase + GeneratePath: `{"poster_image":{"data_url":"data:image/png;base64,AQID"}}`,
	}}
	o, _, _, _, model := newTestOrchestrator(t, rt, []string{testBase})
	ctx := context.Background()
	model.Replace(ctx, readySnapshot(), true)
	if _, err := o.GenerateAB(ctx); err != nil {
		t.Fatalf("generate ab: %v", err)
	}
	body := rt.hits("POST " + testBase + GeneratePath)[0]
	if !strings.Contains(body, `"variants":2`) {
		t.Fatalf("variants not forced to 2:\n%s", body)
	}
}

func TestPromoteVariantSweepsFormerPrimary(t *testing.T) {
	o, sessions, assets, _, _ := newTestOrchestrator(t, &fakeTransport{}, []string{testBase})
	ctx := context.Background()
	keyA := assets.Put(ctx, "", "primary")
	keyB := assets.Put(ctx, "", "variant-b")
	keyC := assets.Put(ctx, "", "variant-c")
	seed, _ := json.Marshal(domain.Stage2Result{
		PosterImage: domain.ImageRef{StorageKey: keyA},
		Variants:    []domain.ImageRef{{StorageKey: keyB}, {StorageKey: keyC}},
	})
	if err := sessions.Set(session.Stage2Key, string(seed)); err != nil {
		t.Fatalf("seed stage2: %v", err)
	}

	result, err := o.PromoteVariant(ctx, 1)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if result.PosterImage.StorageKey != keyC {
		t.Fatalf("primary = %+v", result.PosterImage)
	}
	if len(result.Variants) != 1 || result.Variants[0].StorageKey != keyB {
		t.Fatalf("variants = %+v", result.Variants)
	}
	if assets.Has(ctx, keyA) {
		t.Fatalf("former primary blob must be swept")
	}
	if !assets.Has(ctx, keyB) || !assets.Has(ctx, keyC) {
		t.Fatalf("referenced blobs must survive")
	}
	if _, err := o.PromoteVariant(ctx, 5); err == nil {
		t.Fatalf("out-of-range promote must error")
	}
}

func TestResultHydratesPreviewFromStore(t *testing.T) {
	o, sessions, assets, _, _ := newTestOrchestrator(t, &fakeTransport{}, nil)
	ctx := context.Background()
	key := assets.Put(ctx, "", "data:image/png;base64,AQID")
	seed, _ := json.Marshal(domain.Stage2Result{PosterImage: domain.ImageRef{StorageKey: key}})
	_ = sessions.Set(session.Stage2Key, string(seed))

	result, ok := o.Result(ctx)
	if !ok || result.PosterImage.PreviewURL != "data:image/png;base64,AQID" {
		t.Fatalf("result = %+v ok=%v", result, ok)
	}
	if _, ok := NewOrchestrator(Options{Sessions: session.Open("", 0, nil), Assets: assets}).Result(ctx); ok {
		t.Fatalf("empty session must yield no result")
	}
}
