// Package generate drives Stage 2: it assembles the wire payload from the
// authored state, calls the poster backend with failover, and persists the
// returned artifact with its blobs parked in the asset store.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"posterstudio/internal/apiclient"
	"posterstudio/internal/assetstore"
	"posterstudio/internal/domain"
	"posterstudio/internal/infra"
	"posterstudio/internal/prompts"
	"posterstudio/internal/session"
	"posterstudio/internal/stage1"
)

// GeneratePath is the backend's poster generation endpoint.
const GeneratePath = "/api/generate-poster"

// Status is the orchestrator lifecycle, surfaced to the UI.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusSubmitting Status = "submitting"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// ErrNotReady signals that Stage 1 has not passed strict completion.
var ErrNotReady = errors.New("generate: stage1 incomplete")

// Orchestrator owns one generation at a time. It never holds blob bytes in
// the Stage-2 record: returned images are parked in the asset store and
// referenced by key.
type Orchestrator struct {
	api      *apiclient.Client
	bases    []string
	assets   *assetstore.Store
	sessions *session.Store
	model    *stage1.Model
	composer *prompts.Composer
	log      *infra.Logger

	mu     sync.Mutex
	status Status
	reason string
}

// Options wires the orchestrator's collaborators.
type Options struct {
	API      *apiclient.Client
	Bases    []string
	Assets   *assetstore.Store
	Sessions *session.Store
	Model    *stage1.Model
	Composer *prompts.Composer
	Logger   *infra.Logger
}

// NewOrchestrator constructs an orchestrator in the idle state.
func NewOrchestrator(opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = infra.DiscardLogger()
	}
	return &Orchestrator{
		api:      opts.API,
		bases:    opts.Bases,
		assets:   opts.Assets,
		sessions: opts.Sessions,
		model:    opts.Model,
		composer: opts.Composer,
		log:      log,
		status:   StatusIdle,
	}
}

// Status reports the current lifecycle phase and, after a failure, the
// user-facing reason.
func (o *Orchestrator) Status() (Status, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status, o.reason
}

func (o *Orchestrator) setStatus(s Status, reason string) {
	o.mu.Lock()
	o.status = s
	o.reason = reason
	o.mu.Unlock()
}

// wireMaterial is the per-slot payload: a remote object key when the upload
// pipeline accepted the asset, the inline preview otherwise, or the prompt
// text for prompt-mode slots. The request size gate rejects inline base64
// before any network traffic, which is exactly the contract: oversized
// local-only material must go through the object store first.
type wireMaterial struct {
	Mode   string `json:"mode"`
	Key    string `json:"key,omitempty"`
	Inline string `json:"inline,omitempty"`
	Prompt string `json:"prompt,omitempty"`
}

type wireGalleryItem struct {
	Caption string `json:"caption"`
	wireMaterial
}

type wirePoster struct {
	BrandName         string            `json:"brand_name"`
	AgentName         string            `json:"agent_name"`
	ScenarioText      string            `json:"scenario_text"`
	ProductName       string            `json:"product_name"`
	Title             string            `json:"title"`
	Subtitle          string            `json:"subtitle"`
	SeriesDescription string            `json:"series_description"`
	Features          []string          `json:"features"`
	TemplateID        string            `json:"template_id"`
	BrandLogo         wireMaterial      `json:"brand_logo"`
	Scenario          wireMaterial      `json:"scenario"`
	Product           wireMaterial      `json:"product"`
	Gallery           []wireGalleryItem `json:"gallery"`
}

type wireRequest struct {
	Poster     wirePoster        `json:"poster"`
	RenderMode string            `json:"render_mode"`
	Variants   int               `json:"variants"`
	Seed       *int64            `json:"seed"`
	LockSeed   bool              `json:"lock_seed"`
	Prompts    map[string]string `json:"prompts"`
}

// serverImage is one rendered image as the backend returns it: a remote URL,
// an inline data URL, or both.
type serverImage struct {
	URL       string `json:"url,omitempty"`
	DataURL   string `json:"data_url,omitempty"`
	Filename  string `json:"filename,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

type serverResponse struct {
	PosterImage   serverImage     `json:"poster_image"`
	Variants      []serverImage   `json:"variants,omitempty"`
	Prompt        string          `json:"prompt,omitempty"`
	PromptDetails json.RawMessage `json:"prompt_details,omitempty"`
	EmailBody     string          `json:"email_body,omitempty"`
	Scores        json.RawMessage `json:"scores,omitempty"`
	Prompts       json.RawMessage `json:"prompts,omitempty"`
}

// Generate runs one full generation: strict-completion gate, payload
// assembly, size gate, warm-up, failover POST, artifact persistence.
func (o *Orchestrator) Generate(ctx context.Context) (*domain.Stage2Result, error) {
	if len(apiclient.ResolveBases(o.bases...)) == 0 {
		o.setStatus(StatusError, "尚未配置生成服务地址")
		return nil, fmt.Errorf("generate: no backend base: %w", domain.ErrConfigMissing)
	}
	if ok, reason := o.model.StrictComplete(); !ok {
		o.setStatus(StatusError, reason)
		return nil, fmt.Errorf("%w: %s", ErrNotReady, reason)
	}
	o.setStatus(StatusSubmitting, "")

	snap := o.model.Snapshot()
	cfg := o.composer.Config()
	req := wireRequest{
		Poster:     o.buildPoster(ctx, &snap),
		RenderMode: "locked",
		Variants:   cfg.Variants,
		Seed:       cfg.Seed,
		LockSeed:   cfg.LockSeed,
		Prompts:    o.composer.WirePrompts(),
	}
	raw, err := json.Marshal(req)
	if err != nil {
		o.setStatus(StatusError, "请求构建失败")
		return nil, fmt.Errorf("generate: encode request: %w", err)
	}
	if err := o.api.GateBody(raw); err != nil {
		o.setStatus(StatusError, "素材体积过大，请先上传原图")
		return nil, err
	}

	o.api.WarmUp(ctx, o.bases)
	resp, err := o.api.PostJSONWithRetry(ctx, o.bases, GeneratePath, nil, apiclient.DefaultRetry, raw)
	if err != nil {
		o.setStatus(StatusError, "海报生成失败，请稍后重试")
		return nil, err
	}
	var sr serverResponse
	if err := resp.Decode(&sr); err != nil {
		o.setStatus(StatusError, "生成结果无法解析")
		return nil, fmt.Errorf("generate: decode response: %w", err)
	}

	result := o.persistResult(ctx, &snap, &cfg, &sr)
	if len(sr.Prompts) > 0 {
		o.composer.ApplyServerBundle(sr.Prompts)
	}
	o.setStatus(StatusSuccess, "")
	return result, nil
}

// GenerateAB forces at least two variants and runs a generation.
func (o *Orchestrator) GenerateAB(ctx context.Context) (*domain.Stage2Result, error) {
	o.composer.ForceAB()
	return o.Generate(ctx)
}

// buildPoster maps the snapshot onto the wire contract, splitting each
// material into remote key or inline form.
func (o *Orchestrator) buildPoster(ctx context.Context, snap *domain.Stage1Snapshot) wirePoster {
	poster := wirePoster{
		BrandName:         snap.BrandName,
		AgentName:         snap.AgentName,
		ScenarioText:      snap.ScenarioText,
		ProductName:       snap.ProductName,
		Title:             snap.Title,
		Subtitle:          snap.Subtitle,
		SeriesDescription: snap.SeriesDescription,
		Features:          snap.Features,
		TemplateID:        snap.TemplateID,
		BrandLogo:         o.uploadMaterial(ctx, snap.BrandLogo, domain.ModeUpload, ""),
		Scenario:          o.uploadMaterial(ctx, snap.ScenarioAsset, snap.ScenarioMode, snap.ScenarioPrompt),
		Product:           o.uploadMaterial(ctx, snap.ProductAsset, snap.ProductMode, snap.ProductPrompt),
	}
	for _, entry := range snap.Gallery {
		poster.Gallery = append(poster.Gallery, wireGalleryItem{
			Caption:      entry.Caption,
			wireMaterial: o.uploadMaterial(ctx, entry.Asset, entry.Mode, entry.Prompt),
		})
	}
	return poster
}

// uploadMaterial rehydrates one material for the wire. A storage key that no
// longer resolves is treated as absent rather than failing the request.
func (o *Orchestrator) uploadMaterial(ctx context.Context, asset *domain.AssetDescriptor, mode domain.MaterialMode, prompt string) wireMaterial {
	if mode == domain.ModePrompt {
		return wireMaterial{Mode: string(domain.ModePrompt), Prompt: prompt}
	}
	m := wireMaterial{Mode: string(domain.ModeUpload)}
	if asset == nil {
		return m
	}
	if asset.IsRemote() {
		m.Key = asset.RemoteObjectKey
		return m
	}
	if asset.StorageKey != "" {
		if value, ok := o.assets.Get(ctx, asset.StorageKey); ok {
			m.Inline = value
			return m
		}
		o.log.Warn().Err(domain.ErrAssetMissing).Str("key", asset.StorageKey).Msg("generate: sending material without its blob")
	}
	if asset.HasDataURL() {
		m.Inline = asset.PreviewURL
	}
	return m
}

// persistResult parks returned image bytes under fresh asset keys, sweeps
// the superseded Stage-2 blobs, and mirrors the record to the session store.
func (o *Orchestrator) persistResult(ctx context.Context, snap *domain.Stage1Snapshot, cfg *domain.PromptConfig, sr *serverResponse) *domain.Stage2Result {
	previous := o.loadResult()

	result := &domain.Stage2Result{
		PosterImage:   o.parkImage(ctx, sr.PosterImage),
		Prompt:        sr.Prompt,
		PromptDetails: sr.PromptDetails,
		EmailBody:     sr.EmailBody,
		TemplateID:    snap.TemplateID,
		PromptConfig:  cfg,
		Scores:        sr.Scores,
	}
	for _, v := range sr.Variants {
		result.Variants = append(result.Variants, o.parkImage(ctx, v))
	}
	o.storeResult(ctx, result)

	if previous != nil {
		o.assets.Sweep(ctx, previous.StorageKeys())
	}
	return result
}

// parkImage stores inline image bytes in the asset store and returns the
// reference. Remote-only images keep just the URL.
func (o *Orchestrator) parkImage(ctx context.Context, img serverImage) domain.ImageRef {
	ref := domain.ImageRef{
		Filename:  img.Filename,
		MediaType: img.MediaType,
		Width:     img.Width,
		Height:    img.Height,
		RemoteURL: img.URL,
	}
	if img.DataURL != "" {
		ref.StorageKey = o.assets.Put(ctx, "", img.DataURL)
		ref.PreviewURL = img.DataURL
	}
	return ref
}

func (o *Orchestrator) loadResult() *domain.Stage2Result {
	raw, ok := o.sessions.Get(session.Stage2Key)
	if !ok {
		return nil
	}
	var result domain.Stage2Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		o.log.Warn().Err(err).Msg("generate: discarding unreadable stage2 record")
		return nil
	}
	return &result
}

func (o *Orchestrator) storeResult(ctx context.Context, result *domain.Stage2Result) {
	raw, err := json.Marshal(result)
	if err != nil {
		o.log.Error().Err(err).Msg("generate: encode stage2 record")
		return
	}
	err = o.sessions.Set(session.Stage2Key, string(raw))
	if errors.Is(err, domain.ErrStorageQuota) {
		o.sessions.Remove(session.Stage2Key)
		err = o.sessions.Set(session.Stage2Key, string(raw))
	}
	if err != nil {
		o.log.Warn().Err(err).Msg("generate: stage2 record not persisted")
	}
}

// Result returns the persisted Stage-2 record, hydrating variant previews
// from the asset store.
func (o *Orchestrator) Result(ctx context.Context) (*domain.Stage2Result, bool) {
	result := o.loadResult()
	if result == nil {
		return nil, false
	}
	hydrate := func(ref *domain.ImageRef) {
		if ref.StorageKey == "" || ref.PreviewURL != "" {
			return
		}
		if value, ok := o.assets.Get(ctx, ref.StorageKey); ok {
			ref.PreviewURL = value
			return
		}
		o.log.Warn().Err(domain.ErrAssetMissing).Str("key", ref.StorageKey).Msg("generate: stage2 preview blob gone")
	}
	hydrate(&result.PosterImage)
	for i := range result.Variants {
		hydrate(&result.Variants[i])
	}
	return result, true
}

// PromoteVariant replaces the primary poster image with variant index n.
// The former primary's blob is swept unless another reference still points
// at the same key.
func (o *Orchestrator) PromoteVariant(ctx context.Context, n int) (*domain.Stage2Result, error) {
	result := o.loadResult()
	if result == nil {
		return nil, fmt.Errorf("generate: no stage2 result to promote from")
	}
	if n < 0 || n >= len(result.Variants) {
		return nil, fmt.Errorf("generate: variant %d out of range", n)
	}
	former := result.PosterImage
	result.PosterImage = result.Variants[n]
	result.Variants = append(result.Variants[:n:n], result.Variants[n+1:]...)
	o.storeResult(ctx, result)

	if former.StorageKey != "" && !referencesKey(result, former.StorageKey) {
		o.assets.Delete(ctx, former.StorageKey)
	}
	return result, nil
}

func referencesKey(result *domain.Stage2Result, key string) bool {
	if result.PosterImage.StorageKey == key {
		return true
	}
	for _, v := range result.Variants {
		if v.StorageKey == key {
			return true
		}
	}
	return false
}
