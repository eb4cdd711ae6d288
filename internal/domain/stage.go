package domain

import "encoding/json"

// MaterialMode selects how a material slot is filled.
type MaterialMode string

const (
	ModeUpload MaterialMode = "upload"
	ModePrompt MaterialMode = "prompt"
)

// NormalizeMode sanitizes free-form input into a supported material mode.
func NormalizeMode(mode string) MaterialMode {
	if MaterialMode(mode) == ModePrompt {
		return ModePrompt
	}
	return ModeUpload
}

// GalleryEntry is one slot of the bounded gallery list.
//
// In prompt mode the entry never carries an asset; in upload mode a complete
// entry always does.
type GalleryEntry struct {
	ID      string           `json:"id"`
	Caption string           `json:"caption"`
	Mode    MaterialMode     `json:"mode"`
	Prompt  string           `json:"prompt,omitempty"`
	Asset   *AssetDescriptor `json:"asset,omitempty"`
}

// Complete reports whether the entry satisfies its mode's contract.
func (e GalleryEntry) Complete() bool {
	switch e.Mode {
	case ModePrompt:
		return e.Asset == nil && e.Prompt != ""
	default:
		return e.Asset.HasLocation()
	}
}

// DefaultGalleryLimit bounds the gallery when the template does not say.
const DefaultGalleryLimit = 4

// Stage1Snapshot is the authoring state gathered before generation. It is
// persisted to the session store without blobs; assets are referenced by
// descriptor only.
type Stage1Snapshot struct {
	BrandName         string   `json:"brand_name"`
	AgentName         string   `json:"agent_name"`
	ScenarioText      string   `json:"scenario_text"`
	ProductName       string   `json:"product_name"`
	Title             string   `json:"title"`
	Subtitle          string   `json:"subtitle"`
	SeriesDescription string   `json:"series_description"`
	Features          []string `json:"features"`

	BrandLogo     *AssetDescriptor `json:"brand_logo,omitempty"`
	ScenarioAsset *AssetDescriptor `json:"scenario_asset,omitempty"`
	ProductAsset  *AssetDescriptor `json:"product_asset,omitempty"`

	Gallery []GalleryEntry `json:"gallery"`

	ScenarioMode   MaterialMode `json:"scenario_mode"`
	ProductMode    MaterialMode `json:"product_mode"`
	ScenarioPrompt string       `json:"scenario_prompt,omitempty"`
	ProductPrompt  string       `json:"product_prompt,omitempty"`

	TemplateID    string `json:"template_id"`
	TemplateLabel string `json:"template_label"`

	GalleryLimit        int    `json:"gallery_limit"`
	GalleryLabel        string `json:"gallery_label,omitempty"`
	GalleryAllowsUpload bool   `json:"gallery_allows_upload"`
	GalleryAllowsPrompt bool   `json:"gallery_allows_prompt"`

	LayoutPreview string `json:"layout_preview,omitempty"`
	PreviewBuilt  bool   `json:"preview_built"`
}

// StorageKeys collects every storage key the snapshot references, in slot
// order. Used when sweeping the asset store.
func (s *Stage1Snapshot) StorageKeys() []string {
	var keys []string
	add := func(d *AssetDescriptor) {
		if d != nil && d.StorageKey != "" {
			keys = append(keys, d.StorageKey)
		}
	}
	add(s.BrandLogo)
	add(s.ScenarioAsset)
	add(s.ProductAsset)
	for _, entry := range s.Gallery {
		add(entry.Asset)
	}
	return keys
}

// Stage2Result is the generation artifact consumed by delivery. The server
// contract leaves prompt, prompt_details and the score block optional;
// whichever arrived is kept verbatim.
type Stage2Result struct {
	PosterImage   ImageRef        `json:"poster_image"`
	Variants      []ImageRef      `json:"variants,omitempty"`
	Prompt        string          `json:"prompt,omitempty"`
	PromptDetails json.RawMessage `json:"prompt_details,omitempty"`
	EmailBody     string          `json:"email_body,omitempty"`
	TemplateID    string          `json:"template_id,omitempty"`
	PromptConfig  *PromptConfig   `json:"prompt_config,omitempty"`
	Scores        json.RawMessage `json:"scores,omitempty"`
}

// StorageKeys collects the poster and variant keys for sweeping.
func (r *Stage2Result) StorageKeys() []string {
	if r == nil {
		return nil
	}
	var keys []string
	if r.PosterImage.StorageKey != "" {
		keys = append(keys, r.PosterImage.StorageKey)
	}
	for _, v := range r.Variants {
		if v.StorageKey != "" {
			keys = append(keys, v.StorageKey)
		}
	}
	return keys
}
