package domain

// TemplateEntry is one row of templates/registry.json. Spec and Preview are
// paths relative to the static base; both are loaded lazily.
type TemplateEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Spec        string `json:"spec"`
	Preview     string `json:"preview,omitempty"`
}

// Slot is one rectangular region of a template. Image slots carry a fit
// mode; text slots carry a CSS-style font string and alignment.
type Slot struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`

	Fit        string  `json:"fit,omitempty"`   // contain (default) or cover
	Align      string  `json:"align,omitempty"` // left (default), center, right
	Font       string  `json:"font,omitempty"`  // e.g. "bold 28px sans-serif"
	Color      string  `json:"color,omitempty"`
	LineHeight float64 `json:"line_height,omitempty"`
}

// FeatureCallout positions one feature label on the poster.
type FeatureCallout struct {
	LabelBox Slot `json:"label_box"`
}

// GalleryLayout positions the gallery strip and its item cells.
type GalleryLayout struct {
	Items []Slot `json:"items"`
	Strip Slot   `json:"strip"`
}

// MaterialSpec declares what a template accepts for one material.
type MaterialSpec struct {
	Label             string `json:"label"`
	Type              string `json:"type"` // image or text
	AllowsUpload      bool   `json:"allows_upload"`
	AllowsPrompt      bool   `json:"allows_prompt"`
	Count             int    `json:"count,omitempty"` // gallery only
	PromptPlaceholder string `json:"prompt_placeholder,omitempty"`
}

// Material slot names shared by the reconciler and the renderer.
const (
	MaterialBrandLogo = "brand_logo"
	MaterialScenario  = "scenario"
	MaterialProduct   = "product"
	MaterialGallery   = "gallery"
)

// TemplateSpec is the full layout contract of one poster template.
type TemplateSpec struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"size"`
	Slots           map[string]Slot         `json:"slots"`
	FeatureCallouts []FeatureCallout        `json:"feature_callouts,omitempty"`
	Gallery         GalleryLayout           `json:"gallery"`
	Materials       map[string]MaterialSpec `json:"materials"`
}

// Material returns the declared spec for a material, with permissive
// defaults when the template omits it.
func (t *TemplateSpec) Material(name string) MaterialSpec {
	if t != nil {
		if m, ok := t.Materials[name]; ok {
			if name == MaterialGallery && m.Count <= 0 {
				m.Count = DefaultGalleryLimit
			}
			return m
		}
	}
	m := MaterialSpec{Type: "image", AllowsUpload: true, AllowsPrompt: true}
	if name == MaterialGallery {
		m.Count = DefaultGalleryLimit
	}
	return m
}
