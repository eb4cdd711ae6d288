package domain

// Prompt slot names carried on the generation request.
const (
	PromptSlotScenario = "scenario"
	PromptSlotProduct  = "product"
	PromptSlotGallery  = "gallery"
)

// PromptSlot is the per-slot prompt state: a selected preset plus the
// editable positive/negative texts and aspect ratio.
type PromptSlot struct {
	Preset   string `json:"preset,omitempty"`
	Positive string `json:"positive,omitempty"`
	Negative string `json:"negative,omitempty"`
	Aspect   string `json:"aspect,omitempty"`
}

// PromptBundle maps the fixed slot set to its prompt state.
type PromptBundle map[string]PromptSlot

// Variant bounds for one generation request.
const (
	MinVariants     = 1
	MaxVariants     = 3
	DefaultVariants = 1
)

// PromptConfig is the global prompt state: the bundle plus variant count and
// the seed lock. When LockSeed is false the transmitted seed is null.
type PromptConfig struct {
	Bundle   PromptBundle `json:"bundle"`
	Variants int          `json:"variants"`
	Seed     *int64       `json:"seed,omitempty"`
	LockSeed bool         `json:"lock_seed"`
}
