// Package prompts holds per-slot prompt state, preset application and the
// string coercion demanded by the backend request contract.
package prompts

import (
	"context"
	"fmt"
	"sync"

	"posterstudio/internal/apiclient"
	"posterstudio/internal/domain"
	"posterstudio/internal/infra"
)

// PresetsPath is where the static origin serves the preset book.
const PresetsPath = "prompts/presets.json"

// Preset is one reusable prompt recipe. Empty fields leave the slot's
// current value alone when the preset is applied.
type Preset struct {
	Label    string `json:"label"`
	Positive string `json:"positive,omitempty"`
	Negative string `json:"negative,omitempty"`
	Aspect   string `json:"aspect,omitempty"`
}

// Book is the parsed prompts/presets.json document.
type Book struct {
	Presets            map[string]Preset `json:"presets"`
	DefaultAssignments map[string]string `json:"defaultAssignments"`
}

// Loader fetches and memoizes the preset book from the static base.
type Loader struct {
	api        *apiclient.Client
	staticBase string
	log        *infra.Logger

	mu   sync.Mutex
	book *Book
}

// NewLoader constructs a loader for the given static base.
func NewLoader(api *apiclient.Client, staticBase string, log *infra.Logger) *Loader {
	if log == nil {
		log = infra.DiscardLogger()
	}
	return &Loader{api: api, staticBase: staticBase, log: log}
}

// Load returns the preset book, fetching it on first use.
func (l *Loader) Load(ctx context.Context) (*Book, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.book != nil {
		return l.book, nil
	}
	if l.staticBase == "" {
		return nil, fmt.Errorf("prompts: no static base configured: %w", domain.ErrConfigMissing)
	}
	var book Book
	if err := l.api.GetJSON(ctx, l.staticBase, PresetsPath, &book); err != nil {
		return nil, fmt.Errorf("prompts: load presets: %w", err)
	}
	if book.Presets == nil {
		book.Presets = map[string]Preset{}
	}
	l.book = &book
	return l.book, nil
}
