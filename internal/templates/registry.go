// Package templates loads the poster template catalog from the static origin
// and reconciles the authoring state when the active template changes.
package templates

import (
	"context"
	"fmt"
	"sync"

	"posterstudio/internal/apiclient"
	"posterstudio/internal/domain"
	"posterstudio/internal/infra"
)

// RegistryPath is where the static origin serves the template catalog.
const RegistryPath = "templates/registry.json"

// Registry fetches the catalog once and caches each template's layout spec
// on first use.
type Registry struct {
	api        *apiclient.Client
	staticBase string
	log        *infra.Logger

	mu      sync.Mutex
	entries []domain.TemplateEntry
	specs   map[string]*domain.TemplateSpec
}

// NewRegistry constructs a registry for the given static base.
func NewRegistry(api *apiclient.Client, staticBase string, log *infra.Logger) *Registry {
	if log == nil {
		log = infra.DiscardLogger()
	}
	return &Registry{
		api:        api,
		staticBase: staticBase,
		log:        log,
		specs:      make(map[string]*domain.TemplateSpec),
	}
}

// List returns the catalog entries, fetching the registry document on first
// use.
func (r *Registry) List(ctx context.Context) ([]domain.TemplateEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureEntriesLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.TemplateEntry, len(r.entries))
	copy(out, r.entries)
	return out, nil
}

func (r *Registry) ensureEntriesLocked(ctx context.Context) error {
	if r.entries != nil {
		return nil
	}
	if r.staticBase == "" {
		return fmt.Errorf("templates: no static base configured: %w", domain.ErrConfigMissing)
	}
	var doc struct {
		Templates []domain.TemplateEntry `json:"templates"`
	}
	if err := r.api.GetJSON(ctx, r.staticBase, RegistryPath, &doc); err != nil {
		return fmt.Errorf("templates: load registry: %v: %w", err, domain.ErrTemplateLoadFailed)
	}
	r.entries = doc.Templates
	return nil
}

// Spec returns the layout spec for the template id, fetching and caching it
// on first use.
func (r *Registry) Spec(ctx context.Context, id string) (*domain.TemplateSpec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if spec, ok := r.specs[id]; ok {
		return spec, nil
	}
	if err := r.ensureEntriesLocked(ctx); err != nil {
		return nil, err
	}
	var entry *domain.TemplateEntry
	for i := range r.entries {
		if r.entries[i].ID == id {
			entry = &r.entries[i]
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("templates: unknown template %q: %w", id, domain.ErrTemplateLoadFailed)
	}
	var spec domain.TemplateSpec
	if err := r.api.GetJSON(ctx, r.staticBase, entry.Spec, &spec); err != nil {
		r.log.Warn().Err(err).Str("template", id).Msg("templates: spec fetch failed")
		return nil, fmt.Errorf("templates: load spec %q: %w", id, domain.ErrTemplateLoadFailed)
	}
	if spec.ID == "" {
		spec.ID = entry.ID
	}
	if spec.Name == "" {
		spec.Name = entry.Name
	}
	r.specs[id] = &spec
	return &spec, nil
}
