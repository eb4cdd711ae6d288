package handlers

import (
	"encoding/json"
	"net/http"

	"posterstudio/internal/domain"
)

func (a *App) GetPrompts(w http.ResponseWriter, r *http.Request) {
	book, err := a.Presets.Load(r.Context())
	if err != nil {
		a.Log.Warn().Err(err).Msg("handlers: preset book unavailable")
	}
	a.json(w, http.StatusOK, map[string]any{
		"book":   book,
		"config": a.Composer.Config(),
	})
}

type promptUpdateRequest struct {
	Slot     string             `json:"slot,omitempty"`
	Preset   string             `json:"preset,omitempty"`
	State    *domain.PromptSlot `json:"state,omitempty"`
	Reset    bool               `json:"reset,omitempty"`
	Variants any                `json:"variants,omitempty"`
	Seed     *int64             `json:"seed,omitempty"`
	LockSeed *bool              `json:"lock_seed,omitempty"`
}

// PostPrompts applies any combination of slot edits: preset selection, raw
// state, reset, variant count, seed lock. The updated config echoes back.
func (a *App) PostPrompts(w http.ResponseWriter, r *http.Request) {
	var req promptUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid prompt payload")
		return
	}
	if req.Slot != "" {
		switch {
		case req.Reset:
			a.Composer.ResetSlot(req.Slot)
		case req.Preset != "":
			if !a.Composer.ApplyPreset(req.Slot, req.Preset) {
				a.error(w, http.StatusNotFound, "not_found", "unknown slot or preset")
				return
			}
		case req.State != nil:
			a.Composer.SetSlot(req.Slot, *req.State)
		}
	}
	if req.Variants != nil {
		a.Composer.SetVariants(req.Variants)
	}
	a.Composer.UpdateSeed(req.Seed, req.LockSeed)
	a.json(w, http.StatusOK, map[string]any{"config": a.Composer.Config()})
}
