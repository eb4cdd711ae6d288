package prompts

import (
	"encoding/json"
	"sync"

	"posterstudio/internal/domain"
	"posterstudio/internal/infra"
)

// Slots is the fixed slot set carried on every generation request.
var Slots = []string{domain.PromptSlotScenario, domain.PromptSlotProduct, domain.PromptSlotGallery}

// Composer owns the per-slot prompt state plus the variant and seed
// configuration. Safe for concurrent use.
type Composer struct {
	log *infra.Logger

	mu       sync.Mutex
	book     *Book
	slots    map[string]domain.PromptSlot
	variants int
	seed     *int64
	lockSeed bool
}

// NewComposer builds a composer seeded with the book's default assignments.
// A nil book starts every slot empty.
func NewComposer(book *Book, log *infra.Logger) *Composer {
	if log == nil {
		log = infra.DiscardLogger()
	}
	c := &Composer{
		log:      log,
		book:     book,
		slots:    make(map[string]domain.PromptSlot, len(Slots)),
		variants: domain.DefaultVariants,
	}
	for _, slot := range Slots {
		c.slots[slot] = domain.PromptSlot{}
	}
	if book != nil {
		for slot, id := range book.DefaultAssignments {
			if _, known := c.slots[slot]; known {
				c.applyPresetLocked(slot, id)
			}
		}
	}
	return c
}

// ApplyPreset overwrites the slot's fields with the preset's non-empty ones
// and records the selection. Unknown slots or presets are ignored.
func (c *Composer) ApplyPreset(slot, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyPresetLocked(slot, id)
}

func (c *Composer) applyPresetLocked(slot, id string) bool {
	state, known := c.slots[slot]
	if !known || c.book == nil {
		return false
	}
	preset, ok := c.book.Presets[id]
	if !ok {
		return false
	}
	if preset.Positive != "" {
		state.Positive = preset.Positive
	}
	if preset.Negative != "" {
		state.Negative = preset.Negative
	}
	if preset.Aspect != "" {
		state.Aspect = preset.Aspect
	}
	state.Preset = id
	c.slots[slot] = state
	return true
}

// ResetSlot re-applies the slot's currently selected preset from a clean
// base, or clears the fields when none is selected.
func (c *Composer) ResetSlot(slot string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, known := c.slots[slot]
	if !known {
		return
	}
	id := state.Preset
	c.slots[slot] = domain.PromptSlot{}
	if id != "" {
		c.applyPresetLocked(slot, id)
	}
}

// SetSlot replaces the slot's editable state wholesale.
func (c *Composer) SetSlot(slot string, state domain.PromptSlot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, known := c.slots[slot]; known {
		c.slots[slot] = state
	}
}

// Slot returns a copy of the slot's state.
func (c *Composer) Slot(slot string) (domain.PromptSlot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[slot]
	return s, ok
}

// SetVariants clamps and stores the variant count, returning the value kept.
func (c *Composer) SetVariants(v any) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variants = ClampVariants(v)
	return c.variants
}

// ForceAB raises the variant count to at least two for an A/B request.
func (c *Composer) ForceAB() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.variants < 2 {
		c.variants = 2
	}
	return c.variants
}

// SetSeed stores the seed and its lock.
func (c *Composer) SetSeed(seed *int64, lockSeed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seed == nil {
		c.seed = nil
	} else {
		s := *seed
		c.seed = &s
	}
	c.lockSeed = lockSeed
}

// UpdateSeed merges a partial edit: a nil field keeps the stored value, so
// the seed and its lock can be toggled independently.
func (c *Composer) UpdateSeed(seed *int64, lockSeed *bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seed != nil {
		s := *seed
		c.seed = &s
	}
	if lockSeed != nil {
		c.lockSeed = *lockSeed
	}
}

// Bundle returns a copy of the current slot map.
func (c *Composer) Bundle() domain.PromptBundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	bundle := make(domain.PromptBundle, len(c.slots))
	for slot, state := range c.slots {
		bundle[slot] = state
	}
	return bundle
}

// Config snapshots the full prompt configuration with the transmitted seed
// already sanitized.
func (c *Composer) Config() domain.PromptConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	bundle := make(domain.PromptBundle, len(c.slots))
	for slot, state := range c.slots {
		bundle[slot] = state
	}
	return domain.PromptConfig{
		Bundle:   bundle,
		Variants: c.variants,
		Seed:     SanitizeSeed(c.seed, c.lockSeed),
		LockSeed: c.lockSeed,
	}
}

// WirePrompts coerces every slot into the backend's string contract.
func (c *Composer) WirePrompts() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	wire := make(map[string]string, len(c.slots))
	for slot, state := range c.slots {
		wire[slot] = ToPromptString(state)
	}
	return wire
}

// ApplyServerBundle feeds a prompt bundle returned by the backend into the
// slot state. Unknown slots in the payload are dropped; a malformed payload
// is logged and ignored.
func (c *Composer) ApplyServerBundle(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var bundle map[string]domain.PromptSlot
	if err := json.Unmarshal(raw, &bundle); err != nil {
		c.log.Warn().Err(err).Msg("prompts: discarding malformed server bundle")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for slot, state := range bundle {
		if _, known := c.slots[slot]; known {
			c.slots[slot] = state
		}
	}
}
