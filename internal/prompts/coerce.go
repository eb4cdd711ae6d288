package prompts

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"posterstudio/internal/domain"
)

// ToPromptString coerces a heterogeneous prompt entry into the single
// string the backend contract demands. The fallback chain: plain strings
// are trimmed; a text or prompt field wins; preset plus aspect composes
// "preset (aspect a)"; a bare preset id passes through; anything else is
// JSON-encoded so nothing but a string ever reaches the wire.
func ToPromptString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case domain.PromptSlot:
		return slotString(x)
	case *domain.PromptSlot:
		if x == nil {
			return ""
		}
		return slotString(*x)
	}
	m, ok := asMap(v)
	if !ok {
		return jsonEncode(v)
	}
	if s, ok := stringField(m, "text"); ok {
		return s
	}
	if s, ok := stringField(m, "prompt"); ok {
		return s
	}
	preset, _ := stringField(m, "preset")
	aspect, _ := stringField(m, "aspect")
	switch {
	case preset != "" && aspect != "":
		return fmt.Sprintf("%s (aspect %s)", preset, aspect)
	case preset != "":
		return preset
	}
	return jsonEncode(v)
}

// slotString serializes the composer's own slot state. The positive text is
// the free-form variant and wins; otherwise the preset composes as above.
func slotString(s domain.PromptSlot) string {
	if positive := strings.TrimSpace(s.Positive); positive != "" {
		if negative := strings.TrimSpace(s.Negative); negative != "" {
			return positive + " --no " + negative
		}
		return positive
	}
	switch {
	case s.Preset != "" && s.Aspect != "":
		return fmt.Sprintf("%s (aspect %s)", s.Preset, s.Aspect)
	case s.Preset != "":
		return s.Preset
	}
	return ""
}

func asMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	raw, err := json.Marshal(v)
	if err != nil || len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

func stringField(m map[string]any, key string) (string, bool) {
	if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s), true
	}
	return "", false
}

func jsonEncode(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

// ClampVariants coerces any input to the allowed variant count range. Non
// numeric input takes the default of one.
func ClampVariants(v any) int {
	n := domain.DefaultVariants
	switch x := v.(type) {
	case int:
		n = x
	case int64:
		n = int(x)
	case float64:
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			n = int(x)
		}
	case json.Number:
		if f, err := x.Float64(); err == nil {
			n = int(f)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			n = i
		}
	}
	if n < domain.MinVariants {
		return domain.MinVariants
	}
	if n > domain.MaxVariants {
		return domain.MaxVariants
	}
	return n
}

// SanitizeSeed returns the transmitted seed: the non-negative integer when
// the lock is held, null otherwise.
func SanitizeSeed(seed *int64, lockSeed bool) *int64 {
	if !lockSeed || seed == nil || *seed < 0 {
		return nil
	}
	s := *seed
	return &s
}
