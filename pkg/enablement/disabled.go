package enablement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned by LoadDisabled when the stored value cannot be decoded.
var ErrMalformed = errors.New("malformed disabled shortcode list")

// OptionGetter reads a single option.
type OptionGetter interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// OptionSetter writes a single option.
type OptionSetter interface {
	Set(ctx context.Context, key, value string) error
}

// LoadDisabled reads the persisted disabled set and sanitizes it against valid.
// A missing option is an empty set. A value that is not a JSON object also yields an
// empty set, together with an error describing it, so callers can log and carry on.
func LoadDisabled(ctx context.Context, store OptionGetter, valid map[string]struct{}) (Disabled, error) {
	raw, ok, err := store.Get(ctx, OptionKey)
	if err != nil {
		return Disabled{}, fmt.Errorf("failed to read disabled shortcodes: %w", err)
	}
	if !ok || raw == "" {
		return Disabled{}, nil
	}

	var marks map[string]any
	if err = json.Unmarshal([]byte(raw), &marks); err != nil {
		return Disabled{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return Sanitize(marks, valid), nil
}

// SaveDisabled sanitizes raw against valid, persists the result and returns it.
func SaveDisabled(ctx context.Context, store OptionSetter, raw any, valid map[string]struct{}) (Disabled, error) {
	clean := Sanitize(raw, valid)
	data, err := json.Marshal(clean.Marks())
	if err != nil {
		return nil, fmt.Errorf("failed to encode disabled shortcodes: %w", err)
	}
	if err = store.Set(ctx, OptionKey, string(data)); err != nil {
		return nil, fmt.Errorf("failed to save disabled shortcodes: %w", err)
	}
	return clean, nil
}
