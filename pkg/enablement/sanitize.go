package enablement

import (
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/CTAG07/Inserter/pkg/shortcode"
)

// OptionKey is the option name the disabled set is stored under. Form fields posted by
// the settings page are named OptionKey + "[" + shortcode name + "]".
const OptionKey = "shortcode_inserter_disabled_shortcodes"

// Disabled is a set of disabled shortcode names.
type Disabled map[string]struct{}

// Has reports whether name is disabled.
func (d Disabled) Has(name string) bool {
	_, ok := d[name]
	return ok
}

// Names returns the disabled names in sorted order.
func (d Disabled) Names() []string {
	return slices.Sorted(maps.Keys(d))
}

// Marks returns the set in its persisted shape, name -> "1".
func (d Disabled) Marks() map[string]string {
	out := make(map[string]string, len(d))
	for name := range d {
		out[name] = "1"
	}
	return out
}

// Sanitize turns untrusted input into a disabled set. A name survives only if it is in
// valid and its value is marked as "1". Supported inputs are map[string]string,
// map[string]any, url.Values (bare names or OptionKey[name] fields) and Disabled;
// anything else yields an empty set.
func Sanitize(raw any, valid map[string]struct{}) Disabled {
	out := Disabled{}
	if len(valid) == 0 {
		return out
	}

	keep := func(name string, marked bool) {
		if !marked {
			return
		}
		if _, ok := valid[name]; ok {
			out[name] = struct{}{}
		}
	}

	switch in := raw.(type) {
	case Disabled:
		for name := range in {
			keep(name, true)
		}
	case map[string]string:
		for name, v := range in {
			keep(name, isMarked(v))
		}
	case map[string]any:
		for name, v := range in {
			keep(name, isMarked(v))
		}
	case url.Values:
		for field, values := range in {
			if len(values) == 0 {
				continue
			}
			keep(formFieldName(field), isMarked(values[len(values)-1]))
		}
	}
	return out
}

// formFieldName unwraps OptionKey[name] into name; other fields are returned as is.
func formFieldName(field string) string {
	if rest, ok := strings.CutPrefix(field, OptionKey+"["); ok {
		if name, ok := strings.CutSuffix(rest, "]"); ok {
			return name
		}
	}
	return field
}

func isMarked(v any) bool {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val) == "1"
	case bool:
		return val
	case int:
		return val == 1
	case int64:
		return val == 1
	case float64:
		return val == 1
	default:
		return false
	}
}

// Filter returns a new catalog without any bundle whose name is disabled, in every
// kind bucket. The input catalog is not modified.
func Filter(catalog shortcode.Catalog, disabled Disabled) shortcode.Catalog {
	out := make(shortcode.Catalog, len(catalog))
	for kind, bucket := range catalog {
		out[kind] = filterBucket(bucket, disabled)
	}
	return out
}

func filterBucket(bucket map[string]shortcode.Bundle, disabled Disabled) map[string]shortcode.Bundle {
	out := make(map[string]shortcode.Bundle, len(bucket))
	for name, b := range bucket {
		if disabled.Has(name) {
			continue
		}
		out[name] = b
	}
	return out
}
