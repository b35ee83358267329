package shortcode

import (
	"maps"
	"slices"
)

// Kind identifies which file of a bundle an entry refers to.
type Kind string

const (
	KindCode   Kind = "code"
	KindScript Kind = "script"
	KindStyle  Kind = "style"
)

// Kinds lists every bundle kind in discovery order.
var Kinds = []Kind{KindCode, KindScript, KindStyle}

// Extension returns the file extension searched for the kind.
func (k Kind) Extension() string {
	switch k {
	case KindCode:
		return ".tmpl.html"
	case KindScript:
		return ".js"
	case KindStyle:
		return ".css"
	default:
		return ""
	}
}

// Bundle is a single discovered shortcode file.
type Bundle struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	Path string `json:"path"`

	// DisplayName and InsertTemplate are read from the header of code files only
	// and are empty when the header does not carry them.
	DisplayName    string `json:"display_name,omitempty"`
	InsertTemplate string `json:"insert_template,omitempty"`
}

// Label returns the display name, falling back to the shortcode name.
func (b Bundle) Label() string {
	if b.DisplayName != "" {
		return b.DisplayName
	}
	return b.Name
}

// Catalog maps a kind to its bundles keyed by name.
// A Catalog is treated as immutable once built; use Clone before modifying one.
type Catalog map[Kind]map[string]Bundle

// Get returns the bundle of the given kind and name.
func (c Catalog) Get(kind Kind, name string) (Bundle, bool) {
	b, ok := c[kind][name]
	return b, ok
}

// Names returns the sorted names present in a kind bucket.
func (c Catalog) Names(kind Kind) []string {
	return slices.Sorted(maps.Keys(c[kind]))
}

// NameSet returns the names of a kind bucket as a set.
func (c Catalog) NameSet(kind Kind) map[string]struct{} {
	set := make(map[string]struct{}, len(c[kind]))
	for name := range c[kind] {
		set[name] = struct{}{}
	}
	return set
}

// Len returns the number of bundles across all kinds.
func (c Catalog) Len() int {
	n := 0
	for _, bucket := range c {
		n += len(bucket)
	}
	return n
}

// Clone returns a deep copy of the catalog.
func (c Catalog) Clone() Catalog {
	out := make(Catalog, len(c))
	for kind, bucket := range c {
		out[kind] = maps.Clone(bucket)
	}
	return out
}
