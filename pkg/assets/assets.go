// Package assets registers the script and style files that belong to shortcodes and
// activates them per render, so a page only loads the assets of tags it actually uses.
package assets

import (
	"html/template"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Kind is the type of asset.
type Kind string

const (
	Script Kind = "script"
	Style  Kind = "style"
)

// Asset is a registered script or stylesheet.
type Asset struct {
	Handle  string `json:"handle"`
	URL     string `json:"url"`
	Kind    Kind   `json:"kind"`
	Version string `json:"version,omitempty"`
}

// Src returns the URL with the version appended as a "ver" query parameter.
func (a Asset) Src() string {
	if a.Version == "" {
		return a.URL
	}
	sep := "?"
	if strings.Contains(a.URL, "?") {
		sep = "&"
	}
	return a.URL + sep + "ver=" + a.Version
}

// URLFromPath maps a file below root to a site-absolute, slash-separated URL.
// A path outside root is returned as its slash form, prefixed with "/".
func URLFromPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = path
	}
	return "/" + strings.TrimPrefix(filepath.ToSlash(rel), "/")
}

// Registry holds every asset that may be activated. All methods are concurrent-safe.
type Registry struct {
	mu     sync.RWMutex
	assets map[Kind]map[string]Asset
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{assets: make(map[Kind]map[string]Asset)}
}

// Register adds or replaces an asset, keyed by kind and handle.
func (r *Registry) Register(a Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.assets[a.Kind] == nil {
		r.assets[a.Kind] = make(map[string]Asset)
	}
	r.assets[a.Kind][a.Handle] = a
}

// Replace swaps the whole registry content for assets.
func (r *Registry) Replace(assets []Asset) {
	fresh := make(map[Kind]map[string]Asset)
	for _, a := range assets {
		if fresh[a.Kind] == nil {
			fresh[a.Kind] = make(map[string]Asset)
		}
		fresh[a.Kind][a.Handle] = a
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets = fresh
}

// Lookup returns the asset of the given kind and handle.
func (r *Registry) Lookup(kind Kind, handle string) (Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[kind][handle]
	return a, ok
}

// All returns every registered asset of kind, ordered by handle.
func (r *Registry) All(kind Kind) []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Asset, 0, len(r.assets[kind]))
	for _, handle := range slices.Sorted(maps.Keys(r.assets[kind])) {
		out = append(out, r.assets[kind][handle])
	}
	return out
}

// NewQueue starts an activation queue for one render.
func (r *Registry) NewQueue() *Queue {
	return &Queue{registry: r, seen: make(map[string]struct{})}
}

// Queue collects the assets activated during one render, in activation order and
// without duplicates. A Queue is not safe for concurrent use.
type Queue struct {
	registry *Registry
	scripts  []Asset
	styles   []Asset
	seen     map[string]struct{}
}

// Activate queues the script and the style registered under handle. Handles with
// nothing registered are ignored. It reports whether anything was queued.
func (q *Queue) Activate(handle string) bool {
	queued := false
	if a, ok := q.registry.Lookup(Script, handle); ok && q.mark(a) {
		q.scripts = append(q.scripts, a)
		queued = true
	}
	if a, ok := q.registry.Lookup(Style, handle); ok && q.mark(a) {
		q.styles = append(q.styles, a)
		queued = true
	}
	return queued
}

func (q *Queue) mark(a Asset) bool {
	key := string(a.Kind) + "\x00" + a.Handle
	if _, ok := q.seen[key]; ok {
		return false
	}
	q.seen[key] = struct{}{}
	return true
}

// Scripts returns the queued scripts.
func (q *Queue) Scripts() []Asset {
	return slices.Clone(q.scripts)
}

// Styles returns the queued stylesheets.
func (q *Queue) Styles() []Asset {
	return slices.Clone(q.styles)
}

var (
	styleTag  = template.Must(template.New("style").Parse(`<link rel="stylesheet" id="{{.Handle}}-css" href="{{.Src}}">` + "\n"))
	scriptTag = template.Must(template.New("script").Parse(`<script id="{{.Handle}}-js" src="{{.Src}}"></script>` + "\n"))
)

// StyleTags renders <link> elements for styles.
func StyleTags(styles []Asset) template.HTML {
	return renderTags(styleTag, styles)
}

// ScriptTags renders <script> elements for scripts.
func ScriptTags(scripts []Asset) template.HTML {
	return renderTags(scriptTag, scripts)
}

func renderTags(tmpl *template.Template, list []Asset) template.HTML {
	var b strings.Builder
	for _, a := range list {
		if err := tmpl.Execute(&b, a); err != nil {
			continue
		}
	}
	return template.HTML(b.String())
}
