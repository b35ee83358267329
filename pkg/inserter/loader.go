package inserter

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/CTAG07/Inserter/pkg/shortcode"
	"github.com/CTAG07/Inserter/pkg/tags"
)

// Loader turns a code bundle into the handler registered for its tag.
type Loader interface {
	Load(b shortcode.Bundle) (tags.Handler, error)
}

// TagData is the value a bundle template is executed with.
type TagData struct {
	Name    string
	Attrs   map[string]string
	Content template.HTML
}

type cachedTemplate struct {
	modTime time.Time
	size    int64
	tmpl    *template.Template
}

// TemplateLoader loads code bundles as html/template files. Parsed templates are cached
// until the file changes on disk. Handlers registered with RegisterNative take the
// place of the bundle file of the same name.
// All methods are concurrent-safe.
type TemplateLoader struct {
	logger  *slog.Logger
	funcMap template.FuncMap
	native  map[string]tags.Handler
	cache   map[string]cachedTemplate
	mu      sync.Mutex
}

// NewTemplateLoader creates a TemplateLoader whose "shortcodes" template function
// expands nested tags against table.
func NewTemplateLoader(logger *slog.Logger, table *tags.Table) *TemplateLoader {
	return &TemplateLoader{
		logger:  logger,
		funcMap: makeFuncMap(table),
		native:  make(map[string]tags.Handler),
		cache:   make(map[string]cachedTemplate),
	}
}

// RegisterNative makes Load return h for bundles named name instead of parsing the
// bundle file. The bundle still has to be discovered and enabled to be used.
func (l *TemplateLoader) RegisterNative(name string, h tags.Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.native[name] = h
}

// Load returns the handler of b.
func (l *TemplateLoader) Load(b shortcode.Bundle) (tags.Handler, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if h, ok := l.native[b.Name]; ok {
		return h, nil
	}
	tmpl, err := l.parse(b.Path)
	if err != nil {
		return nil, err
	}
	return &templateHandler{name: b.Name, tmpl: tmpl, logger: l.logger}, nil
}

// parse returns the cached template for path, re-parsing it if the file changed.
// l.mu must be held.
func (l *TemplateLoader) parse(path string) (*template.Template, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat shortcode template: %w", err)
	}
	if c, ok := l.cache[path]; ok && c.modTime.Equal(info.ModTime()) && c.size == info.Size() {
		return c.tmpl, nil
	}

	tmpl, err := template.New(filepath.Base(path)).Funcs(l.funcMap).ParseFiles(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse shortcode template: %w", err)
	}
	l.cache[path] = cachedTemplate{modTime: info.ModTime(), size: info.Size(), tmpl: tmpl}
	l.logger.Debug("Parsed shortcode template", "path", path)
	return tmpl, nil
}

type templateHandler struct {
	name   string
	tmpl   *template.Template
	logger *slog.Logger
}

func (h *templateHandler) Render(attrs map[string]string, content string) string {
	var buf bytes.Buffer
	data := TagData{Name: h.name, Attrs: attrs, Content: template.HTML(content)}
	if err := h.tmpl.Execute(&buf, data); err != nil {
		h.logger.Warn("Shortcode template failed", "shortcode", h.name, "error", err)
		return ""
	}
	return buf.String()
}
