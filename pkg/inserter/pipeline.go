package inserter

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/CTAG07/Inserter/pkg/assets"
	"github.com/CTAG07/Inserter/pkg/rewrite"
	"github.com/CTAG07/Inserter/pkg/shortcode"
	"github.com/CTAG07/Inserter/pkg/tags"
)

// ErrContentTooLarge is returned by Render when content exceeds Config.MaxContentSize.
var ErrContentTooLarge = errors.New("content too large")

// Result is the outcome of one render.
type Result struct {
	// Content is the rewritten and expanded content.
	Content string `json:"content"`
	// Present lists the tags found in the input, sorted.
	Present []string `json:"present"`
	// Scripts and Styles are the assets activated for the tags in Present.
	Scripts []assets.Asset `json:"scripts"`
	Styles  []assets.Asset `json:"styles"`
}

// Pipeline renders content with the enabled shortcodes. Renders are serialized because
// they swap the contents of the shared tag table; the table's previous contents are
// restored when a render returns, including when a handler or loader panics.
type Pipeline struct {
	logger  *slog.Logger
	manager *Manager
	table   *tags.Table
	loader  Loader
	assets  *assets.Registry
	mu      sync.Mutex
}

// NewPipeline creates a Pipeline. registry must be the registry the manager registers
// assets into.
func NewPipeline(logger *slog.Logger, manager *Manager, table *tags.Table, loader Loader, registry *assets.Registry) *Pipeline {
	return &Pipeline{
		logger:  logger,
		manager: manager,
		table:   table,
		loader:  loader,
		assets:  registry,
	}
}

// Render rewrites content:
//
//  1. the tag table is snapshotted and emptied
//  2. every enabled code bundle is loaded and registered
//  3. the tags present in content are detected against the registered and the
//     previously registered names
//  4. any other bracketed tag is stripped
//  5. the assets of the present tags are queued
//  6. the registered tags are expanded
//
// The snapshot is restored before Render returns. Tags that were registered before the
// call count as known for detection and stripping but are not expanded.
func (p *Pipeline) Render(content string) (res Result, err error) {
	res.Content = content
	if limit := p.manager.GetConfig().MaxContentSize; limit > 0 && len(content) > limit {
		return res, fmt.Errorf("%w: %d bytes exceeds %d", ErrContentTooLarge, len(content), limit)
	}
	enabled := p.manager.Enabled()

	p.mu.Lock()
	defer p.mu.Unlock()

	original := p.table.Snapshot()
	defer p.table.Restore(original)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Shortcode render panicked", "panic", r)
			res = Result{Content: content}
			err = fmt.Errorf("shortcode render panicked: %v", r)
		}
	}()

	p.table.Reset()
	registered := p.register(enabled)

	known := original.Names()
	maps.Copy(known, registered)

	present := rewrite.FindPresentTags(content, known)
	stripped := rewrite.StripDisallowed(content, slices.Sorted(maps.Keys(known)))

	queue := p.assets.NewQueue()
	for _, name := range present {
		queue.Activate(p.manager.Handle(name))
	}

	return Result{
		Content: p.table.Expand(stripped),
		Present: present,
		Scripts: queue.Scripts(),
		Styles:  queue.Styles(),
	}, nil
}

// register loads every enabled code bundle into the table and returns the names that
// were registered. Bundles that fail to load are skipped.
func (p *Pipeline) register(enabled shortcode.Catalog) map[string]struct{} {
	registered := make(map[string]struct{})
	for _, name := range enabled.Names(shortcode.KindCode) {
		b := enabled[shortcode.KindCode][name]
		h, err := p.loader.Load(b)
		if err != nil {
			p.logger.Warn("Skipping shortcode that failed to load", "shortcode", name, "path", b.Path, "error", err)
			continue
		}
		if err = p.table.Register(name, h); err != nil {
			p.logger.Warn("Skipping shortcode that failed to register", "shortcode", name, "error", err)
			continue
		}
		registered[name] = struct{}{}
	}
	return registered
}

// ExpandHost expands the tags registered outside of renders, such as the host's own
// tags, which Render leaves in place. It waits for any render in progress so the table
// holds the host's handlers when it runs.
func (p *Pipeline) ExpandHost(content string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.table.Expand(content)
}

// MaxContentSize returns the largest content Render accepts, or zero when unlimited.
func (p *Pipeline) MaxContentSize() int {
	return p.manager.GetConfig().MaxContentSize
}
