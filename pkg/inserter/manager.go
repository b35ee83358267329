package inserter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/CTAG07/Inserter/pkg/assets"
	"github.com/CTAG07/Inserter/pkg/enablement"
	"github.com/CTAG07/Inserter/pkg/shortcode"
)

// Options is the persisted key-value store the disabled list lives in.
type Options interface {
	enablement.OptionGetter
	enablement.OptionSetter
}

// GlobHook can rewrite the list of search patterns before every scan. Hooks run in
// the order they were added.
type GlobHook func(patterns []string) []string

// Setting describes one code bundle on the settings page.
type Setting struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Disabled bool   `json:"disabled"`
}

// MenuItem is one entry of the editor's insert menu.
type MenuItem struct {
	Text    string `json:"text"`
	Content string `json:"content"`
}

// Manager owns the discovered catalog, the disabled list and the enabled catalog
// derived from both. Catalogs handed out are never modified afterwards.
// All methods are concurrent-safe.
type Manager struct {
	logger     *slog.Logger
	config     *Config
	options    Options
	assets     *assets.Registry
	hooks      []GlobHook
	all        shortcode.Catalog
	enabled    shortcode.Catalog
	disabled   enablement.Disabled
	collisions []shortcode.Collision
	mu         sync.RWMutex
}

// NewManager creates a Manager and performs the initial Refresh.
func NewManager(ctx context.Context, logger *slog.Logger, config *Config, options Options, registry *assets.Registry, hooks ...GlobHook) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if registry == nil {
		registry = assets.NewRegistry()
	}
	m := &Manager{
		logger:   logger,
		config:   config,
		options:  options,
		assets:   registry,
		hooks:    hooks,
		all:      shortcode.Catalog{},
		enabled:  shortcode.Catalog{},
		disabled: enablement.Disabled{},
	}
	if err := m.Refresh(ctx); err != nil {
		return nil, err
	}
	logger.Info("Shortcode manager initialized")
	return m, nil
}

// AddGlobHook registers a hook that takes effect on the next Refresh.
func (m *Manager) AddGlobHook(h GlobHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

// SetConfig replaces the configuration. Search patterns and asset settings take effect
// on the next Refresh.
func (m *Manager) SetConfig(config *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config
}

// GetConfig returns a copy of the current configuration.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	cfg.GlobPatterns = slices.Clone(cfg.GlobPatterns)
	cfg.ExtraGlobPatterns = slices.Clone(cfg.ExtraGlobPatterns)
	return cfg
}

// Patterns returns the search patterns the next scan will use.
func (m *Manager) Patterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.patterns()
}

func (m *Manager) patterns() []string {
	patterns := slices.Concat(m.config.GlobPatterns, m.config.ExtraGlobPatterns)
	for _, hook := range m.hooks {
		patterns = hook(patterns)
	}
	return patterns
}

// Refresh rescans the search roots, reloads the disabled list and re-registers the
// assets of enabled shortcodes. A disabled list that cannot be decoded is treated as
// empty; a store that cannot be read fails the refresh and keeps the previous state.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	patterns := m.patterns()
	m.logger.Info("Scanning for shortcodes...", "patterns", len(patterns))

	all := make(shortcode.Catalog, len(shortcode.Kinds))
	var collisions []shortcode.Collision
	for _, kind := range shortcode.Kinds {
		res := shortcode.Discover(kind, patterns, m.logger)
		all[kind] = res.Bundles
		collisions = append(collisions, res.Collisions...)
	}

	disabled := enablement.Disabled{}
	if m.options != nil {
		var err error
		disabled, err = enablement.LoadDisabled(ctx, m.options, all.NameSet(shortcode.KindCode))
		if err != nil {
			if !errors.Is(err, enablement.ErrMalformed) {
				m.logger.Error("failed to load disabled shortcodes", "error", err)
				return err
			}
			m.logger.Warn("Ignoring malformed disabled shortcode list", "error", err)
		}
	}

	m.all = all
	m.collisions = collisions
	m.apply(disabled)

	m.logger.Info("Loaded shortcodes",
		"code", len(all[shortcode.KindCode]),
		"scripts", len(all[shortcode.KindScript]),
		"styles", len(all[shortcode.KindStyle]),
		"disabled", len(disabled))
	return nil
}

// apply derives the enabled catalog from disabled and registers its assets.
// m.mu must be held.
func (m *Manager) apply(disabled enablement.Disabled) {
	m.disabled = disabled
	m.enabled = enablement.Filter(m.all, disabled)

	var list []assets.Asset
	for _, pair := range []struct {
		kind      shortcode.Kind
		assetKind assets.Kind
	}{
		{shortcode.KindScript, assets.Script},
		{shortcode.KindStyle, assets.Style},
	} {
		for _, name := range m.enabled.Names(pair.kind) {
			b := m.enabled[pair.kind][name]
			list = append(list, assets.Asset{
				Handle:  m.handle(name),
				URL:     strings.TrimSuffix(m.config.AssetURLPrefix, "/") + assets.URLFromPath(m.config.AssetRoot, b.Path),
				Kind:    pair.assetKind,
				Version: m.config.AssetVersion,
			})
		}
	}
	m.assets.Replace(list)
}

// SetDisabled sanitizes raw against the discovered shortcodes, persists it and
// recomputes the enabled catalog. It returns the set that was stored.
func (m *Manager) SetDisabled(ctx context.Context, raw any) (enablement.Disabled, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.options == nil {
		return nil, fmt.Errorf("no option store configured")
	}
	clean, err := enablement.SaveDisabled(ctx, m.options, raw, m.all.NameSet(shortcode.KindCode))
	if err != nil {
		return nil, err
	}
	m.apply(clean)
	m.logger.Info("Disabled shortcodes updated", "disabled", clean.Names())
	return clean, nil
}

// Handle returns the asset handle of a shortcode.
func (m *Manager) Handle(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle(name)
}

func (m *Manager) handle(name string) string {
	return m.config.PluginName + "_" + name
}

// Catalog returns every discovered bundle.
func (m *Manager) Catalog() shortcode.Catalog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.all
}

// Enabled returns the discovered bundles minus the disabled ones.
func (m *Manager) Enabled() shortcode.Catalog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Disabled returns a copy of the disabled set.
func (m *Manager) Disabled() enablement.Disabled {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(enablement.Disabled, len(m.disabled))
	for name := range m.disabled {
		out[name] = struct{}{}
	}
	return out
}

// Collisions returns the duplicate names found by the last scan.
func (m *Manager) Collisions() []shortcode.Collision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.collisions)
}

// Settings lists every discovered code bundle with its disabled state, ordered by name.
func (m *Manager) Settings() []Setting {
	m.mu.RLock()
	defer m.mu.RUnlock()
	settings := make([]Setting, 0, len(m.all[shortcode.KindCode]))
	for _, name := range m.all.Names(shortcode.KindCode) {
		settings = append(settings, Setting{
			Name:     name,
			Label:    m.all[shortcode.KindCode][name].Label(),
			Disabled: m.disabled.Has(name),
		})
	}
	return settings
}

// EditorMenu lists the enabled code bundles as insertable menu entries. It returns
// nil when no shortcode is enabled.
func (m *Manager) EditorMenu() []MenuItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var items []MenuItem
	for _, name := range m.enabled.Names(shortcode.KindCode) {
		b := m.enabled[shortcode.KindCode][name]
		items = append(items, MenuItem{Text: b.DisplayName, Content: b.InsertTemplate})
	}
	return items
}
