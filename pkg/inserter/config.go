package inserter

// Config holds the configuration of the shortcode manager and render pipeline.
type Config struct {
	// PluginName prefixes asset handles: "<PluginName>_<shortcode>".
	PluginName string `json:"plugin_name"`

	// GlobPatterns are the directory globs searched for bundles, without extension.
	// Each kind's extension is appended when searching.
	GlobPatterns []string `json:"glob_patterns"`

	// ExtraGlobPatterns are appended after GlobPatterns, so their bundles win name
	// collisions against the defaults.
	ExtraGlobPatterns []string `json:"extra_glob_patterns"`

	// AssetRoot is the directory asset URLs are made relative to.
	AssetRoot string `json:"asset_root"`

	// AssetURLPrefix is prepended to asset URLs, e.g. "/assets".
	AssetURLPrefix string `json:"asset_url_prefix"`

	// AssetVersion is appended to asset URLs as a cache buster.
	AssetVersion string `json:"asset_version"`

	// MaxContentSize is the largest content, in bytes, a single render accepts.
	// Zero disables the limit.
	MaxContentSize int `json:"max_content_size"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		PluginName:        "shortcode-inserter",
		GlobPatterns:      []string{"./data/theme/shortcodes/*/*"},
		ExtraGlobPatterns: []string{},
		AssetRoot:         "./data/theme",
		AssetURLPrefix:    "/assets",
		AssetVersion:      "0.1.0",
		MaxContentSize:    4 << 20, // 4MB
	}
}
