package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/CTAG07/Inserter/pkg/inserter"
	"github.com/natefinch/atomic"
	"github.com/tidwall/jsonc"
)

// ServerConfig holds the configuration for the HTTP servers.
type ServerConfig struct {
	ServerAddr     string            `json:"server_addr"`
	ApiAddr        string            `json:"api_addr"`
	LogLevel       string            `json:"log_level"`
	TrustedProxies []string          `json:"trusted_proxies"`
	DataDir        string            `json:"data_dir"`
	DatabasePath   string            `json:"database_path"`
	PagesDir       string            `json:"pages_dir"`
	LayoutPath     string            `json:"layout_path"`
	PageHeaders    map[string]string `json:"page_headers"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server     *ServerConfig    `json:"server_config"`
	Shortcodes *inserter.Config `json:"shortcode_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ServerAddr:     ":7280",
		ApiAddr:        ":7281",
		LogLevel:       "info",
		TrustedProxies: []string{},
		DataDir:        "./data",
		DatabasePath:   "./data/inserter.db?_journal_mode=WAL&_busy_timeout=5000",
		PagesDir:       "./data/pages",
		LayoutPath:     "./data/layout.gohtml",
		PageHeaders: map[string]string{
			"Cache-Control":          "no-cache",
			"X-Content-Type-Options": "nosniff",
			"Content-Type":           "text/html; charset=utf-8",
		},
	}
}

// DefaultConfig returns a Config with every section set to its defaults.
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Shortcodes: inserter.DefaultConfig(),
	}
}

// Validate checks that every section is present.
func (c *Config) Validate() error {
	if c.Server == nil {
		return errors.New("missing server_config section")
	}
	if c.Shortcodes == nil {
		return errors.New("missing shortcode_config section")
	}
	return nil
}

// LoadConfig reads the configuration from a JSON file at the given path. Comments and
// trailing commas are allowed. If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The server can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(jsonc.ToJSON(file), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err = config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return config, nil
}

// ConfigManager handles thread-safe access to configuration and derived state (trusted proxies).
type ConfigManager struct {
	config       *Config
	mu           sync.RWMutex
	trustedCIDRs []*net.IPNet
	trustedIPs   []net.IP
	configPath   string
	logger       *slog.Logger
	sm           *inserter.Manager
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	cm := &ConfigManager{
		config:     cfg,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}
	cm.refreshCache()

	return cm, nil
}

// SetShortcodeManager registers the shortcode manager to receive config updates.
func (cm *ConfigManager) SetShortcodeManager(sm *inserter.Manager) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.sm = sm
	if sm != nil {
		sm.SetConfig(cm.config.Shortcodes)
	}
}

// SetLogger sets the logger.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return *cm.config
}

// Update validates the configuration, applies it to the shortcode manager, saves it to
// disk and refreshes derived state. A shortcode configuration the manager cannot load
// is rolled back.
func (cm *ConfigManager) Update(ctx context.Context, newConfig Config) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.sm != nil {
		oldShortcodeConfig := cm.config.Shortcodes

		cm.sm.SetConfig(newConfig.Shortcodes)
		if err := cm.sm.Refresh(ctx); err != nil {
			cm.sm.SetConfig(oldShortcodeConfig)
			if rollbackErr := cm.sm.Refresh(ctx); rollbackErr != nil {
				cm.logger.Error("Failed to restore the previous shortcode configuration", "error", rollbackErr)
				return fmt.Errorf("shortcode configuration rejected: %w (rollback failed: %w)", err, rollbackErr)
			}
			return fmt.Errorf("shortcode configuration rejected: %w", err)
		}
	}

	*cm.config = newConfig
	cm.refreshCache()

	data, err := json.MarshalIndent(cm.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// IsTrusted checks if an IP is in the trusted proxies list using the cache.
func (cm *ConfigManager) IsTrusted(ipAddr string) bool {
	parsedIP := net.ParseIP(ipAddr)
	if parsedIP == nil {
		return false
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, ipNet := range cm.trustedCIDRs {
		if ipNet.Contains(parsedIP) {
			return true
		}
	}

	for _, trustedIP := range cm.trustedIPs {
		if trustedIP.Equal(parsedIP) {
			return true
		}
	}

	return false
}

// refreshCache rebuilds the binary IP lists from the config strings.
func (cm *ConfigManager) refreshCache() {
	var cidrs []*net.IPNet
	var ips []net.IP

	for _, t := range cm.config.Server.TrustedProxies {
		if strings.Contains(t, "/") {
			_, ipNet, err := net.ParseCIDR(t)
			if err == nil {
				cidrs = append(cidrs, ipNet)
			} else {
				cm.logger.Warn("Failed to parse trusted proxy CIDR", "cidr", t, "error", err)
			}
		} else {
			ip := net.ParseIP(t)
			if ip != nil {
				ips = append(ips, ip)
			} else {
				cm.logger.Warn("Failed to parse trusted proxy IP", "ip", t)
			}
		}
	}
	cm.trustedCIDRs = cidrs
	cm.trustedIPs = ips
}
