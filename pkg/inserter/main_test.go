package inserter

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/CTAG07/Inserter/pkg/assets"
	"github.com/CTAG07/Inserter/pkg/enablement"
	"github.com/CTAG07/Inserter/pkg/tags"
	_ "github.com/mattn/go-sqlite3"
)

const alertTemplate = `{{- /*
Shortcode Name: Alert Box
Shortcode Tinymce Template: [alert type="info"]Message[/alert]
*/ -}}
<div class="alert alert-{{attr .Attrs "type" "info"}}">{{shortcodes .Content}}</div>`

const quoteTemplate = `{{/*
Shortcode Name: Pull Quote
*/ -}}
<blockquote>{{.Content}}</blockquote>`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeFile creates path (and its parents) under root with the given content.
func writeFile(tb testing.TB, root, path, content string) {
	tb.Helper()
	full := filepath.Join(root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		tb.Fatalf("failed to create dir for %s: %v", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		tb.Fatalf("failed to write %s: %v", path, err)
	}
}

// setupTestStore opens a file-backed option store scoped to the test.
func setupTestStore(tb testing.TB) *enablement.Store {
	tb.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(tb.TempDir(), "options.db"))
	if err != nil {
		tb.Fatalf("failed to open database: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })
	if err = enablement.SetupSchema(db); err != nil {
		tb.Fatalf("failed to setup schema: %v", err)
	}
	store, err := enablement.NewStore(db)
	if err != nil {
		tb.Fatalf("failed to create store: %v", err)
	}
	tb.Cleanup(store.Close)
	return store
}

type testEnv struct {
	root     string
	config   *Config
	store    *enablement.Store
	registry *assets.Registry
	table    *tags.Table
	loader   *TemplateLoader
	manager  *Manager
	pipeline *Pipeline
}

// setupTestEnv writes an "alert" bundle (code, script and style) and a "quote" code
// bundle, then builds a manager and pipeline over them.
func setupTestEnv(tb testing.TB) *testEnv {
	tb.Helper()
	root := tb.TempDir()
	writeFile(tb, root, "shortcodes/alert/alert.tmpl.html", alertTemplate)
	writeFile(tb, root, "shortcodes/alert/alert.js", "void 0;")
	writeFile(tb, root, "shortcodes/alert/alert.css", ".alert{}")
	writeFile(tb, root, "shortcodes/quote/quote.tmpl.html", quoteTemplate)

	env := &testEnv{
		root: root,
		config: &Config{
			PluginName:   "shortcode-inserter",
			GlobPatterns: []string{filepath.Join(root, "shortcodes", "*", "*")},
			AssetRoot:    root,
			AssetVersion: "1.0",
		},
		store:    setupTestStore(tb),
		registry: assets.NewRegistry(),
		table:    tags.NewTable(),
	}
	env.reload(tb)
	return env
}

// reload rebuilds the manager and pipeline over the same store and files.
func (env *testEnv) reload(tb testing.TB) {
	tb.Helper()
	m, err := NewManager(context.Background(), discardLogger(), env.config, env.store, env.registry)
	if err != nil {
		tb.Fatalf("NewManager failed: %v", err)
	}
	env.manager = m
	env.loader = NewTemplateLoader(discardLogger(), env.table)
	env.pipeline = NewPipeline(discardLogger(), m, env.table, env.loader, env.registry)
}
