package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/CTAG07/Inserter/pkg/assets"
	"github.com/CTAG07/Inserter/pkg/enablement"
	"github.com/CTAG07/Inserter/pkg/inserter"
	"github.com/CTAG07/Inserter/pkg/tags"
)

const defaultLayout = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
{{.Styles}}</head>
<body>
{{.Content}}
{{.Scripts}}</body>
</html>
`

var pageNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+(?:/[A-Za-z0-9_-]+)*$`)

// PageData is the value the page layout is executed with.
type PageData struct {
	Title   string
	Content template.HTML
	Styles  template.HTML
	Scripts template.HTML
}

// core is the shortcode machinery shared by the server and the CLI commands.
type core struct {
	options  *enablement.Store
	table    *tags.Table
	registry *assets.Registry
	sm       *inserter.Manager
	loader   *inserter.TemplateLoader
	pipeline *inserter.Pipeline
}

func newCore(ctx context.Context, cm *ConfigManager, logger *slog.Logger, db *sql.DB, table *tags.Table) (*core, error) {
	options, err := enablement.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare option store: %w", err)
	}

	table.SetLogger(logger)
	registerBuiltinTags(table)

	registry := assets.NewRegistry()
	sm, err := inserter.NewManager(ctx, logger, cm.Get().Shortcodes, options, registry)
	if err != nil {
		options.Close()
		return nil, fmt.Errorf("failed to create shortcode manager: %w", err)
	}
	cm.SetShortcodeManager(sm)

	loader := inserter.NewTemplateLoader(logger, table)
	return &core{
		options:  options,
		table:    table,
		registry: registry,
		sm:       sm,
		loader:   loader,
		pipeline: inserter.NewPipeline(logger, sm, table, loader, registry),
	}, nil
}

func (c *core) Close() {
	c.options.Close()
}

// registerBuiltinTags registers the server's own tags. They are expanded after the
// shortcode pipeline and survive its stripping step.
func registerBuiltinTags(table *tags.Table) {
	_ = table.Register("year", tags.HandlerFunc(func(map[string]string, string) string {
		return strconv.Itoa(time.Now().Year())
	}))
	_ = table.Register("version", tags.HandlerFunc(func(map[string]string, string) string {
		return Version
	}))
}

type Server struct {
	cm           *ConfigManager
	db           *sql.DB
	logger       *slog.Logger
	core         *core
	authAPI      *AuthAPI
	shortcodeAPI *ShortcodeAPI
	renderAPI    *RenderAPI
	statsAPI     *StatsAPI
	serverAPI    *ServerAPI
	publicMux    *http.ServeMux
	apiMux       *http.ServeMux
	layout       *template.Template
}

func NewServer(ctx context.Context, cm *ConfigManager, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {
	c, err := newCore(ctx, cm, logger, db, tags.NewTable())
	if err != nil {
		return nil, err
	}

	layout, err := loadLayout(cm.Get().Server.LayoutPath, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	server := &Server{
		cm:           cm,
		db:           db,
		logger:       logger,
		core:         c,
		authAPI:      NewAuthAPI(db, logger),
		shortcodeAPI: NewShortcodeAPI(c.sm, logger),
		renderAPI:    NewRenderAPI(c.pipeline, logger),
		statsAPI:     NewStatsAPI(db, logger),
		serverAPI:    NewServerAPI(cm, actionChan, logger),
		publicMux:    http.NewServeMux(),
		apiMux:       http.NewServeMux(),
		layout:       layout,
	}

	apiMux := http.NewServeMux()

	server.authAPI.RegisterRoutes(apiMux)
	server.shortcodeAPI.RegisterRoutes(apiMux)
	server.renderAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Make sure api functions must pass through authentication first
	authedAPI := server.authAPI.Authenticate(apiMux)
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.apiMux.Handle("/api/", authedAPI)

	server.publicMux.HandleFunc("/favicon.ico", handleFavicon)
	server.publicMux.HandleFunc("/assets/", server.handleAsset)
	server.publicMux.HandleFunc("/", server.handlePage)

	return server, nil
}

// Close releases the server's prepared statements. The database is owned by the caller.
func (s *Server) Close() {
	s.core.Close()
}

func loadLayout(layoutPath string, logger *slog.Logger) (*template.Template, error) {
	if layoutPath != "" {
		if _, err := os.Stat(layoutPath); err == nil {
			layout, err := template.ParseFiles(layoutPath)
			if err != nil {
				return nil, fmt.Errorf("failed to parse page layout: %w", err)
			}
			return layout, nil
		}
		logger.Info("Page layout not found, using the built-in layout", "path", layoutPath)
	}
	return template.Must(template.New("layout").Parse(defaultLayout)), nil
}

// handlePage renders data/pages/<path>.html through the shortcode pipeline.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name := strings.Trim(r.URL.Path, "/")
	if name == "" {
		name = "index"
	}
	if !pageNameRe.MatchString(name) {
		http.NotFound(w, r)
		return
	}

	cfg := s.cm.Get()
	content, err := os.ReadFile(filepath.Join(cfg.Server.PagesDir, filepath.FromSlash(name)+".html"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error("Failed to read page", "page", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	res, err := s.core.pipeline.Render(string(content))
	if err != nil {
		s.logger.Error("Failed to render page", "page", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if err = s.statsAPI.RecordRender(r.Context(), name, res.Present); err != nil {
		s.logger.Warn("Failed to record render stats", "page", name, "error", err)
	}

	var buf bytes.Buffer
	err = s.layout.Execute(&buf, PageData{
		Title:   name,
		Content: template.HTML(s.core.pipeline.ExpandHost(res.Content)),
		Styles:  assets.StyleTags(res.Styles),
		Scripts: assets.ScriptTags(res.Scripts),
	})
	if err != nil {
		s.logger.Error("Failed to execute page layout", "page", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.logger.Info(
		"Serving page",
		"page", name,
		"remote_addr", s.getClientIP(r),
		"shortcodes", len(res.Present))

	for k, v := range cfg.Server.PageHeaders {
		w.Header().Set(k, v)
	}
	_, _ = buf.WriteTo(w)
}

// handleAsset serves shortcode scripts and stylesheets from the asset root.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	switch path.Ext(r.URL.Path) {
	case ".js", ".css":
	default:
		http.NotFound(w, r)
		return
	}
	root := s.cm.Get().Shortcodes.AssetRoot
	http.StripPrefix("/assets/", http.FileServer(http.Dir(root))).ServeHTTP(w, r)
}

// getClientIP honours forwarding headers only when the direct peer is a trusted proxy.
func (s *Server) getClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If splitting fails (e.g., no port), use the address as is.
		ip = r.RemoteAddr
	}
	if !s.cm.IsTrusted(ip) {
		return ip
	}

	// The X-Real-Ip header contains the forwarded IP in some cases (like from nginx)
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return realIP
	}

	// The first IP in the list is the original client IP.
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		ips := strings.Split(forwardedFor, ",")
		return strings.TrimSpace(ips[0])
	}
	return ip
}

// handleFavicon keeps favicon requests from being treated as page renders.
func handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
