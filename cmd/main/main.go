package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/CTAG07/Inserter/pkg/assets"
	"github.com/CTAG07/Inserter/pkg/enablement"
	"github.com/CTAG07/Inserter/pkg/shortcode"
	"github.com/CTAG07/Inserter/pkg/tags"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "inserter",
		Short:        "Serve pages with file-based shortcodes",
		Version:      fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.json", "path to the config file (JSON, comments allowed)")

	root.AddCommand(
		newServeCommand(&configPath),
		newListCommand(&configPath),
		newRenderCommand(&configPath),
	)
	return root
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the public page server and the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configPath)
		},
	}
}

func newListCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered shortcodes and whether they are enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), *configPath, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func newRenderCommand(configPath *string) *cobra.Command {
	var withAssets bool

	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Render a content file through the enabled shortcodes and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd.Context(), *configPath, args[0], withAssets, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&withAssets, "assets", false, "print the <link> and <script> tags of the activated assets")
	return cmd
}

// parseLogLevel maps a config string to a level, defaulting to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openDB opens the database and creates every schema the application uses.
func openDB(dataSource string) (*sql.DB, error) {
	db, err := initDB(dataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	schemas := []struct {
		name  string
		setup func(*sql.DB) error
	}{
		{"options", enablement.SetupSchema},
		{"auth", setupAuthSchema},
		{"stats", setupStatsSchema},
	}
	for _, schema := range schemas {
		if err = schema.setup(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to setup %s schema: %w", schema.name, err)
		}
	}
	return db, nil
}

// openCLI loads the config and database for a one-shot command. Logs go to stderr at
// warn level unless the config asks for more.
func openCLI(ctx context.Context, configPath string, stderr io.Writer) (*core, *sql.DB, error) {
	cm, err := NewConfigManager(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	level := parseLogLevel(cm.Get().Server.LogLevel)
	if level == slog.LevelInfo {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	cm.SetLogger(logger)

	db, err := openDB(cm.Get().Server.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	c, err := newCore(ctx, cm, logger, db, tags.Default)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return c, db, nil
}

func runList(ctx context.Context, configPath string, stdout, stderr io.Writer) error {
	c, db, err := openCLI(ctx, configPath, stderr)
	if err != nil {
		return err
	}
	defer func() {
		c.Close()
		_ = db.Close()
	}()

	catalog := c.sm.Catalog()
	disabled := c.sm.Disabled()
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tLABEL\tSTATUS\tSCRIPT\tSTYLE\tPATH")
	for _, name := range catalog.Names(shortcode.KindCode) {
		b := catalog[shortcode.KindCode][name]
		status := "enabled"
		if disabled.Has(name) {
			status = "disabled"
		}
		_, hasScript := catalog.Get(shortcode.KindScript, name)
		_, hasStyle := catalog.Get(shortcode.KindStyle, name)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", name, b.Label(), status, yesNo(hasScript), yesNo(hasStyle), b.Path)
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func runRender(ctx context.Context, configPath, file string, withAssets bool, stdout, stderr io.Writer) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read content file: %w", err)
	}

	c, db, err := openCLI(ctx, configPath, stderr)
	if err != nil {
		return err
	}
	defer func() {
		c.Close()
		_ = db.Close()
	}()

	res, err := c.pipeline.Render(string(content))
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", file, err)
	}

	if withAssets {
		_, _ = io.WriteString(stdout, string(assets.StyleTags(res.Styles)))
	}
	_, _ = io.WriteString(stdout, c.pipeline.ExpandHost(res.Content))
	if withAssets {
		_, _ = io.WriteString(stdout, "\n"+string(assets.ScriptTags(res.Scripts)))
	}
	return nil
}

// serve runs the servers until a shutdown is requested, restarting them on request.
func serve(configPath string) error {
	baseLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan // Wait for a signal
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(configPath, actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			return err
		}

		if action == actionRestart {
			baseLogger.Info("--- Server Restarting ---")
			continue
		}
		break
	}

	baseLogger.Info("Inserter has shut down.")
	return nil
}

// run hosts both servers, and returns whenever the server is shutdown or restarted.
func run(configPath string, actionChan chan string) (string, error) {
	cm, err := NewConfigManager(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	config := cm.Get()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(config.Server.LogLevel)}))
	cm.SetLogger(logger)
	logger.Info("Starting server cycle...")

	db, err := openDB(config.Server.DatabasePath)
	if err != nil {
		return "", err
	}

	server, err := NewServer(context.Background(), cm, logger, db, actionChan)
	if err != nil {
		_ = db.Close()
		return "", fmt.Errorf("failed to create server object: %w", err)
	}

	publicHttpServer := &http.Server{Addr: config.Server.ServerAddr, Handler: server.publicMux}
	apiHttpServer := &http.Server{Addr: config.Server.ApiAddr, Handler: server.apiMux}

	go func() {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Api server failed", "error", err)
		}
	}()

	go func() {
		logger.Info("Starting page server", "address", publicHttpServer.Addr)
		if err := publicHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Page server failed", "error", err)
		}
	}()

	action := <-actionChan // Block here until API or OS signal sends an action.

	logger.Info("Stopping servers for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = apiHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	if err = publicHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Page server shutdown failed", "error", err)
	}
	logger.Info("HTTP servers stopped.")

	server.Close()
	logger.Info("Closing database connection.")
	if err = db.Close(); err != nil {
		logger.Error("Failed to close database", "error", err)
	}

	return action, nil
}
