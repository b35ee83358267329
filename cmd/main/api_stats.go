package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const statsSchema = `
CREATE TABLE IF NOT EXISTS stats_page (
    page          TEXT PRIMARY KEY,
    total_hits    INTEGER NOT NULL DEFAULT 1,
    first_seen    DATETIME NOT NULL,
    last_seen     DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS stats_shortcode (
    name          TEXT PRIMARY KEY,
    total_uses    INTEGER NOT NULL DEFAULT 1,
    first_seen    DATETIME NOT NULL,
    last_seen     DATETIME NOT NULL
);
`

// GlobalStatsSummary provides a high-level overview of all collected stats.
type GlobalStatsSummary struct {
	TotalRenders     int64 `json:"total_renders"`
	UniquePages      int64 `json:"unique_pages"`
	TotalShortcodes  int64 `json:"total_shortcode_uses"`
	UniqueShortcodes int64 `json:"unique_shortcodes"`
}

// UsageStat is one row of a top list.
type UsageStat struct {
	Name      string    `json:"name"`
	Total     int64     `json:"total"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// StatsAPI records page renders and the shortcodes they used.
type StatsAPI struct {
	db     *sql.DB
	logger *slog.Logger
}

func setupStatsSchema(db *sql.DB) error {
	_, err := db.Exec(statsSchema)
	return err
}

func NewStatsAPI(db *sql.DB, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		db:     db,
		logger: logger,
	}
}

func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats/summary", s.handleSummary)
	mux.HandleFunc("/api/stats/top_pages", s.handleTopPages)
	mux.HandleFunc("/api/stats/top_shortcodes", s.handleTopShortcodes)
}

// RecordRender counts one render of page and one use of every tag in present,
// in a single transaction.
func (s *StatsAPI) RecordRender(ctx context.Context, page string, present []string) error {
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	_, err = tx.ExecContext(ctx, `
        INSERT INTO stats_page (page, first_seen, last_seen) VALUES (?, ?, ?)
        ON CONFLICT(page) DO UPDATE SET total_hits = total_hits + 1, last_seen = ?
    `, page, now, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert stats_page: %w", err)
	}

	for _, name := range present {
		_, err = tx.ExecContext(ctx, `
            INSERT INTO stats_shortcode (name, first_seen, last_seen) VALUES (?, ?, ?)
            ON CONFLICT(name) DO UPDATE SET total_uses = total_uses + 1, last_seen = ?
        `, name, now, now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert stats_shortcode: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stats transaction: %w", err)
	}
	return nil
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	var summary GlobalStatsSummary
	_ = s.db.QueryRowContext(r.Context(), "SELECT COALESCE(SUM(total_hits), 0), COUNT(*) FROM stats_page").Scan(&summary.TotalRenders, &summary.UniquePages)
	_ = s.db.QueryRowContext(r.Context(), "SELECT COALESCE(SUM(total_uses), 0), COUNT(*) FROM stats_shortcode").Scan(&summary.TotalShortcodes, &summary.UniqueShortcodes)
	respondWithJSON(w, http.StatusOK, summary)
}

func (s *StatsAPI) handleTopPages(w http.ResponseWriter, r *http.Request) {
	s.handleTop(w, r, "SELECT page, total_hits, first_seen, last_seen FROM stats_page ORDER BY total_hits DESC, page LIMIT 100")
}

func (s *StatsAPI) handleTopShortcodes(w http.ResponseWriter, r *http.Request) {
	s.handleTop(w, r, "SELECT name, total_uses, first_seen, last_seen FROM stats_shortcode ORDER BY total_uses DESC, name LIMIT 100")
}

func (s *StatsAPI) handleTop(w http.ResponseWriter, r *http.Request, query string) {
	rows, err := s.db.QueryContext(r.Context(), query)
	if err != nil {
		s.logger.Error("Failed to query top stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	results := []UsageStat{}
	for rows.Next() {
		var stat UsageStat
		if err = rows.Scan(&stat.Name, &stat.Total, &stat.FirstSeen, &stat.LastSeen); err != nil {
			s.logger.Error("Failed to scan top stats", "error", err)
			continue
		}
		results = append(results, stat)
	}
	respondWithJSON(w, http.StatusOK, results)
}
