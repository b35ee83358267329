package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"github.com/CTAG07/Inserter/pkg/inserter"
	"github.com/CTAG07/Inserter/pkg/shortcode"
)

// maxSettingsBody caps the disabled list posted by the settings page.
const maxSettingsBody = 1 << 20

// ShortcodeAPI exposes the shortcode catalog and the disabled list.
type ShortcodeAPI struct {
	sm     *inserter.Manager
	logger *slog.Logger
}

// ShortcodeList is the response of GET /api/shortcodes.
type ShortcodeList struct {
	Shortcodes []inserter.Setting    `json:"shortcodes"`
	Scripts    []string              `json:"scripts"`
	Styles     []string              `json:"styles"`
	Collisions []shortcode.Collision `json:"collisions"`
}

func NewShortcodeAPI(sm *inserter.Manager, logger *slog.Logger) *ShortcodeAPI {
	return &ShortcodeAPI{
		sm:     sm,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/shortcodes endpoints.
func (a *ShortcodeAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/shortcodes", a.handleList)
	mux.HandleFunc("/api/shortcodes/disabled", a.handleDisabled)
	mux.HandleFunc("/api/shortcodes/editor", a.handleEditor)
	mux.HandleFunc("/api/shortcodes/refresh", a.handleRefresh)
}

func (a *ShortcodeAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	catalog := a.sm.Catalog()
	respondWithJSON(w, http.StatusOK, ShortcodeList{
		Shortcodes: a.sm.Settings(),
		Scripts:    nonNil(catalog.Names(shortcode.KindScript)),
		Styles:     nonNil(catalog.Names(shortcode.KindStyle)),
		Collisions: nonNil(a.sm.Collisions()),
	})
}

// handleDisabled reads or replaces the disabled list. POST accepts either a JSON object
// of name to mark, or a form where checked boxes are named "<option key>[<name>]".
func (a *ShortcodeAPI) handleDisabled(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		respondWithJSON(w, http.StatusOK, map[string][]string{"disabled": nonNil(a.sm.Disabled().Names())})
	case http.MethodPost:

		r.Body = http.MaxBytesReader(w, r.Body, maxSettingsBody)

		var raw any
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "application/json" {
			var marks map[string]any
			if err := json.NewDecoder(r.Body).Decode(&marks); err != nil {
				respondWithBodyError(w, err)
				return
			}
			raw = marks
		} else {
			if err := r.ParseForm(); err != nil {
				respondWithBodyError(w, err)
				return
			}
			raw = r.PostForm
		}

		clean, err := a.sm.SetDisabled(r.Context(), raw)
		if err != nil {
			a.logger.Error("Failed to save disabled shortcodes", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to save disabled shortcodes")
			return
		}
		respondWithJSON(w, http.StatusOK, map[string][]string{"disabled": nonNil(clean.Names())})
	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleEditor returns the insert menu for the rich-text editor, or false when no
// shortcode is enabled.
func (a *ShortcodeAPI) handleEditor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	menu := a.sm.EditorMenu()
	if len(menu) == 0 {
		respondWithJSON(w, http.StatusOK, false)
		return
	}
	respondWithJSON(w, http.StatusOK, menu)
}

func (a *ShortcodeAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := a.sm.Refresh(r.Context()); err != nil {
		a.logger.Error("Failed to refresh shortcodes", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to refresh shortcodes")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{
		"shortcodes": len(a.sm.Catalog()[shortcode.KindCode]),
		"enabled":    len(a.sm.Enabled()[shortcode.KindCode]),
	})
}

// respondWithBodyError reports a request body that could not be read or decoded.
func respondWithBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondWithError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body too large (limit %d bytes)", tooLarge.Limit))
		return
	}
	respondWithError(w, http.StatusBadRequest, "Invalid request body")
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
