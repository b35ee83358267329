package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/CTAG07/Inserter/pkg/inserter"
)

// RenderAPI previews content through the render pipeline.
type RenderAPI struct {
	pipeline *inserter.Pipeline
	logger   *slog.Logger
}

// RenderRequest is the expected JSON body of POST /api/render.
type RenderRequest struct {
	Content string `json:"content"`
	// ExpandBuiltins also expands the server's built-in tags after the shortcodes,
	// the way public pages are rendered.
	ExpandBuiltins bool `json:"expand_builtins"`
}

func NewRenderAPI(pipeline *inserter.Pipeline, logger *slog.Logger) *RenderAPI {
	return &RenderAPI{
		pipeline: pipeline,
		logger:   logger,
	}
}

// RegisterRoutes sets up the routing for the /api/render endpoint.
func (a *RenderAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/render", a.handleRender)
}

func (a *RenderAPI) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body := r.Body
	if limit := a.pipeline.MaxContentSize(); limit > 0 {
		// Room for JSON escaping of the content and the other request fields.
		body = http.MaxBytesReader(w, r.Body, 2*int64(limit)+1<<10)
	}

	var req RenderRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		respondWithBodyError(w, err)
		return
	}

	res, err := a.pipeline.Render(req.Content)
	if err != nil {
		if errors.Is(err, inserter.ErrContentTooLarge) {
			respondWithError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		a.logger.Error("Failed to render content", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to render content")
		return
	}
	if req.ExpandBuiltins {
		res.Content = a.pipeline.ExpandHost(res.Content)
	}
	res.Present = nonNil(res.Present)
	res.Scripts = nonNil(res.Scripts)
	res.Styles = nonNil(res.Styles)
	respondWithJSON(w, http.StatusOK, res)
}
