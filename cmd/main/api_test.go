package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/CTAG07/Inserter/pkg/inserter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// api sends a request through the authenticated API mux. key may be empty.
func (ts *testServer) api(method, path, key, contentType string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if key != "" {
		req.Header.Set(authHeader, key)
	}
	rec := httptest.NewRecorder()
	ts.apiMux.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) apiJSON(method, path, key string, payload any) *httptest.ResponseRecorder {
	var body io.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewReader(data)
	}
	return ts.api(method, path, key, "application/json", body)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestShortcodeAPI_List(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.apiJSON(http.MethodGet, "/api/shortcodes", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[ShortcodeList](t, rec)
	assert.Equal(t, []inserter.Setting{
		{Name: "alert", Label: "Alert Box"},
		{Name: "quote", Label: "Pull Quote"},
	}, list.Shortcodes)
	assert.Equal(t, []string{"alert"}, list.Scripts)
	assert.Equal(t, []string{"alert"}, list.Styles)
	assert.Empty(t, list.Collisions)
}

func TestShortcodeAPI_DisabledJSON(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.apiJSON(http.MethodPost, "/api/shortcodes/disabled", "", map[string]any{
		"quote":  "1",
		"forged": "1",
		"alert":  false,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"disabled":["quote"]}`, rec.Body.String())

	rec = ts.apiJSON(http.MethodGet, "/api/shortcodes/disabled", "", nil)
	assert.JSONEq(t, `{"disabled":["quote"]}`, rec.Body.String())

	// The disabled tag is stripped from rendered pages.
	page := ts.get("/docs/quote")
	require.Equal(t, http.StatusOK, page.Code)
	assert.NotContains(t, page.Body.String(), "<blockquote>")
	assert.Contains(t, page.Body.String(), "Q")
}

func TestShortcodeAPI_DisabledForm(t *testing.T) {
	ts := setupTestServer(t)

	form := url.Values{
		"shortcode_inserter_disabled_shortcodes[alert]": {"1"},
		"shortcode_inserter_disabled_shortcodes[ghost]": {"1"},
	}
	rec := ts.api(http.MethodPost, "/api/shortcodes/disabled", "", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"disabled":["alert"]}`, rec.Body.String())

	// Saving an empty form enables everything again.
	rec = ts.api(http.MethodPost, "/api/shortcodes/disabled", "", "application/x-www-form-urlencoded", strings.NewReader(""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"disabled":[]}`, rec.Body.String())
}

func TestShortcodeAPI_Editor(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.apiJSON(http.MethodGet, "/api/shortcodes/editor", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"text":"Alert Box","content":"[alert type=\"info\"]Message[/alert]"},
		{"text":"Pull Quote","content":""}
	]`, rec.Body.String())

	rec = ts.apiJSON(http.MethodPost, "/api/shortcodes/disabled", "", map[string]any{"alert": 1, "quote": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.apiJSON(http.MethodGet, "/api/shortcodes/editor", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `false`, rec.Body.String())
}

func TestShortcodeAPI_Refresh(t *testing.T) {
	ts := setupTestServer(t)
	writeTestFile(t, ts.dir, "theme/shortcodes/badge/badge.tmpl.html", `<span class="badge">{{.Content}}</span>`)

	rec := ts.apiJSON(http.MethodPost, "/api/shortcodes/refresh", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"shortcodes":3,"enabled":3}`, rec.Body.String())

	rec = ts.apiJSON(http.MethodPost, "/api/render", "", RenderRequest{Content: "[badge]new[/badge]"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `<span class="badge">new</span>`, decode[inserter.Result](t, rec).Content)

	rec = ts.apiJSON(http.MethodGet, "/api/shortcodes/refresh", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRenderAPI(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.apiJSON(http.MethodPost, "/api/render", "", RenderRequest{
		Content: `[alert][quote]nested[/quote][/alert] [nope]x[/nope] [version]`,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[inserter.Result](t, rec)
	assert.Equal(t, `<div class="alert alert-info"><blockquote>nested</blockquote></div> x [version]`, res.Content)
	assert.Equal(t, []string{"alert", "quote", "version"}, res.Present)
	require.Len(t, res.Scripts, 1)
	assert.Equal(t, "/assets/shortcodes/alert/alert.js", res.Scripts[0].URL)
	require.Len(t, res.Styles, 1)

	rec = ts.apiJSON(http.MethodPost, "/api/render", "", RenderRequest{Content: "[version]", ExpandBuiltins: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Version, decode[inserter.Result](t, rec).Content)
}

func TestRenderAPI_Errors(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.apiJSON(http.MethodPost, "/api/render", "", RenderRequest{Content: strings.Repeat("a", 5000)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = ts.api(http.MethodPost, "/api/render", "", "application/json", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.apiJSON(http.MethodGet, "/api/render", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	// Bodies far beyond the content limit are refused while reading.
	rec = ts.apiJSON(http.MethodPost, "/api/render", "", RenderRequest{Content: strings.Repeat("a", 20000)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "Request body too large")
}

func TestShortcodeAPI_DisabledBodyLimit(t *testing.T) {
	ts := setupTestServer(t)

	huge := `{"alert":"1","padding":"` + strings.Repeat("x", maxSettingsBody) + `"}`
	rec := ts.api(http.MethodPost, "/api/shortcodes/disabled", "", "application/json", strings.NewReader(huge))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	form := "shortcode_inserter_disabled_shortcodes[alert]=1&padding=" + strings.Repeat("x", maxSettingsBody)
	rec = ts.api(http.MethodPost, "/api/shortcodes/disabled", "", "application/x-www-form-urlencoded", strings.NewReader(form))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = ts.apiJSON(http.MethodGet, "/api/shortcodes/disabled", "", nil)
	assert.JSONEq(t, `{"disabled":[]}`, rec.Body.String(), "nothing is saved from a refused body")
}

func TestAuth_Scopes(t *testing.T) {
	ts := setupTestServer(t)

	// The first key always becomes a master key.
	rec := ts.apiJSON(http.MethodPost, "/api/auth/keys", "", CreateKeyRequest{Label: "admin", Scopes: []string{"render"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	master := decode[CreateKeyResponse](t, rec)
	assert.Equal(t, []string{"*"}, master.Scopes)
	assert.Equal(t, "admin", master.Label)
	assert.True(t, strings.HasPrefix(master.Key, "ins_"))

	// The API is closed once a key exists.
	rec = ts.apiJSON(http.MethodGet, "/api/shortcodes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = ts.apiJSON(http.MethodGet, "/api/shortcodes", "ins_bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.apiJSON(http.MethodPost, "/api/auth/keys", master.Key, CreateKeyRequest{Label: "editor", Scopes: []string{"render", "shortcodes:read"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	editorKey := decode[CreateKeyResponse](t, rec).Key

	rec = ts.apiJSON(http.MethodPost, "/api/render", editorKey, RenderRequest{Content: "[alert]a[/alert]"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.apiJSON(http.MethodGet, "/api/shortcodes/disabled", editorKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "reading the disabled list needs shortcodes:read")

	rec = ts.apiJSON(http.MethodPost, "/api/shortcodes/disabled", editorKey, map[string]string{"alert": "1"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "saving the disabled list needs shortcodes:write")
	rec = ts.apiJSON(http.MethodPost, "/api/shortcodes/refresh", editorKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ts.apiJSON(http.MethodGet, "/api/stats/summary", editorKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.apiJSON(http.MethodPost, "/api/auth/keys", editorKey, CreateKeyRequest{Scopes: []string{"*"}})
	assert.Equal(t, http.StatusForbidden, rec.Code, "keys without auth:manage cannot mint keys")

	rec = ts.apiJSON(http.MethodPost, "/api/auth/keys", master.Key, CreateKeyRequest{Scopes: []string{"nonsense"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Bearer tokens work like the key header.
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+editorKey)
	rec = httptest.NewRecorder()
	ts.apiMux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":2,"label":"editor","scopes":["render","shortcodes:read"]}`, rec.Body.String())

	// The health check stays open.
	rec = ts.apiJSON(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_KeyManagement(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.apiJSON(http.MethodPost, "/api/auth/keys", "", CreateKeyRequest{Label: "admin"})
	require.Equal(t, http.StatusCreated, rec.Code)
	admin := decode[CreateKeyResponse](t, rec)

	rec = ts.apiJSON(http.MethodPost, "/api/auth/keys", admin.Key, CreateKeyRequest{Label: "stats", Scopes: []string{"stats:read", "stats:read"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	stats := decode[CreateKeyResponse](t, rec)
	assert.Equal(t, []string{"stats:read"}, stats.Scopes)

	rec = ts.apiJSON(http.MethodGet, "/api/server/version", stats.Key, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.apiJSON(http.MethodGet, "/api/auth/keys", admin.Key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	keys := decode[[]APIKey](t, rec)
	require.Len(t, keys, 2)
	assert.Equal(t, "admin", keys[0].Label)
	require.NotNil(t, keys[1].LastUsed, "using a key records when it was last used")
	require.NotNil(t, keys[0].LastUsed)

	// The only key that can manage keys cannot be deleted.
	rec = ts.apiJSON(http.MethodDelete, fmt.Sprintf("/api/auth/keys/%d", admin.ID), admin.Key, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.apiJSON(http.MethodDelete, fmt.Sprintf("/api/auth/keys/%d", stats.ID), admin.Key, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.apiJSON(http.MethodGet, "/api/server/version", stats.Key, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.apiJSON(http.MethodDelete, "/api/auth/keys/999", admin.Key, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.apiJSON(http.MethodDelete, "/api/auth/keys/abc", admin.Key, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequiredScope(t *testing.T) {
	tests := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/api/shortcodes", scopeShortcodesRead},
		{http.MethodGet, "/api/shortcodes/editor", scopeShortcodesRead},
		{http.MethodPost, "/api/shortcodes/disabled", scopeShortcodesWrite},
		{http.MethodPost, "/api/render", scopeRender},
		{http.MethodGet, "/api/stats/top_pages", scopeStatsRead},
		{http.MethodGet, "/api/server/version", scopeStatsRead},
		{http.MethodPut, "/api/server/config", scopeServerConfig},
		{http.MethodPost, "/api/server/restart", scopeServerControl},
		{http.MethodGet, "/api/auth/me", ""},
		{http.MethodDelete, "/api/auth/keys/3", scopeAuthManage},
		{http.MethodGet, "/api/unknown", scopeMaster},
		{http.MethodGet, "/api/shortcodesx", scopeMaster},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(tt.method, tt.path, nil)
		assert.Equal(t, tt.want, requiredScope(r), "%s %s", tt.method, tt.path)
	}
}

func TestStatsAPI(t *testing.T) {
	ts := setupTestServer(t)

	require.Equal(t, http.StatusOK, ts.get("/").Code)
	require.Equal(t, http.StatusOK, ts.get("/").Code)
	require.Equal(t, http.StatusOK, ts.get("/docs/quote").Code)

	rec := ts.apiJSON(http.MethodGet, "/api/stats/summary", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, GlobalStatsSummary{
		TotalRenders:     3,
		UniquePages:      2,
		TotalShortcodes:  5,
		UniqueShortcodes: 3,
	}, decode[GlobalStatsSummary](t, rec))

	rec = ts.apiJSON(http.MethodGet, "/api/stats/top_shortcodes", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	top := decode[[]UsageStat](t, rec)
	require.Len(t, top, 3)
	assert.Equal(t, "alert", top[0].Name)
	assert.EqualValues(t, 2, top[0].Total)

	rec = ts.apiJSON(http.MethodGet, "/api/stats/top_pages", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pages := decode[[]UsageStat](t, rec)
	require.Len(t, pages, 2)
	assert.Equal(t, "index", pages[0].Name)
}

func TestServerAPI_Config(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.apiJSON(http.MethodGet, "/api/server/config", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode[Config](t, rec)
	require.NotNil(t, cfg.Shortcodes)
	assert.Equal(t, "test", cfg.Shortcodes.AssetVersion)

	cfg.Shortcodes.PluginName = "sc"
	rec = ts.apiJSON(http.MethodPut, "/api/server/config", "", cfg)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sc_alert", ts.core.sm.Handle("alert"))

	reloaded, err := LoadConfig(ts.configPath)
	require.NoError(t, err)
	assert.Equal(t, "sc", reloaded.Shortcodes.PluginName)

	rec = ts.apiJSON(http.MethodPut, "/api/server/config", "", map[string]any{"server_config": nil})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerAPI_Actions(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.apiJSON(http.MethodGet, "/api/server/version", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Version, decode[VersionInfo](t, rec).Version)

	rec = ts.apiJSON(http.MethodPost, "/api/server/restart", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, actionRestart, <-ts.actions)
}
