package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

const authSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
    id          INTEGER  PRIMARY KEY,
    key_hash    TEXT     NOT NULL UNIQUE,
    label       TEXT     NOT NULL DEFAULT '',
    scopes      TEXT     NOT NULL,
    created_at  DATETIME NOT NULL,
    last_used   DATETIME
);
`

// authHeader carries the raw API key. "Authorization: Bearer <key>" is accepted too.
const authHeader = "X-Inserter-Key"

const keyPrefix = "ins_"

const (
	scopeShortcodesRead  = "shortcodes:read"
	scopeShortcodesWrite = "shortcodes:write"
	scopeRender          = "render"
	scopeStatsRead       = "stats:read"
	scopeServerConfig    = "server:config"
	scopeServerControl   = "server:control"
	scopeAuthManage      = "auth:manage"
	scopeMaster          = "*"
)

var knownScopes = []string{
	scopeShortcodesRead,
	scopeShortcodesWrite,
	scopeRender,
	scopeStatsRead,
	scopeServerConfig,
	scopeServerControl,
	scopeAuthManage,
	scopeMaster,
}

// routeScope ties an API route to the scope a key needs to call it.
type routeScope struct {
	method string // empty matches every method
	path   string // exact path, or a prefix when it ends in "/"
	scope  string // empty only requires a valid key
}

// routeScopes is checked in order; the first matching entry applies. Routes that match
// nothing require the master scope.
var routeScopes = []routeScope{
	{http.MethodGet, "/api/shortcodes", scopeShortcodesRead},
	{http.MethodGet, "/api/shortcodes/", scopeShortcodesRead},
	{"", "/api/shortcodes", scopeShortcodesWrite},
	{"", "/api/shortcodes/", scopeShortcodesWrite},
	{"", "/api/render", scopeRender},
	{"", "/api/stats/", scopeStatsRead},
	{"", "/api/server/version", scopeStatsRead},
	{"", "/api/server/config", scopeServerConfig},
	{"", "/api/server/", scopeServerControl},
	{"", "/api/auth/me", ""},
	{"", "/api/auth/keys", scopeAuthManage},
	{"", "/api/auth/keys/", scopeAuthManage},
}

// requiredScope returns the scope needed for the request's route.
func requiredScope(r *http.Request) string {
	for _, rs := range routeScopes {
		if rs.method != "" && rs.method != r.Method {
			continue
		}
		if r.URL.Path == rs.path || (strings.HasSuffix(rs.path, "/") && strings.HasPrefix(r.URL.Path, rs.path)) {
			return rs.scope
		}
	}
	return scopeMaster
}

// scopeSet is the set of scopes granted to a key.
type scopeSet map[string]struct{}

func parseScopes(s string) scopeSet {
	set := make(scopeSet)
	for _, scope := range strings.Fields(s) {
		set[scope] = struct{}{}
	}
	return set
}

// allows reports whether the set grants scope. The master scope grants everything.
func (s scopeSet) allows(scope string) bool {
	if scope == "" {
		return true
	}
	if _, ok := s[scopeMaster]; ok {
		return true
	}
	_, ok := s[scope]
	return ok
}

func (s scopeSet) sorted() []string {
	return slices.Sorted(maps.Keys(s))
}

func (s scopeSet) String() string {
	return strings.Join(s.sorted(), " ")
}

// principal is the caller a request was authenticated as. ID is zero while the API is
// open because no key exists yet.
type principal struct {
	ID     int
	Label  string
	Scopes scopeSet
}

type principalKey struct{}

// APIKey is a stored key as listed by the API. The raw key is never stored.
type APIKey struct {
	ID        int        `json:"id"`
	Label     string     `json:"label"`
	Scopes    []string   `json:"scopes"`
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
}

// CreateKeyRequest is the expected JSON body of POST /api/auth/keys.
type CreateKeyRequest struct {
	Label  string   `json:"label"`
	Scopes []string `json:"scopes"`
}

// CreateKeyResponse carries the raw key. It is only ever shown once.
type CreateKeyResponse struct {
	APIKey
	Key string `json:"key"`
}

func (k APIKey) allows(scope string) bool {
	return slices.Contains(k.Scopes, scopeMaster) || slices.Contains(k.Scopes, scope)
}

var errUnknownKey = errors.New("missing or unknown API key")

// keyStore persists hashed API keys.
type keyStore struct {
	db *sql.DB
}

func setupAuthSchema(db *sql.DB) error {
	_, err := db.Exec(authSchema)
	return err
}

func (s *keyStore) count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&n)
	return n, err
}

// lookup finds the key with the given hash and marks it as used.
func (s *keyStore) lookup(ctx context.Context, hash string) (*principal, error) {
	var p principal
	var scopes string
	err := s.db.QueryRowContext(ctx, `SELECT id, label, scopes FROM api_keys WHERE key_hash = ?`, hash).
		Scan(&p.ID, &p.Label, &scopes)
	if err != nil {
		return nil, err
	}
	p.Scopes = parseScopes(scopes)
	if _, err = s.db.ExecContext(ctx, `UPDATE api_keys SET last_used = ? WHERE id = ?`, time.Now().UTC(), p.ID); err != nil {
		return nil, fmt.Errorf("failed to mark key as used: %w", err)
	}
	return &p, nil
}

func (s *keyStore) list(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, label, scopes, created_at, last_used FROM api_keys ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	keys := []APIKey{}
	for rows.Next() {
		var k APIKey
		var scopes string
		var lastUsed sql.NullTime
		if err = rows.Scan(&k.ID, &k.Label, &scopes, &k.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		k.Scopes = parseScopes(scopes).sorted()
		if lastUsed.Valid {
			k.LastUsed = &lastUsed.Time
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// create stores a new key. The first key ever created gets the master scope so the
// API cannot be closed without a way back in.
func (s *keyStore) create(ctx context.Context, label string, scopes scopeSet) (CreateKeyResponse, error) {
	raw, err := generateAPIKey()
	if err != nil {
		return CreateKeyResponse{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CreateKeyResponse{}, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var n int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&n); err != nil {
		return CreateKeyResponse{}, err
	}
	if n == 0 {
		scopes = scopeSet{scopeMaster: {}}
	}

	res := CreateKeyResponse{Key: raw}
	res.Label = label
	res.Scopes = scopes.sorted()
	res.CreatedAt = time.Now().UTC()
	err = tx.QueryRowContext(ctx,
		`INSERT INTO api_keys (key_hash, label, scopes, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
		hashAPIKey(raw), label, scopes.String(), res.CreatedAt).Scan(&res.ID)
	if err != nil {
		return CreateKeyResponse{}, fmt.Errorf("failed to insert key: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return CreateKeyResponse{}, fmt.Errorf("failed to commit key: %w", err)
	}
	return res, nil
}

var (
	errKeyNotFound     = errors.New("key not found")
	errLastManagingKey = errors.New("cannot delete the last key that can manage keys")
)

// delete removes a key unless it is the last one able to manage keys.
func (s *keyStore) delete(ctx context.Context, id int) error {
	keys, err := s.list(ctx)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(keys, func(k APIKey) bool { return k.ID == id })
	if i < 0 {
		return errKeyNotFound
	}
	if keys[i].allows(scopeAuthManage) {
		managers := 0
		for _, k := range keys {
			if k.allows(scopeAuthManage) {
				managers++
			}
		}
		if managers == 1 {
			return errLastManagingKey
		}
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	return err
}

// AuthAPI authenticates admin API requests and manages their keys.
type AuthAPI struct {
	keys   *keyStore
	logger *slog.Logger
}

func NewAuthAPI(db *sql.DB, logger *slog.Logger) *AuthAPI {
	return &AuthAPI{
		keys:   &keyStore{db: db},
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/auth endpoints.
func (a *AuthAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/me", a.handleMe)
	mux.HandleFunc("/api/auth/keys", a.handleKeys)
	mux.HandleFunc("/api/auth/keys/", a.handleKeyByID)
}

// Authenticate identifies the caller and checks the scope its route requires before
// passing the request on. While no key exists the API is open with the master scope.
func (a *AuthAPI) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.identify(r)
		if err != nil {
			if errors.Is(err, errUnknownKey) {
				respondWithError(w, http.StatusUnauthorized, err.Error())
				return
			}
			a.logger.Error("Failed to authenticate request", "path", r.URL.Path, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Authentication failed")
			return
		}

		if scope := requiredScope(r); !p.Scopes.allows(scope) {
			a.logger.Debug("Request denied", "key", p.ID, "path", r.URL.Path, "scope", scope)
			respondWithError(w, http.StatusForbidden, fmt.Sprintf("Forbidden: requires '%s' scope", scope))
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func (a *AuthAPI) identify(r *http.Request) (*principal, error) {
	n, err := a.keys.count(r.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to count keys: %w", err)
	}
	if n == 0 {
		return &principal{Label: "open", Scopes: scopeSet{scopeMaster: {}}}, nil
	}

	raw := r.Header.Get(authHeader)
	if raw == "" {
		raw, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if !strings.HasPrefix(raw, keyPrefix) {
		return nil, errUnknownKey
	}

	p, err := a.keys.lookup(r.Context(), hashAPIKey(raw))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errUnknownKey
	}
	return p, err
}

func (a *AuthAPI) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	p, _ := r.Context().Value(principalKey{}).(*principal)
	if p == nil {
		respondWithError(w, http.StatusUnauthorized, errUnknownKey.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"id":     p.ID,
		"label":  p.Label,
		"scopes": p.Scopes.sorted(),
	})
}

func (a *AuthAPI) handleKeys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		keys, err := a.keys.list(r.Context())
		if err != nil {
			a.logger.Error("Failed to list API keys", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to list keys")
			return
		}
		respondWithJSON(w, http.StatusOK, keys)
	case http.MethodPost:
		a.createKey(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *AuthAPI) createKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	scopes := make(scopeSet, len(req.Scopes))
	for _, scope := range req.Scopes {
		if !slices.Contains(knownScopes, scope) {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scope %q", scope))
			return
		}
		scopes[scope] = struct{}{}
	}

	key, err := a.keys.create(r.Context(), strings.TrimSpace(req.Label), scopes)
	if err != nil {
		a.logger.Error("Failed to create API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to create key")
		return
	}
	if len(key.Scopes) == 0 {
		a.logger.Warn("Created an API key without scopes", "id", key.ID, "label", key.Label)
	}
	a.logger.Info("API key created", "id", key.ID, "label", key.Label, "scopes", key.Scopes)
	respondWithJSON(w, http.StatusCreated, key)
}

func (a *AuthAPI) handleKeyByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", "DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/auth/keys/"), "/"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}

	switch err = a.keys.delete(r.Context(), id); {
	case err == nil:
		a.logger.Info("API key deleted", "id", id)
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, errKeyNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errLastManagingKey):
		respondWithError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error("Failed to delete API key", "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
	}
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return keyPrefix + hex.EncodeToString(buf), nil
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			slog.Error("Failed to encode JSON response", "error", err)
		}
	}
}
