// Package testutil provides a mock platform API for tests.
package testutil

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Route names used by Calls and ConditionalCalls.
const (
	RouteApp         = "app.get"
	RouteCreateToken = "token.create"
	RouteRevokeToken = "token.revoke"
	RouteRepository  = "repository.get"
	RouteConfigGet   = "config.get"
	RouteConfigPut   = "config.put"
	RouteLabelsPut   = "labels.put"
)

// MockResponse defines a canned response for SetResponse.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

type storedFile struct {
	content []byte
	sha     string
}

// MockPlatform is an in-process fake of the platform REST API. It issues
// installation tokens, serves repository metadata and config files with
// ETags, honors If-None-Match, enforces sha checks on config writes and
// records label writes.
type MockPlatform struct {
	server *httptest.Server

	mu          sync.Mutex
	overrides   map[string]http.HandlerFunc
	permissions map[string]string
	tokens      map[string]int64
	revoked     map[string]bool
	repos       map[string]bool
	files       map[string]storedFile
	labels      map[string][]string
	calls       map[string]int
	conditional map[string]int
	log         []string
	nextToken   int

	// LastRequestHeader is the header of the most recent request.
	LastRequestHeader http.Header
}

// NewMockPlatform starts a mock platform. Tokens grant issues:write and
// single_file:read unless SetPermissions says otherwise.
func NewMockPlatform() *MockPlatform {
	m := &MockPlatform{
		overrides:   make(map[string]http.HandlerFunc),
		permissions: map[string]string{"issues": "write", "single_file": "read", "metadata": "read"},
		tokens:      make(map[string]int64),
		revoked:     make(map[string]bool),
		repos:       make(map[string]bool),
		files:       make(map[string]storedFile),
		labels:      make(map[string][]string),
		calls:       make(map[string]int),
		conditional: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /app", m.route(RouteApp, m.handleApp))
	mux.HandleFunc("POST /app/installations/{id}/access_tokens", m.route(RouteCreateToken, m.handleCreateToken))
	mux.HandleFunc("DELETE /installation/token", m.route(RouteRevokeToken, m.handleRevokeToken))
	mux.HandleFunc("GET /repos/{owner}/{repo}", m.route(RouteRepository, m.handleRepository))
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", m.route(RouteConfigGet, m.handleGetContents))
	mux.HandleFunc("PUT /repos/{owner}/{repo}/contents/{path...}", m.route(RouteConfigPut, m.handlePutContents))
	mux.HandleFunc("PUT /repos/{owner}/{repo}/issues/{number}/labels", m.route(RouteLabelsPut, m.handleSetLabels))

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.LastRequestHeader = r.Header.Clone()
		override, ok := m.overrides[r.Method+" "+r.URL.Path]
		m.mu.Unlock()

		if ok {
			override(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	return m
}

// URL returns the mock server URL.
func (m *MockPlatform) URL() string {
	return m.server.URL
}

// Client returns an HTTP client for the mock server.
func (m *MockPlatform) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockPlatform) Close() {
	m.server.Close()
}

// SetPermissions sets the permissions attached to tokens issued afterwards.
func (m *MockPlatform) SetPermissions(permissions map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissions = permissions
}

// AddRepository makes owner/repo exist.
func (m *MockPlatform) AddRepository(owner, repo string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repos[owner+"/"+repo] = true
}

// SetFile stores content at path in owner/repo and returns its sha.
func (m *MockPlatform) SetFile(owner, repo, path string, content []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repos[owner+"/"+repo] = true
	sha := blobSHA(content)
	m.files[fileKey(owner, repo, path)] = storedFile{content: append([]byte(nil), content...), sha: sha}
	return sha
}

// File returns the stored content and sha of path in owner/repo.
func (m *MockPlatform) File(owner, repo, path string) (content []byte, sha string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileKey(owner, repo, path)]
	return f.content, f.sha, ok
}

// IssueLabels returns the labels last written to an issue.
func (m *MockPlatform) IssueLabels(owner, repo string, number int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.labels[issueKey(owner, repo, number)]...)
}

// Calls returns how many requests reached route.
func (m *MockPlatform) Calls(route string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[route]
}

// CallLog returns the routes reached, in arrival order.
func (m *MockPlatform) CallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.log...)
}

// ConditionalCalls returns how many requests to route carried If-None-Match.
func (m *MockPlatform) ConditionalCalls(route string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conditional[route]
}

// SetHandler overrides the handler for an exact "METHOD /path".
func (m *MockPlatform) SetHandler(methodPath string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[methodPath] = handler
}

// SetResponse overrides "METHOD /path" with a canned response.
func (m *MockPlatform) SetResponse(methodPath string, resp MockResponse) {
	m.SetHandler(methodPath, func(w http.ResponseWriter, r *http.Request) {
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

func (m *MockPlatform) route(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.calls[name]++
		m.log = append(m.log, name)
		if r.Header.Get("If-None-Match") != "" {
			m.conditional[name]++
		}
		m.mu.Unlock()
		handler(w, r)
	}
}

// authorized checks the bearer token. Must be called with m.mu held.
func (m *MockPlatform) authorized(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return "", false
	}
	if _, issued := m.tokens[token]; !issued || m.revoked[token] {
		return "", false
	}
	return token, true
}

func (m *MockPlatform) handleApp(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ey") {
		writeError(w, http.StatusUnauthorized, "A JSON web token could not be decoded")
		return
	}
	const etag = `"app-v1"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     1,
		"slug":   "ticket-tagger",
		"name":   "Ticket Tagger",
		"owner":  map[string]any{"login": "tagger", "type": "Organization"},
		"events": []string{"issues"},
	})
}

func (m *MockPlatform) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ey") {
		writeError(w, http.StatusUnauthorized, "A JSON web token could not be decoded")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	m.mu.Lock()
	m.nextToken++
	token := fmt.Sprintf("ghs_mock_%d_%d", id, m.nextToken)
	m.tokens[token] = id
	permissions := make(map[string]string, len(m.permissions))
	for k, v := range m.permissions {
		permissions[k] = v
	}
	m.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"token":       token,
		"expires_at":  time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"permissions": permissions,
	})
}

func (m *MockPlatform) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	token, ok := m.authorized(r)
	if ok {
		m.revoked[token] = true
	}
	m.mu.Unlock()

	if !ok {
		writeError(w, http.StatusUnauthorized, "Bad credentials")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *MockPlatform) handleRepository(w http.ResponseWriter, r *http.Request) {
	owner, repo := r.PathValue("owner"), r.PathValue("repo")

	m.mu.Lock()
	_, authorized := m.authorized(r)
	exists := m.repos[owner+"/"+repo]
	m.mu.Unlock()

	if !authorized {
		writeError(w, http.StatusUnauthorized, "Bad credentials")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	etag := `"` + blobSHA([]byte(owner+"/"+repo)) + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":             len(owner + repo),
		"name":           repo,
		"full_name":      owner + "/" + repo,
		"default_branch": "main",
		"owner":          map[string]any{"login": owner},
	})
}

func (m *MockPlatform) handleGetContents(w http.ResponseWriter, r *http.Request) {
	owner, repo, path := r.PathValue("owner"), r.PathValue("repo"), r.PathValue("path")

	m.mu.Lock()
	_, authorized := m.authorized(r)
	file, exists := m.files[fileKey(owner, repo, path)]
	m.mu.Unlock()

	if !authorized {
		writeError(w, http.StatusUnauthorized, "Bad credentials")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	etag := `W/"` + file.sha + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	writeJSON(w, http.StatusOK, map[string]any{
		"type":     "file",
		"encoding": "base64",
		"path":     path,
		"sha":      file.sha,
		"content":  wrap(base64.StdEncoding.EncodeToString(file.content), 60),
	})
}

func (m *MockPlatform) handlePutContents(w http.ResponseWriter, r *http.Request) {
	owner, repo, path := r.PathValue("owner"), r.PathValue("repo"), r.PathValue("path")

	var body struct {
		Message string `json:"message"`
		Content string `json:"content"`
		SHA     string `json:"sha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	content, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "content is not valid Base64")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.authorized(r); !ok {
		writeError(w, http.StatusUnauthorized, "Bad credentials")
		return
	}

	key := fileKey(owner, repo, path)
	current, exists := m.files[key]
	switch {
	case exists && body.SHA == "":
		writeError(w, http.StatusUnprocessableEntity, "Invalid request.\n\n\"sha\" wasn't supplied.")
		return
	case exists && body.SHA != current.sha:
		writeError(w, http.StatusConflict, fmt.Sprintf("%s does not match %s", path, body.SHA))
		return
	case !exists && body.SHA != "":
		writeError(w, http.StatusConflict, fmt.Sprintf("%s does not match %s", path, body.SHA))
		return
	}

	sha := blobSHA(content)
	m.files[key] = storedFile{content: content, sha: sha}
	m.repos[owner+"/"+repo] = true

	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"content": map[string]any{"path": path, "sha": sha},
	})
}

func (m *MockPlatform) handleSetLabels(w http.ResponseWriter, r *http.Request) {
	owner, repo := r.PathValue("owner"), r.PathValue("repo")
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	var body struct {
		Labels []string `json:"labels"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}

	m.mu.Lock()
	_, authorized := m.authorized(r)
	if authorized {
		m.labels[issueKey(owner, repo, number)] = body.Labels
	}
	m.mu.Unlock()

	if !authorized {
		writeError(w, http.StatusUnauthorized, "Bad credentials")
		return
	}

	result := make([]map[string]any, len(body.Labels))
	for i, name := range body.Labels {
		result[i] = map[string]any{"id": i + 1, "name": name, "color": "ededed"}
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"message":           message,
		"documentation_url": "https://docs.github.com/rest",
	})
}

// blobSHA computes a git blob id.
func blobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func wrap(s string, width int) string {
	var b strings.Builder
	for len(s) > width {
		b.WriteString(s[:width])
		b.WriteByte('\n')
		s = s[width:]
	}
	b.WriteString(s)
	b.WriteByte('\n')
	return b.String()
}

func fileKey(owner, repo, path string) string {
	return owner + "/" + repo + ":" + path
}

func issueKey(owner, repo string, number int) string {
	return owner + "/" + repo + "#" + strconv.Itoa(number)
}
