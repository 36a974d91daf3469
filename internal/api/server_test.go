package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-nuki/internal/audit"
	"github.com/nerrad567/gray-logic-nuki/internal/auth"
	"github.com/nerrad567/gray-logic-nuki/internal/bridges/nuki"
	"github.com/nerrad567/gray-logic-nuki/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-nuki/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-nuki/internal/lock"
)

const (
	testSecret = "test-secret-key-at-least-32-characters-long"
	testIssuer = "gray-logic"
)

// ─── Mocks ─────────────────────────────────────────────────────────

type execCall struct {
	entityID string
	command  string
	unlatch  bool
	source   string
}

type mockLocks struct {
	mu         sync.Mutex
	entities   []nuki.EntityState
	execErr    error
	serviceErr error
	calls      []execCall
	services   []string
	svcData    map[string]any
}

func newMockLocks() *mockLocks {
	return &mockLocks{
		entities: []nuki.EntityState{
			{EntityID: "lock.front_door", Snapshot: lock.Snapshot{NukiID: 1, Name: "Front Door", Locked: true, Available: true}},
			{EntityID: "lock.back_door", Snapshot: lock.Snapshot{NukiID: 2, Name: "Back Door", Available: false}},
		},
		services: []string{"nuki.lock_n_go"},
	}
}

func (m *mockLocks) Entities() []nuki.EntityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]nuki.EntityState(nil), m.entities...)
}

func (m *mockLocks) Entity(id string) (nuki.EntityState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, es := range m.entities {
		if es.EntityID == id {
			return es, true
		}
	}
	return nuki.EntityState{}, false
}

func (m *mockLocks) Execute(_ context.Context, entityID, command string, unlatch bool, source string) (lock.Snapshot, error) {
	m.mu.Lock()
	m.calls = append(m.calls, execCall{entityID, command, unlatch, source})
	err := m.execErr
	m.mu.Unlock()

	es, ok := m.Entity(entityID)
	if !ok {
		return lock.Snapshot{}, fmt.Errorf("%w: %s", nuki.ErrEntityNotFound, entityID)
	}
	if err != nil {
		return es.Snapshot, err
	}
	s := es.Snapshot
	s.Locked = command == lock.CommandLock || command == lock.CommandLockNGo
	return s, nil
}

func (m *mockLocks) CallService(_ context.Context, _ string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.svcData = data
	return m.serviceErr
}

func (m *mockLocks) Services() []string { return m.services }

func (m *mockLocks) GetMetrics() nuki.BridgeMetrics {
	return nuki.BridgeMetrics{Reachable: true, Status: "healthy", LocksManaged: len(m.entities)}
}

func (m *mockLocks) lastCall(t *testing.T) execCall {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		t.Fatal("Execute was not called")
	}
	return m.calls[len(m.calls)-1]
}

type mockEvents struct {
	filter audit.Filter
	result *audit.ListResult
	err    error
}

func (m *mockEvents) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	m.filter = filter
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &audit.ListResult{Events: []audit.Event{}, Limit: filter.Limit, Offset: filter.Offset}, nil
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ─── Helpers ───────────────────────────────────────────────────────

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

func testDeps(locks LockService, secret string) Deps {
	return Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:       config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: secret, Issuer: testIssuer}},
		Logger:   testLogger(),
		Locks:    locks,
		Events:   &mockEvents{},
		Gatherer: prometheus.NewRegistry(),
		Version:  "test",
	}
}

func testServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func tokenFor(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateToken("alice", role, testSecret, testIssuer, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

func do(t *testing.T, h http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Locks: newMockLocks()}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without lock service should fail")
	}
}

// ─── Health and Middleware ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	router := testServer(t, testDeps(newMockLocks(), testSecret)).buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]any
	decode(t, w, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if resp["bridge"] != "healthy" {
		t.Errorf("bridge = %v, want healthy", resp["bridge"])
	}
}

func TestRequestID(t *testing.T) {
	router := testServer(t, testDeps(newMockLocks(), "")).buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/health", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		origin     string
		wantHeader string
	}{
		{"empty list allows all", nil, "http://localhost:3000", "http://localhost:3000"},
		{"listed origin", []string{"http://panel.local"}, "http://panel.local", "http://panel.local"},
		{"wildcard", []string{"*"}, "http://x.local", "http://x.local"},
		{"unlisted origin", []string{"http://panel.local"}, "http://evil.local", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps(newMockLocks(), "")
			deps.Config.CORS.AllowedOrigins = tt.allowed
			router := testServer(t, deps).buildRouter()

			req := httptest.NewRequest(http.MethodOptions, "/api/v1/locks", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Errorf("ACAO = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	router := testServer(t, testDeps(newMockLocks(), "")).buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/nonexistent", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRecovery(t *testing.T) {
	srv := testServer(t, testDeps(newMockLocks(), ""))
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := do(t, h, http.MethodGet, "/", "", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

// ─── Ready ─────────────────────────────────────────────────────────

func TestReady(t *testing.T) {
	ok := checkFunc(func(context.Context) error { return nil })
	down := checkFunc(func(context.Context) error { return errors.New("broker unreachable") })

	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantStatus int
		wantReady  string
	}{
		{"no checks", nil, http.StatusOK, "ready"},
		{"all healthy", map[string]HealthChecker{"database": ok, "mqtt": ok}, http.StatusOK, "ready"},
		{"one failing", map[string]HealthChecker{"database": ok, "mqtt": down}, http.StatusServiceUnavailable, "not_ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps(newMockLocks(), testSecret)
			deps.Checks = tt.checks
			router := testServer(t, deps).buildRouter()

			w := do(t, router, http.MethodGet, "/api/v1/ready", "", "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}

			var resp struct {
				Status     string            `json:"status"`
				Components map[string]string `json:"components"`
			}
			decode(t, w, &resp)
			if resp.Status != tt.wantReady {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantReady)
			}
			if len(resp.Components) != len(tt.checks) {
				t.Errorf("components = %v, want %d entries", resp.Components, len(tt.checks))
			}
			if tt.name == "one failing" && resp.Components["mqtt"] != "broker unreachable" {
				t.Errorf("mqtt component = %q", resp.Components["mqtt"])
			}
		})
	}
}

// ─── Authentication and Permissions ───────────────────────────────

func TestAuth_DisabledWithoutSecret(t *testing.T) {
	locks := newMockLocks()
	router := testServer(t, testDeps(locks, "")).buildRouter()

	w := do(t, router, http.MethodPost, "/api/v1/locks/lock.front_door/open", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}
	if got := locks.lastCall(t).source; got != nuki.SourceAPI {
		t.Errorf("source = %q, want %q", got, nuki.SourceAPI)
	}
}

func TestAuth_RejectsBadTokens(t *testing.T) {
	router := testServer(t, testDeps(newMockLocks(), testSecret)).buildRouter()

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Role: auth.RoleAdmin,
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing expired token: %v", err)
	}
	foreign, err := auth.GenerateToken("alice", auth.RoleAdmin, "another-secret-another-secret-0000", testIssuer, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic YWRtaW46YWRtaW4="},
		{"garbage", "Bearer not-a-jwt"},
		{"expired", "Bearer " + expired},
		{"wrong secret", "Bearer " + foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/locks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			var resp Error
			decode(t, w, &resp)
			if resp.Code != ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", resp.Code, ErrCodeUnauthorized)
			}
		})
	}
}

func TestPermissions(t *testing.T) {
	tests := []struct {
		role   auth.Role
		method string
		path   string
		body   string
		want   int
	}{
		{auth.RoleViewer, http.MethodGet, "/api/v1/locks", "", http.StatusOK},
		{auth.RoleViewer, http.MethodGet, "/api/v1/locks/lock.front_door", "", http.StatusOK},
		{auth.RoleViewer, http.MethodGet, "/api/v1/system/metrics", "", http.StatusOK},
		{auth.RoleViewer, http.MethodPost, "/api/v1/locks/lock.front_door/lock", "", http.StatusForbidden},
		{auth.RoleViewer, http.MethodGet, "/api/v1/events", "", http.StatusForbidden},

		{auth.RoleOperator, http.MethodPost, "/api/v1/locks/lock.front_door/lock", "", http.StatusOK},
		{auth.RoleOperator, http.MethodPost, "/api/v1/locks/lock.front_door/unlock", "", http.StatusOK},
		{auth.RoleOperator, http.MethodPost, "/api/v1/locks/lock.front_door/lock_n_go", "", http.StatusOK},
		{auth.RoleOperator, http.MethodPost, "/api/v1/locks/lock.front_door/lock_n_go", `{"unlatch":true}`, http.StatusForbidden},
		{auth.RoleOperator, http.MethodPost, "/api/v1/locks/lock.front_door/open", "", http.StatusForbidden},
		{auth.RoleOperator, http.MethodPost, "/api/v1/services/nuki/lock_n_go", `{"entity_id":"lock.front_door"}`, http.StatusForbidden},
		{auth.RoleOperator, http.MethodGet, "/api/v1/events", "", http.StatusForbidden},

		{auth.RoleAdmin, http.MethodPost, "/api/v1/locks/lock.front_door/open", "", http.StatusOK},
		{auth.RoleAdmin, http.MethodPost, "/api/v1/locks/lock.front_door/lock_n_go", `{"unlatch":true}`, http.StatusOK},
		{auth.RoleAdmin, http.MethodPost, "/api/v1/services/nuki/lock_n_go", `{"entity_id":"lock.front_door"}`, http.StatusOK},
		{auth.RoleAdmin, http.MethodGet, "/api/v1/events", "", http.StatusOK},
	}

	router := testServer(t, testDeps(newMockLocks(), testSecret)).buildRouter()
	tokens := map[auth.Role]string{
		auth.RoleViewer:   tokenFor(t, auth.RoleViewer),
		auth.RoleOperator: tokenFor(t, auth.RoleOperator),
		auth.RoleAdmin:    tokenFor(t, auth.RoleAdmin),
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+" "+tt.method+" "+tt.path+" "+tt.body, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, tokens[tt.role], tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

// ─── Locks ─────────────────────────────────────────────────────────

func TestListLocks(t *testing.T) {
	router := testServer(t, testDeps(newMockLocks(), "")).buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/locks", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Locks []LockResponse `json:"locks"`
		Count int            `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 2 || len(resp.Locks) != 2 {
		t.Fatalf("count = %d, locks = %d, want 2", resp.Count, len(resp.Locks))
	}

	states := map[string]string{}
	for _, l := range resp.Locks {
		states[l.EntityID] = l.State
	}
	if states["lock.front_door"] != "locked" {
		t.Errorf("front door state = %q, want locked", states["lock.front_door"])
	}
	if states["lock.back_door"] != "unavailable" {
		t.Errorf("back door state = %q, want unavailable", states["lock.back_door"])
	}
}

func TestGetLock(t *testing.T) {
	router := testServer(t, testDeps(newMockLocks(), "")).buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/locks/lock.front_door", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["entity_id"] != "lock.front_door" {
		t.Errorf("entity_id = %v", resp["entity_id"])
	}
	if resp["is_locked"] != true {
		t.Errorf("is_locked = %v, want true", resp["is_locked"])
	}
	attrs, ok := resp["attributes"].(map[string]any)
	if !ok {
		t.Fatalf("attributes missing: %v", resp)
	}
	if attrs[nuki.AttrName] != "Front Door" {
		t.Errorf("attributes[%s] = %v", nuki.AttrName, attrs[nuki.AttrName])
	}

	w = do(t, router, http.MethodGet, "/api/v1/locks/lock.missing", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing lock status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestLockCommand(t *testing.T) {
	tests := []struct {
		path        string
		body        string
		wantCommand string
		wantUnlatch bool
	}{
		{"lock", "", lock.CommandLock, false},
		{"unlock", "", lock.CommandUnlock, false},
		{"open", "", lock.CommandOpen, false},
		{"lock_n_go", "", lock.CommandLockNGo, false},
		{"lock_n_go", `{"unlatch":true}`, lock.CommandLockNGo, true},
	}

	for _, tt := range tests {
		t.Run(tt.path+tt.body, func(t *testing.T) {
			locks := newMockLocks()
			router := testServer(t, testDeps(locks, testSecret)).buildRouter()

			w := do(t, router, http.MethodPost, "/api/v1/locks/lock.front_door/"+tt.path, tokenFor(t, auth.RoleAdmin), tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
			}

			call := locks.lastCall(t)
			if call.command != tt.wantCommand || call.unlatch != tt.wantUnlatch {
				t.Errorf("Execute(%q, unlatch=%v), want (%q, %v)", call.command, call.unlatch, tt.wantCommand, tt.wantUnlatch)
			}
			if call.source != "api:alice" {
				t.Errorf("source = %q, want api:alice", call.source)
			}

			var resp CommandResponse
			decode(t, w, &resp)
			if resp.Status != "completed" || resp.Command != tt.wantCommand || resp.Lock == nil {
				t.Errorf("response = %+v", resp)
			}
		})
	}
}

func TestLockNGo_InvalidBody(t *testing.T) {
	router := testServer(t, testDeps(newMockLocks(), "")).buildRouter()

	w := do(t, router, http.MethodPost, "/api/v1/locks/lock.front_door/lock_n_go", "", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestLockCommand_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		entity   string
		err      error
		wantCode int
		wantErr  string
	}{
		{"unknown entity", "lock.missing", nil, http.StatusNotFound, ErrCodeNotFound},
		{"command failed", "lock.front_door", nuki.ErrCommandFailed, http.StatusBadGateway, ErrCodeLockUnreachable},
		{"bridge timeout", "lock.front_door", nuki.ErrTimeout, http.StatusGatewayTimeout, ErrCodeTimeout},
		{"context deadline", "lock.front_door", context.DeadlineExceeded, http.StatusGatewayTimeout, ErrCodeTimeout},
		{"unknown command", "lock.front_door", nuki.ErrUnknownCommand, http.StatusNotFound, ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locks := newMockLocks()
			locks.execErr = tt.err
			router := testServer(t, testDeps(locks, "")).buildRouter()

			w := do(t, router, http.MethodPost, "/api/v1/locks/"+tt.entity+"/lock", "", "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var resp Error
			decode(t, w, &resp)
			if resp.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantErr)
			}
		})
	}
}

// ─── Services ──────────────────────────────────────────────────────

func TestServices(t *testing.T) {
	locks := newMockLocks()
	router := testServer(t, testDeps(locks, "")).buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/services", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list struct {
		Services []string `json:"services"`
	}
	decode(t, w, &list)
	if len(list.Services) != 1 || list.Services[0] != "nuki.lock_n_go" {
		t.Errorf("services = %v", list.Services)
	}

	w = do(t, router, http.MethodPost, "/api/v1/services/nuki/lock_n_go", "", `{"entity_id":"lock.front_door","unlatch":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("call status = %d (body %s)", w.Code, w.Body.String())
	}
	if locks.svcData["entity_id"] != "lock.front_door" || locks.svcData["unlatch"] != true {
		t.Errorf("service data = %v", locks.svcData)
	}
}

func TestCallService_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		svcErr   error
		wantCode int
	}{
		{"wrong domain", "/api/v1/services/lock/lock_n_go", "{}", nil, http.StatusNotFound},
		{"bad json", "/api/v1/services/nuki/lock_n_go", "{", nil, http.StatusBadRequest},
		{"unknown service", "/api/v1/services/nuki/reboot", "{}", nuki.ErrUnknownService, http.StatusNotFound},
		{"invalid data", "/api/v1/services/nuki/lock_n_go", "{}", nuki.ErrInvalidServiceData, http.StatusBadRequest},
		{"bridge failure", "/api/v1/services/nuki/lock_n_go", "{}", nuki.ErrCommandFailed, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locks := newMockLocks()
			locks.serviceErr = tt.svcErr
			router := testServer(t, testDeps(locks, "")).buildRouter()

			w := do(t, router, http.MethodPost, tt.path, "", tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}

// ─── Events ────────────────────────────────────────────────────────

func TestListEvents(t *testing.T) {
	events := &mockEvents{}
	deps := testDeps(newMockLocks(), "")
	deps.Events = events
	router := testServer(t, deps).buildRouter()

	w := do(t, router, http.MethodGet,
		"/api/v1/events?entity_id=lock.front_door&kind=command&since=2026-03-01T09:00:00Z&limit=10&offset=20", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
	}

	want := audit.Filter{
		EntityID: "lock.front_door",
		Kind:     audit.KindCommand,
		Since:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Limit:    10,
		Offset:   20,
	}
	if !events.filter.Since.Equal(want.Since) {
		t.Errorf("since = %v, want %v", events.filter.Since, want.Since)
	}
	events.filter.Since = want.Since
	if events.filter != want {
		t.Errorf("filter = %+v, want %+v", events.filter, want)
	}
}

func TestListEvents_Errors(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		events   EventLister
		wantCode int
	}{
		{"bad kind", "?kind=reboot", &mockEvents{}, http.StatusBadRequest},
		{"bad since", "?since=yesterday", &mockEvents{}, http.StatusBadRequest},
		{"bad limit", "?limit=-1", &mockEvents{}, http.StatusBadRequest},
		{"bad offset", "?offset=x", &mockEvents{}, http.StatusBadRequest},
		{"store failure", "", &mockEvents{err: errors.New("disk full")}, http.StatusInternalServerError},
		{"not configured", "", nil, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps(newMockLocks(), "")
			deps.Events = tt.events
			router := testServer(t, deps).buildRouter()

			w := do(t, router, http.MethodGet, "/api/v1/events"+tt.query, "", "")
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

// ─── Metrics ───────────────────────────────────────────────────────

func TestPrometheusEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "nuki_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	deps := testDeps(newMockLocks(), testSecret)
	deps.Gatherer = reg
	router := testServer(t, deps).buildRouter()

	// Unauthenticated, like most scrape targets.
	w := do(t, router, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "nuki_test_total 1") {
		t.Errorf("body missing counter:\n%s", w.Body.String())
	}
}

func TestSystemMetrics(t *testing.T) {
	router := testServer(t, testDeps(newMockLocks(), "")).buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/system/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp SystemMetrics
	decode(t, w, &resp)
	if resp.Version != "test" {
		t.Errorf("version = %q", resp.Version)
	}
	if resp.Runtime.Goroutines == 0 {
		t.Error("goroutines should be > 0")
	}
	if resp.Bridge.LocksManaged != 2 || !resp.Bridge.Reachable {
		t.Errorf("bridge = %+v", resp.Bridge)
	}
}

// ─── Tickets ───────────────────────────────────────────────────────

func TestWSTicket_SingleUse(t *testing.T) {
	srv := testServer(t, testDeps(newMockLocks(), testSecret))
	router := srv.buildRouter()

	w := do(t, router, http.MethodPost, "/api/v1/auth/ws-ticket", tokenFor(t, auth.RoleViewer), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}
	decode(t, w, &resp)
	if resp.Ticket == "" || resp.ExpiresIn != 60 {
		t.Fatalf("response = %+v", resp)
	}

	entry, ok := srv.tickets.consume(resp.Ticket)
	if !ok {
		t.Fatal("ticket should be valid on first use")
	}
	if entry.subject != "alice" || entry.role != auth.RoleViewer {
		t.Errorf("entry = %+v", entry)
	}
	if _, ok := srv.tickets.consume(resp.Ticket); ok {
		t.Error("ticket should not be valid on second use")
	}
}

func TestWSTicket_Expiry(t *testing.T) {
	ts := newTicketStore(20 * time.Millisecond)
	ticket := ts.issue("alice", auth.RoleAdmin)
	if n := ts.len(); n != 1 {
		t.Fatalf("tickets = %d, want 1", n)
	}

	time.Sleep(50 * time.Millisecond)
	if _, ok := ts.consume(ticket); ok {
		t.Error("expired ticket should not be valid")
	}
}

// ─── Hub ───────────────────────────────────────────────────────────

func newTestClient(hub *Hub, channels ...string) *WSClient {
	subs := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		subs[ch] = struct{}{}
	}
	return &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: subs,
	}
}

func TestHub_BroadcastLockState(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	subscribed := newTestClient(hub, ChannelLockState)
	other := newTestClient(hub, "something.else")
	hub.Register(subscribed)
	hub.Register(other)

	hub.BroadcastLockState("lock.front_door", lock.Snapshot{NukiID: 1, Name: "Front Door", Locked: true, Available: true})

	select {
	case raw := <-subscribed.send:
		var msg struct {
			Type      string       `json:"type"`
			EventType string       `json:"event_type"`
			Payload   LockResponse `json:"payload"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != WSTypeEvent || msg.EventType != ChannelLockState {
			t.Errorf("type = %q, event_type = %q", msg.Type, msg.EventType)
		}
		if msg.Payload.EntityID != "lock.front_door" || msg.Payload.State != "locked" {
			t.Errorf("payload = %+v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast message")
	}

	select {
	case <-other.send:
		t.Error("unsubscribed client should not receive message")
	default:
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	if hub.pingInterval != defaultPingInterval || hub.pongWait != defaultPongTimeout {
		t.Errorf("defaults = %v/%v", hub.pingInterval, hub.pongWait)
	}

	client := newTestClient(hub)
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
	if _, ok := <-client.send; ok {
		t.Error("send channel should be closed")
	}

	// Sending to a departed client must not panic.
	client.trySend([]byte("late"))
}

// ─── WebSocket over HTTP ──────────────────────────────────────────

func wsURL(base, query string) string {
	return "ws" + strings.TrimPrefix(base, "http") + "/api/v1/ws" + query
}

func fetchTicket(t *testing.T, base string) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, base+"/api/v1/auth/ws-ticket", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, auth.RoleViewer))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ws-ticket request failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	return body.Ticket
}

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	srv := testServer(t, testDeps(newMockLocks(), testSecret))
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "?ticket="+fetchTicket(t, ts.URL)), nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelLockState}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	srv.Hub().BroadcastLockState("lock.front_door", lock.Snapshot{NukiID: 1, Locked: false, Available: true})

	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if resp.Type != WSTypeEvent || resp.EventType != ChannelLockState {
		t.Errorf("broadcast = %+v", resp)
	}

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if resp.Type != WSTypePong || resp.ID != "p-1" {
		t.Errorf("pong = %+v", resp)
	}

	if err := ws.WriteJSON(WSMessage{Type: "bogus", ID: "b-1"}); err != nil {
		t.Fatalf("write bogus: %v", err)
	}
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if resp.Type != WSTypeError {
		t.Errorf("type = %q, want %q", resp.Type, WSTypeError)
	}
}

func TestWebSocket_TicketRequired(t *testing.T) {
	srv := testServer(t, testDeps(newMockLocks(), testSecret))
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	for _, query := range []string{"", "?ticket=invalid-ticket"} {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, query), nil)
		if err == nil {
			t.Fatalf("dial %q: expected error", query)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("dial %q: response = %v, want 401", query, resp)
		}
	}
}

func TestWebSocket_NoTicketWhenAuthDisabled(t *testing.T) {
	srv := testServer(t, testDeps(newMockLocks(), ""))
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, ""), nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	ws.Close()
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	srv := testServer(t, testDeps(newMockLocks(), ""))

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}

	addr := srv.Addr()
	if addr == "" {
		t.Fatal("Addr() empty after Start")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}

	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if srv.Addr() != "" {
		t.Error("Addr() should be empty after Close")
	}
}
