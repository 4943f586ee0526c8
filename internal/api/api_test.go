// ABOUTME: Tests for the HTTP API against an in-memory store
// ABOUTME: Covers routing, caller classes, JSON shapes, purge/cleanup and the listing golden file

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/botkeep/internal/auth"
	"github.com/2389/botkeep/internal/records"
	"github.com/2389/botkeep/internal/store"
)

const (
	testAdminKey    = "admin-test-key"
	testBotKey      = "bot-test-key"
	testTokenSecret = "api-test-token-secret-32-bytes!!"
)

var (
	adminHeaders = map[string]string{auth.HeaderAdminKey: testAdminKey}
	botHeaders   = map[string]string{auth.HeaderBotKey: testBotKey}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.UnixMilli(ms)
}

type testAPI struct {
	handler http.Handler
	store   *store.MockStore
	clock   *testClock
}

type apiOption func(*Options)

func newTestAPI(t *testing.T, opts ...apiOption) *testAPI {
	t.Helper()

	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	st := store.NewMockStore()
	st.SetClock(clock.Now)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	issuer, err := auth.NewTokenIssuer([]byte(testTokenSecret), time.Minute)
	require.NoError(t, err)

	o := Options{
		Service: records.NewService(st, records.WithClock(clock.Now), records.WithLogger(logger)),
		Gate:    auth.NewGate(auth.Keys{Admin: testAdminKey, Bot: testBotKey}, issuer, logger),
		Logger:  logger,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &testAPI{handler: NewHandler(o).Routes(), store: st, clock: clock}
}

func (a *testAPI) do(t *testing.T, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = a.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHealth_StoreDown(t *testing.T) {
	a := newTestAPI(t)
	a.store.Err = errors.New("database is locked")

	rec := a.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Liveness does not depend on the store.
	rec = a.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnauthorizedRequestsChangeNothing(t *testing.T) {
	a := newTestAPI(t)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/users/upsert", `{"id":"1"}`, botHeaders).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/session/1", `{"data":"{}"}`, botHeaders).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/completion/1", `{}`, botHeaders).Code)

	wrongBot := map[string]string{auth.HeaderBotKey: "wrong"}
	tests := []struct {
		name    string
		method  string
		target  string
		body    string
		headers map[string]string
	}{
		{"list without key", http.MethodGet, "/api/users", "", nil},
		{"list with bot key", http.MethodGet, "/api/users", "", botHeaders},
		{"upsert without key", http.MethodPost, "/api/users/upsert", `{"id":"2"}`, nil},
		{"upsert with admin key", http.MethodPost, "/api/users/upsert", `{"id":"2"}`, adminHeaders},
		{"get user wrong key", http.MethodGet, "/api/users/1", "", wrongBot},
		{"put session wrong key", http.MethodPut, "/api/session/2", `{}`, wrongBot},
		{"delete session without key", http.MethodDelete, "/api/session/1", "", nil},
		{"put completion with admin key", http.MethodPut, "/api/completion/2", `{}`, adminHeaders},
		{"delete completion without key", http.MethodDelete, "/api/completion/1", "", nil},
		{"purge with bot key", http.MethodDelete, "/api/admin/purge?confirm=ERASE", "", botHeaders},
		{"purge with admin key in botKey param", http.MethodDelete, "/api/admin/purge?confirm=ERASE&botKey=" + testAdminKey, "", nil},
		{"cleanup without key", http.MethodPost, "/api/admin/cleanup?now=99999999999999", "", nil},
		{"token with bot key", http.MethodPost, "/api/admin/token", "", botHeaders},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, tt.method, tt.target, tt.body, tt.headers)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())

			users, sessions, completions := a.store.Counts()
			assert.Equal(t, []int{1, 1, 1}, []int{users, sessions, completions})
		})
	}
}

func TestQueryCredentials(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/users/upsert?botKey="+testBotKey, `{"id":"5"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/users?key="+testAdminKey, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpsertAndGetUser(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/users/upsert",
		`{"id":12345,"username":"alice","first_name":"Alice","last_name":"Liddell","lang":"en"}`, botHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	want := `{"id":"12345","username":"alice","first_name":"Alice","last_name":"Liddell","lang":"en","updated_at":1700000000000}`

	rec = a.do(t, http.MethodGet, "/api/users/12345", "", botHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, want, rec.Body.String())

	// Admins may read single users too.
	rec = a.do(t, http.MethodGet, "/api/users/12345", "", adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, want, rec.Body.String())
}

func TestUpsertUser_Validation(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/users/upsert", `{"username":"nobody"}`, botHeaders)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"id required"}`, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/api/users/upsert", `{"id":`, botHeaders)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid JSON body"}`, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/api/users/upsert", `{"id":"1"}garbage`, botHeaders)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid JSON body"}`, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/api/users/upsert", `{"id":"1"}{"id":"2"}`, botHeaders)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "second JSON value")

	rec = a.do(t, http.MethodPost, "/api/users/upsert", "", botHeaders)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty body has no id")

	users, _, _ := a.store.Counts()
	assert.Zero(t, users)

	rec = a.do(t, http.MethodPost, "/api/users/upsert", "{\"id\":\"1\"}\n", botHeaders)
	assert.Equal(t, http.StatusOK, rec.Code, "trailing whitespace is fine")
}

func TestGetUser_NotFound(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/users/missing", "", botHeaders)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rec.Body.String())
}

func TestSessionRoundTrip(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPut, "/api/session/7", `{"data":"{\"step\":\"intro\"}","expiresAt":1700000100000}`, botHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/session/7", "", botHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":"{\"step\":\"intro\"}","expires_at":1700000100000}`, rec.Body.String())

	// A write without data or expiry replaces the whole row.
	rec = a.do(t, http.MethodPut, "/api/session/7", "", botHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodGet, "/api/session/7", "", botHeaders)
	assert.JSONEq(t, `{"data":"{}","expires_at":null}`, rec.Body.String())

	rec = a.do(t, http.MethodDelete, "/api/session/7", "", botHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/session/7", "", botHeaders)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Deleting a missing session still answers ok.
	rec = a.do(t, http.MethodDelete, "/api/session/7", "", botHeaders)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCompletionRoundTrip(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPut, "/api/completion/9", `{"expiresAt":null}`, botHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/completion/9", "", botHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"expires_at":null}`, rec.Body.String())

	rec = a.do(t, http.MethodPut, "/api/completion/9", `{"expiresAt":1800000000000}`, botHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodGet, "/api/completion/9", "", botHeaders)
	assert.JSONEq(t, `{"expires_at":1800000000000}`, rec.Body.String())

	rec = a.do(t, http.MethodDelete, "/api/completion/9", "", botHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodGet, "/api/completion/9", "", botHeaders)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func seedOne(t *testing.T, a *testAPI) {
	t.Helper()
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/users/upsert", `{"id":"1"}`, botHeaders).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/session/1", `{}`, botHeaders).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/completion/1", `{}`, botHeaders).Code)
}

func TestPurge_RequiresConfirmation(t *testing.T) {
	a := newTestAPI(t)
	seedOne(t, a)

	for _, target := range []string{"/api/admin/purge", "/api/admin/purge?confirm=erase", "/api/admin/purge?confirm=yes"} {
		rec := a.do(t, http.MethodDelete, target, "", adminHeaders)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.JSONEq(t, `{"error":"Set confirm=ERASE to purge"}`, rec.Body.String())
	}

	users, sessions, completions := a.store.Counts()
	assert.Equal(t, []int{1, 1, 1}, []int{users, sessions, completions})
}

func TestPurge_QueryConfirmation(t *testing.T) {
	a := newTestAPI(t)
	seedOne(t, a)

	rec := a.do(t, http.MethodDelete, "/api/admin/purge?confirm=ERASE", "", adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"deleted":{"users":1,"sessions":1,"completions":1}}`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/users/1", "", botHeaders)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPurge_BodyConfirmation(t *testing.T) {
	a := newTestAPI(t)
	seedOne(t, a)

	rec := a.do(t, http.MethodDelete, "/api/admin/purge", `{"confirm":"ERASE"}`, adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	users, sessions, completions := a.store.Counts()
	assert.Equal(t, []int{0, 0, 0}, []int{users, sessions, completions})
}

func TestCleanup(t *testing.T) {
	a := newTestAPI(t)

	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/session/old", `{"expiresAt":100}`, botHeaders).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/session/new", `{"expiresAt":5000}`, botHeaders).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/completion/old", `{"expiresAt":100}`, botHeaders).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/completion/keep", `{}`, botHeaders).Code)

	rec := a.do(t, http.MethodPost, "/api/admin/cleanup?now=1000", "", adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"deleted":{"sessions":1,"completions":1}}`, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/api/admin/cleanup", `{"now":6000}`, adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"deleted":{"sessions":1,"completions":0}}`, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/api/admin/cleanup?now=soon", "", adminHeaders)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCleanup_DefaultsToServerClock(t *testing.T) {
	a := newTestAPI(t)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/session/old", `{"expiresAt":1699999999999}`, botHeaders).Code)

	rec := a.do(t, http.MethodPost, "/api/admin/cleanup", "", adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"deleted":{"sessions":1,"completions":0}}`, rec.Body.String())
}

func TestListUsers_Golden(t *testing.T) {
	a := newTestAPI(t)

	a.clock.Set(1_700_000_000_000)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/users/upsert",
		`{"id":100,"username":"alice","first_name":"Alice","last_name":"Liddell","lang":"en"}`, botHeaders).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/session/100",
		`{"data":"{\"step\":\"intro\",\"mode\":\"quiz\"}"}`, botHeaders).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/completion/100", `{}`, botHeaders).Code)

	a.clock.Set(1_700_000_001_000)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/users/upsert",
		`{"id":"200","username":"bob"}`, botHeaders).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/session/200",
		`{"data":"not-json"}`, botHeaders).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/completion/200",
		`{"expiresAt":1600000000000}`, botHeaders).Code)

	a.clock.Set(1_700_000_002_000)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/users/upsert",
		`{"id":"300","username":"carol","first_name":"Carol","lang":"ru"}`, botHeaders).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/session/300",
		`{"data":"{\"step\":\"q5\",\"test\":{\"mode\":\"exam\"}}"}`, botHeaders).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/completion/300",
		`{"expiresAt":1800000000000}`, botHeaders).Code)

	a.clock.Set(1_700_000_003_000)
	rec := a.do(t, http.MethodGet, "/api/users", "", adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	var pretty bytes.Buffer
	require.NoError(t, json.Indent(&pretty, bytes.TrimSpace(rec.Body.Bytes()), "", "  "))
	pretty.WriteByte('\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "list_users", pretty.Bytes())
}

func TestListUsers_Paging(t *testing.T) {
	a := newTestAPI(t)
	for i, id := range []string{"a", "b", "c"} {
		a.clock.Set(int64(100 * (i + 1)))
		require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/users/upsert", `{"id":"`+id+`"}`, botHeaders).Code)
	}

	rec := a.do(t, http.MethodGet, "/api/users?limit=2&offset=1", "", adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	var page records.ListResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Users, 2)
	assert.Equal(t, "b", page.Users[0].ID)
	assert.Equal(t, "a", page.Users[1].ID)
	assert.Equal(t, 3, page.Total)

	rec = a.do(t, http.MethodGet, "/api/users?limit=ten", "", adminHeaders)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"limit must be an integer"}`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/users?offset=-3", "", adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decodeBody(t, rec)["total"])
}

func TestListUsers_EmptyIsArray(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/users", "", adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total":0,"users":[]}`, rec.Body.String())
}

func TestStorageFailureIs500(t *testing.T) {
	a := newTestAPI(t)
	a.store.Err = errors.New("disk I/O error")

	rec := a.do(t, http.MethodGet, "/api/session/1", "", botHeaders)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "disk I/O error")
}

func TestBearerToken(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/admin/token", "", adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	var tok TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.NotEmpty(t, tok.Token)
	assert.Greater(t, tok.ExpiresAt, time.Now().UnixMilli())

	rec = a.do(t, http.MethodGet, "/api/users", "", map[string]string{"Authorization": "Bearer " + tok.Token})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Bearer tokens do not grant bot access.
	rec = a.do(t, http.MethodGet, "/api/session/1", "", map[string]string{"Authorization": "Bearer " + tok.Token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerToken_CannotIssueToken(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/admin/token", "", adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	var tok TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))

	// A token must not be able to extend its own lifetime.
	rec = a.do(t, http.MethodPost, "/api/admin/token", "", map[string]string{"Authorization": "Bearer " + tok.Token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
}

func TestBearerToken_Disabled(t *testing.T) {
	a := newTestAPI(t, func(o *Options) {
		o.Gate = auth.NewGate(auth.Keys{Admin: testAdminKey, Bot: testBotKey}, nil, nil)
	})

	rec := a.do(t, http.MethodPost, "/api/admin/token", "", adminHeaders)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"bearer tokens are not enabled"}`, rec.Body.String())
}

func TestMethodNotAllowed(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/session/1", `{}`, botHeaders)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
