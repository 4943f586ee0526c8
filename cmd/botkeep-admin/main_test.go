// ABOUTME: Tests for the botkeep-admin CLI
// ABOUTME: Drives each subcommand against a real API handler backed by the mock store

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/botkeep/internal/api"
	"github.com/2389/botkeep/internal/auth"
	"github.com/2389/botkeep/internal/records"
	"github.com/2389/botkeep/internal/store"
)

const (
	adminKey = "admin-secret"
	botKey   = "bot-secret"
)

type testServer struct {
	url   string
	store *store.MockStore
	svc   *records.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	color.NoColor = true

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMockStore()
	svc := records.NewService(st, records.WithLogger(logger))

	issuer, err := auth.NewTokenIssuer([]byte(strings.Repeat("k", 32)), time.Minute)
	require.NoError(t, err)
	gate := auth.NewGate(auth.Keys{Admin: adminKey, Bot: botKey}, issuer, logger)

	h := api.NewHandler(api.Options{Service: svc, Gate: gate, Logger: logger})
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)

	return &testServer{url: srv.URL, store: st, svc: svc}
}

// run executes the CLI with the server's URL and keys prepended.
func (s *testServer) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--url", s.url, "--admin-key", adminKey, "--bot-key", botKey}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (s *testServer) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := s.svc.UpsertUser(ctx, records.UserInput{ID: "42", Username: "neo", FirstName: "Thomas", LastName: "Anderson", Lang: "en"})
	require.NoError(t, err)
	require.NoError(t, s.svc.PutSession(ctx, "42", records.SessionInput{
		Data: json.RawMessage(`"{\"step\":\"q3\",\"mode\":\"exam\"}"`),
	}))
	require.NoError(t, s.svc.PutCompletion(ctx, "42", records.CompletionInput{}))
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "botkeep-admin", cmd.Use)

	for _, name := range []string{"users", "user", "session", "completion", "cleanup", "purge", "token", "health"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	s := newTestServer(t)
	_, err := s.run(t, "users", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestUsers_Text(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	out, err := s.run(t, "users")
	require.NoError(t, err)
	assert.Contains(t, out, "USERNAME")
	assert.Contains(t, out, "neo")
	assert.Contains(t, out, "Thomas Anderson")
	assert.Contains(t, out, "q3")
	assert.Contains(t, out, "exam")
	assert.Contains(t, out, "yes")
	assert.Contains(t, out, "1 shown, total 1")
}

func TestUsers_Empty(t *testing.T) {
	s := newTestServer(t)

	out, err := s.run(t, "users")
	require.NoError(t, err)
	assert.Contains(t, out, "(no users)")
}

func TestUsers_JSON(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	out, err := s.run(t, "users", "--format", "json", "--limit", "10")
	require.NoError(t, err)

	var result records.ListResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Users, 1)
	assert.Equal(t, "42", result.Users[0].ID)
	assert.True(t, result.Users[0].Completed)
}

func TestUsers_WrongKey(t *testing.T) {
	s := newTestServer(t)

	_, err := s.run(t, "users", "--admin-key", "nope")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "unauthorized", apiErr.Message)
}

func TestUser(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	out, err := s.run(t, "user", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "User 42")
	assert.Contains(t, out, "Anderson")

	_, err = s.run(t, "user", "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestSessionAndCompletion(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	out, err := s.run(t, "session", "42")
	require.NoError(t, err)
	assert.Contains(t, out, `{"step":"q3","mode":"exam"}`)
	assert.Contains(t, out, "Expires: never")

	out, err = s.run(t, "completion", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "Completion 42")

	out, err = s.run(t, "session", "42", "--delete")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted session for 42")

	_, sessions, _ := s.store.Counts()
	assert.Zero(t, sessions)
}

func TestCleanup(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	past := int64(1_000)
	require.NoError(t, s.svc.PutSession(ctx, "1", records.SessionInput{ExpiresAt: &past}))
	require.NoError(t, s.svc.PutCompletion(ctx, "1", records.CompletionInput{ExpiresAt: &past}))

	out, err := s.run(t, "cleanup", "--now", "2000")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 expired session(s) and 1 expired completion(s)")
}

func TestPurge(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	_, err := s.run(t, "purge")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	users, _, _ := s.store.Counts()
	assert.Equal(t, 1, users, "refused purge leaves data")

	out, err := s.run(t, "purge", "--confirm", records.ConfirmPhrase)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 user(s), 1 session(s), 1 completion(s)")
}

func TestToken(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	out, err := s.run(t, "token", "--format", "json")
	require.NoError(t, err)

	var tok api.TokenResponse
	require.NoError(t, json.Unmarshal([]byte(out), &tok))
	require.NotEmpty(t, tok.Token)

	// The token replaces the admin key.
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--url", s.url, "--token", tok.Token, "users"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "neo")

	// Issuing a new token still uses the admin key when a token is set.
	out, err = s.run(t, "token", "--token", tok.Token)
	require.NoError(t, err)
	assert.Contains(t, out, "expires")
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	out, err := s.run(t, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "healthy (OK)")

	s.store.SetErr(errors.New("disk gone"))
	_, err = s.run(t, "health")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
}

func TestClient_MissingCredentials(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", "", "")
	err := c.Do(context.Background(), http.MethodGet, "/api/users", auth.ClassAdmin, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin key required")

	err = c.Do(context.Background(), http.MethodGet, "/api/session/1", auth.ClassBot, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot key required")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "привет", truncate("привет", 6))
}
