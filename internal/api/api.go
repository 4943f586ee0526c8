// ABOUTME: HTTP API for botkeep records, shared by the admin and the bot
// ABOUTME: Builds the route table and the JSON request/response shapes

package api

import (
	"log/slog"
	"net/http"

	"github.com/2389/botkeep/internal/auth"
	"github.com/2389/botkeep/internal/records"
	"github.com/2389/botkeep/internal/store"
)

// DefaultMaxBodyBytes caps request bodies when Options.MaxBodyBytes is unset.
const DefaultMaxBodyBytes = 10 << 20

// Options configures a Handler.
type Options struct {
	Service        *records.Service
	Gate           *auth.Gate
	Logger         *slog.Logger
	MaxBodyBytes   int64
	AllowedOrigins []string // "*" allows any origin; empty means "*"
}

// Handler serves the botkeep HTTP API.
type Handler struct {
	svc          *records.Service
	gate         *auth.Gate
	logger       *slog.Logger
	maxBodyBytes int64
	origins      []string
}

// NewHandler creates the API handler.
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Handler{
		svc:          opts.Service,
		gate:         opts.Gate,
		logger:       logger.With("component", "api"),
		maxBodyBytes: maxBody,
		origins:      origins,
	}
}

// Routes returns the API mux wrapped in request logging, CORS and body limits.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	admin := h.gate.Require(auth.ClassAdmin)
	bot := h.gate.Require(auth.ClassBot)
	either := h.gate.Require(auth.ClassBot, auth.ClassAdmin)

	mux.HandleFunc("GET /healthz", h.handleLiveness)
	mux.HandleFunc("GET /health", h.handleHealth)

	mux.Handle("GET /api/users", admin(http.HandlerFunc(h.handleListUsers)))
	mux.Handle("POST /api/users/upsert", bot(http.HandlerFunc(h.handleUpsertUser)))
	mux.Handle("GET /api/users/{id}", either(http.HandlerFunc(h.handleGetUser)))

	mux.Handle("GET /api/session/{id}", bot(http.HandlerFunc(h.handleGetSession)))
	mux.Handle("PUT /api/session/{id}", bot(http.HandlerFunc(h.handlePutSession)))
	mux.Handle("DELETE /api/session/{id}", bot(http.HandlerFunc(h.handleDeleteSession)))

	mux.Handle("GET /api/completion/{id}", bot(http.HandlerFunc(h.handleGetCompletion)))
	mux.Handle("PUT /api/completion/{id}", bot(http.HandlerFunc(h.handlePutCompletion)))
	mux.Handle("DELETE /api/completion/{id}", bot(http.HandlerFunc(h.handleDeleteCompletion)))

	mux.Handle("DELETE /api/admin/purge", admin(http.HandlerFunc(h.handlePurge)))
	mux.Handle("POST /api/admin/cleanup", admin(http.HandlerFunc(h.handleCleanup)))
	mux.Handle("POST /api/admin/token", h.gate.RequireKey(auth.ClassAdmin)(http.HandlerFunc(h.handleIssueToken)))

	return h.requestLog(h.cors(h.limitBody(mux)))
}

// UserResponse is the JSON shape of a stored user.
type UserResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Lang      string `json:"lang"`
	UpdatedAt *int64 `json:"updated_at"`
}

// SessionResponse is the JSON shape of a stored session.
type SessionResponse struct {
	Data      string `json:"data"`
	ExpiresAt *int64 `json:"expires_at"`
}

// CompletionResponse is the JSON shape of a stored completion.
type CompletionResponse struct {
	ExpiresAt *int64 `json:"expires_at"`
}

// OKResponse acknowledges a mutation.
type OKResponse struct {
	OK bool `json:"ok"`
}

// PurgeResponse reports rows removed by a purge.
type PurgeResponse struct {
	OK      bool        `json:"ok"`
	Deleted PurgeCounts `json:"deleted"`
}

// PurgeCounts is the per-table deletion count of a purge.
type PurgeCounts struct {
	Users       int64 `json:"users"`
	Sessions    int64 `json:"sessions"`
	Completions int64 `json:"completions"`
}

// CleanupResponse reports rows removed by an expiry cleanup.
type CleanupResponse struct {
	OK      bool          `json:"ok"`
	Deleted CleanupCounts `json:"deleted"`
}

// CleanupCounts is the per-table deletion count of a cleanup.
type CleanupCounts struct {
	Sessions    int64 `json:"sessions"`
	Completions int64 `json:"completions"`
}

// TokenResponse carries an admin bearer token.
type TokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt int64  `json:"expires_at"`
}

// ConfirmRequest is the optional JSON body of a purge.
type ConfirmRequest struct {
	Confirm string `json:"confirm"`
}

// CleanupRequest is the optional JSON body of a cleanup.
type CleanupRequest struct {
	Now *int64 `json:"now"`
}

func userResponse(u *store.User) UserResponse {
	resp := UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Lang:      u.Lang,
	}
	if !u.UpdatedAt.IsZero() {
		ms := u.UpdatedAt.UnixMilli()
		resp.UpdatedAt = &ms
	}
	return resp
}
