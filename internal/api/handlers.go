// ABOUTME: HTTP handlers mapping API routes onto the record service
// ABOUTME: Decodes request bodies and query parameters, encodes JSON results

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/2389/botkeep/internal/auth"
	"github.com/2389/botkeep/internal/records"
)

// handleLiveness answers GET /healthz without touching the store.
func (h *Handler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleHealth answers GET /health, returning 503 when the store is unreachable.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := h.svc.HealthCheck(r.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleListUsers handles GET /api/users?limit=&offset=.
func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := intParam(r, "offset")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	page, err := h.svc.ListUsers(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleUpsertUser handles POST /api/users/upsert.
func (h *Handler) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	var in records.UserInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.svc.UpsertUser(r.Context(), in); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// handleGetUser handles GET /api/users/{id}.
func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse(user))
}

// handleGetSession handles GET /api/session/{id}.
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Data: sess.Data, ExpiresAt: millisPtr(sess.ExpiresAt)})
}

// handlePutSession handles PUT /api/session/{id}.
func (h *Handler) handlePutSession(w http.ResponseWriter, r *http.Request) {
	var in records.SessionInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.PutSession(r.Context(), r.PathValue("id"), in); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// handleDeleteSession handles DELETE /api/session/{id}.
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// handleGetCompletion handles GET /api/completion/{id}.
func (h *Handler) handleGetCompletion(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetCompletion(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CompletionResponse{ExpiresAt: millisPtr(c.ExpiresAt)})
}

// handlePutCompletion handles PUT /api/completion/{id}.
func (h *Handler) handlePutCompletion(w http.ResponseWriter, r *http.Request) {
	var in records.CompletionInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.PutCompletion(r.Context(), r.PathValue("id"), in); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// handleDeleteCompletion handles DELETE /api/completion/{id}.
func (h *Handler) handleDeleteCompletion(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteCompletion(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// handlePurge handles DELETE /api/admin/purge. The confirmation comes from
// the "confirm" query parameter or, failing that, the JSON body.
func (h *Handler) handlePurge(w http.ResponseWriter, r *http.Request) {
	confirm := r.URL.Query().Get("confirm")
	if confirm == "" {
		var body ConfirmRequest
		if err := decodeJSON(r, &body); err != nil {
			h.writeError(w, r, err)
			return
		}
		confirm = body.Confirm
	}

	res, err := h.svc.PurgeAll(r.Context(), confirm)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PurgeResponse{
		OK: true,
		Deleted: PurgeCounts{
			Users:       res.Users,
			Sessions:    res.Sessions,
			Completions: res.Completions,
		},
	})
}

// handleCleanup handles POST /api/admin/cleanup. An optional "now" (epoch
// millis, query or JSON body) replaces the server clock as the cutoff.
func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var now time.Time
	if r.URL.Query().Get("now") != "" {
		ms, err := int64Param(r, "now")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		now = time.UnixMilli(ms)
	} else {
		var body CleanupRequest
		if err := decodeJSON(r, &body); err != nil {
			h.writeError(w, r, err)
			return
		}
		if body.Now != nil {
			now = time.UnixMilli(*body.Now)
		}
	}

	res, err := h.svc.CleanupExpired(r.Context(), now)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CleanupResponse{
		OK:      true,
		Deleted: CleanupCounts{Sessions: res.Sessions, Completions: res.Completions},
	})
}

// handleIssueToken handles POST /api/admin/token.
func (h *Handler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	issuer := h.gate.Tokens()
	if issuer == nil {
		sendJSONError(w, http.StatusNotFound, "bearer tokens are not enabled")
		return
	}

	token, expiresAt, err := issuer.Issue(auth.ClassAdmin)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt.UnixMilli(),
	})
}

// intParam parses an optional integer query parameter; absent means 0.
func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &records.ValidationError{Field: name, Message: name + " must be an integer"}
	}
	return n, nil
}

func int64Param(r *http.Request, name string) (int64, error) {
	n, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	if err != nil {
		return 0, &records.ValidationError{Field: name, Message: name + " must be an integer"}
	}
	return n, nil
}

func millisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
