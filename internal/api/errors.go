// ABOUTME: JSON encoding helpers and the error-to-status mapping for the API
// ABOUTME: Every failure leaves the API as {"error": message}

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/2389/botkeep/internal/auth"
	"github.com/2389/botkeep/internal/records"
	"github.com/2389/botkeep/internal/store"
)

// errBodyTooLarge is returned by decodeJSON when the body exceeds the limit.
var errBodyTooLarge = errors.New("request body too large")

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps a service error onto a status code and writes it.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *records.ValidationError
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		sendJSONError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, errBodyTooLarge):
		sendJSONError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.As(err, &ve):
		sendJSONError(w, http.StatusBadRequest, ve.Message)
	case errors.Is(err, store.ErrNotFound):
		sendJSONError(w, http.StatusNotFound, "not found")
	default:
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
			"error", err,
		)
		sendJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON decodes the request body into v. An empty body leaves v
// untouched, matching clients that send no body for optional fields.
// Anything after the first JSON value is rejected.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	err := dec.Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		var extra json.RawMessage
		if err = dec.Decode(&extra); errors.Is(err, io.EOF) {
			return nil
		}
		if err == nil {
			err = errors.New("trailing data after JSON body")
		}
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errBodyTooLarge
	}
	return &records.ValidationError{Field: "body", Message: "invalid JSON body"}
}
