// ABOUTME: Request payloads accepted by the record service
// ABOUTME: Normalizes user ids and epoch-millisecond deadlines from JSON

package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// UserID is a user identifier that may arrive as a JSON string or number.
type UserID string

// UnmarshalJSON accepts "123", 123 and null.
func (id *UserID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = UserID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number")
	}
	if i, err := n.Int64(); err == nil {
		*id = UserID(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("id must be a string or number")
	}
	*id = UserID(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

// UserInput is the body of a user upsert.
type UserInput struct {
	ID        UserID `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Lang      string `json:"lang"`
}

// SessionInput is the body of a session write.
// Data is normally a JSON string holding the encoded state; any other JSON
// value is stored as its compact encoding.
type SessionInput struct {
	Data      json.RawMessage `json:"data"`
	ExpiresAt *int64          `json:"expiresAt"`
}

// emptySessionData is stored when a write carries no data.
const emptySessionData = "{}"

// sessionData returns the string to store for a session write.
func (in SessionInput) sessionData() (string, error) {
	raw := bytes.TrimSpace(in.Data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return emptySessionData, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", invalid("data", "data must be a string")
		}
		if s == "" {
			return emptySessionData, nil
		}
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", invalid("data", "data must be valid JSON")
	}
	return buf.String(), nil
}

// CompletionInput is the body of a completion write.
type CompletionInput struct {
	ExpiresAt *int64 `json:"expiresAt"`
}

// deadline converts optional epoch millis to an optional time.
func deadline(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}
