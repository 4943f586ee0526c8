// ABOUTME: Store interface and record types for botkeep persistence
// ABOUTME: Defines User, Session, Completion and the storage error taxonomy

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// ErrStorage classifies failures of the underlying database engine.
// Every *StorageError matches it via errors.Is.
var ErrStorage = errors.New("storage error")

// StorageError wraps an engine failure with the operation that produced it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports ErrStorage so callers can classify without knowing the op.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Listing bounds applied by ListUserIDs.
const (
	DefaultListLimit = 200
	MaxListLimit     = 1000
)

// User is a bot user keyed by an externally assigned id (e.g. a Telegram user id).
type User struct {
	ID        string
	Username  string
	FirstName string
	LastName  string
	Lang      string
	UpdatedAt time.Time
}

// Session holds the bot's opaque per-user state. At most one per user.
type Session struct {
	UserID    string
	Data      string     // opaque, usually JSON; never interpreted by the store
	ExpiresAt *time.Time // nil means the session never expires
	UpdatedAt time.Time
}

// Completion marks that a user has completed the bot flow.
type Completion struct {
	UserID    string
	ExpiresAt *time.Time
	UpdatedAt time.Time
}

// Expired reports whether the session has a deadline strictly before now.
func (s *Session) Expired(now time.Time) bool {
	return isExpired(s.ExpiresAt, now)
}

// Active reports whether the completion still counts at now: no deadline, or
// a deadline still in the future.
func (c *Completion) Active(now time.Time) bool {
	return c.ExpiresAt == nil || c.ExpiresAt.After(now)
}

func isExpired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && expiresAt.Before(now)
}

// CleanupResult reports rows removed by CleanupExpired.
type CleanupResult struct {
	Sessions    int64
	Completions int64
}

// PurgeResult reports rows removed by PurgeAll.
type PurgeResult struct {
	Users       int64
	Sessions    int64
	Completions int64
}

// Store defines the persistence operations for users, sessions and completions.
// Every operation is a single independent statement; there are no cross-row
// transactions.
type Store interface {
	// Users
	UpsertUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	ListUserIDs(ctx context.Context, limit, offset int) ([]string, error)
	CountUsers(ctx context.Context) (int, error)

	// Sessions
	GetSession(ctx context.Context, userID string) (*Session, error)
	SetSession(ctx context.Context, userID, data string, expiresAt *time.Time) error
	DeleteSession(ctx context.Context, userID string) (bool, error)

	// Completions
	GetCompletion(ctx context.Context, userID string) (*Completion, error)
	SetCompletion(ctx context.Context, userID string, expiresAt *time.Time) error
	DeleteCompletion(ctx context.Context, userID string) (bool, error)

	// Maintenance
	CleanupExpired(ctx context.Context, now time.Time) (CleanupResult, error)
	PurgeAll(ctx context.Context) (PurgeResult, error)

	Ping(ctx context.Context) error
	Close() error
}

// normalizeListWindow applies the default and maximum limit and clamps offset.
func normalizeListWindow(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// defaultSessionData is stored when a session is written without data.
const defaultSessionData = "{}"

// toMillis converts a time to epoch milliseconds.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// fromMillis converts epoch milliseconds to a UTC time.
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// nullableMillis converts an optional deadline into a value for a nullable column.
func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}
