// ABOUTME: SQLite implementation of the Store interface using sqlx
// ABOUTME: Supports the pure-Go modernc driver and the cgo mattn driver

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names accepted by NewSQLiteStore.
const (
	DriverSQLite  = "sqlite"  // modernc.org/sqlite, pure Go
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3, requires cgo
)

func init() {
	// sqlx knows "sqlite3" but not the modernc driver name.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT,
		first_name TEXT,
		last_name TEXT,
		lang TEXT,
		updated_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS sessions (
		user_id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		expires_at INTEGER,
		updated_at INTEGER,
		FOREIGN KEY(user_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS completions (
		user_id TEXT PRIMARY KEY,
		expires_at INTEGER,
		updated_at INTEGER,
		FOREIGN KEY(user_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_completions_expires ON completions(expires_at);
`

// Sessions and completions may reference users that were never upserted, so
// foreign keys stay declared but unenforced.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = OFF",
}

// Option configures a SQLiteStore.
type Option func(*options)

type options struct {
	driver string
	now    func() time.Time
	logger *slog.Logger
}

// WithDriver selects the database/sql driver (DriverSQLite or DriverSQLite3).
func WithDriver(name string) Option {
	return func(o *options) {
		if name != "" {
			o.driver = name
		}
	}
}

// WithClock overrides the clock used to stamp updated_at.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger; a "component" attribute is added.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db     *sqlx.DB
	now    func() time.Time
	logger *slog.Logger
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
// Parent directories are created if needed.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	o := options{
		driver: DriverSQLite,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.driver != DriverSQLite && o.driver != DriverSQLite3 {
		return nil, fmt.Errorf("unsupported sqlite driver %q", o.driver)
	}
	logger := o.logger.With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqlx.Open(o.driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite serializes writers; one connection also keeps :memory: databases
	// and per-connection pragmas consistent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", o.driver)
	return &SQLiteStore{db: db, now: o.now, logger: logger}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("pinging database", err)
	}
	return nil
}

// userRow mirrors the users table; text columns are nullable in legacy files.
type userRow struct {
	ID        string         `db:"id"`
	Username  sql.NullString `db:"username"`
	FirstName sql.NullString `db:"first_name"`
	LastName  sql.NullString `db:"last_name"`
	Lang      sql.NullString `db:"lang"`
	UpdatedAt sql.NullInt64  `db:"updated_at"`
}

func (r *userRow) toUser() *User {
	u := &User{
		ID:        r.ID,
		Username:  r.Username.String,
		FirstName: r.FirstName.String,
		LastName:  r.LastName.String,
		Lang:      r.Lang.String,
	}
	if r.UpdatedAt.Valid {
		u.UpdatedAt = fromMillis(r.UpdatedAt.Int64)
	}
	return u
}

type sessionRow struct {
	UserID    string        `db:"user_id"`
	Data      string        `db:"data"`
	ExpiresAt sql.NullInt64 `db:"expires_at"`
	UpdatedAt sql.NullInt64 `db:"updated_at"`
}

type completionRow struct {
	UserID    string        `db:"user_id"`
	ExpiresAt sql.NullInt64 `db:"expires_at"`
	UpdatedAt sql.NullInt64 `db:"updated_at"`
}

func optionalTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func plainTime(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return fromMillis(v.Int64)
}

// UpsertUser inserts the user or overwrites every column of the existing row.
// updated_at is stamped from the store clock; user.UpdatedAt is set to the
// persisted value on success.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, username, first_name, last_name, lang, updated_at)
		VALUES (:id, :username, :first_name, :last_name, :lang, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			lang = excluded.lang,
			updated_at = excluded.updated_at
	`

	now := s.now()
	_, err := s.db.NamedExecContext(ctx, query, map[string]any{
		"id":         user.ID,
		"username":   user.Username,
		"first_name": user.FirstName,
		"last_name":  user.LastName,
		"lang":       user.Lang,
		"updated_at": toMillis(now),
	})
	if err != nil {
		return storageErr("upserting user", err)
	}

	user.UpdatedAt = fromMillis(toMillis(now))
	s.logger.Debug("upserted user", "id", user.ID)
	return nil
}

// GetUser retrieves a user by id.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, username, first_name, last_name, lang, updated_at
		FROM users
		WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("querying user", err)
	}
	return row.toUser(), nil
}

// ListUserIDs returns user ids, most recently updated first.
// Ties are broken by id so paging is stable.
func (s *SQLiteStore) ListUserIDs(ctx context.Context, limit, offset int) ([]string, error) {
	limit, offset = normalizeListWindow(limit, offset)

	ids := []string{}
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM users
		ORDER BY updated_at DESC, id ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, storageErr("listing user ids", err)
	}
	return ids, nil
}

// CountUsers returns the number of user rows.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM users"); err != nil {
		return 0, storageErr("counting users", err)
	}
	return count, nil
}

// GetSession retrieves the session for a user.
// Returns ErrNotFound if there is none. Expired rows are still returned until
// CleanupExpired removes them.
func (s *SQLiteStore) GetSession(ctx context.Context, userID string) (*Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT user_id, data, expires_at, updated_at
		FROM sessions
		WHERE user_id = ?
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("querying session", err)
	}
	return &Session{
		UserID:    row.UserID,
		Data:      row.Data,
		ExpiresAt: optionalTime(row.ExpiresAt),
		UpdatedAt: plainTime(row.UpdatedAt),
	}, nil
}

// SetSession replaces the whole session row for a user.
// Empty data is stored as an empty JSON object.
func (s *SQLiteStore) SetSession(ctx context.Context, userID, data string, expiresAt *time.Time) error {
	if data == "" {
		data = defaultSessionData
	}

	query := `
		INSERT INTO sessions (user_id, data, expires_at, updated_at)
		VALUES (:user_id, :data, :expires_at, :updated_at)
		ON CONFLICT(user_id) DO UPDATE SET
			data = excluded.data,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.NamedExecContext(ctx, query, map[string]any{
		"user_id":    userID,
		"data":       data,
		"expires_at": nullableMillis(expiresAt),
		"updated_at": toMillis(s.now()),
	})
	if err != nil {
		return storageErr("upserting session", err)
	}

	s.logger.Debug("set session", "user_id", userID, "expires", expiresAt != nil)
	return nil
}

// DeleteSession removes the session for a user and reports whether one existed.
func (s *SQLiteStore) DeleteSession(ctx context.Context, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE user_id = ?", userID)
	if err != nil {
		return false, storageErr("deleting session", err)
	}
	return affected(result) > 0, nil
}

// GetCompletion retrieves the completion marker for a user.
// Returns ErrNotFound if there is none.
func (s *SQLiteStore) GetCompletion(ctx context.Context, userID string) (*Completion, error) {
	var row completionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT user_id, expires_at, updated_at
		FROM completions
		WHERE user_id = ?
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("querying completion", err)
	}
	return &Completion{
		UserID:    row.UserID,
		ExpiresAt: optionalTime(row.ExpiresAt),
		UpdatedAt: plainTime(row.UpdatedAt),
	}, nil
}

// SetCompletion replaces the completion row for a user.
func (s *SQLiteStore) SetCompletion(ctx context.Context, userID string, expiresAt *time.Time) error {
	query := `
		INSERT INTO completions (user_id, expires_at, updated_at)
		VALUES (:user_id, :expires_at, :updated_at)
		ON CONFLICT(user_id) DO UPDATE SET
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.NamedExecContext(ctx, query, map[string]any{
		"user_id":    userID,
		"expires_at": nullableMillis(expiresAt),
		"updated_at": toMillis(s.now()),
	})
	if err != nil {
		return storageErr("upserting completion", err)
	}

	s.logger.Debug("set completion", "user_id", userID, "expires", expiresAt != nil)
	return nil
}

// DeleteCompletion removes the completion for a user and reports whether one existed.
func (s *SQLiteStore) DeleteCompletion(ctx context.Context, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM completions WHERE user_id = ?", userID)
	if err != nil {
		return false, storageErr("deleting completion", err)
	}
	return affected(result) > 0, nil
}

// CleanupExpired deletes sessions and completions whose expires_at is set and
// strictly before now. Rows without a deadline are never touched.
func (s *SQLiteStore) CleanupExpired(ctx context.Context, now time.Time) (CleanupResult, error) {
	var res CleanupResult
	cutoff := toMillis(now)

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at < ?", cutoff)
	if err != nil {
		return res, storageErr("deleting expired sessions", err)
	}
	res.Sessions = affected(result)

	result, err = s.db.ExecContext(ctx,
		"DELETE FROM completions WHERE expires_at IS NOT NULL AND expires_at < ?", cutoff)
	if err != nil {
		return res, storageErr("deleting expired completions", err)
	}
	res.Completions = affected(result)

	if res.Sessions > 0 || res.Completions > 0 {
		s.logger.Info("deleted expired rows", "sessions", res.Sessions, "completions", res.Completions)
	}
	return res, nil
}

// PurgeAll empties sessions, completions and users, in that order, then
// vacuums the file. The deletes are independent statements: a failure part
// way through leaves the earlier tables empty. The partial counts are
// returned alongside the error.
func (s *SQLiteStore) PurgeAll(ctx context.Context) (PurgeResult, error) {
	var res PurgeResult

	steps := []struct {
		table string
		count *int64
	}{
		{"sessions", &res.Sessions},
		{"completions", &res.Completions},
		{"users", &res.Users},
	}
	for _, step := range steps {
		result, err := s.db.ExecContext(ctx, "DELETE FROM "+step.table)
		if err != nil {
			return res, storageErr("purging "+step.table, err)
		}
		*step.count = affected(result)
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		s.logger.Warn("vacuum after purge failed", "error", err)
	}

	s.logger.Warn("purged all records",
		"users", res.Users,
		"sessions", res.Sessions,
		"completions", res.Completions,
	)
	return res, nil
}

// affected returns the rows affected by a statement, or 0 if the driver can't tell.
func affected(result sql.Result) int64 {
	n, err := result.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
