// Package store provides persistent storage for botkeep using SQLite.
//
// # Architecture
//
// The Store interface covers three tables:
//
//   - users: bot users keyed by an externally assigned id
//   - sessions: one opaque state blob per user, with optional expiry
//   - completions: one completion marker per user, with optional expiry
//
// SQLiteStore implements Store on a database file; MockStore is an in-memory
// implementation with the same ordering and stamping rules, for tests.
//
// # Writes
//
// Every write is an upsert of the whole row (last writer wins). The store
// stamps updated_at from its own clock; caller-provided values are ignored.
// Session data is stored verbatim and never parsed here.
//
// # Expiry
//
// Rows with a non-null expires_at strictly before the cutoff are removed by
// CleanupExpired. Nothing runs it on a timer; an external scheduler calls it
// (see "botkeep cleanup" and POST /api/admin/cleanup).
//
// # SQLite Configuration
//
//	PRAGMA journal_mode = WAL;
//	PRAGMA synchronous = NORMAL;
//	PRAGMA busy_timeout = 5000;
//	PRAGMA foreign_keys = OFF;
//
// Timestamps are INTEGER epoch milliseconds, compatible with databases written
// by earlier deployments. Two drivers are supported: "sqlite"
// (modernc.org/sqlite, default) and "sqlite3" (github.com/mattn/go-sqlite3,
// cgo).
//
// # Error Handling
//
//   - ErrNotFound: requested row does not exist
//   - ErrStorage: engine failure, carried by *StorageError
//
// # Testing
//
// Use NewMockStore() for handler tests and NewSQLiteStore on a t.TempDir()
// path for integration tests.
package store
