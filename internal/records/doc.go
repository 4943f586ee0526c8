// Package records implements botkeep's record operations over a store.Store.
//
// The Service validates input, enforces the purge confirmation and builds the
// admin listing, which joins each user with its session and completion. The
// listing reads "step" and "mode" out of the opaque session data; data that
// is not JSON, or lacks those fields, shows Placeholder instead and never
// fails the page.
//
// Errors are *ValidationError for caller mistakes, store.ErrNotFound for
// missing rows, and store.ErrStorage (wrapped) for engine failures.
package records
