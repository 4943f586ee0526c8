// Package auth provides request authorization for botkeep.
//
// # Caller Classes
//
// Two classes of caller exist:
//
//   - admin: operators listing users, purging and triggering cleanup
//   - bot: the chat bot reading and writing per-user records
//
// Each class has one shared secret. A class with no configured secret is
// disabled: nothing authenticates as it, not even an empty credential.
//
// # Credentials
//
// The admin key is read from the X-Admin-Key header, falling back to the
// "key" query parameter. The bot key is read from X-Bot-Key, falling back to
// "botKey". Plaintext secrets are compared in constant time; a bcrypt hash
// may be configured in place of either key.
//
// The admin class also accepts a short-lived HS256 bearer token:
//
//	issuer, err := NewTokenIssuer(secret, 15*time.Minute)
//	token, expiresAt, err := issuer.Issue(ClassAdmin)
//
// # Middleware
//
//	gate := NewGate(keys, issuer, logger)
//	mux.Handle("GET /api/users", gate.Require(ClassAdmin)(handler))
//
// Require answers 401 {"error":"unauthorized"} without calling the wrapped
// handler, and records the matched class with WithClass on success.
package auth
