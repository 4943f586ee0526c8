// Package api exposes botkeep records over HTTP.
//
// # Routes
//
//	GET    /healthz                  liveness, always "ok"
//	GET    /health                   200 when the store answers a ping, else 503
//	GET    /api/users                admin   page of users with step/mode/completed
//	POST   /api/users/upsert         bot     create or overwrite a user
//	GET    /api/users/{id}           bot or admin
//	GET    /api/session/{id}         bot
//	PUT    /api/session/{id}         bot     {"data": string, "expiresAt": ms|null}
//	DELETE /api/session/{id}         bot
//	GET    /api/completion/{id}      bot
//	PUT    /api/completion/{id}      bot     {"expiresAt": ms|null}
//	DELETE /api/completion/{id}      bot
//	DELETE /api/admin/purge          admin   requires confirm=ERASE (query or body)
//	POST   /api/admin/cleanup        admin   optional now (ms, query or body)
//	POST   /api/admin/token          admin   short-lived bearer token
//
// Any OPTIONS request is a CORS preflight and gets 204.
//
// # Errors
//
// Failures are JSON {"error": message}: 400 for validation, 401 for a missing
// or wrong credential, 404 for a missing record, 413 for an oversized body,
// 500 for storage failures.
package api
