// Package config handles configuration loading for botkeep.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion, or built from environment variables alone with FromEnv. Defaults
// are applied first, so a file only needs the fields it changes.
//
// # Configuration File
//
// The format follows the extension: ".toml" is TOML, anything else is YAML.
// Before loading, "botkeep serve" reads a .env file (if present) with
// LoadDotEnv; variables already in the environment win.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  admin_key: "${ADMIN_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to "".
//
// # Configuration Sections
//
//	server:
//	  http_addr: ":3000"
//	  tls_addr: ":8080"                 # optional HTTPS listener
//	  tls_cert_file: "/etc/botkeep/fullchain.pem"
//	  tls_key_file: "/etc/botkeep/privkey.pem"
//	  read_header_timeout: "10s"
//	  shutdown_timeout: "10s"
//	  max_body_bytes: 10485760
//
//	database:
//	  path: "data/bot.db"
//	  driver: "sqlite"                  # sqlite (pure Go) or sqlite3 (cgo)
//
//	auth:
//	  admin_key: "${ADMIN_KEY}"
//	  bot_key: "${BOT_KEY}"
//	  bot_key_from_admin: false         # reuse admin_key when bot_key is empty
//	  token_secret: "${TOKEN_SECRET}"   # enables admin bearer tokens, >= 32 bytes
//	  token_ttl: "15m"
//
//	cors:
//	  allowed_origins: ["*"]
//
//	listing:
//	  default_limit: 200
//	  max_limit: 1000
//
//	tailscale:
//	  enabled: false
//	  hostname: "botkeep"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Validate returns the first failure: a missing listener address, TLS files,
// database path or driver, missing admin or bot secrets, a short token
// secret, out-of-range listing limits, or unknown logging values.
package config
