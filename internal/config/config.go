// ABOUTME: Configuration loading and parsing for botkeep
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied before a config file is decoded.
const (
	DefaultHTTPAddr          = ":3000"
	DefaultDatabasePath      = "data/bot.db"
	DefaultDriver            = "sqlite"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultMaxBodyBytes      = 10 << 20
	DefaultTokenTTL          = 15 * time.Minute
	DefaultListLimit         = 200
	MaxListLimit             = 1000
	MinTokenSecretLength     = 32
)

// Config represents the complete botkeep configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	CORS      CORSConfig      `yaml:"cors" toml:"cors"`
	Listing   ListingConfig   `yaml:"listing" toml:"listing"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	HTTPAddr     string `yaml:"http_addr" toml:"http_addr"`
	TLSAddr      string `yaml:"tls_addr" toml:"tls_addr"` // optional HTTPS listener
	TLSCertFile  string `yaml:"tls_cert_file" toml:"tls_cert_file"`
	TLSKeyFile   string `yaml:"tls_key_file" toml:"tls_key_file"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" toml:"max_body_bytes"`

	ReadHeaderTimeout time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeout   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ReadHeaderTimeoutRaw string `yaml:"read_header_timeout" toml:"read_header_timeout"`
	ShutdownTimeoutRaw   string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve :443 with tailnet certificates
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // expose publicly via Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path   string `yaml:"path" toml:"path"`
	Driver string `yaml:"driver" toml:"driver"` // "sqlite" or "sqlite3"
}

// AuthConfig holds the caller secrets
type AuthConfig struct {
	AdminKey        string `yaml:"admin_key" toml:"admin_key"`
	BotKey          string `yaml:"bot_key" toml:"bot_key"`
	AdminKeyHash    string `yaml:"admin_key_hash" toml:"admin_key_hash"`
	BotKeyHash      string `yaml:"bot_key_hash" toml:"bot_key_hash"`
	BotKeyFromAdmin bool   `yaml:"bot_key_from_admin" toml:"bot_key_from_admin"`
	TokenSecret     string `yaml:"token_secret" toml:"token_secret"` // enables admin bearer tokens

	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`
}

// CORSConfig holds cross-origin settings
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// ListingConfig holds admin listing page sizes
type ListingConfig struct {
	DefaultLimit int `yaml:"default_limit" toml:"default_limit"`
	MaxLimit     int `yaml:"max_limit" toml:"max_limit"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a config with every optional field set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:          DefaultHTTPAddr,
			MaxBodyBytes:      DefaultMaxBodyBytes,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ShutdownTimeout:   DefaultShutdownTimeout,
		},
		Database: DatabaseConfig{
			Path:   DefaultDatabasePath,
			Driver: DefaultDriver,
		},
		Auth: AuthConfig{
			TokenTTL: DefaultTokenTTL,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Listing: ListingConfig{
			DefaultLimit: DefaultListLimit,
			MaxLimit:     MaxListLimit,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped. With no arguments it reads ".env".
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// FromEnv builds a config from environment variables alone, for deployments
// without a config file: PORT, TLS_PORT, TLS_CERT_FILE, TLS_KEY_FILE, DB_PATH,
// ADMIN_KEY, BOT_KEY, TOKEN_SECRET and LOG_LEVEL. When BOT_KEY is unset the
// bot key falls back to ADMIN_KEY.
func FromEnv() (*Config, error) {
	cfg := Default()

	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.HTTPAddr = ":" + port
	}
	if port := os.Getenv("TLS_PORT"); port != "" {
		cfg.Server.TLSAddr = ":" + port
	}
	cfg.Server.TLSCertFile = os.Getenv("TLS_CERT_FILE")
	cfg.Server.TLSKeyFile = os.Getenv("TLS_KEY_FILE")
	if p := os.Getenv("DB_PATH"); p != "" {
		cfg.Database.Path = p
	}
	cfg.Auth.AdminKey = os.Getenv("ADMIN_KEY")
	cfg.Auth.BotKey = os.Getenv("BOT_KEY")
	cfg.Auth.BotKeyFromAdmin = cfg.Auth.BotKey == ""
	cfg.Auth.TokenSecret = os.Getenv("TOKEN_SECRET")
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	cfg.applyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating environment config: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyFallbacks fills derived values that depend on other fields.
func (c *Config) applyFallbacks() {
	if c.Auth.BotKeyFromAdmin && c.Auth.BotKey == "" && c.Auth.BotKeyHash == "" {
		c.Auth.BotKey = c.Auth.AdminKey
		c.Auth.BotKeyHash = c.Auth.AdminKeyHash
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
}

// SharedKeys reports whether the admin and bot classes use the same secret,
// plaintext or bcrypt hash, which lets the bot act as admin.
func (c *Config) SharedKeys() bool {
	a := c.Auth
	return (a.AdminKey != "" && a.AdminKey == a.BotKey) ||
		(a.AdminKeyHash != "" && a.AdminKeyHash == a.BotKeyHash)
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// An HTTP address is required unless Tailscale is the only listener
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Server.TLSAddr != "" && (c.Server.TLSCertFile == "" || c.Server.TLSKeyFile == "") {
		return fmt.Errorf("server.tls_cert_file and server.tls_key_file are required when server.tls_addr is set")
	}

	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be \"sqlite\" or \"sqlite3\", got %q", c.Database.Driver)
	}

	if c.Auth.AdminKey == "" && c.Auth.AdminKeyHash == "" {
		return fmt.Errorf("auth.admin_key or auth.admin_key_hash is required")
	}
	if c.Auth.BotKey == "" && c.Auth.BotKeyHash == "" {
		return fmt.Errorf("auth.bot_key or auth.bot_key_hash is required (or set auth.bot_key_from_admin)")
	}
	if c.Auth.TokenSecret != "" && len(c.Auth.TokenSecret) < MinTokenSecretLength {
		return fmt.Errorf("auth.token_secret must be at least %d bytes", MinTokenSecretLength)
	}

	if c.Listing.MaxLimit <= 0 || c.Listing.MaxLimit > MaxListLimit {
		return fmt.Errorf("listing.max_limit must be between 1 and %d", MaxListLimit)
	}
	if c.Listing.DefaultLimit <= 0 || c.Listing.DefaultLimit > c.Listing.MaxLimit {
		return fmt.Errorf("listing.default_limit must be between 1 and listing.max_limit")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.ReadHeaderTimeoutRaw != "" {
		cfg.Server.ReadHeaderTimeout, err = time.ParseDuration(cfg.Server.ReadHeaderTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing read_header_timeout %q: %w", cfg.Server.ReadHeaderTimeoutRaw, err)
		}
	}

	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	return nil
}
