// ABOUTME: Shared-secret access gate for the admin and bot caller classes
// ABOUTME: Compares presented keys in constant time or against bcrypt hashes

package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized is returned when no presented credential matches.
var ErrUnauthorized = errors.New("unauthorized")

// Class is a caller trust level.
type Class string

const (
	ClassAdmin Class = "admin"
	ClassBot   Class = "bot"
)

// Credential locations per class. Headers win over query parameters.
const (
	HeaderAdminKey = "X-Admin-Key"
	HeaderBotKey   = "X-Bot-Key"
	QueryAdminKey  = "key"
	QueryBotKey    = "botKey"
)

// Keys holds the configured secret per class. A hash, when set, is used
// instead of the plaintext key for that class.
type Keys struct {
	Admin     string
	Bot       string
	AdminHash string // bcrypt
	BotHash   string // bcrypt
}

// secret is one class's configured credential.
type secret struct {
	plain string
	hash  []byte
}

func (s secret) empty() bool {
	return s.plain == "" && len(s.hash) == 0
}

// matches reports whether presented equals the secret. An empty secret or an
// empty presented value never matches.
func (s secret) matches(presented string) bool {
	if presented == "" || s.empty() {
		return false
	}
	if len(s.hash) > 0 {
		return bcrypt.CompareHashAndPassword(s.hash, []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(s.plain), []byte(presented)) == 1
}

// Gate authorizes requests by caller class.
type Gate struct {
	admin  secret
	bot    secret
	tokens *TokenIssuer
	logger *slog.Logger
}

// NewGate builds a gate. tokens may be nil, which disables bearer tokens.
func NewGate(keys Keys, tokens *TokenIssuer, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		admin:  secret{plain: keys.Admin, hash: hashBytes(keys.AdminHash)},
		bot:    secret{plain: keys.Bot, hash: hashBytes(keys.BotHash)},
		tokens: tokens,
		logger: logger.With("component", "auth"),
	}
}

func hashBytes(h string) []byte {
	if h == "" {
		return nil
	}
	return []byte(h)
}

// Tokens returns the gate's token issuer, or nil.
func (g *Gate) Tokens() *TokenIssuer {
	return g.tokens
}

// Enabled reports whether a secret is configured for the class.
func (g *Gate) Enabled(class Class) bool {
	switch class {
	case ClassAdmin:
		return !g.admin.empty()
	case ClassBot:
		return !g.bot.empty()
	default:
		return false
	}
}

// Authenticate checks the request's credential for one class. Admin callers
// may present either the admin key or a bearer token.
func (g *Gate) Authenticate(r *http.Request, class Class) error {
	if g.AuthenticateKey(r, class) == nil {
		return nil
	}
	if class == ClassAdmin && g.tokens != nil {
		if token, errMsg := extractBearerToken(r.Header.Get("Authorization")); errMsg == "" {
			sub, err := g.tokens.Verify(token)
			if err == nil && sub == ClassAdmin {
				return nil
			}
		}
	}
	return ErrUnauthorized
}

// AuthenticateKey checks only the class's configured key or hash. Bearer
// tokens are not accepted.
func (g *Gate) AuthenticateKey(r *http.Request, class Class) error {
	switch class {
	case ClassAdmin:
		if g.admin.matches(presented(r, HeaderAdminKey, QueryAdminKey)) {
			return nil
		}
	case ClassBot:
		if g.bot.matches(presented(r, HeaderBotKey, QueryBotKey)) {
			return nil
		}
	}
	return ErrUnauthorized
}

// Allow returns the first class in classes the request authenticates as.
func (g *Gate) Allow(r *http.Request, classes ...Class) (Class, error) {
	for _, class := range classes {
		if g.Authenticate(r, class) == nil {
			return class, nil
		}
	}
	return "", ErrUnauthorized
}

// presented returns the header value if set, otherwise the query parameter.
func presented(r *http.Request, header, query string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(query)
}
