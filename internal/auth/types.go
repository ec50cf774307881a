package auth

import (
	"errors"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("insufficient permissions")
)

// Roles understood by the API. An admin may do anything, an operator may
// control servers, a viewer may only read status, output and schedules.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Actions checked by the middleware.
const (
	ActionRead  = "read"
	ActionWrite = "write"
)

// Config is the [server.auth] section. Users carry bcrypt hashes, as
// printed by "mcvisor hash-password".
type Config struct {
	Enabled   bool          `toml:"enabled" mapstructure:"enabled"`
	JWTSecret string        `toml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `toml:"token_ttl" mapstructure:"token_ttl"`
	Users     []User        `toml:"users" mapstructure:"users"`
}

// User is an API account.
type User struct {
	Username     string `toml:"username" mapstructure:"username"`
	PasswordHash string `toml:"password_hash" mapstructure:"password_hash"`
	Role         string `toml:"role" mapstructure:"role"`
}

// Result identifies an authenticated caller.
type Result struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Token represents a JWT token
type Token struct {
	Type      string    `json:"type"`  // "Bearer"
	Value     string    `json:"value"` // JWT token string
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginRequest is the body of POST {basePath}/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
