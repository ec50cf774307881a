package auth

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Service authenticates API callers against the configured users.
type Service struct {
	users     map[string]User
	jwtSecret []byte
	tokenTTL  time.Duration
}

// Claims represents JWT claims
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewService validates c and returns a service, or nil when auth is disabled.
func NewService(c Config) (*Service, error) {
	if !c.Enabled {
		return nil, nil
	}
	if len(c.Users) == 0 {
		return nil, fmt.Errorf("auth enabled but no users configured")
	}
	users := make(map[string]User, len(c.Users))
	for _, u := range c.Users {
		if u.Username == "" {
			return nil, fmt.Errorf("auth user without username")
		}
		if _, dup := users[u.Username]; dup {
			return nil, fmt.Errorf("duplicate auth user %q", u.Username)
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("auth user %q: password_hash is not a bcrypt hash", u.Username)
		}
		if u.Role == "" {
			u.Role = RoleViewer
		}
		if !knownRole(u.Role) {
			return nil, fmt.Errorf("auth user %q: unknown role %q", u.Username, u.Role)
		}
		users[u.Username] = u
	}

	jwtSecret := []byte(c.JWTSecret)
	if len(jwtSecret) == 0 {
		// tokens do not survive a restart without a configured secret
		jwtSecret = make([]byte, 32)
		if _, err := rand.Read(jwtSecret); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
	}
	tokenTTL := c.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{users: users, jwtSecret: jwtSecret, tokenTTL: tokenTTL}, nil
}

func knownRole(r string) bool {
	return r == RoleAdmin || r == RoleOperator || r == RoleViewer
}

// HashPassword returns the bcrypt hash stored in a user's password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(h), nil
}

// Login checks a username and password and issues a token.
func (s *Service) Login(username, password string) (*Token, error) {
	res, err := s.checkPassword(username, password)
	if err != nil {
		return nil, err
	}
	return s.generateJWT(res)
}

func (s *Service) checkPassword(username, password string) (*Result, error) {
	u, ok := s.users[username]
	if !ok || password == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &Result{Username: u.Username, Role: u.Role}, nil
}

// Authenticate accepts a Bearer token or HTTP basic credentials.
func (s *Service) Authenticate(r *http.Request) (*Result, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return s.authenticateJWT(parts[1])
		}
	}
	if username, password, ok := r.BasicAuth(); ok {
		return s.checkPassword(username, password)
	}
	return nil, ErrInvalidCredentials
}

func (s *Service) authenticateJWT(tokenString string) (*Result, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer("mcvisor"), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	// removed users lose access even with a live token
	u, ok := s.users[claims.Subject]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return &Result{Username: u.Username, Role: u.Role}, nil
}

func (s *Service) generateJWT(res *Result) (*Token, error) {
	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)
	claims := &Claims{
		Role: res.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "mcvisor",
			Subject:   res.Username,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Token{Type: "Bearer", Value: tokenString, ExpiresAt: expiresAt}, nil
}

// Allowed reports whether role may perform action.
func Allowed(role, action string) bool {
	switch role {
	case RoleAdmin, RoleOperator:
		return true
	case RoleViewer:
		return action == ActionRead
	}
	return false
}
