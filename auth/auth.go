// Package auth issues and validates the JWTs that identify chat users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type contextKey int

const userContextKey contextKey = 0

var (
	// ErrInvalidCredentials is returned for an unknown user or a wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrInvalidToken is returned for any token that does not identify a
	// current user.
	ErrInvalidToken = errors.New("invalid token")
)

// DefaultTokenExpiry is used when Config.TokenExpiry is empty.
const DefaultTokenExpiry = 24 * time.Hour

// User is an authenticated chat user.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
}

// LocalUser is injected on every request when auth is disabled.
var LocalUser = &User{Username: "local", Role: "admin"}

// Config configures token issuing.
type Config struct {
	JWTSecret   string `yaml:"jwt_secret"`
	TokenExpiry string `yaml:"token_expiry"` // Go duration, e.g. "24h"
}

// UserConfig is a bootstrap user from the config file.
type UserConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // bcrypt
	Role         string `yaml:"role"`
}

// Service authenticates users against bcrypt hashes and issues HS256 tokens.
type Service struct {
	jwtSecret []byte
	expiry    time.Duration
	now       func() time.Time

	mu    sync.RWMutex
	users map[string]*User
}

// NewService creates a Service from config and its bootstrap users.
func NewService(cfg Config, users []UserConfig) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required when auth is enabled")
	}
	expiry := DefaultTokenExpiry
	if cfg.TokenExpiry != "" {
		d, err := time.ParseDuration(cfg.TokenExpiry)
		if err != nil {
			return nil, fmt.Errorf("invalid token_expiry: %w", err)
		}
		expiry = d
	}

	svc := &Service{
		jwtSecret: []byte(cfg.JWTSecret),
		expiry:    expiry,
		now:       time.Now,
		users:     make(map[string]*User, len(users)),
	}
	for _, u := range users {
		role := u.Role
		if role == "" {
			role = "user"
		}
		svc.users[u.Username] = &User{Username: u.Username, PasswordHash: u.PasswordHash, Role: role}
	}
	return svc, nil
}

// HashPassword returns a bcrypt hash suitable for UserConfig.PasswordHash.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}

// ExpirySeconds returns the token expiry duration in whole seconds.
func (s *Service) ExpirySeconds() int {
	return int(s.expiry.Seconds())
}

// VerifyPassword checks a username/password combination and returns the user if valid.
func (s *Service) VerifyPassword(username, password string) (*User, error) {
	s.mu.RLock()
	user, ok := s.users[username]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: user %q not found", ErrInvalidCredentials, username)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	return user, nil
}

// Login verifies credentials and returns a signed token.
func (s *Service) Login(username, password string) (string, *User, error) {
	user, err := s.VerifyPassword(username, password)
	if err != nil {
		return "", nil, err
	}
	token, err := s.GenerateToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// GenerateToken creates a signed JWT for the given user.
func (s *Service) GenerateToken(user *User) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  user.Username,
		"role": user.Role,
		"iat":  now.Unix(),
		"exp":  now.Add(s.expiry).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken parses and validates a JWT, returning the associated user.
func (s *Service) ValidateToken(tokenStr string) (*User, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: bad claims", ErrInvalidToken)
	}

	username, ok := claims["sub"].(string)
	if !ok || username == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}

	s.mu.RLock()
	user, exists := s.users[username]
	s.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: user %q no longer exists", ErrInvalidToken, username)
	}
	return user, nil
}

// WithUser stores a User in ctx.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the authenticated User, or nil.
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userContextKey).(*User)
	return user
}
