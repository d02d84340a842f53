// Package token issues and verifies the signed role-carrying tokens that
// gate the administrative surface. Admin access and refresh tokens are
// signed with distinct secrets so an access-secret compromise cannot forge
// long-lived refresh tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ErrInvalidToken covers every verification failure: bad signature, expiry,
// malformed token, or role mismatch. Callers never learn which.
var ErrInvalidToken = errors.New("token: invalid token")

// Payload is what a verified token asserts. Nothing is persisted; the token
// carries all state.
type Payload struct {
	Identity string
	Role     string
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Config struct {
	UserSecret    []byte
	AccessSecret  []byte
	RefreshSecret []byte

	UserTokenTTL   time.Duration
	AccessTokenTTL time.Duration
	RefreshTTL     time.Duration

	Now func() time.Time
}

type Service struct {
	cfg Config
	now func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	if len(cfg.UserSecret) == 0 || len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, fmt.Errorf("token: all signing secrets are required")
	}
	if cfg.UserTokenTTL <= 0 {
		cfg.UserTokenTTL = 365 * 24 * time.Hour
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 2 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{cfg: cfg, now: now}, nil
}

func (s *Service) sign(identity, role string, secret []byte, ttl time.Duration) (string, error) {
	issued := s.now()
	c := claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

func (s *Service) verify(raw string, secret []byte) (Payload, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return Payload{}, ErrInvalidToken
	}
	if c.Subject == "" || (c.Role != RoleUser && c.Role != RoleAdmin) {
		return Payload{}, ErrInvalidToken
	}
	return Payload{Identity: c.Subject, Role: c.Role}, nil
}

// IssueUserToken issues a long-lived user token. There is no refresh path
// for users.
func (s *Service) IssueUserToken(identity string) (string, error) {
	return s.sign(identity, RoleUser, s.cfg.UserSecret, s.cfg.UserTokenTTL)
}

func (s *Service) IssueAdminAccessToken(identity string) (string, error) {
	return s.sign(identity, RoleAdmin, s.cfg.AccessSecret, s.cfg.AccessTokenTTL)
}

func (s *Service) IssueAdminRefreshToken(identity string) (string, error) {
	return s.sign(identity, RoleAdmin, s.cfg.RefreshSecret, s.cfg.RefreshTTL)
}

// VerifyUserToken verifies a token issued by IssueUserToken.
func (s *Service) VerifyUserToken(raw string) (Payload, error) {
	return s.verify(raw, s.cfg.UserSecret)
}

// VerifyAccessToken verifies an admin access token.
func (s *Service) VerifyAccessToken(raw string) (Payload, error) {
	return s.verify(raw, s.cfg.AccessSecret)
}

// VerifyRefreshToken verifies an admin refresh token.
func (s *Service) VerifyRefreshToken(raw string) (Payload, error) {
	return s.verify(raw, s.cfg.RefreshSecret)
}

// RefreshAdmin rotates an admin access/refresh pair. The refresh token must
// verify under the refresh secret and carry the admin role.
func (s *Service) RefreshAdmin(refreshToken string) (access, refresh string, err error) {
	payload, err := s.VerifyRefreshToken(refreshToken)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	if payload.Role != RoleAdmin {
		return "", "", ErrInvalidToken
	}
	access, err = s.IssueAdminAccessToken(payload.Identity)
	if err != nil {
		return "", "", err
	}
	refresh, err = s.IssueAdminRefreshToken(payload.Identity)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}
