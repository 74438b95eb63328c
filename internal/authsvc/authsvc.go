// Package authsvc issues and verifies the ID tokens used by the document
// backend. Anonymous users get a generated uid; custom-token users get the
// uid carried by a token signed with the custom-token secret.
package authsvc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/sefarad-mx/portal/internal/config"
)

const issuer = "sefarad-docbackend"

type Provider string

const (
	ProviderAnonymous Provider = "anonymous"
	ProviderCustom    Provider = "custom"
)

var (
	ErrProviderDisabled   = errors.New("sign-in provider disabled")
	ErrInvalidCustomToken = errors.New("invalid custom token")
	ErrInvalidToken       = errors.New("invalid id token")
	ErrRevoked            = errors.New("id token revoked")
	ErrExpired            = errors.New("id token expired")
	ErrRefreshWindow      = errors.New("id token too old to refresh")
)

// User is a signed-in principal.
type User struct {
	UID      string   `json:"uid"`
	Provider Provider `json:"provider"`
}

// Claims are carried by ID tokens.
type Claims struct {
	Provider   Provider `json:"provider"`
	Generation int      `json:"gen"`
	jwt.RegisteredClaims
}

// CustomClaims are carried by custom (bootstrap) tokens.
type CustomClaims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

type Service struct {
	secret           []byte
	customSecret     []byte
	ttl              time.Duration
	refreshWindow    time.Duration
	anonymousEnabled bool
	now              func() time.Time

	mu          sync.Mutex
	generations map[string]int
}

func New(cfg config.AuthConfig) *Service {
	return &Service{
		secret:           []byte(cfg.SigningSecret),
		customSecret:     []byte(cfg.CustomTokenSecret),
		ttl:              cfg.TokenTTL,
		refreshWindow:    cfg.RefreshWindow,
		anonymousEnabled: cfg.AnonymousEnabled,
		now:              time.Now,
		generations:      make(map[string]int),
	}
}

// SignInAnonymously creates a fresh anonymous user.
func (s *Service) SignInAnonymously() (User, string, error) {
	if !s.anonymousEnabled {
		return User{}, "", ErrProviderDisabled
	}
	u := User{UID: ulid.Make().String(), Provider: ProviderAnonymous}
	tok, err := s.issue(u)
	return u, tok, err
}

// SignInWithCustomToken exchanges a custom token for an ID token.
func (s *Service) SignInWithCustomToken(custom string) (User, string, error) {
	if len(s.customSecret) == 0 {
		return User{}, "", ErrProviderDisabled
	}
	claims := &CustomClaims{}
	_, err := jwt.ParseWithClaims(custom, claims, func(*jwt.Token) (any, error) {
		return s.customSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return User{}, "", fmt.Errorf("%w: %v", ErrInvalidCustomToken, err)
	}
	if claims.UID == "" {
		return User{}, "", fmt.Errorf("%w: missing uid", ErrInvalidCustomToken)
	}

	u := User{UID: claims.UID, Provider: ProviderCustom}
	tok, err := s.issue(u)
	return u, tok, err
}

// MintCustomToken signs a custom token for uid, as an admin tool would.
func (s *Service) MintCustomToken(uid string, ttl time.Duration) (string, error) {
	if uid == "" {
		return "", errors.New("uid must not be empty")
	}
	now := s.now()
	claims := CustomClaims{
		UID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.customSecret)
}

// Verify checks an ID token's signature, revocation state and expiry. A
// revoked token reports ErrRevoked even when it has also expired.
func (s *Service) Verify(idToken string) (User, error) {
	claims, expired, err := s.parse(idToken)
	if err != nil {
		return User{}, err
	}
	if !s.current(claims) {
		return User{}, ErrRevoked
	}
	if expired {
		return User{}, ErrExpired
	}
	return User{UID: claims.Subject, Provider: claims.Provider}, nil
}

// Refresh re-issues an ID token for the same subject and generation. The old
// token may have expired, but not longer ago than the refresh window, and
// must not have been revoked.
func (s *Service) Refresh(idToken string) (User, string, error) {
	claims, _, err := s.parse(idToken)
	if err != nil {
		return User{}, "", err
	}
	if !s.current(claims) {
		return User{}, "", ErrRevoked
	}
	if s.refreshWindow > 0 && claims.ExpiresAt != nil &&
		s.now().After(claims.ExpiresAt.Add(s.refreshWindow)) {
		return User{}, "", ErrRefreshWindow
	}
	u := User{UID: claims.Subject, Provider: claims.Provider}
	tok, err := s.issue(u)
	return u, tok, err
}

// parse verifies the signature and issuer. Expiry is reported separately so
// callers can tell an expired session from a forged one.
func (s *Service) parse(idToken string) (*Claims, bool, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(idToken, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Issuer != issuer {
		return nil, false, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, false, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	expired := claims.ExpiresAt == nil || !s.now().Before(claims.ExpiresAt.Time)
	return claims, expired, nil
}

func (s *Service) current(claims *Claims) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return claims.Generation == s.generations[claims.Subject]
}

// Revoke invalidates every ID token issued to uid so far.
func (s *Service) Revoke(uid string) {
	s.mu.Lock()
	s.generations[uid]++
	s.mu.Unlock()
}

func (s *Service) issue(u User) (string, error) {
	s.mu.Lock()
	gen := s.generations[u.UID]
	s.mu.Unlock()

	now := s.now()
	claims := Claims{
		Provider:   u.Provider,
		Generation: gen,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign id token: %w", err)
	}
	return tok, nil
}
