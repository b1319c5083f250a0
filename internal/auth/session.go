package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 60 * time.Minute

var (
	ErrMissingSigningKey   = errors.New("auth: signing key required")
	ErrMissingIssuer       = errors.New("auth: issuer required")
	ErrMissingSessionToken = errors.New("auth: token required")
	ErrInvalidSessionToken = errors.New("auth: invalid token")
	ErrExpiredSessionToken = errors.New("auth: token expired")
	ErrMissingExternalID   = errors.New("auth: external user id required")
)

// SessionClaims mirrors the JWT payload issued by the identity provider.
// UserID carries the opaque external handle; the service never invents an
// email, it only reads the one the provider asserted.
type SessionClaims struct {
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
	jwt.RegisteredClaims
}

// SessionManagerConfig describes how session tokens are validated and minted.
type SessionManagerConfig struct {
	SigningSecret []byte
	Issuer        string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// SessionManager validates HS256 session tokens and mints them for local
// development and tests.
type SessionManager struct {
	signingSecret []byte
	issuer        string
	tokenTTL      time.Duration
	clock         func() time.Time
}

// NewSessionManager constructs a manager with validated configuration.
func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionManager{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		tokenTTL:      ttl,
		clock:         clock,
	}, nil
}

// ValidateToken parses and verifies the supplied session token and returns
// its claims.
func (m *SessionManager) ValidateToken(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(parsed *jwt.Token) (interface{}, error) {
			if parsed.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", parsed.Method.Alg())
			}
			return m.signingSecret, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return SessionClaims{}, ErrMissingExternalID
	}
	return *claims, nil
}

// IssueToken mints a session token for the external id and email, returning
// the signed token and its lifetime in seconds.
func (m *SessionManager) IssueToken(externalID, email string) (string, int64, error) {
	subject := strings.TrimSpace(externalID)
	if subject == "" {
		return "", 0, ErrMissingExternalID
	}

	now := m.clock().UTC()
	expiresAt := now.Add(m.tokenTTL).UTC()

	claims := SessionClaims{
		UserID:    subject,
		UserEmail: strings.TrimSpace(email),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.signingSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}
