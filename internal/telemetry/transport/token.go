package transport

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is the lifetime of an ingest bearer token.
const DefaultTokenTTL = 5 * time.Minute

// IngestClaims identify the sending client to the ingest endpoint.
type IngestClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
	OrgID    string `json:"org_id,omitempty"`
}

// TokenSigner issues short-lived HS256 bearer tokens for the ingest endpoint and verifies them on the
// agent side.
type TokenSigner struct {
	secret   []byte
	clientID string
	audience string
	orgID    string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenSigner returns nil when secret is empty, which disables the Authorization header.
func NewTokenSigner(secret, clientID, audience string, ttl time.Duration) *TokenSigner {
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenSigner{secret: []byte(secret), clientID: clientID, audience: audience, ttl: ttl, now: time.Now}
}

// WithOrg returns a copy of s whose tokens carry orgID.
func (s *TokenSigner) WithOrg(orgID string) *TokenSigner {
	c := *s
	c.orgID = orgID
	return &c
}

// Sign returns a fresh token.
func (s *TokenSigner) Sign() (string, error) {
	now := s.now().UTC()
	claims := IngestClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   s.clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		ClientID: s.clientID,
		OrgID:    s.orgID,
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ErrInvalidToken is returned by Verify for malformed, expired or wrongly signed tokens.
var ErrInvalidToken = errors.New("transport: invalid ingest token")

// Verify parses and validates a token issued with the same secret.
func (s *TokenSigner) Verify(token string) (*IngestClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}
	claims := &IngestClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
