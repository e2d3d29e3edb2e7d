// Package auth issues and verifies the HS256 tokens handed out by the admin
// login route, so admin clients can stop sending basic credentials on every
// catalog call.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hazyhaar/texstudio/horosafe"
)

// Issuer name stamped into every token.
const Issuer = "texstudio"

// ErrInvalidToken is returned for tokens that fail signature, expiry or
// issuer checks.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims carries the admin identity.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides time.Now for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// Signer issues and verifies tokens with one shared secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner checks secret against horosafe.MinSecretLen.
func NewSigner(secret []byte, ttl time.Duration, opts ...Option) (*Signer, error) {
	if err := horosafe.ValidateSecret(secret); err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("auth: ttl must be > 0")
	}
	s := &Signer{secret: secret, ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Issue signs a token for subject and returns it with its expiry.
func (s *Signer) Issue(subject, role string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role: role,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign: %w", err)
	}
	return tok, exp, nil
}

// Verify parses tok, accepting only HS256 tokens from Issuer that have not
// expired.
func (s *Signer) Verify(tok string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
