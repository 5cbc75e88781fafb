// Package auth issues and verifies session credentials, hashes passwords
// and expresses capability checks as policies.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultTokenTTL is the lifetime of an issued credential.
const DefaultTokenTTL = 30 * 24 * time.Hour

// ErrInvalidCredential is returned for any token that fails verification:
// bad signature, malformed structure, expiry or a missing subject.
var ErrInvalidCredential = errors.New("invalid credential")

// Claims is the payload of a session token.
type Claims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option customizes an Issuer.
type Option func(*Issuer)

// WithTTL overrides DefaultTokenTTL.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock overrides the time source used for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer constructs an Issuer. An empty secret is rejected so a
// misconfigured process fails at startup instead of minting tokens that
// can never be verified.
func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("token signing secret is required")
	}
	issuer := &Issuer{
		secret: []byte(secret),
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(issuer)
	}
	return issuer, nil
}

// Issue returns a signed token for userID expiring after the issuer's TTL.
func (i *Issuer) Issue(userID primitive.ObjectID) (string, error) {
	if userID.IsZero() {
		return "", errors.New("user id is required")
	}
	now := i.now()
	claims := Claims{
		UserID: userID.Hex(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify validates tokenString and returns the user id it was issued for.
func (i *Issuer) Verify(tokenString string) (primitive.ObjectID, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		&claims,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return i.secret, nil
		},
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !token.Valid {
		return primitive.NilObjectID, ErrInvalidCredential
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		subject = strings.TrimSpace(claims.UserID)
	}
	if subject == "" {
		return primitive.NilObjectID, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}
	userID, err := primitive.ObjectIDFromHex(subject)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: malformed subject", ErrInvalidCredential)
	}
	return userID, nil
}
