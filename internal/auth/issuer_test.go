package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer("   ")
	require.Error(t, err)
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	issuer, err := NewIssuer("test-secret")
	require.NoError(t, err)

	userID := primitive.NewObjectID()
	token, err := issuer.Issue(userID)
	require.NoError(t, err)

	got, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestIssueRejectsZeroUser(t *testing.T) {
	issuer, err := NewIssuer("test-secret")
	require.NoError(t, err)

	_, err = issuer.Issue(primitive.NilObjectID)
	require.Error(t, err)
}

func TestVerifyExpiry(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	userID := primitive.NewObjectID()

	minting, err := NewIssuer("test-secret", WithClock(fixedClock(issuedAt)))
	require.NoError(t, err)
	token, err := minting.Issue(userID)
	require.NoError(t, err)

	tests := []struct {
		name    string
		at      time.Time
		wantErr bool
	}{
		{name: "fresh", at: issuedAt.Add(time.Minute)},
		{name: "one second before expiry", at: issuedAt.Add(DefaultTokenTTL - time.Second)},
		{name: "one second after expiry", at: issuedAt.Add(DefaultTokenTTL + time.Second), wantErr: true},
		{name: "a year later", at: issuedAt.AddDate(1, 0, 0), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier, err := NewIssuer("test-secret", WithClock(fixedClock(tt.at)))
			require.NoError(t, err)

			got, err := verifier.Verify(token)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidCredential)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, userID, got)
		})
	}
}

func TestVerifyRejectsTamperedTokens(t *testing.T) {
	issuer, err := NewIssuer("test-secret")
	require.NoError(t, err)
	token, err := issuer.Issue(primitive.NewObjectID())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	other, err := NewIssuer("other-secret")
	require.NoError(t, err)
	foreign, err := other.Issue(primitive.NewObjectID())
	require.NoError(t, err)
	foreignParts := strings.Split(foreign, ".")

	cases := map[string]string{
		"empty":             "",
		"garbage":           "not-a-token",
		"wrong secret":      foreign,
		"swapped payload":   parts[0] + "." + foreignParts[1] + "." + parts[2],
		"truncated":         parts[0] + "." + parts[1],
		"flipped signature": parts[0] + "." + parts[1] + "." + flipFirst(parts[2]),
	}
	for name, candidate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := issuer.Verify(candidate)
			require.ErrorIs(t, err, ErrInvalidCredential)
		})
	}
}

func TestVerifyRejectsOtherSigningMethods(t *testing.T) {
	issuer, err := NewIssuer("test-secret")
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{
		Subject:   primitive.NewObjectID().Hex(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = issuer.Verify(unsigned)
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyRejectsMissingExpiry(t *testing.T) {
	issuer, err := NewIssuer("test-secret")
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{Subject: primitive.NewObjectID().Hex()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func flipFirst(s string) string {
	if s == "" {
		return s
	}
	replacement := "A"
	if s[0] == 'A' {
		replacement = "B"
	}
	return replacement + s[1:]
}
