package types

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User represents a storefront account.
// It contains identity, capability, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID primitive.ObjectID `json:"_id" bson:"_id,omitempty"`

	// Name is the user's display name. It is copied onto reviews the
	// user writes.
	Name string `json:"name" bson:"name"`

	// Email is the user's login address. It is unique across accounts.
	Email string `json:"email" bson:"email"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" bson:"password"`

	// IsAdmin grants catalog management, account administration and
	// delivery confirmation.
	IsAdmin bool `json:"isAdmin" bson:"isAdmin"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Principal is the identity resolved from a verified credential.
// It is a snapshot of the account at request time and never carries
// the password hash.
type Principal struct {
	ID      primitive.ObjectID `json:"_id"`
	Name    string             `json:"name"`
	Email   string             `json:"email"`
	IsAdmin bool               `json:"isAdmin"`
}

// PrincipalFromUser builds the request identity for an account.
func PrincipalFromUser(user User) Principal {
	return Principal{
		ID:      user.ID,
		Name:    user.Name,
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
	}
}

// IsZero reports whether the principal carries no identity.
func (p Principal) IsZero() bool {
	return p.ID.IsZero()
}
