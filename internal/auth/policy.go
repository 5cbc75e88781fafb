package auth

import (
	"errors"
	"fmt"

	"github.com/storefront/apiserver/types"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrUnauthenticated means no identity was established for the caller.
	ErrUnauthenticated = errors.New("not authorized")

	// ErrForbidden means the caller is known but lacks the capability.
	ErrForbidden = errors.New("forbidden")

	errAdminRequired = fmt.Errorf("%w: not authorized as an admin", ErrForbidden)
	errNotOwner      = fmt.Errorf("%w: not the owner of this resource", ErrForbidden)
)

// Policy decides whether a principal may perform an operation.
type Policy interface {
	Authorize(p types.Principal) error
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(p types.Principal) error

func (f PolicyFunc) Authorize(p types.Principal) error { return f(p) }

// Authenticated admits any resolved identity.
var Authenticated Policy = PolicyFunc(func(p types.Principal) error {
	if p.IsZero() {
		return ErrUnauthenticated
	}
	return nil
})

// Admin admits only administrators. A missing identity is forbidden,
// never implicitly allowed.
var Admin Policy = PolicyFunc(func(p types.Principal) error {
	if p.IsZero() || !p.IsAdmin {
		return errAdminRequired
	}
	return nil
})

// OwnerOrAdmin admits the owner of a resource or any administrator.
func OwnerOrAdmin(owner primitive.ObjectID) Policy {
	return PolicyFunc(func(p types.Principal) error {
		if p.IsZero() {
			return ErrUnauthenticated
		}
		if p.IsAdmin || (!owner.IsZero() && p.ID == owner) {
			return nil
		}
		return errNotOwner
	})
}
