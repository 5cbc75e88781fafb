package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/storefront/apiserver/internal/auth"
	"github.com/storefront/apiserver/internal/logger"
	"github.com/storefront/apiserver/internal/services"
)

// Gate authenticates requests from their bearer token.
type Gate struct {
	users *services.UserService
	resp  Responder
}

// NewGate constructs the Access Gate middleware set.
func NewGate(users *services.UserService, resp Responder) *Gate {
	return &Gate{users: users, resp: resp}
}

// Authenticate resolves the bearer token to a Principal and stores it in
// the request context. Requests without a valid token are rejected.
func (g *Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			g.resp.Error(w, r, err)
			return
		}

		principal, err := g.users.Authenticate(r.Context(), token)
		if err != nil {
			g.resp.Error(w, r, err)
			return
		}

		ctx := withPrincipal(r.Context(), principal)
		ctx = logger.WithContext(ctx, logger.FromContext(ctx).With("user_id", principal.ID.Hex()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin admits only administrators. Mount it after Authenticate.
func (g *Gate) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := auth.Admin.Authorize(principalFrom(r.Context())); err != nil {
			g.resp.Error(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var errNoToken = fmt.Errorf("%w, no token", auth.ErrUnauthenticated)

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errNoToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errNoToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errNoToken
	}
	return token, nil
}
