package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/storefront/apiserver/internal/auth"
	"github.com/storefront/apiserver/internal/store"
	"github.com/storefront/apiserver/internal/store/memstore"
	"github.com/storefront/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newUserService(t *testing.T) (*UserService, *memstore.Users) {
	t.Helper()
	issuer, err := auth.NewIssuer("test-secret")
	require.NoError(t, err)
	users := memstore.NewUsers()
	return NewUserService(users, issuer), users
}

func register(t *testing.T, svc *UserService, name, email string) types.User {
	t.Helper()
	user, _, err := svc.Register(context.Background(), RegisterInput{Name: name, Email: email, Password: "secret123"})
	require.NoError(t, err)
	return user
}

func adminPrincipal(t *testing.T, svc *UserService, users *memstore.Users, email string) types.Principal {
	t.Helper()
	ctx := context.Background()
	register(t, svc, "Admin", email)
	require.NoError(t, svc.Promote(ctx, email))
	admin, err := users.GetByEmail(ctx, email)
	require.NoError(t, err)
	return types.PrincipalFromUser(admin)
}

func TestRegisterIssuesResolvableToken(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	user, token, err := svc.Register(ctx, RegisterInput{Name: "Ann", Email: " Ann@Example.com ", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", user.Email)
	assert.False(t, user.IsAdmin)
	assert.NotEqual(t, "secret123", user.PasswordHash)

	principal, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, principal.ID)
	assert.Equal(t, "Ann", principal.Name)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, _ := newUserService(t)
	register(t, svc, "Ann", "ann@example.com")

	_, _, err := svc.Register(context.Background(), RegisterInput{Name: "Other", Email: "ann@example.com", Password: "x"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestRegisterValidatesInput(t *testing.T) {
	svc, _ := newUserService(t)
	cases := []RegisterInput{
		{Name: "", Email: "a@example.com", Password: "x"},
		{Name: "A", Email: "", Password: "x"},
		{Name: "A", Email: "a@example.com", Password: ""},
		{Name: "A", Email: "not-an-email", Password: "x"},
	}
	for i, in := range cases {
		t.Run(fmt.Sprintf("case-%d", i), func(t *testing.T) {
			_, _, err := svc.Register(context.Background(), in)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestLogin(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()
	user := register(t, svc, "Ann", "ann@example.com")

	got, token, err := svc.Login(ctx, "ANN@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.NotEmpty(t, token)

	_, _, err = svc.Login(ctx, "ann@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidLogin)

	_, _, err = svc.Login(ctx, "nobody@example.com", "secret123")
	require.ErrorIs(t, err, ErrInvalidLogin)
}

func TestAuthenticateFailsAfterAccountDeleted(t *testing.T) {
	svc, users := newUserService(t)
	ctx := context.Background()

	_, token, err := svc.Register(ctx, RegisterInput{Name: "Ann", Email: "ann@example.com", Password: "secret123"})
	require.NoError(t, err)
	principal, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)

	require.NoError(t, users.Delete(ctx, principal.ID))

	_, err = svc.Authenticate(ctx, token)
	require.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	svc, _ := newUserService(t)
	_, err := svc.Authenticate(context.Background(), "not.a.token")
	require.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestUpdateProfile(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()
	user := register(t, svc, "Ann", "ann@example.com")
	p := types.PrincipalFromUser(user)

	updated, token, err := svc.UpdateProfile(ctx, p, ProfilePatch{Name: "Annie", Password: "newpass"})
	require.NoError(t, err)
	assert.Equal(t, "Annie", updated.Name)
	assert.Equal(t, "ann@example.com", updated.Email)
	assert.NotEmpty(t, token)

	_, _, err = svc.Login(ctx, "ann@example.com", "newpass")
	require.NoError(t, err)

	_, _, err = svc.UpdateProfile(ctx, types.Principal{}, ProfilePatch{Name: "x"})
	require.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestUpdateProfileEmailConflict(t *testing.T) {
	svc, _ := newUserService(t)
	register(t, svc, "Bob", "bob@example.com")
	ann := register(t, svc, "Ann", "ann@example.com")

	_, _, err := svc.UpdateProfile(context.Background(), types.PrincipalFromUser(ann), ProfilePatch{Email: "bob@example.com"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestConcurrentProfileUpdatesLastWriteWins(t *testing.T) {
	svc, users := newUserService(t)
	ctx := context.Background()
	user := register(t, svc, "Ann", "ann@example.com")
	p := types.PrincipalFromUser(user)

	names := []string{"One", "Two", "Three", "Four"}
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, _, err := svc.UpdateProfile(ctx, p, ProfilePatch{Name: name})
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()

	stored, err := users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Contains(t, names, stored.Name)
	assert.Equal(t, "ann@example.com", stored.Email)
}

func TestAdminUserOperations(t *testing.T) {
	svc, users := newUserService(t)
	ctx := context.Background()
	admin := adminPrincipal(t, svc, users, "admin@example.com")
	ann := register(t, svc, "Ann", "ann@example.com")
	annP := types.PrincipalFromUser(ann)

	all, err := svc.List(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.List(ctx, annP)
	require.ErrorIs(t, err, auth.ErrForbidden)

	got, err := svc.Get(ctx, admin, ann.ID)
	require.NoError(t, err)
	assert.Equal(t, ann.Email, got.Email)

	_, err = svc.Get(ctx, admin, primitive.NewObjectID())
	require.ErrorIs(t, err, store.ErrNotFound)

	updated, err := svc.Update(ctx, admin, ann.ID, AdminUserPatch{Name: "Ann B", IsAdmin: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, "Ann B", updated.Name)
	assert.True(t, updated.IsAdmin)

	updated, err = svc.Update(ctx, admin, ann.ID, AdminUserPatch{Email: "ann.b@example.com"})
	require.NoError(t, err)
	assert.True(t, updated.IsAdmin)
	assert.Equal(t, "ann.b@example.com", updated.Email)
}

func TestDeleteUserRules(t *testing.T) {
	svc, users := newUserService(t)
	ctx := context.Background()
	admin := adminPrincipal(t, svc, users, "admin@example.com")
	other := adminPrincipal(t, svc, users, "root@example.com")
	ann := register(t, svc, "Ann", "ann@example.com")
	annP := types.PrincipalFromUser(ann)

	t.Run("non-admin is forbidden and nothing changes", func(t *testing.T) {
		err := svc.Delete(ctx, annP, admin.ID)
		require.ErrorIs(t, err, auth.ErrForbidden)
		_, err = users.GetByID(ctx, admin.ID)
		require.NoError(t, err)
	})

	t.Run("self delete rejected", func(t *testing.T) {
		require.ErrorIs(t, svc.Delete(ctx, admin, admin.ID), ErrInvalidInput)
	})

	t.Run("admin delete rejected", func(t *testing.T) {
		require.ErrorIs(t, svc.Delete(ctx, admin, other.ID), ErrInvalidInput)
	})

	t.Run("missing user", func(t *testing.T) {
		require.ErrorIs(t, svc.Delete(ctx, admin, primitive.NewObjectID()), store.ErrNotFound)
	})

	t.Run("customer deleted", func(t *testing.T) {
		require.NoError(t, svc.Delete(ctx, admin, ann.ID))
		_, err := users.GetByID(ctx, ann.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestPromoteUnknownEmail(t *testing.T) {
	svc, _ := newUserService(t)
	require.ErrorIs(t, svc.Promote(context.Background(), "ghost@example.com"), store.ErrNotFound)
	require.ErrorIs(t, svc.Promote(context.Background(), " "), ErrInvalidInput)
}
