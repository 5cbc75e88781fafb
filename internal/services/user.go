package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/storefront/apiserver/internal/auth"
	"github.com/storefront/apiserver/internal/store"
	"github.com/storefront/apiserver/types"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetMany(ctx context.Context, ids []primitive.ObjectID) ([]types.User, error)
	List(ctx context.Context) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	SetAdmin(ctx context.Context, email string, isAdmin bool) error
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// TokenIssuer mints and verifies session credentials.
type TokenIssuer interface {
	Issue(userID primitive.ObjectID) (string, error)
	Verify(token string) (primitive.ObjectID, error)
}

// RegisterInput is the payload of a sign-up.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// ProfilePatch carries the fields a user may change on their own account.
// Empty strings leave the stored value unchanged.
type ProfilePatch struct {
	Name     string
	Email    string
	Password string
}

// AdminUserPatch carries the fields an administrator may change on any
// account. Empty strings and a nil IsAdmin leave stored values unchanged.
type AdminUserPatch struct {
	Name    string
	Email   string
	IsAdmin *bool
}

// UserService encapsulates account use-cases and the Access Gate.
type UserService struct {
	repo   UserRepository
	tokens TokenIssuer
}

func NewUserService(repo UserRepository, tokens TokenIssuer) *UserService {
	return &UserService{repo: repo, tokens: tokens}
}

// Authenticate verifies token and resolves it to the current account.
// The account is always re-read so a deleted user is rejected even while
// the token is unexpired.
func (s *UserService) Authenticate(ctx context.Context, token string) (types.Principal, error) {
	userID, err := s.tokens.Verify(token)
	if err != nil {
		return types.Principal{}, fmt.Errorf("%w: token failed", auth.ErrUnauthenticated)
	}
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Principal{}, fmt.Errorf("%w: user no longer exists", auth.ErrUnauthenticated)
		}
		return types.Principal{}, err
	}
	return types.PrincipalFromUser(user), nil
}

// Register creates a customer account and returns it with a fresh token.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (types.User, string, error) {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	if name == "" || email == "" || in.Password == "" {
		return types.User{}, "", fmt.Errorf("%w: invalid user data", ErrInvalidInput)
	}
	if err := validateEmail(email); err != nil {
		return types.User{}, "", err
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return types.User{}, "", fmt.Errorf("%w: user already exists", ErrConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, "", err
	}

	hashed, err := auth.HashPassword(in.Password)
	if err != nil {
		return types.User{}, "", err
	}

	user, err := s.repo.Create(ctx, types.User{
		Name:         name,
		Email:        email,
		PasswordHash: hashed,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, "", fmt.Errorf("%w: user already exists", ErrConflict)
		}
		return types.User{}, "", err
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return types.User{}, "", err
	}
	return user, token, nil
}

// Login checks credentials and returns the account with a fresh token.
func (s *UserService) Login(ctx context.Context, email, password string) (types.User, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return types.User{}, "", ErrInvalidLogin
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, "", ErrInvalidLogin
		}
		return types.User{}, "", err
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return types.User{}, "", ErrInvalidLogin
		}
		return types.User{}, "", err
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return types.User{}, "", err
	}
	return user, token, nil
}

// Profile returns the caller's own account.
func (s *UserService) Profile(ctx context.Context, p types.Principal) (types.User, error) {
	if err := auth.Authenticated.Authorize(p); err != nil {
		return types.User{}, err
	}
	return s.repo.GetByID(ctx, p.ID)
}

// UpdateProfile applies patch to the caller's account and re-issues a token.
func (s *UserService) UpdateProfile(ctx context.Context, p types.Principal, patch ProfilePatch) (types.User, string, error) {
	if err := auth.Authenticated.Authorize(p); err != nil {
		return types.User{}, "", err
	}

	user, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return types.User{}, "", err
	}

	if name := strings.TrimSpace(patch.Name); name != "" {
		user.Name = name
	}
	if email := normalizeEmail(patch.Email); email != "" {
		if err := validateEmail(email); err != nil {
			return types.User{}, "", err
		}
		user.Email = email
	}
	if patch.Password != "" {
		hashed, err := auth.HashPassword(patch.Password)
		if err != nil {
			return types.User{}, "", err
		}
		user.PasswordHash = hashed
	}

	updated, err := s.save(ctx, user)
	if err != nil {
		return types.User{}, "", err
	}
	token, err := s.tokens.Issue(updated.ID)
	if err != nil {
		return types.User{}, "", err
	}
	return updated, token, nil
}

// List returns every account. Administrators only.
func (s *UserService) List(ctx context.Context, p types.Principal) ([]types.User, error) {
	if err := auth.Admin.Authorize(p); err != nil {
		return nil, err
	}
	return s.repo.List(ctx)
}

// Get returns any account by id. Administrators only.
func (s *UserService) Get(ctx context.Context, p types.Principal, id primitive.ObjectID) (types.User, error) {
	if err := auth.Admin.Authorize(p); err != nil {
		return types.User{}, err
	}
	return s.repo.GetByID(ctx, id)
}

// Update applies an administrative edit to any account.
func (s *UserService) Update(ctx context.Context, p types.Principal, id primitive.ObjectID, patch AdminUserPatch) (types.User, error) {
	if err := auth.Admin.Authorize(p); err != nil {
		return types.User{}, err
	}

	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	if name := strings.TrimSpace(patch.Name); name != "" {
		user.Name = name
	}
	if email := normalizeEmail(patch.Email); email != "" {
		if err := validateEmail(email); err != nil {
			return types.User{}, err
		}
		user.Email = email
	}
	if patch.IsAdmin != nil {
		user.IsAdmin = *patch.IsAdmin
	}

	return s.save(ctx, user)
}

// Delete removes a customer account. Administrators may not delete
// themselves or another administrator.
func (s *UserService) Delete(ctx context.Context, p types.Principal, id primitive.ObjectID) error {
	if err := auth.Admin.Authorize(p); err != nil {
		return err
	}
	if id == p.ID {
		return fmt.Errorf("%w: cannot delete your own account", ErrInvalidInput)
	}

	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if user.IsAdmin {
		return fmt.Errorf("%w: cannot delete admin user", ErrInvalidInput)
	}
	return s.repo.Delete(ctx, id)
}

// Promote grants the administrator capability to the account with email.
// It is an operator action and carries no principal.
func (s *UserService) Promote(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	return s.repo.SetAdmin(ctx, email, true)
}

func (s *UserService) save(ctx context.Context, user types.User) (types.User, error) {
	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, fmt.Errorf("%w: email already in use", ErrConflict)
		}
		return types.User{}, err
	}
	return updated, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return nil
}

func uniqueIDs(ids []primitive.ObjectID) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]struct{}, len(ids))
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if id.IsZero() {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
