// Package authpw provides email/password accounts.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"scrivono/api/internal/domain"
	"scrivono/api/internal/store"
	"scrivono/api/internal/util"
)

const invalidCredentials = "Incorrect email or password."

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

// Service provides email/password authentication
type Service struct {
	store UserStore
	cost  int
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
}

// NewService creates a new auth service
func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Name     string
	Email    string
	Username string
	Password string
}

// SignUp validates the request and creates the account.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	email := strings.TrimSpace(req.Email)
	username := strings.TrimSpace(req.Username)
	name := strings.TrimSpace(req.Name)

	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return store.User{}, domain.Validation("Please provide a valid email.")
	}
	if !usernamePattern.MatchString(username) {
		return store.User{}, domain.Validation("Username must be 3-32 letters, digits, dots, dashes or underscores.")
	}
	if len(req.Password) < 8 {
		return store.User{}, domain.Validation("Password must be at least 8 characters.")
	}
	if name == "" {
		name = username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, store.User{
		ID:           util.NewID(""),
		Name:         name,
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
	})
	switch {
	case errors.Is(err, store.ErrEmailTaken):
		return store.User{}, domain.Conflict("A user with this email already exists.")
	case errors.Is(err, store.ErrUsernameTaken):
		return store.User{}, domain.Conflict("A user with this username already exists.")
	case err != nil:
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a user. Unknown email and wrong password fail identically.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return store.User{}, domain.Validation(invalidCredentials)
	}

	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, domain.Validation(invalidCredentials)
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, domain.Validation(invalidCredentials)
	}
	return user, nil
}
