// Package authpw provides email/password accounts for idea owners and
// investors.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ballora/api/internal/store"
	"ballora/api/internal/util"
	"golang.org/x/crypto/bcrypt"
)

// ErrEmailExists is returned by SignUp when the address is already taken.
var ErrEmailExists = errors.New("email already registered")

// Service provides email/password authentication
type Service struct {
	store UserStore
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SignUpRequest contains sign-up parameters. Role decides which profile
// fields are required: idea owners carry academic fields, investors carry
// investment fields.
type SignUpRequest struct {
	Email          string
	Password       string
	Role           string
	FirstName      string
	LastName       string
	PhoneNumber    string
	University     string
	Career         string
	Specialty      string
	InvestmentType string
	AboutMe        string
	PhotoURL       string
}

type SignUpResponse struct {
	User store.User
}

// SignUp creates a new platform account. Admin accounts are never created
// here; admins are provisioned directly in the admins table.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" || req.FirstName == "" || req.LastName == "" {
		return nil, errors.New("email, password, and name are required")
	}
	if len(req.Password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}

	switch req.Role {
	case "idea-owner":
		if req.University == "" || req.Career == "" || req.Specialty == "" {
			return nil, errors.New("university, career, and specialty are required for idea owners")
		}
	case "investor":
		if req.InvestmentType == "" {
			return nil, errors.New("investment type is required for investors")
		}
	default:
		return nil, errors.New("role must be idea-owner or investor")
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:             util.NewID("usr"),
		Email:          email,
		PasswordHash:   string(hash),
		Role:           req.Role,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		PhoneNumber:    req.PhoneNumber,
		University:     req.University,
		Career:         req.Career,
		Specialty:      req.Specialty,
		InvestmentType: req.InvestmentType,
		AboutMe:        req.AboutMe,
		PhotoURL:       req.PhotoURL,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &SignUpResponse{User: user}, nil
}

type SignInRequest struct {
	Email    string
	Password string
}

// SignIn authenticates a user by email and password.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	if req.Email == "" || req.Password == "" {
		return store.User{}, errors.New("email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return store.User{}, errors.New("invalid email or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, errors.New("invalid email or password")
	}

	return user, nil
}

// RequestPasswordReset creates a password reset token. The empty return for
// unknown emails is deliberate: callers must not learn whether an account
// exists.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil
	}

	token := util.NewID("") + util.NewID("")
	expiresAt := time.Now().Add(1 * time.Hour)
	if err := s.store.CreatePasswordReset(ctx, user.ID, token, expiresAt); err != nil {
		return "", err
	}
	return token, nil
}

type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

// ResetPassword resets a user's password using a reset token.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if req.Token == "" || req.NewPassword == "" {
		return errors.New("token and new password are required")
	}
	if len(req.NewPassword) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	userID, err := s.store.GetPasswordReset(ctx, req.Token)
	if err != nil {
		return errors.New("invalid or expired reset token")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	_ = s.store.MarkPasswordResetUsed(ctx, req.Token)
	return nil
}
