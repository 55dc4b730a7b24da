// Package authpw provides email/password accounts and password resets.
package authpw

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"leadflow/api/internal/auth"
	"leadflow/api/internal/store"
	"leadflow/api/internal/util"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
)

const resetTTL = time.Hour

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	ConsumePasswordReset(ctx context.Context, tokenHash string) (string, error)
}

// Mailer delivers reset links. An unconfigured mailer puts the service in
// development mode, where the raw token is handed back to the caller.
type Mailer interface {
	IsConfigured() bool
	SendPasswordReset(to, userName, token string) error
}

type Service struct {
	store     UserStore
	mailer    Mailer
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

func NewService(users UserStore, mailer Mailer, secret string, accessTTL time.Duration) *Service {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	return &Service{
		store:     users,
		mailer:    mailer,
		secret:    []byte(secret),
		accessTTL: accessTTL,
		now:       time.Now,
	}
}

// Session is the access grant returned after sign-up or sign-in.
type Session struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresIn   int        `json:"expires_in"`
	ExpiresAt   int64      `json:"expires_at"`
	User        PublicUser `json:"user"`
}

type PublicUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

func Public(user store.User) PublicUser {
	return PublicUser{ID: user.ID, Email: user.Email, DisplayName: user.DisplayName}
}

type SignUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (Session, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return Session{}, err
	}
	if len(req.Password) < 8 {
		return Session{}, ErrWeakPassword
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return Session{}, ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	user, err := s.store.CreateUser(ctx, store.User{Email: email, DisplayName: name, PasswordHash: string(hash)})
	if err != nil {
		return Session{}, fmt.Errorf("create user: %w", err)
	}
	return s.issue(user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return Session{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return s.issue(user)
}

// User resolves a bearer token to its account.
func (s *Service) User(ctx context.Context, accessToken string) (store.User, error) {
	claims, err := auth.ParseToken(s.secret, accessToken)
	if err != nil {
		return store.User{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return store.User{}, auth.ErrInvalidToken
	}
	return user, nil
}

// RequestPasswordReset never reveals whether email is registered. The token
// is returned only when no mailer is configured.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", nil
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := s.store.CreatePasswordReset(ctx, user.ID, auth.HashToken(token), s.now().Add(resetTTL)); err != nil {
		return "", fmt.Errorf("store reset: %w", err)
	}

	if s.mailer != nil && s.mailer.IsConfigured() {
		if err := s.mailer.SendPasswordReset(user.Email, user.DisplayName, token); err != nil {
			return "", fmt.Errorf("send reset email: %w", err)
		}
		return "", nil
	}
	return token, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	if len(newPassword) < 8 {
		return ErrWeakPassword
	}

	userID, err := s.store.ConsumePasswordReset(ctx, auth.HashToken(token))
	if err != nil {
		return ErrInvalidResetToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *Service) issue(user store.User) (Session, error) {
	expiresAt := s.now().Add(s.accessTTL)
	token, err := auth.IssueToken(s.secret, auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		JTI:   util.ShortID(),
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(s.accessTTL.Seconds()),
		ExpiresAt:   expiresAt.Unix(),
		User:        Public(user),
	}, nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Address != strings.TrimSpace(raw) {
		return "", fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	return strings.ToLower(addr.Address), nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
