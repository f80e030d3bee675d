package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"stockfolio/internal/auth"
	"stockfolio/internal/models"

	"github.com/sirupsen/logrus"
)

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
}

type TokenIssuer interface {
	Issue(u models.User) (string, error)
}

type UserService struct {
	store  UserStore
	tokens TokenIssuer
	now    func() time.Time
	log    *logrus.Logger
}

func NewUserService(store UserStore, tokens TokenIssuer, log *logrus.Logger) *UserService {
	return &UserService{store: store, tokens: tokens, now: time.Now, log: log}
}

// Session is what signup and signin hand back to the client.
type Session struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalid("Invalid email format")
	}
	return email, nil
}

func (s *UserService) SignUp(ctx context.Context, email, password, name string) (Session, error) {
	name = strings.TrimSpace(name)
	if strings.TrimSpace(email) == "" || password == "" || name == "" {
		return Session{}, invalid("All fields are required")
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, err
	}
	if !auth.StrongPassword(password) {
		return Session{}, invalid("Password must be at least 8 characters with 1 uppercase, 1 lowercase, and 1 number")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return Session{}, err
	}
	u := models.User{Email: email, Name: name, PasswordHash: hash, CreatedAt: s.now().UTC()}
	if err := s.store.CreateUser(ctx, &u); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return Session{}, ErrEmailTaken
		}
		s.log.Errorf("create user %s: %v", email, err)
		return Session{}, err
	}
	return s.session(u)
}

// SignIn answers ErrInvalidCredentials for both an unknown email and a wrong
// password.
func (s *UserService) SignIn(ctx context.Context, email, password string) (Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return Session{}, invalid("Email and password are required")
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, err
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return Session{}, ErrInvalidCredentials
	}
	return s.session(u)
}

func (s *UserService) session(u models.User) (Session, error) {
	tok, err := s.tokens.Issue(u)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: tok, User: u}, nil
}
