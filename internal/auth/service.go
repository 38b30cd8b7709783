package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/folio-labs/portfolio-service/internal/model"
	"github.com/folio-labs/portfolio-service/internal/store"
)

// UserStore is the subset of store.Store the account service needs.
type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// Session is the result of a successful registration or login.
type Session struct {
	User      *model.User `json:"user"`
	AuthToken string      `json:"auth_token"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Service manages accounts.
type Service struct {
	users  UserStore
	tokens Tokens
	cost   int
	log    zerolog.Logger
}

// NewService creates an account service hashing at bcrypt.DefaultCost.
func NewService(users UserStore, tokens Tokens, log zerolog.Logger) *Service {
	return &Service{users: users, tokens: tokens, cost: bcrypt.DefaultCost, log: log}
}

// WithHashCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func (s *Service) WithHashCost(cost int) *Service {
	s.cost = cost
	return s
}

// Register creates an account and returns a session for it.
func (s *Service) Register(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return nil, err
	}

	u := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return nil, err
	}

	s.log.Info().Str("user_id", u.ID).Msg("user registered")
	return s.session(u)
}

// Login checks credentials and returns a new session. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(u.PasswordHash, password) {
		s.log.Debug().Str("user_id", u.ID).Msg("login rejected")
		return nil, ErrInvalidCredentials
	}
	return s.session(u)
}

// Authenticate verifies token and checks that its user still exists.
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, error) {
	claims, err := s.tokens.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetUser(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: user no longer exists", ErrInvalidToken)
	}
	return u, err
}

// DeleteAccount removes the user together with its portfolios.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("delete user %s: %w", userID, err)
	}
	s.log.Info().Str("user_id", userID).Msg("user deleted")
	return nil
}

func (s *Service) session(u *model.User) (*Session, error) {
	token, exp, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, AuthToken: token, ExpiresAt: exp}, nil
}
