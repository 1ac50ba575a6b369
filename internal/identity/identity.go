package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/sol1corejz/sendcent/internal/auth"
	"github.com/sol1corejz/sendcent/internal/logger"
	"github.com/sol1corejz/sendcent/internal/models"
	"github.com/sol1corejz/sendcent/internal/store"
)

var emailPattern = regexp.MustCompile(`^.+@.+\..+$`)

// Store is the persistence capability the identity service needs.
type Store interface {
	CreateUser(ctx context.Context, name, email, passwordHash string, initialBalance int64) (models.User, error)
	UserByEmail(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, id int64) (models.User, error)
	InsertToken(ctx context.Context, userID int64, token string) error
	TokenUser(ctx context.Context, token string) (models.User, error)
	RevokeToken(ctx context.Context, userID int64, token string) error
}

type Service struct {
	store       Store
	bcryptCost  int
	signupBonus int64
}

// NewService builds the identity service. bcryptCost 0 means the library
// default; signupBonus seeds both balance and initial_balance so the
// conservation invariant stays intact.
func NewService(st Store, bcryptCost int, signupBonus int64) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{store: st, bcryptCost: bcryptCost, signupBonus: signupBonus}
}

func (s *Service) Register(ctx context.Context, name, email, password string) (models.User, string, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if len(name) < 2 {
		return models.User{}, "", fmt.Errorf("%w: name must be at least 2 characters", ErrValidation)
	}
	if !emailPattern.MatchString(email) {
		return models.User{}, "", fmt.Errorf("%w: email is not valid", ErrValidation)
	}
	if len(password) < 8 {
		return models.User{}, "", fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		logger.Log.Error("Error hashing password", zap.Error(err))
		return models.User{}, "", err
	}

	user, err := s.store.CreateUser(ctx, name, email, string(hashedPassword), s.signupBonus)
	if err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return models.User{}, "", ErrEmailInUse
		}
		return models.User{}, "", err
	}

	token, err := s.issueToken(ctx, user.ID)
	if err != nil {
		return models.User{}, "", err
	}

	logger.Log.Info("User registered", zap.Int64("user_id", user.ID))
	return user, token, nil
}

// Login does not reveal whether the email or the password was wrong; both
// paths return ErrBadCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (models.User, string, error) {
	user, err := s.store.UserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.User{}, "", ErrBadCredentials
		}
		return models.User{}, "", err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return models.User{}, "", ErrBadCredentials
	}

	token, err := s.issueToken(ctx, user.ID)
	if err != nil {
		return models.User{}, "", err
	}

	return user, token, nil
}

// Authenticate resolves a bearer token to its owning user. The token must
// both carry a valid signature and still be live in the token table.
func (s *Service) Authenticate(ctx context.Context, token string) (models.User, error) {
	if _, err := auth.GetUserID(token); err != nil {
		return models.User{}, ErrInvalidToken
	}

	user, err := s.store.TokenUser(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.User{}, ErrInvalidToken
		}
		return models.User{}, err
	}

	return user, nil
}

// Logout revokes only the presented token; the user's other sessions
// survive.
func (s *Service) Logout(ctx context.Context, userID int64, token string) error {
	return s.store.RevokeToken(ctx, userID, token)
}

func (s *Service) ResolveReceiver(ctx context.Context, email string, caller models.User) (models.User, error) {
	email = strings.TrimSpace(email)
	if email == caller.Email {
		return models.User{}, ErrSelfReceiver
	}

	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.User{}, ErrReceiverNotFound
		}
		return models.User{}, err
	}

	return user, nil
}

func (s *Service) issueToken(ctx context.Context, userID int64) (string, error) {
	token, err := auth.GenerateToken(userID)
	if err != nil {
		logger.Log.Error("Error generating token", zap.Error(err))
		return "", err
	}
	if err := s.store.InsertToken(ctx, userID, token); err != nil {
		return "", err
	}
	return token, nil
}
