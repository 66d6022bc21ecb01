package identity

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	domain "github.com/yuka166/chatapp-server/domain/user"
	"github.com/yuka166/chatapp-server/pkg/apperr"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72
	// MaxSearchResults caps username prefix searches.
	MaxSearchResults = 20
)

var (
	emailPattern    = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,4}$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.]{3,32}$`)
)

// RegisterInput carries the fields of a registration request.
type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
}

// Service implements registration, login, token verification and user
// lookups.
type Service struct {
	repo         UserRepository
	hasher       *PasswordHasher
	jwt          *JWTManager
	storeTimeout time.Duration
}

// NewService creates a new identity Service.
func NewService(repo UserRepository, hasher *PasswordHasher, jwt *JWTManager, storeTimeout time.Duration) *Service {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Service{
		repo:         repo,
		hasher:       hasher,
		jwt:          jwt,
		storeTimeout: storeTimeout,
	}
}

// Register validates the input and creates a new account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if !usernamePattern.MatchString(username) {
		return nil, apperr.Validation("username must be 3-32 characters of letters, digits, '_' or '.'")
	}
	if !emailPattern.MatchString(email) {
		return nil, apperr.Validation("invalid email")
	}
	if len(in.Password) < minPasswordLength {
		return nil, apperr.Validation("password must be at least 8 characters")
	}
	if len(in.Password) > maxPasswordLength {
		return nil, apperr.Validation("password must be at most 72 bytes")
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	exists, err := s.repo.Exists(ctx, username, email)
	if err != nil {
		return nil, apperr.Store("check user existence", err)
	}
	if exists {
		return nil, apperr.Conflict(ErrUserExists.Error())
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		Email:        email,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if name := strings.TrimSpace(in.DisplayName); name != "" {
		user.DisplayName = &name
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, ErrUserExists) {
			return nil, apperr.Conflict(ErrUserExists.Error())
		}
		return nil, apperr.Store("create user", err)
	}
	return user, nil
}

// Login checks credentials and issues a session token.
func (s *Service) Login(ctx context.Context, username, password string, remember bool) (*domain.Token, *domain.User, error) {
	invalid := apperr.Auth("invalid username or password")
	if username == "" || password == "" {
		return nil, nil, invalid
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	user, err := s.repo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, invalid
		}
		return nil, nil, apperr.Store("find user", err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, nil, invalid
	}

	ttl := s.jwt.TTL(remember)
	signed, expiresAt, err := s.jwt.Sign(user.ID, user.Username, ttl)
	if err != nil {
		return nil, nil, apperr.Internal("sign token", err)
	}
	return &domain.Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
		ExpiresAt:   expiresAt,
	}, user, nil
}

// VerifyToken verifies a session token and returns its identity.
func (s *Service) VerifyToken(_ context.Context, token string) (*domain.Claims, error) {
	claims, err := s.jwt.Verify(token)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return nil, apperr.Auth("token expired")
		}
		return nil, apperr.Auth("invalid token")
	}
	return &domain.Claims{
		UserID:    claims.UserID,
		Username:  claims.Username,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// GetUser returns a user by ID.
func (s *Service) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, apperr.Store("find user", err)
	}
	return user, nil
}

// GetProfiles returns the public profiles of the existing users among ids.
func (s *Service) GetProfiles(ctx context.Context, ids []string) ([]domain.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	users, err := s.repo.FindByIDs(ctx, dedupe(ids))
	if err != nil {
		return nil, apperr.Store("find users", err)
	}
	return profiles(users), nil
}

// SearchUsers returns users whose username starts with prefix, never
// including the requester.
func (s *Service) SearchUsers(ctx context.Context, prefix, requesterID string, limit int) ([]domain.Profile, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, apperr.Validation("search prefix is required")
	}
	if limit <= 0 || limit > MaxSearchResults {
		limit = MaxSearchResults
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	users, err := s.repo.SearchByPrefix(ctx, prefix, requesterID, limit)
	if err != nil {
		return nil, apperr.Store("search users", err)
	}
	return profiles(users), nil
}

// Ping checks the user store.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func profiles(users []domain.User) []domain.Profile {
	out := make([]domain.Profile, 0, len(users))
	for i := range users {
		out = append(out, users[i].Profile())
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
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
