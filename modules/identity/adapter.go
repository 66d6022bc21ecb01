package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	domain "github.com/yuka166/chatapp-server/domain/user"
	"github.com/yuka166/chatapp-server/pkg/apperr"
)

// IdentityPort is the port other modules use to reach the identity module.
type IdentityPort interface {
	Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error)
	Login(ctx context.Context, username, password string, remember bool) (*LoginResponse, error)
	VerifyToken(ctx context.Context, token string) (*domain.Claims, error)
	GetUser(ctx context.Context, userID string) (*domain.Profile, error)
	GetUsers(ctx context.Context, userIDs []string) ([]domain.Profile, error)
	SearchUsers(ctx context.Context, prefix, requesterID string, limit int) ([]domain.Profile, error)
}

// IdentityAdapter implements IdentityPort using the service container.
type IdentityAdapter struct {
	container mono.ServiceContainer
	timeout   time.Duration
}

var _ IdentityPort = (*IdentityAdapter)(nil)

// NewIdentityAdapter creates a new IdentityAdapter. Each call is bounded by
// timeout.
func NewIdentityAdapter(container mono.ServiceContainer, timeout time.Duration) *IdentityAdapter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &IdentityAdapter{
		container: container,
		timeout:   timeout,
	}
}

func (a *IdentityAdapter) call(ctx context.Context, service string, req, resp any) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		service,
		json.Marshal,
		json.Unmarshal,
		req,
		resp,
	); err != nil {
		return apperr.Unavailable(service+" request failed", err)
	}
	return nil
}

// Register creates a new account.
func (a *IdentityAdapter) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := a.call(ctx, ServiceRegister, &req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Error.Err(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login checks credentials and returns a session token.
func (a *IdentityAdapter) Login(ctx context.Context, username, password string, remember bool) (*LoginResponse, error) {
	req := LoginRequest{Username: username, Password: password, Remember: remember}
	var resp LoginResponse
	if err := a.call(ctx, ServiceLogin, &req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Error.Err(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyToken verifies a session token and returns its claims.
func (a *IdentityAdapter) VerifyToken(ctx context.Context, token string) (*domain.Claims, error) {
	req := VerifyTokenRequest{Token: token}
	var resp VerifyTokenResponse
	if err := a.call(ctx, ServiceVerifyToken, &req, &resp); err != nil {
		return nil, err
	}
	if !resp.Valid {
		if err := resp.Error.Err(); err != nil {
			return nil, err
		}
		return nil, apperr.Auth("invalid token")
	}
	return &domain.Claims{
		UserID:    resp.UserID,
		Username:  resp.Username,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

// GetUser retrieves a user's public profile.
func (a *IdentityAdapter) GetUser(ctx context.Context, userID string) (*domain.Profile, error) {
	req := GetUserRequest{UserID: userID}
	var resp GetUserResponse
	if err := a.call(ctx, ServiceGetUser, &req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Error.Err(); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, apperr.NotFound("user not found")
	}
	return resp.User, nil
}

// GetUsers retrieves the profiles of the existing users among userIDs.
func (a *IdentityAdapter) GetUsers(ctx context.Context, userIDs []string) ([]domain.Profile, error) {
	req := GetUsersRequest{UserIDs: userIDs}
	var resp GetUsersResponse
	if err := a.call(ctx, ServiceGetUsers, &req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Error.Err(); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// SearchUsers searches usernames by prefix, excluding the requester.
func (a *IdentityAdapter) SearchUsers(ctx context.Context, prefix, requesterID string, limit int) ([]domain.Profile, error) {
	req := SearchUsersRequest{Prefix: prefix, RequesterID: requesterID, Limit: limit}
	var resp SearchUsersResponse
	if err := a.call(ctx, ServiceSearchUsers, &req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Error.Err(); err != nil {
		return nil, err
	}
	return resp.Users, nil
}
