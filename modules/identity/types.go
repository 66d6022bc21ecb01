package identity

import (
	"time"

	domain "github.com/yuka166/chatapp-server/domain/user"
	"github.com/yuka166/chatapp-server/pkg/apperr"
)

// Service names exposed by the identity module.
const (
	ServiceRegister    = "register"
	ServiceLogin       = "login"
	ServiceVerifyToken = "verify-token"
	ServiceGetUser     = "get-user"
	ServiceGetUsers    = "get-users"
	ServiceSearchUsers = "search-users"
)

// RegisterRequest represents a user registration request.
type RegisterRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayname,omitempty"`
}

// RegisterResponse represents a user registration response.
type RegisterResponse struct {
	ID        string       `json:"id,omitempty"`
	Username  string       `json:"username,omitempty"`
	Email     string       `json:"email,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
	Error     *apperr.Body `json:"error,omitempty"`
}

// LoginRequest represents a user login request.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

// LoginResponse represents a user login response.
type LoginResponse struct {
	AccessToken string       `json:"access_token,omitempty"`
	TokenType   string       `json:"token_type,omitempty"`
	ExpiresIn   int64        `json:"expires_in,omitempty"`
	ExpiresAt   time.Time    `json:"expires_at,omitempty"`
	UserID      string       `json:"user_id,omitempty"`
	Username    string       `json:"username,omitempty"`
	Error       *apperr.Body `json:"error,omitempty"`
}

// VerifyTokenRequest represents a token verification request.
type VerifyTokenRequest struct {
	Token string `json:"token"`
}

// VerifyTokenResponse represents a token verification response.
type VerifyTokenResponse struct {
	Valid     bool         `json:"valid"`
	UserID    string       `json:"user_id,omitempty"`
	Username  string       `json:"username,omitempty"`
	ExpiresAt time.Time    `json:"expires_at,omitempty"`
	Error     *apperr.Body `json:"error,omitempty"`
}

// GetUserRequest represents a get user request.
type GetUserRequest struct {
	UserID string `json:"user_id"`
}

// GetUserResponse represents a get user response.
type GetUserResponse struct {
	User  *domain.Profile `json:"user,omitempty"`
	Error *apperr.Body    `json:"error,omitempty"`
}

// GetUsersRequest asks for the profiles of several users at once.
type GetUsersRequest struct {
	UserIDs []string `json:"user_ids"`
}

// GetUsersResponse carries the profiles of the users that exist.
type GetUsersResponse struct {
	Users []domain.Profile `json:"users"`
	Error *apperr.Body     `json:"error,omitempty"`
}

// SearchUsersRequest represents a username prefix search.
type SearchUsersRequest struct {
	Prefix      string `json:"prefix"`
	RequesterID string `json:"requester_id"`
	Limit       int    `json:"limit,omitempty"`
}

// SearchUsersResponse represents a username prefix search result.
type SearchUsersResponse struct {
	Users []domain.Profile `json:"users"`
	Error *apperr.Body     `json:"error,omitempty"`
}
