package api

import (
	"encoding/json"
	"time"
)

// RegisterRequest is the body of POST /api/v1/auth/register.
type RegisterRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayname"`
}

// RegisterResponse is returned after a successful registration.
type RegisterResponse struct {
	Status   string `json:"status"`
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// LoginRequest is the body of POST /api/v1/auth/login.
type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	StaySignIn bool   `json:"staySignIn"`
}

// LoginResponse carries the issued token. The same token is set as the auth
// cookie.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// UserResponse is one user search result.
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Modules   map[string]ModuleHealth `json:"modules"`
}

// ModuleHealth is the health of one module.
type ModuleHealth struct {
	Healthy bool           `json:"healthy"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Client event names.
const (
	EventAuthenticate = "authenticate"
	EventListRooms    = "listRooms"
	EventGetRooms     = "getRooms"
	EventCreateRoom   = "createRoom"
	EventJoinRoom     = "joinRoom"
	EventSendMessage  = "sendMessage"
)

// Server event names.
const (
	EventGetID      = "getId"
	EventAllRooms   = "allRooms"
	EventSendRoom   = "sendRoom"
	EventGotoBox    = "gotoBox"
	EventGetMessage = "getMessage"
	EventSetRoom    = "setRoom"
	EventError      = "error"
)

// ClientFrame is a frame received from a WebSocket client.
type ClientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SendMessagePayload is the data of a sendMessage event.
type SendMessagePayload struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Event     string `json:"event"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
