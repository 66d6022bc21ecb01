package api

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/require"
	chatdomain "github.com/yuka166/chatapp-server/domain/chat"
	userdomain "github.com/yuka166/chatapp-server/domain/user"
	"github.com/yuka166/chatapp-server/modules/broadcast"
	"github.com/yuka166/chatapp-server/modules/identity"
	"github.com/yuka166/chatapp-server/modules/session"
	"github.com/yuka166/chatapp-server/pkg/apperr"
)

var errNotImplemented = errors.New("not implemented")

type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any)         {}
func (m *mockLogger) Info(_ string, _ ...any)          {}
func (m *mockLogger) Warn(_ string, _ ...any)          {}
func (m *mockLogger) Error(_ string, _ ...any)         {}
func (m *mockLogger) With(_ ...any) types.Logger       { return m }
func (m *mockLogger) WithModule(_ string) types.Logger { return m }
func (m *mockLogger) WithError(_ error) types.Logger   { return m }

// mockIdentity implements identity.IdentityPort for testing. Tokens of the
// form "token-<user>" verify as that user unless verifyFunc is set.
type mockIdentity struct {
	registerFunc    func(ctx context.Context, req identity.RegisterRequest) (*identity.RegisterResponse, error)
	loginFunc       func(ctx context.Context, username, password string, remember bool) (*identity.LoginResponse, error)
	verifyFunc      func(ctx context.Context, token string) (*userdomain.Claims, error)
	searchUsersFunc func(ctx context.Context, prefix, requesterID string, limit int) ([]userdomain.Profile, error)
}

func (m *mockIdentity) Register(ctx context.Context, req identity.RegisterRequest) (*identity.RegisterResponse, error) {
	if m.registerFunc != nil {
		return m.registerFunc(ctx, req)
	}
	return nil, errNotImplemented
}

func (m *mockIdentity) Login(ctx context.Context, username, password string, remember bool) (*identity.LoginResponse, error) {
	if m.loginFunc != nil {
		return m.loginFunc(ctx, username, password, remember)
	}
	return nil, errNotImplemented
}

func (m *mockIdentity) VerifyToken(ctx context.Context, token string) (*userdomain.Claims, error) {
	if m.verifyFunc != nil {
		return m.verifyFunc(ctx, token)
	}
	if len(token) > len("token-") && token[:len("token-")] == "token-" {
		user := token[len("token-"):]
		return &userdomain.Claims{UserID: user, Username: user, ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	return nil, apperr.Auth("invalid token")
}

func (m *mockIdentity) GetUser(_ context.Context, _ string) (*userdomain.Profile, error) {
	return nil, errNotImplemented
}

func (m *mockIdentity) GetUsers(_ context.Context, _ []string) ([]userdomain.Profile, error) {
	return nil, errNotImplemented
}

func (m *mockIdentity) SearchUsers(ctx context.Context, prefix, requesterID string, limit int) ([]userdomain.Profile, error) {
	if m.searchUsersFunc != nil {
		return m.searchUsersFunc(ctx, prefix, requesterID, limit)
	}
	return nil, errNotImplemented
}

// mockChat implements chat.ChatPort for testing.
type mockChat struct {
	listRoomsFunc      func(ctx context.Context, userID string) ([]chatdomain.RoomSummary, error)
	openDirectRoomFunc func(ctx context.Context, initiatorID, peerID string) (*chatdomain.RoomView, bool, error)
	joinRoomFunc       func(ctx context.Context, roomID, userID string) error
	sendMessageFunc    func(ctx context.Context, roomID, authorID, content string) (*chatdomain.ChatMessage, error)
	getRoomFunc        func(ctx context.Context, roomID, viewerID string) (*chatdomain.RoomSummary, error)
	getHistoryFunc     func(ctx context.Context, roomID, viewerID string, limit int) ([]chatdomain.ChatMessage, error)
}

func (m *mockChat) ListRooms(ctx context.Context, userID string) ([]chatdomain.RoomSummary, error) {
	if m.listRoomsFunc != nil {
		return m.listRoomsFunc(ctx, userID)
	}
	return nil, errNotImplemented
}

func (m *mockChat) OpenDirectRoom(ctx context.Context, initiatorID, peerID string) (*chatdomain.RoomView, bool, error) {
	if m.openDirectRoomFunc != nil {
		return m.openDirectRoomFunc(ctx, initiatorID, peerID)
	}
	return nil, false, errNotImplemented
}

func (m *mockChat) JoinRoom(ctx context.Context, roomID, userID string) error {
	if m.joinRoomFunc != nil {
		return m.joinRoomFunc(ctx, roomID, userID)
	}
	return errNotImplemented
}

func (m *mockChat) SendMessage(ctx context.Context, roomID, authorID, content string) (*chatdomain.ChatMessage, error) {
	if m.sendMessageFunc != nil {
		return m.sendMessageFunc(ctx, roomID, authorID, content)
	}
	return nil, errNotImplemented
}

func (m *mockChat) GetRoom(ctx context.Context, roomID, viewerID string) (*chatdomain.RoomSummary, error) {
	if m.getRoomFunc != nil {
		return m.getRoomFunc(ctx, roomID, viewerID)
	}
	return nil, errNotImplemented
}

func (m *mockChat) GetHistory(ctx context.Context, roomID, viewerID string, limit int) ([]chatdomain.ChatMessage, error) {
	if m.getHistoryFunc != nil {
		return m.getHistoryFunc(ctx, roomID, viewerID, limit)
	}
	return nil, errNotImplemented
}

type mockLimiter struct {
	allowFunc func(ctx context.Context, bucket, key string) error
}

func (m *mockLimiter) Allow(ctx context.Context, bucket, key string) error {
	return m.allowFunc(ctx, bucket, key)
}

type mockChecker struct {
	status mono.HealthStatus
}

func (m *mockChecker) Health(_ context.Context) mono.HealthStatus {
	return m.status
}

// newTestModule wires an APIModule to mocks without starting a server.
func newTestModule(id *mockIdentity, ch *mockChat) *APIModule {
	m := NewModule(Config{AllowedOrigins: "http://localhost:5173"}, &mockLogger{})
	m.identity = id
	m.gate = session.NewGate(id)
	m.chat = ch
	m.registry = broadcast.NewRegistry(32)
	return m
}

// frame is a decoded server frame.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// nextFrame returns the next queued frame of conn.
func nextFrame(t *testing.T, conn *broadcast.Conn) frame {
	t.Helper()
	select {
	case raw := <-conn.Outbound():
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame queued")
		return frame{}
	}
}

// requireNoFrame asserts that nothing is queued for conn.
func requireNoFrame(t *testing.T, conn *broadcast.Conn) {
	t.Helper()
	select {
	case raw := <-conn.Outbound():
		t.Fatalf("unexpected frame: %s", raw)
	default:
	}
}

func send(t *testing.T, m *APIModule, cl *client, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	raw, err := json.Marshal(ClientFrame{Event: event, Data: payload})
	require.NoError(t, err)
	m.dispatch(context.Background(), cl, raw)
}

func decodeError(t *testing.T, f frame) ErrorPayload {
	t.Helper()
	require.Equal(t, EventError, f.Event)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	return p
}

// authed returns a client authenticated as user with its getId frame
// consumed.
func authed(t *testing.T, m *APIModule, user string) *client {
	t.Helper()
	cl := m.newClient()
	send(t, m, cl, EventAuthenticate, "token-"+user)
	f := nextFrame(t, cl.conn)
	require.Equal(t, EventGetID, f.Event)
	return cl
}
