package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	chatdomain "github.com/yuka166/chatapp-server/domain/chat"
	userdomain "github.com/yuka166/chatapp-server/domain/user"
	"github.com/yuka166/chatapp-server/modules/broadcast"
	"github.com/yuka166/chatapp-server/modules/ratelimit"
	"github.com/yuka166/chatapp-server/pkg/apperr"
)

func directView(roomID, a, b string) *chatdomain.RoomView {
	return &chatdomain.RoomView{
		Room: chatdomain.Room{ID: roomID, Members: []string{a, b}},
		Members: []chatdomain.Member{
			{ID: a, Username: a},
			{ID: b, Username: b},
		},
	}
}

func TestDispatch_AuthenticateSendsIDOnce(t *testing.T) {
	m := newTestModule(&mockIdentity{}, &mockChat{})
	cl := m.newClient()

	send(t, m, cl, EventAuthenticate, "token-alice")
	f := nextFrame(t, cl.conn)
	assert.Equal(t, EventGetID, f.Event)
	var id string
	require.NoError(t, json.Unmarshal(f.Data, &id))
	assert.Equal(t, "alice", id)
	assert.Equal(t, 1, m.registry.Subscribers(broadcast.UserChannel("alice")))

	// Re-authenticating as the same user is silent.
	send(t, m, cl, EventAuthenticate, "token-alice")
	requireNoFrame(t, cl.conn)
}

func TestDispatch_AuthenticateRejectsOtherUser(t *testing.T) {
	m := newTestModule(&mockIdentity{}, &mockChat{})
	cl := authed(t, m, "alice")

	send(t, m, cl, EventAuthenticate, "token-bob")
	p := decodeError(t, nextFrame(t, cl.conn))
	assert.Equal(t, EventAuthenticate, p.Event)
	assert.Equal(t, "auth", p.Code)
	assert.Equal(t, 0, m.registry.Subscribers(broadcast.UserChannel("bob")))
}

func TestDispatch_AuthenticateInvalidToken(t *testing.T) {
	m := newTestModule(&mockIdentity{}, &mockChat{})
	cl := m.newClient()

	send(t, m, cl, EventAuthenticate, "garbage")
	p := decodeError(t, nextFrame(t, cl.conn))
	assert.Equal(t, "auth", p.Code)
	assert.False(t, p.Retryable)
	assert.False(t, cl.session.Authenticated())
}

func TestDispatch_RequiresAuthentication(t *testing.T) {
	called := false
	ch := &mockChat{
		sendMessageFunc: func(_ context.Context, _, _, _ string) (*chatdomain.ChatMessage, error) {
			called = true
			return nil, nil
		},
	}
	m := newTestModule(&mockIdentity{}, ch)
	cl := m.newClient()

	events := []struct {
		event string
		data  any
	}{
		{EventListRooms, nil},
		{EventCreateRoom, "bob"},
		{EventJoinRoom, "room-1"},
		{EventSendMessage, SendMessagePayload{RoomID: "room-1", Content: "hi"}},
	}
	for _, e := range events {
		send(t, m, cl, e.event, e.data)
		p := decodeError(t, nextFrame(t, cl.conn))
		assert.Equal(t, e.event, p.Event)
		assert.Equal(t, "auth", p.Code)
	}
	assert.False(t, called)
}

func TestDispatch_MalformedAndUnknown(t *testing.T) {
	m := newTestModule(&mockIdentity{}, &mockChat{})
	cl := m.newClient()

	m.dispatch(context.Background(), cl, []byte("{not json"))
	p := decodeError(t, nextFrame(t, cl.conn))
	assert.Equal(t, "validation", p.Code)

	send(t, m, cl, "dance", nil)
	p = decodeError(t, nextFrame(t, cl.conn))
	assert.Equal(t, "validation", p.Code)
	assert.Equal(t, "dance", p.Event)
}

func TestDispatch_ListRoomsSubscribesAndReplies(t *testing.T) {
	ch := &mockChat{
		listRoomsFunc: func(_ context.Context, userID string) ([]chatdomain.RoomSummary, error) {
			assert.Equal(t, "alice", userID)
			return []chatdomain.RoomSummary{{ID: "room-1"}, {ID: "room-2"}}, nil
		},
	}
	m := newTestModule(&mockIdentity{}, ch)
	cl := authed(t, m, "alice")

	send(t, m, cl, EventGetRooms, nil)
	f := nextFrame(t, cl.conn)
	assert.Equal(t, EventAllRooms, f.Event)

	var rooms []chatdomain.RoomSummary
	require.NoError(t, json.Unmarshal(f.Data, &rooms))
	require.Len(t, rooms, 2)
	assert.Equal(t, 1, m.registry.Subscribers(broadcast.RoomChannel("room-1")))
	assert.Equal(t, 1, m.registry.Subscribers(broadcast.RoomChannel("room-2")))
}

func TestDispatch_ListRoomsReachesEveryConnectionOfUser(t *testing.T) {
	ch := &mockChat{
		listRoomsFunc: func(_ context.Context, _ string) ([]chatdomain.RoomSummary, error) {
			return []chatdomain.RoomSummary{}, nil
		},
	}
	m := newTestModule(&mockIdentity{}, ch)
	tab1 := authed(t, m, "alice")
	tab2 := authed(t, m, "alice")

	send(t, m, tab1, EventListRooms, nil)
	assert.Equal(t, EventAllRooms, nextFrame(t, tab1.conn).Event)
	assert.Equal(t, EventAllRooms, nextFrame(t, tab2.conn).Event)
}

func TestDispatch_CreateRoomNotifiesBothMembers(t *testing.T) {
	ch := &mockChat{
		openDirectRoomFunc: func(_ context.Context, initiatorID, peerID string) (*chatdomain.RoomView, bool, error) {
			return directView("room-1", initiatorID, peerID), true, nil
		},
	}
	m := newTestModule(&mockIdentity{}, ch)
	alice := authed(t, m, "alice")
	bob := authed(t, m, "bob")

	send(t, m, alice, EventCreateRoom, "bob")

	f := nextFrame(t, alice.conn)
	assert.Equal(t, EventSendRoom, f.Event)
	var summary chatdomain.RoomSummary
	require.NoError(t, json.Unmarshal(f.Data, &summary))
	require.Len(t, summary.Members, 1)
	assert.Equal(t, "bob", summary.Members[0].ID)

	f = nextFrame(t, alice.conn)
	assert.Equal(t, EventGotoBox, f.Event)

	f = nextFrame(t, bob.conn)
	assert.Equal(t, EventSendRoom, f.Event)
	require.NoError(t, json.Unmarshal(f.Data, &summary))
	require.Len(t, summary.Members, 1)
	assert.Equal(t, "alice", summary.Members[0].ID)
	requireNoFrame(t, bob.conn)
}

func TestDispatch_CreateRoomErrors(t *testing.T) {
	ch := &mockChat{
		openDirectRoomFunc: func(_ context.Context, _, _ string) (*chatdomain.RoomView, bool, error) {
			return nil, false, apperr.Validation("cannot open a room with yourself")
		},
	}
	m := newTestModule(&mockIdentity{}, ch)
	cl := authed(t, m, "alice")

	send(t, m, cl, EventCreateRoom, "alice")
	p := decodeError(t, nextFrame(t, cl.conn))
	assert.Equal(t, "validation", p.Code)

	send(t, m, cl, EventCreateRoom, 42)
	p = decodeError(t, nextFrame(t, cl.conn))
	assert.Equal(t, "validation", p.Code)
}

func TestDispatch_JoinRoom(t *testing.T) {
	ch := &mockChat{
		joinRoomFunc: func(_ context.Context, roomID, _ string) error {
			if roomID == "room-1" {
				return nil
			}
			return apperr.Unauthorized("not a member")
		},
	}
	m := newTestModule(&mockIdentity{}, ch)
	cl := authed(t, m, "alice")

	send(t, m, cl, EventJoinRoom, "room-1")
	requireNoFrame(t, cl.conn)
	assert.Equal(t, 1, m.registry.Subscribers(broadcast.RoomChannel("room-1")))

	send(t, m, cl, EventJoinRoom, "room-2")
	p := decodeError(t, nextFrame(t, cl.conn))
	assert.Equal(t, "access_denied", p.Code)
	assert.Equal(t, apperr.AccessDenied, p.Message)
	assert.Equal(t, 0, m.registry.Subscribers(broadcast.RoomChannel("room-2")))
}

func TestDispatch_SendMessageBroadcastsThenSignals(t *testing.T) {
	now := time.Now().UTC()
	ch := &mockChat{
		joinRoomFunc: func(_ context.Context, _, _ string) error { return nil },
		sendMessageFunc: func(_ context.Context, roomID, authorID, content string) (*chatdomain.ChatMessage, error) {
			return &chatdomain.ChatMessage{
				ID:         "msg-1",
				RoomID:     roomID,
				AuthorID:   authorID,
				AuthorName: authorID,
				Content:    content,
				Timestamp:  now,
			}, nil
		},
	}
	m := newTestModule(&mockIdentity{}, ch)
	alice := authed(t, m, "alice")
	bob := authed(t, m, "bob")
	send(t, m, alice, EventJoinRoom, "room-1")
	send(t, m, bob, EventJoinRoom, "room-1")

	send(t, m, alice, EventSendMessage, SendMessagePayload{RoomID: "room-1", Content: "hello"})

	for _, cl := range []*client{alice, bob} {
		f := nextFrame(t, cl.conn)
		require.Equal(t, EventGetMessage, f.Event)
		var msg chatdomain.ChatMessage
		require.NoError(t, json.Unmarshal(f.Data, &msg))
		assert.Equal(t, "msg-1", msg.ID)
		assert.Equal(t, "hello", msg.Content)
		assert.Equal(t, "alice", msg.AuthorID)

		f = nextFrame(t, cl.conn)
		assert.Equal(t, EventSetRoom, f.Event)
		assert.Equal(t, "null", string(f.Data))
	}
	assert.Equal(t, 0, m.roomLocks.len())
}

func TestDispatch_SendMessageValidation(t *testing.T) {
	m := newTestModule(&mockIdentity{}, &mockChat{})
	cl := authed(t, m, "alice")

	send(t, m, cl, EventSendMessage, "just a string")
	assert.Equal(t, "validation", decodeError(t, nextFrame(t, cl.conn)).Code)

	send(t, m, cl, EventSendMessage, SendMessagePayload{Content: "hi"})
	assert.Equal(t, "validation", decodeError(t, nextFrame(t, cl.conn)).Code)
}

func TestDispatch_SendMessageRateLimited(t *testing.T) {
	called := false
	ch := &mockChat{
		sendMessageFunc: func(_ context.Context, _, _, _ string) (*chatdomain.ChatMessage, error) {
			called = true
			return nil, nil
		},
	}
	m := newTestModule(&mockIdentity{}, ch)
	m.SetRateLimiter(&mockLimiter{allowFunc: func(_ context.Context, bucket, key string) error {
		assert.Equal(t, ratelimit.BucketMessage, bucket)
		assert.Equal(t, "alice", key)
		return apperr.RateLimited("too many messages")
	}})
	cl := authed(t, m, "alice")

	send(t, m, cl, EventSendMessage, SendMessagePayload{RoomID: "room-1", Content: "hi"})
	p := decodeError(t, nextFrame(t, cl.conn))
	assert.Equal(t, "rate_limited", p.Code)
	assert.True(t, p.Retryable)
	assert.False(t, called)
}

func TestDispatch_SendMessageStoreUnavailable(t *testing.T) {
	ch := &mockChat{
		sendMessageFunc: func(_ context.Context, _, _, _ string) (*chatdomain.ChatMessage, error) {
			return nil, apperr.Unavailable("append message", context.DeadlineExceeded)
		},
	}
	m := newTestModule(&mockIdentity{}, ch)
	cl := authed(t, m, "alice")

	send(t, m, cl, EventSendMessage, SendMessagePayload{RoomID: "room-1", Content: "hi"})
	p := decodeError(t, nextFrame(t, cl.conn))
	assert.Equal(t, "unavailable", p.Code)
	assert.True(t, p.Retryable)
	assert.NotContains(t, p.Message, "deadline")
}


func TestDispatch_ExpiredSessionDropsSubscriptions(t *testing.T) {
	id := &mockIdentity{
		verifyFunc: func(_ context.Context, token string) (*userdomain.Claims, error) {
			ttl := time.Hour
			if token == "token-short" {
				ttl = 50 * time.Millisecond
			}
			return &userdomain.Claims{UserID: "alice", Username: "alice", ExpiresAt: time.Now().Add(ttl)}, nil
		},
	}
	ch := &mockChat{
		joinRoomFunc: func(_ context.Context, _, _ string) error { return nil },
	}
	m := newTestModule(id, ch)
	cl := m.newClient()

	send(t, m, cl, EventAuthenticate, "token-short")
	require.Equal(t, EventGetID, nextFrame(t, cl.conn).Event)
	send(t, m, cl, EventJoinRoom, "room-1")
	require.Equal(t, 1, m.registry.Subscribers(broadcast.RoomChannel("room-1")))

	time.Sleep(100 * time.Millisecond)

	send(t, m, cl, EventListRooms, nil)
	p := decodeError(t, nextFrame(t, cl.conn))
	assert.Equal(t, "auth", p.Code)
	assert.Zero(t, m.registry.Subscribers(broadcast.UserChannel("alice")))
	assert.Zero(t, m.registry.Subscribers(broadcast.RoomChannel("room-1")))
	assert.Equal(t, 1, m.registry.Stats().Connections)

	send(t, m, cl, EventAuthenticate, "token-long")
	requireNoFrame(t, cl.conn)
	assert.Equal(t, 1, m.registry.Subscribers(broadcast.UserChannel("alice")))
	assert.Equal(t, "alice", cl.conn.UserID())
}
