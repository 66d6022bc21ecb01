package stats

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuka166/chatapp-server/events"
)

type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any)         {}
func (m *mockLogger) Info(_ string, _ ...any)          {}
func (m *mockLogger) Warn(_ string, _ ...any)          {}
func (m *mockLogger) Error(_ string, _ ...any)         {}
func (m *mockLogger) With(_ ...any) types.Logger       { return m }
func (m *mockLogger) WithModule(_ string) types.Logger { return m }
func (m *mockLogger) WithError(_ error) types.Logger   { return m }

func eventMsg(t *testing.T, v any) *mono.Msg {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return &mono.Msg{Data: data}
}

func TestModule_HandlesEvents(t *testing.T) {
	m := NewModule(&mockLogger{})
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, m.handleUserRegistered(ctx, eventMsg(t, events.UserRegisteredEvent{UserID: "u1", Username: "alice"})))
	require.NoError(t, m.handleRoomCreated(ctx, eventMsg(t, events.RoomCreatedEvent{RoomID: "r1", Members: []string{"u1", "u2"}})))
	require.NoError(t, m.handleMessageSent(ctx, eventMsg(t, events.MessageSentEvent{MessageID: "m1", RoomID: "r1", Timestamp: now})))
	require.NoError(t, m.handleMessageSent(ctx, eventMsg(t, events.MessageSentEvent{MessageID: "m2", RoomID: "r1", Timestamp: now.Add(time.Second)})))

	s, err := m.handleGetStats(ctx, GetStatsRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.UsersRegistered)
	assert.Equal(t, int64(1), s.RoomsCreated)
	assert.Equal(t, int64(2), s.MessagesSent)
	assert.Equal(t, 1, s.ActiveRooms)
	assert.True(t, s.LastMessageAt.Equal(now.Add(time.Second)))
}

func TestModule_IgnoresMalformedEvents(t *testing.T) {
	m := NewModule(&mockLogger{})

	err := m.handleMessageSent(context.Background(), &mono.Msg{Data: []byte("{not json")})
	assert.NoError(t, err, "malformed events are dropped, not retried")
	assert.Zero(t, m.Counters().Snapshot().MessagesSent)
}

func TestModule_Health(t *testing.T) {
	m := NewModule(&mockLogger{})
	m.Counters().RecordRoomCreated()

	h := m.Health(context.Background())
	assert.True(t, h.Healthy)
	assert.Equal(t, int64(1), h.Details["rooms_created"])
}

func TestCounters_Concurrent(t *testing.T) {
	c := NewCounters()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.RecordMessageSent([]string{"a", "b"}[i%2], time.Now())
		}(i)
	}
	wg.Wait()

	s := c.Snapshot()
	assert.Equal(t, int64(50), s.MessagesSent)
	assert.Equal(t, 2, s.ActiveRooms)
}
