package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(conn *Conn) []Envelope {
	var frames []Envelope
	for {
		select {
		case frame := <-conn.Outbound():
			var env Envelope
			if err := json.Unmarshal(frame, &env); err == nil {
				frames = append(frames, env)
			}
		default:
			return frames
		}
	}
}

func TestRegistry_SubscribeIsIdempotent(t *testing.T) {
	r := NewRegistry(8)
	conn := r.Connect("c1")

	assert.True(t, r.Subscribe(conn, RoomChannel("r1")))
	assert.False(t, r.Subscribe(conn, RoomChannel("r1")))

	n, err := r.Broadcast(RoomChannel("r1"), "getMessage", map[string]string{"content": "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	frames := drain(conn)
	require.Len(t, frames, 1)
	assert.Equal(t, "getMessage", frames[0].Event)
}

func TestRegistry_BroadcastWithoutSubscribers(t *testing.T) {
	r := NewRegistry(8)

	n, err := r.Broadcast(RoomChannel("nobody"), "setRoom", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegistry_SubscribeSelf(t *testing.T) {
	r := NewRegistry(8)
	alice := r.Connect("")
	bob := r.Connect("")
	require.NotEmpty(t, alice.ID)

	r.SubscribeSelf(alice, "alice")
	r.SubscribeSelf(bob, "bob")
	assert.Equal(t, "alice", alice.UserID())

	_, err := r.Broadcast(UserChannel("bob"), "sendRoom", "room")
	require.NoError(t, err)

	assert.Empty(t, drain(alice))
	assert.Len(t, drain(bob), 1)
}

func TestRegistry_UnsubscribeAll(t *testing.T) {
	r := NewRegistry(8)
	conn := r.Connect("c1")
	r.SubscribeSelf(conn, "alice")
	r.Subscribe(conn, RoomChannel("r1"))

	r.UnsubscribeAll(conn)
	r.UnsubscribeAll(conn)

	select {
	case <-conn.Done():
	default:
		t.Fatal("expected connection to be closed")
	}

	n, err := r.Broadcast(RoomChannel("r1"), "getMessage", "x")
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, r.Send(conn, "getId", "alice"))
	assert.Empty(t, drain(conn))

	assert.False(t, r.Subscribe(conn, RoomChannel("r2")))
	assert.Equal(t, Stats{}, r.Stats())
}

func TestRegistry_SlowConsumerIsClosed(t *testing.T) {
	r := NewRegistry(2)
	slow := r.Connect("slow")
	fast := r.Connect("fast")
	r.Subscribe(slow, RoomChannel("r1"))
	r.Subscribe(fast, RoomChannel("r1"))

	for i := 0; i < 3; i++ {
		_, err := r.Broadcast(RoomChannel("r1"), "getMessage", i)
		require.NoError(t, err)
		drain(fast)
	}

	select {
	case <-slow.Done():
	default:
		t.Fatal("expected slow consumer to be closed")
	}

	stats := r.Stats()
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, int64(1), stats.SlowConsumers)
	assert.Equal(t, 1, r.Subscribers(RoomChannel("r1")))
}

func TestRegistry_BroadcastOrder(t *testing.T) {
	r := NewRegistry(1024)
	a := r.Connect("a")
	b := r.Connect("b")
	r.Subscribe(a, RoomChannel("r1"))
	r.Subscribe(b, RoomChannel("r1"))

	const n = 200
	for i := 0; i < n; i++ {
		_, err := r.Broadcast(RoomChannel("r1"), "getMessage", i)
		require.NoError(t, err)
	}

	for _, conn := range []*Conn{a, b} {
		frames := drain(conn)
		require.Len(t, frames, n)
		for i, f := range frames {
			assert.Equal(t, float64(i), f.Data)
		}
	}
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	r := NewRegistry(4096)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := r.Connect(fmt.Sprintf("c%d", i))
			r.Subscribe(conn, RoomChannel("shared"))
			_, _ = r.Broadcast(RoomChannel("shared"), "getMessage", i)
			if i%2 == 0 {
				r.UnsubscribeAll(conn)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, r.Stats().Connections)
	assert.Equal(t, 10, r.Subscribers(RoomChannel("shared")))
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry(8)
	a := r.Connect("a")
	r.Connect("b")

	assert.Equal(t, 2, r.CloseAll())

	select {
	case <-a.Done():
	default:
		t.Fatal("expected connection to be closed")
	}
	assert.Zero(t, r.Stats().Connections)
}

func TestRegistry_UnsubscribeChannels(t *testing.T) {
	r := NewRegistry(8)
	conn := r.Connect("c1")
	r.SubscribeSelf(conn, "alice")
	r.Subscribe(conn, RoomChannel("r1"))

	assert.Equal(t, 2, r.UnsubscribeChannels(conn))
	assert.Empty(t, conn.UserID())
	assert.Zero(t, r.Subscribers(UserChannel("alice")))
	assert.Zero(t, r.Subscribers(RoomChannel("r1")))

	select {
	case <-conn.Done():
		t.Fatal("connection should stay open")
	default:
	}

	n, err := r.Broadcast(RoomChannel("r1"), "getMessage", "x")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, r.Send(conn, "error", "session expired"))
	assert.Len(t, drain(conn), 1)
	assert.Equal(t, 1, r.Stats().Connections)

	assert.True(t, r.SubscribeSelf(conn, "alice"))
	assert.Equal(t, 1, r.Subscribers(UserChannel("alice")))

	r.UnsubscribeAll(conn)
	assert.Zero(t, r.UnsubscribeChannels(conn))
}
