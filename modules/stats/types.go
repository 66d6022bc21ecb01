package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	UsersRegistered int64     `json:"users_registered"`
	RoomsCreated    int64     `json:"rooms_created"`
	MessagesSent    int64     `json:"messages_sent"`
	ActiveRooms     int       `json:"active_rooms"`
	LastMessageAt   time.Time `json:"last_message_at,omitempty"`
	Since           time.Time `json:"since"`
}

// Counters accumulates domain event counts. Safe for concurrent use.
type Counters struct {
	usersRegistered atomic.Int64
	roomsCreated    atomic.Int64
	messagesSent    atomic.Int64

	mu            sync.RWMutex
	activeRooms   map[string]struct{}
	lastMessageAt time.Time
	since         time.Time
}

// NewCounters creates zeroed counters.
func NewCounters() *Counters {
	return &Counters{
		activeRooms: make(map[string]struct{}),
		since:       time.Now().UTC(),
	}
}

// RecordUserRegistered counts a new account.
func (c *Counters) RecordUserRegistered() {
	c.usersRegistered.Add(1)
}

// RecordRoomCreated counts a newly persisted room.
func (c *Counters) RecordRoomCreated() {
	c.roomsCreated.Add(1)
}

// RecordMessageSent counts a message and marks its room active.
func (c *Counters) RecordMessageSent(roomID string, at time.Time) {
	c.messagesSent.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeRooms[roomID] = struct{}{}
	if at.After(c.lastMessageAt) {
		c.lastMessageAt = at
	}
}

// Snapshot returns the current counts.
func (c *Counters) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		UsersRegistered: c.usersRegistered.Load(),
		RoomsCreated:    c.roomsCreated.Load(),
		MessagesSent:    c.messagesSent.Load(),
		ActiveRooms:     len(c.activeRooms),
		LastMessageAt:   c.lastMessageAt,
		Since:           c.since,
	}
}
