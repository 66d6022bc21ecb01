package broadcast

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultQueueSize is the number of frames a connection may have pending
// before it is closed as a slow consumer.
const DefaultQueueSize = 64

// UserChannel returns the identity channel of a user.
func UserChannel(userID string) string {
	return "user:" + userID
}

// RoomChannel returns the channel of a room.
func RoomChannel(roomID string) string {
	return "room:" + roomID
}

// Envelope is the frame written to clients.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encode marshals an event and its payload into a frame.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", event, err)
	}
	return data, nil
}

// Conn is a registered connection. The transport drains Outbound and stops
// once Done is closed.
type Conn struct {
	ID string

	out      chan []byte
	done     chan struct{}
	once     sync.Once
	userID   atomic.Value
	channels map[string]struct{}
}

// Outbound returns the queue of frames to write.
func (c *Conn) Outbound() <-chan []byte {
	return c.out
}

// Done is closed when the connection has been torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// UserID returns the identity the connection subscribed as, if any.
func (c *Conn) UserID() string {
	id, _ := c.userID.Load().(string)
	return id
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.once.Do(func() { close(c.done) })
}

// enqueue never blocks. It reports false when the queue is full.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case c.out <- frame:
		return true
	default:
		return false
	}
}

// Stats describes the registry for health reporting.
type Stats struct {
	Connections   int   `json:"connections"`
	Channels      int   `json:"channels"`
	Subscriptions int   `json:"subscriptions"`
	SlowConsumers int64 `json:"slow_consumers"`
}

// Registry tracks connections and their channel subscriptions and fans
// frames out to them.
type Registry struct {
	mu        sync.Mutex
	conns     map[string]*Conn
	channels  map[string]map[string]*Conn
	queueSize int
	slow      atomic.Int64
}

// NewRegistry creates a new Registry. A non-positive queueSize selects
// DefaultQueueSize.
func NewRegistry(queueSize int) *Registry {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Registry{
		conns:     make(map[string]*Conn),
		channels:  make(map[string]map[string]*Conn),
		queueSize: queueSize,
	}
}

// Connect registers a new connection. An empty id is replaced with a
// generated one.
func (r *Registry) Connect(id string) *Conn {
	if id == "" {
		id = uuid.New().String()
	}
	conn := &Conn{
		ID:       id,
		out:      make(chan []byte, r.queueSize),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}

	r.mu.Lock()
	r.conns[id] = conn
	r.mu.Unlock()

	log.Printf("[broadcast] Connection %s registered", id)
	return conn
}

// SubscribeSelf subscribes the connection to its user's identity channel.
func (r *Registry) SubscribeSelf(conn *Conn, userID string) bool {
	conn.userID.Store(userID)
	return r.Subscribe(conn, UserChannel(userID))
}

// Subscribe adds the connection to channel. It reports whether the
// subscription is new; subscribing twice is a no-op, as is subscribing a
// torn-down connection.
func (r *Registry) Subscribe(conn *Conn, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn.ID]; !ok {
		return false
	}
	if _, ok := conn.channels[channel]; ok {
		return false
	}

	subs := r.channels[channel]
	if subs == nil {
		subs = make(map[string]*Conn)
		r.channels[channel] = subs
	}
	subs[conn.ID] = conn
	conn.channels[channel] = struct{}{}
	return true
}

// UnsubscribeAll removes the connection from every channel and from the
// registry, then closes it. It is safe to call more than once.
func (r *Registry) UnsubscribeAll(conn *Conn) {
	r.mu.Lock()
	removed := r.removeLocked(conn)
	r.mu.Unlock()

	if removed {
		log.Printf("[broadcast] Connection %s unregistered", conn.ID)
	}
}

// UnsubscribeChannels removes the connection from every channel but keeps it
// registered, so direct sends still reach it. It returns the number of
// subscriptions dropped.
func (r *Registry) UnsubscribeChannels(conn *Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn.ID]; !ok {
		return 0
	}
	n := len(conn.channels)
	r.dropChannelsLocked(conn)
	conn.userID.Store("")
	return n
}

func (r *Registry) dropChannelsLocked(conn *Conn) {
	for channel := range conn.channels {
		if subs := r.channels[channel]; subs != nil {
			delete(subs, conn.ID)
			if len(subs) == 0 {
				delete(r.channels, channel)
			}
		}
	}
	conn.channels = make(map[string]struct{})
}

func (r *Registry) removeLocked(conn *Conn) bool {
	if _, ok := r.conns[conn.ID]; !ok {
		conn.close()
		return false
	}
	r.dropChannelsLocked(conn)
	delete(r.conns, conn.ID)
	conn.close()
	return true
}

// Broadcast delivers an event to every subscriber of channel and returns the
// number of connections it was queued for. Fan-out of one call completes
// before the next call starts, so subscribers see broadcasts in issue order.
func (r *Registry) Broadcast(channel, event string, payload any) (int, error) {
	frame, err := Encode(event, payload)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for _, conn := range r.channels[channel] {
		if r.deliverLocked(conn, frame) {
			delivered++
		}
	}
	return delivered, nil
}

// Send delivers an event to one connection. Sending to a torn-down
// connection is a no-op.
func (r *Registry) Send(conn *Conn, event string, payload any) error {
	frame, err := Encode(event, payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn.ID]; !ok {
		return nil
	}
	r.deliverLocked(conn, frame)
	return nil
}

func (r *Registry) deliverLocked(conn *Conn, frame []byte) bool {
	if conn.closed() {
		return false
	}
	if conn.enqueue(frame) {
		return true
	}
	r.slow.Add(1)
	log.Printf("[broadcast] Connection %s closed as slow consumer", conn.ID)
	r.removeLocked(conn)
	return false
}

// Subscribers returns the number of connections subscribed to channel.
func (r *Registry) Subscribers(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels[channel])
}

// Stats returns connection and channel counts.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := 0
	for _, s := range r.channels {
		subs += len(s)
	}
	return Stats{
		Connections:   len(r.conns),
		Channels:      len(r.channels),
		Subscriptions: subs,
		SlowConsumers: r.slow.Load(),
	}
}

// CloseAll tears down every connection.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.conns)
	for _, conn := range r.conns {
		r.removeLocked(conn)
	}
	return n
}
