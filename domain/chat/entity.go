package chat

import (
	"sort"
	"strings"
	"time"
)

// Room is a persisted chat room. Members and Admins are loaded from the
// room_members table and are not columns of rooms.
type Room struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	Name      *string   `gorm:"type:text" json:"name,omitempty"`
	DirectKey *string   `gorm:"uniqueIndex;type:text" json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Members []string `gorm:"-" json:"members"`
	Admins  []string `gorm:"-" json:"admin,omitempty"`
}

// TableName returns the table name for the Room entity.
func (Room) TableName() string {
	return "rooms"
}

// RoomMember links a user to a room.
type RoomMember struct {
	RoomID   string `gorm:"primaryKey;type:text"`
	UserID   string `gorm:"primaryKey;type:text;index"`
	IsAdmin  bool
	Position int
	JoinedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for the RoomMember entity.
func (RoomMember) TableName() string {
	return "room_members"
}

// Message is a persisted chat message. IDs are time-ordered (UUIDv7) and
// break ties between messages sharing a timestamp.
type Message struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	RoomID    string    `gorm:"not null;type:text;index:idx_messages_room_created,priority:1" json:"roomId"`
	AuthorID  string    `gorm:"not null;type:text" json:"authorId"`
	Content   string    `gorm:"not null;type:text" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_messages_room_created,priority:2" json:"createdAt"`
}

// TableName returns the table name for the Message entity.
func (Message) TableName() string {
	return "messages"
}

// DirectKey returns the dedup key of a two-member set, independent of order.
func DirectKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

// Member is the public view of a room member.
type Member struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// LatestMessage is the most recent message of a room, as shown in room lists.
type LatestMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoomSummary is a room as seen by one member: the other members and the
// latest message.
type RoomSummary struct {
	ID            string         `json:"id"`
	Name          *string        `json:"name,omitempty"`
	Members       []Member       `json:"members"`
	LatestMessage *LatestMessage `json:"latestMessage,omitempty"`
}

// RoomView carries everything needed to build a RoomSummary for any member.
type RoomView struct {
	Room    Room           `json:"room"`
	Members []Member       `json:"members"`
	Latest  *LatestMessage `json:"latest,omitempty"`
}

// SummaryFor builds the summary as seen by viewerID, excluding the viewer
// from the member list.
func (v RoomView) SummaryFor(viewerID string) RoomSummary {
	others := make([]Member, 0, len(v.Members))
	for _, m := range v.Members {
		if m.ID != viewerID {
			others = append(others, m)
		}
	}
	return RoomSummary{
		ID:            v.Room.ID,
		Name:          v.Room.Name,
		Members:       others,
		LatestMessage: v.Latest,
	}
}

// ChatMessage is a message enriched with its author's name, as broadcast to
// room channels and returned by history reads.
type ChatMessage struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	AuthorID   string    `json:"authorId"`
	Content    string    `json:"content"`
	AuthorName string    `json:"authorName"`
	Timestamp  time.Time `json:"timestamp"`
	Sender     *bool     `json:"sender,omitempty"`
}
