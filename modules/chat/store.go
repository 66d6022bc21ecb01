package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	domain "github.com/yuka166/chatapp-server/domain/chat"
	"github.com/yuka166/chatapp-server/pkg/apperr"
)

// MaxMessageLength is the maximum message size in bytes.
const MaxMessageLength = 4096

// Store errors.
var (
	ErrRoomNotFound     = apperr.NotFound("room not found")
	ErrNotMember        = apperr.Unauthorized("not a member of this room")
	ErrDirectRoomExists = apperr.Conflict("direct room already exists")
	ErrMessageEmpty     = apperr.Validation("message content cannot be empty")
	ErrMessageTooLong   = apperr.Validation("message exceeds maximum length")
	ErrMessageInvalid   = apperr.Validation("message contains invalid characters")
	ErrTooFewMembers    = apperr.Validation("a room needs at least two distinct members")
)

// RoomStore persists rooms and their members.
type RoomStore interface {
	// FindDirectRoom returns the room whose members are exactly a and b.
	FindDirectRoom(ctx context.Context, a, b string) (*domain.Room, error)
	// CreateRoom persists a room with its members in one transaction. Two
	// member rooms are unique per pair; a duplicate yields ErrDirectRoomExists.
	CreateRoom(ctx context.Context, members []string, name *string, admins []string) (*domain.Room, error)
	// FindRoomsForMember returns every room containing userID, oldest first.
	FindRoomsForMember(ctx context.Context, userID string) ([]domain.Room, error)
	// FindRoomForMember returns the room only if userID belongs to it.
	FindRoomForMember(ctx context.Context, roomID, userID string) (*domain.Room, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
}

// MessageStore persists messages. Membership is enforced by callers.
type MessageStore interface {
	Append(ctx context.Context, roomID, authorID, content string) (*domain.Message, error)
	// ListByRoom returns messages oldest first. A positive limit keeps only
	// the most recent limit messages.
	ListByRoom(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
	// Latest returns the most recent message, or nil when the room is empty.
	Latest(ctx context.Context, roomID string) (*domain.Message, error)
}

// Store is the full chat persistence layer.
type Store interface {
	RoomStore
	MessageStore
	Ping(ctx context.Context) error
	Close() error
}

// ValidateMessage validates message content.
func ValidateMessage(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrMessageEmpty
	}
	if len(content) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if !utf8.ValidString(content) {
		return ErrMessageInvalid
	}
	return nil
}

func newMessage(roomID, authorID, content string) (*domain.Message, error) {
	if err := ValidateMessage(content); err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperr.Internal("generate message id", err)
	}
	return &domain.Message{
		ID:        id.String(),
		RoomID:    roomID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: now(),
	}, nil
}

func newRoom(members []string, name *string, admins []string) (*domain.Room, error) {
	distinct := make([]string, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		distinct = append(distinct, m)
	}
	if len(distinct) < 2 {
		return nil, ErrTooFewMembers
	}

	var validAdmins []string
	for _, a := range admins {
		if _, ok := seen[a]; ok {
			validAdmins = append(validAdmins, a)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperr.Internal("generate room id", err)
	}
	ts := now()
	room := &domain.Room{
		ID:        id.String(),
		Name:      name,
		CreatedAt: ts,
		UpdatedAt: ts,
		Members:   distinct,
		Admins:    validAdmins,
	}
	if len(distinct) == 2 {
		key := domain.DirectKey(distinct[0], distinct[1])
		room.DirectKey = &key
	}
	return room, nil
}

func memberRows(room *domain.Room) []domain.RoomMember {
	admins := make(map[string]struct{}, len(room.Admins))
	for _, a := range room.Admins {
		admins[a] = struct{}{}
	}
	rows := make([]domain.RoomMember, 0, len(room.Members))
	for i, m := range room.Members {
		_, isAdmin := admins[m]
		rows = append(rows, domain.RoomMember{
			RoomID:   room.ID,
			UserID:   m,
			IsAdmin:  isAdmin,
			Position: i,
			JoinedAt: room.CreatedAt,
		})
	}
	return rows
}

// attachMembers fills Members and Admins of each room from rows ordered by
// position.
func attachMembers(rooms []domain.Room, rows []domain.RoomMember) {
	index := make(map[string]int, len(rooms))
	for i := range rooms {
		index[rooms[i].ID] = i
		rooms[i].Members = nil
		rooms[i].Admins = nil
	}
	for _, row := range rows {
		i, ok := index[row.RoomID]
		if !ok {
			continue
		}
		rooms[i].Members = append(rooms[i].Members, row.UserID)
		if row.IsAdmin {
			rooms[i].Admins = append(rooms[i].Admins, row.UserID)
		}
	}
}

func roomIDs(rooms []domain.Room) []string {
	ids := make([]string, len(rooms))
	for i := range rooms {
		ids[i] = rooms[i].ID
	}
	return ids
}

func reverse(msgs []domain.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// now returns the current time in UTC at microsecond precision, the
// resolution both backends keep.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
