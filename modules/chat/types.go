package chat

import (
	domain "github.com/yuka166/chatapp-server/domain/chat"
	"github.com/yuka166/chatapp-server/pkg/apperr"
)

// Service names exposed by the chat module.
const (
	ServiceListRooms      = "list-rooms"
	ServiceOpenDirectRoom = "open-direct-room"
	ServiceJoinRoom       = "join-room"
	ServiceSendMessage    = "send-message"
	ServiceGetRoom        = "get-room"
	ServiceGetHistory     = "get-history"
)

// ListRoomsRequest asks for the rooms of a user.
type ListRoomsRequest struct {
	UserID string `json:"user_id"`
}

// ListRoomsResponse carries room summaries, most recently active first.
type ListRoomsResponse struct {
	Rooms []domain.RoomSummary `json:"rooms"`
	Error *apperr.Body         `json:"error,omitempty"`
}

// OpenDirectRoomRequest asks for the direct room between two users.
type OpenDirectRoomRequest struct {
	InitiatorID string `json:"initiator_id"`
	PeerID      string `json:"peer_id"`
}

// OpenDirectRoomResponse carries the room and whether it was just created.
type OpenDirectRoomResponse struct {
	Room    *domain.RoomView `json:"room,omitempty"`
	Created bool             `json:"created"`
	Error   *apperr.Body     `json:"error,omitempty"`
}

// JoinRoomRequest asks whether a user may subscribe to a room.
type JoinRoomRequest struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// JoinRoomResponse reports the membership check result.
type JoinRoomResponse struct {
	Success bool         `json:"success"`
	Error   *apperr.Body `json:"error,omitempty"`
}

// SendMessageRequest is the request for sending a message.
type SendMessageRequest struct {
	RoomID   string `json:"room_id"`
	AuthorID string `json:"author_id"`
	Content  string `json:"content"`
}

// SendMessageResponse carries the stored message.
type SendMessageResponse struct {
	Message *domain.ChatMessage `json:"message,omitempty"`
	Error   *apperr.Body        `json:"error,omitempty"`
}

// GetRoomRequest asks for one room as seen by a member.
type GetRoomRequest struct {
	RoomID   string `json:"room_id"`
	ViewerID string `json:"viewer_id"`
}

// GetRoomResponse carries a room summary.
type GetRoomResponse struct {
	Room  *domain.RoomSummary `json:"room,omitempty"`
	Error *apperr.Body        `json:"error,omitempty"`
}

// GetHistoryRequest asks for the recent messages of a room.
type GetHistoryRequest struct {
	RoomID   string `json:"room_id"`
	ViewerID string `json:"viewer_id"`
	Limit    int    `json:"limit,omitempty"`
}

// GetHistoryResponse carries messages, oldest first.
type GetHistoryResponse struct {
	Messages []domain.ChatMessage `json:"messages"`
	Error    *apperr.Body         `json:"error,omitempty"`
}
