package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	domain "github.com/yuka166/chatapp-server/domain/chat"
	"github.com/yuka166/chatapp-server/pkg/apperr"
)

// ChatPort defines the interface for chat operations.
type ChatPort interface {
	ListRooms(ctx context.Context, userID string) ([]domain.RoomSummary, error)
	OpenDirectRoom(ctx context.Context, initiatorID, peerID string) (*domain.RoomView, bool, error)
	JoinRoom(ctx context.Context, roomID, userID string) error
	SendMessage(ctx context.Context, roomID, authorID, content string) (*domain.ChatMessage, error)
	GetRoom(ctx context.Context, roomID, viewerID string) (*domain.RoomSummary, error)
	GetHistory(ctx context.Context, roomID, viewerID string, limit int) ([]domain.ChatMessage, error)
}

// ChatAdapter implements ChatPort using the service container.
type ChatAdapter struct {
	container mono.ServiceContainer
	timeout   time.Duration
}

var _ ChatPort = (*ChatAdapter)(nil)

// NewChatAdapter creates a new ChatAdapter.
func NewChatAdapter(container mono.ServiceContainer, timeout time.Duration) *ChatAdapter {
	if container == nil {
		panic("chat: ServiceContainer is nil")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ChatAdapter{container: container, timeout: timeout}
}

func (a *ChatAdapter) call(ctx context.Context, service string, req, resp any) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		service,
		json.Marshal,
		json.Unmarshal,
		req,
		resp,
	); err != nil {
		return apperr.Unavailable(service+" request failed", err)
	}
	return nil
}

// ListRooms returns the rooms of a user, most recently active first.
func (a *ChatAdapter) ListRooms(ctx context.Context, userID string) ([]domain.RoomSummary, error) {
	req := ListRoomsRequest{UserID: userID}
	var resp ListRoomsResponse
	if err := a.call(ctx, ServiceListRooms, &req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Error.Err(); err != nil {
		return nil, err
	}
	if resp.Rooms == nil {
		resp.Rooms = []domain.RoomSummary{}
	}
	return resp.Rooms, nil
}

// OpenDirectRoom finds or creates the direct room between two users.
func (a *ChatAdapter) OpenDirectRoom(ctx context.Context, initiatorID, peerID string) (*domain.RoomView, bool, error) {
	req := OpenDirectRoomRequest{InitiatorID: initiatorID, PeerID: peerID}
	var resp OpenDirectRoomResponse
	if err := a.call(ctx, ServiceOpenDirectRoom, &req, &resp); err != nil {
		return nil, false, err
	}
	if err := resp.Error.Err(); err != nil {
		return nil, false, err
	}
	if resp.Room == nil {
		return nil, false, apperr.Internal("open direct room", nil)
	}
	return resp.Room, resp.Created, nil
}

// JoinRoom checks that a user may subscribe to a room.
func (a *ChatAdapter) JoinRoom(ctx context.Context, roomID, userID string) error {
	req := JoinRoomRequest{RoomID: roomID, UserID: userID}
	var resp JoinRoomResponse
	if err := a.call(ctx, ServiceJoinRoom, &req, &resp); err != nil {
		return err
	}
	if err := resp.Error.Err(); err != nil {
		return err
	}
	if !resp.Success {
		return ErrNotMember
	}
	return nil
}

// SendMessage stores a message and returns it with its author's name.
func (a *ChatAdapter) SendMessage(ctx context.Context, roomID, authorID, content string) (*domain.ChatMessage, error) {
	req := SendMessageRequest{RoomID: roomID, AuthorID: authorID, Content: content}
	var resp SendMessageResponse
	if err := a.call(ctx, ServiceSendMessage, &req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Error.Err(); err != nil {
		return nil, err
	}
	if resp.Message == nil {
		return nil, apperr.Internal("send message", nil)
	}
	return resp.Message, nil
}

// GetRoom returns one room as seen by a member.
func (a *ChatAdapter) GetRoom(ctx context.Context, roomID, viewerID string) (*domain.RoomSummary, error) {
	req := GetRoomRequest{RoomID: roomID, ViewerID: viewerID}
	var resp GetRoomResponse
	if err := a.call(ctx, ServiceGetRoom, &req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Error.Err(); err != nil {
		return nil, err
	}
	if resp.Room == nil {
		return nil, ErrRoomNotFound
	}
	return resp.Room, nil
}

// GetHistory returns the recent messages of a room, oldest first.
func (a *ChatAdapter) GetHistory(ctx context.Context, roomID, viewerID string, limit int) ([]domain.ChatMessage, error) {
	req := GetHistoryRequest{RoomID: roomID, ViewerID: viewerID, Limit: limit}
	var resp GetHistoryResponse
	if err := a.call(ctx, ServiceGetHistory, &req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Error.Err(); err != nil {
		return nil, err
	}
	if resp.Messages == nil {
		resp.Messages = []domain.ChatMessage{}
	}
	return resp.Messages, nil
}
