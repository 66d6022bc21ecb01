package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/yuka166/chatapp-server/modules/broadcast"
	"github.com/yuka166/chatapp-server/modules/ratelimit"
	"github.com/yuka166/chatapp-server/modules/session"
	"github.com/yuka166/chatapp-server/pkg/apperr"
)

// client is the protocol state of one WebSocket connection.
type client struct {
	conn    *broadcast.Conn
	session *session.Session
}

func (m *APIModule) newClient() *client {
	return &client{
		conn:    m.registry.Connect(""),
		session: m.gate.NewSession(),
	}
}

// dispatch handles one client frame. Failures are reported to the client as
// an error event and never end the connection.
func (m *APIModule) dispatch(ctx context.Context, cl *client, raw []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		m.sendError(cl, frame.Event, apperr.Validation("malformed frame"))
		return
	}

	var err error
	switch frame.Event {
	case EventAuthenticate:
		var token string
		if token, err = decodeString(frame.Data, "token"); err == nil {
			err = m.authenticate(ctx, cl, token)
		}
	case EventListRooms, EventGetRooms:
		err = m.onListRooms(ctx, cl)
	case EventCreateRoom:
		err = m.onCreateRoom(ctx, cl, frame.Data)
	case EventJoinRoom:
		err = m.onJoinRoom(ctx, cl, frame.Data)
	case EventSendMessage:
		err = m.onSendMessage(ctx, cl, frame.Data)
	default:
		err = apperr.Validation("unknown event " + frame.Event)
	}

	if err != nil {
		m.sendError(cl, frame.Event, err)
	}
}

// authenticate verifies token and subscribes the connection to its identity
// channel. getId is sent on the first success of the connection only.
func (m *APIModule) authenticate(ctx context.Context, cl *client, token string) error {
	id, err := m.gate.Verify(ctx, token)
	if err != nil {
		return err
	}
	first, err := cl.session.Authenticate(id)
	if err != nil {
		return err
	}
	m.registry.SubscribeSelf(cl.conn, id.UserID)
	if first {
		if err := m.registry.Send(cl.conn, EventGetID, id.UserID); err != nil {
			return apperr.Internal("send getId", err)
		}
		m.logger.Debug("Connection authenticated", "conn", cl.conn.ID, "user", id.UserID)
	}
	return nil
}

// requireIdentity returns the connection's identity. When the session has
// just expired the connection leaves all of its channels; it stays open and
// a fresh authenticate subscribes it again.
func (m *APIModule) requireIdentity(cl *client) (session.Identity, error) {
	id, err := cl.session.Require()
	if errors.Is(err, session.ErrSessionExpired) {
		n := m.registry.UnsubscribeChannels(cl.conn)
		m.logger.Debug("Session expired", "conn", cl.conn.ID, "dropped", n)
	}
	return id, err
}

func (m *APIModule) onListRooms(ctx context.Context, cl *client) error {
	id, err := m.requireIdentity(cl)
	if err != nil {
		return err
	}

	rooms, err := m.chat.ListRooms(ctx, id.UserID)
	if err != nil {
		return err
	}
	for _, r := range rooms {
		m.registry.Subscribe(cl.conn, broadcast.RoomChannel(r.ID))
	}
	return m.broadcast(broadcast.UserChannel(id.UserID), EventAllRooms, rooms)
}

func (m *APIModule) onCreateRoom(ctx context.Context, cl *client, data json.RawMessage) error {
	id, err := m.requireIdentity(cl)
	if err != nil {
		return err
	}
	peer, err := decodeString(data, "peer user id")
	if err != nil {
		return err
	}

	view, created, err := m.chat.OpenDirectRoom(ctx, id.UserID, peer)
	if err != nil {
		return err
	}
	if created {
		m.logger.Info("Direct room created", "room", view.Room.ID, "by", id.UserID)
	}

	for _, member := range view.Room.Members {
		if err := m.broadcast(broadcast.UserChannel(member), EventSendRoom, view.SummaryFor(member)); err != nil {
			return err
		}
	}
	if err := m.registry.Send(cl.conn, EventGotoBox, view.SummaryFor(id.UserID)); err != nil {
		return apperr.Internal("send gotoBox", err)
	}
	return nil
}

func (m *APIModule) onJoinRoom(ctx context.Context, cl *client, data json.RawMessage) error {
	id, err := m.requireIdentity(cl)
	if err != nil {
		return err
	}
	roomID, err := decodeString(data, "room id")
	if err != nil {
		return err
	}

	if err := m.chat.JoinRoom(ctx, roomID, id.UserID); err != nil {
		return err
	}
	m.registry.Subscribe(cl.conn, broadcast.RoomChannel(roomID))
	return nil
}

func (m *APIModule) onSendMessage(ctx context.Context, cl *client, data json.RawMessage) error {
	id, err := m.requireIdentity(cl)
	if err != nil {
		return err
	}

	var payload SendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return apperr.Validation("payload must be {roomId, content}")
	}
	if payload.RoomID == "" {
		return apperr.Validation("room id is required")
	}

	if m.limiter != nil {
		if err := m.limiter.Allow(ctx, ratelimit.BucketMessage, id.UserID); err != nil {
			return err
		}
	}

	// The room stays locked from append through both broadcasts so the
	// channel carries messages in append order.
	unlock := m.roomLocks.Lock(payload.RoomID)
	defer unlock()

	msg, err := m.chat.SendMessage(ctx, payload.RoomID, id.UserID, payload.Content)
	if err != nil {
		return err
	}

	channel := broadcast.RoomChannel(payload.RoomID)
	if err := m.broadcast(channel, EventGetMessage, msg); err != nil {
		return err
	}
	return m.broadcast(channel, EventSetRoom, nil)
}

func (m *APIModule) broadcast(channel, event string, payload any) error {
	if _, err := m.registry.Broadcast(channel, event, payload); err != nil {
		return apperr.Internal("broadcast "+event, err)
	}
	return nil
}

func (m *APIModule) sendError(cl *client, event string, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		m.logger.Error("Event failed", "event", event, "conn", cl.conn.ID, "error", err)
	}
	payload := ErrorPayload{
		Event:     event,
		Code:      errorCode(err),
		Message:   apperr.PublicMessage(err),
		Retryable: apperr.Retryable(err),
	}
	if sendErr := m.registry.Send(cl.conn, EventError, payload); sendErr != nil {
		m.logger.Error("Failed to send error event", "error", sendErr)
	}
}

func decodeString(data json.RawMessage, what string) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", apperr.Validation(what + " must be a string")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperr.Validation(what + " is required")
	}
	return s, nil
}
