package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/yuka166/chatapp-server/domain/chat"
	"github.com/yuka166/chatapp-server/pkg/apperr"
)

// Options configures the chat Service.
type Options struct {
	StoreTimeout    time.Duration
	HistoryLimit    int
	MaxHistoryLimit int
}

func (o *Options) setDefaults() {
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
	if o.MaxHistoryLimit < o.HistoryLimit {
		o.MaxHistoryLimit = o.HistoryLimit
	}
}

// Service implements room and message operations on behalf of an
// authenticated user.
type Service struct {
	store      Store
	directory  Directory
	names      *NameResolver
	aggregator *Aggregator
	opts       Options
}

// NewService creates a new chat Service.
func NewService(store Store, directory Directory, names *NameResolver, opts Options) *Service {
	opts.setDefaults()
	return &Service{
		store:      store,
		directory:  directory,
		names:      names,
		aggregator: NewAggregator(store, store, names),
		opts:       opts,
	}
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.StoreTimeout)
}

// ListRooms returns the rooms of userID, most recently active first.
func (s *Service) ListRooms(ctx context.Context, userID string) ([]domain.RoomSummary, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.aggregator.ListRoomsFor(ctx, userID)
}

// OpenDirectRoom finds or creates the direct room between initiator and
// peer. created reports whether a new room was persisted.
func (s *Service) OpenDirectRoom(ctx context.Context, initiator, peer string) (view domain.RoomView, created bool, err error) {
	peer = strings.TrimSpace(peer)
	if peer == "" {
		return domain.RoomView{}, false, apperr.Validation("peer user id is required")
	}
	if peer == initiator {
		return domain.RoomView{}, false, apperr.Validation("cannot open a room with yourself")
	}

	profiles, err := s.directory.GetUsers(ctx, []string{peer})
	if err != nil {
		return domain.RoomView{}, false, err
	}
	if len(profiles) == 0 {
		return domain.RoomView{}, false, apperr.NotFound("user not found")
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	room, err := s.store.FindDirectRoom(ctx, initiator, peer)
	switch {
	case err == nil:
	case errors.Is(err, ErrRoomNotFound):
		room, err = s.store.CreateRoom(ctx, []string{initiator, peer}, nil, nil)
		if errors.Is(err, ErrDirectRoomExists) {
			room, err = s.store.FindDirectRoom(ctx, initiator, peer)
		} else if err == nil {
			created = true
		}
		if err != nil {
			return domain.RoomView{}, false, err
		}
	default:
		return domain.RoomView{}, false, err
	}

	view, err = s.aggregator.View(ctx, *room)
	if err != nil {
		return domain.RoomView{}, false, err
	}
	return view, created, nil
}

// JoinRoom checks that userID may subscribe to roomID.
func (s *Service) JoinRoom(ctx context.Context, roomID, userID string) error {
	if roomID == "" {
		return apperr.Validation("room id is required")
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	return s.requireMember(ctx, roomID, userID)
}

// SendMessage appends a message from authorID to roomID and returns it with
// the author's name.
func (s *Service) SendMessage(ctx context.Context, roomID, authorID, content string) (domain.ChatMessage, error) {
	if roomID == "" {
		return domain.ChatMessage{}, apperr.Validation("room id is required")
	}
	if err := ValidateMessage(content); err != nil {
		return domain.ChatMessage{}, err
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := s.requireMember(ctx, roomID, authorID); err != nil {
		return domain.ChatMessage{}, err
	}

	// Resolve before Append: a failed lookup must leave nothing stored.
	names, err := s.names.Resolve(ctx, []string{authorID})
	if err != nil {
		return domain.ChatMessage{}, err
	}

	msg, err := s.store.Append(ctx, roomID, authorID, content)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	return toChatMessage(*msg, names[authorID]), nil
}

// GetRoom returns the summary of roomID as seen by viewerID.
func (s *Service) GetRoom(ctx context.Context, roomID, viewerID string) (domain.RoomSummary, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	room, err := s.store.FindRoomForMember(ctx, roomID, viewerID)
	if err != nil {
		return domain.RoomSummary{}, err
	}
	view, err := s.aggregator.View(ctx, *room)
	if err != nil {
		return domain.RoomSummary{}, err
	}
	return view.SummaryFor(viewerID), nil
}

// History returns the most recent messages of roomID, oldest first. A
// non-positive limit selects the default; larger limits are capped.
func (s *Service) History(ctx context.Context, roomID, viewerID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = s.opts.HistoryLimit
	}
	if limit > s.opts.MaxHistoryLimit {
		limit = s.opts.MaxHistoryLimit
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := s.requireMember(ctx, roomID, viewerID); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListByRoom(ctx, roomID, limit)
	if err != nil {
		return nil, err
	}

	authors := make([]string, 0, len(msgs))
	for _, m := range msgs {
		authors = append(authors, m.AuthorID)
	}
	names, err := s.names.Resolve(ctx, authors)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := toChatMessage(m, names[m.AuthorID])
		sender := m.AuthorID == viewerID
		cm.Sender = &sender
		out = append(out, cm)
	}
	return out, nil
}

// Ping checks the chat store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) requireMember(ctx context.Context, roomID, userID string) error {
	ok, err := s.store.IsMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

func toChatMessage(m domain.Message, authorName string) domain.ChatMessage {
	return domain.ChatMessage{
		ID:         m.ID,
		RoomID:     m.RoomID,
		AuthorID:   m.AuthorID,
		Content:    m.Content,
		AuthorName: authorName,
		Timestamp:  m.CreatedAt,
	}
}
