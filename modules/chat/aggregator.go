package chat

import (
	"context"
	"sort"

	domain "github.com/yuka166/chatapp-server/domain/chat"
)

// Aggregator builds the read-side view of rooms: members with usernames and
// the latest message.
type Aggregator struct {
	rooms    RoomStore
	messages MessageStore
	names    *NameResolver
}

// NewAggregator creates a new Aggregator.
func NewAggregator(rooms RoomStore, messages MessageStore, names *NameResolver) *Aggregator {
	return &Aggregator{
		rooms:    rooms,
		messages: messages,
		names:    names,
	}
}

// ListRoomsFor returns every room of userID as seen by that user, most
// recently active first. Rooms without messages follow in creation order.
func (a *Aggregator) ListRoomsFor(ctx context.Context, userID string) ([]domain.RoomSummary, error) {
	rooms, err := a.rooms.FindRoomsForMember(ctx, userID)
	if err != nil {
		return nil, err
	}

	views, err := a.Views(ctx, rooms)
	if err != nil {
		return nil, err
	}
	SortViews(views)

	summaries := make([]domain.RoomSummary, len(views))
	for i, v := range views {
		summaries[i] = v.SummaryFor(userID)
	}
	return summaries, nil
}

// View builds the view of a single room.
func (a *Aggregator) View(ctx context.Context, room domain.Room) (domain.RoomView, error) {
	views, err := a.Views(ctx, []domain.Room{room})
	if err != nil {
		return domain.RoomView{}, err
	}
	return views[0], nil
}

// Views builds room views with one latest-message query per room and a
// single username lookup for all members.
func (a *Aggregator) Views(ctx context.Context, rooms []domain.Room) ([]domain.RoomView, error) {
	views := make([]domain.RoomView, len(rooms))
	var memberIDs []string

	for i, room := range rooms {
		views[i].Room = room
		latest, err := a.messages.Latest(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			views[i].Latest = &domain.LatestMessage{
				ID:        latest.ID,
				Content:   latest.Content,
				CreatedAt: latest.CreatedAt,
			}
		}
		memberIDs = append(memberIDs, room.Members...)
	}

	names, err := a.names.Resolve(ctx, memberIDs)
	if err != nil {
		return nil, err
	}

	for i := range views {
		members := make([]domain.Member, 0, len(views[i].Room.Members))
		for _, id := range views[i].Room.Members {
			members = append(members, domain.Member{ID: id, Username: names[id]})
		}
		views[i].Members = members
	}
	return views, nil
}

// SortViews orders views by latest message recency, descending. Views
// without a message keep their relative order after all others.
func SortViews(views []domain.RoomView) {
	sort.SliceStable(views, func(i, j int) bool {
		li, lj := views[i].Latest, views[j].Latest
		switch {
		case li == nil:
			return false
		case lj == nil:
			return true
		case li.CreatedAt.Equal(lj.CreatedAt):
			return li.ID > lj.ID
		default:
			return li.CreatedAt.After(lj.CreatedAt)
		}
	})
}
