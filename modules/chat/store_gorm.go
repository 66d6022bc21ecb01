package chat

import (
	"context"
	"errors"

	domain "github.com/yuka166/chatapp-server/domain/chat"
	"github.com/yuka166/chatapp-server/pkg/apperr"
	"github.com/yuka166/chatapp-server/pkg/database"
	"gorm.io/gorm"
)

// GormStore implements Store with GORM.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore creates a new GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the chat tables.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&domain.Room{}, &domain.RoomMember{}, &domain.Message{})
}

func (s *GormStore) FindDirectRoom(ctx context.Context, a, b string) (*domain.Room, error) {
	var room domain.Room
	err := s.db.WithContext(ctx).First(&room, "direct_key = ?", domain.DirectKey(a, b)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, apperr.Store("find direct room", err)
	}
	return s.withMembers(ctx, s.db, &room)
}

func (s *GormStore) CreateRoom(ctx context.Context, members []string, name *string, admins []string) (*domain.Room, error) {
	room, err := newRoom(members, name, admins)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			return err
		}
		rows := memberRows(room)
		return tx.Create(&rows).Error
	})
	if err != nil {
		if database.IsDuplicateKey(err) {
			return nil, ErrDirectRoomExists
		}
		return nil, apperr.Store("create room", err)
	}
	return room, nil
}

func (s *GormStore) FindRoomsForMember(ctx context.Context, userID string) ([]domain.Room, error) {
	db := s.db.WithContext(ctx)

	var rooms []domain.Room
	err := db.
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("room_members.user_id = ?", userID).
		Order("rooms.created_at, rooms.id").
		Find(&rooms).Error
	if err != nil {
		return nil, apperr.Store("find rooms for member", err)
	}
	if len(rooms) == 0 {
		return rooms, nil
	}

	var rows []domain.RoomMember
	if err := db.Where("room_id IN ?", roomIDs(rooms)).Order("room_id, position").Find(&rows).Error; err != nil {
		return nil, apperr.Store("load room members", err)
	}
	attachMembers(rooms, rows)
	return rooms, nil
}

func (s *GormStore) FindRoomForMember(ctx context.Context, roomID, userID string) (*domain.Room, error) {
	var room domain.Room
	err := s.db.WithContext(ctx).
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("rooms.id = ? AND room_members.user_id = ?", roomID, userID).
		First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotMember
		}
		return nil, apperr.Store("find room for member", err)
	}
	return s.withMembers(ctx, s.db, &room)
}

func (s *GormStore) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	if err != nil {
		return false, apperr.Store("check membership", err)
	}
	return count > 0, nil
}

func (s *GormStore) Append(ctx context.Context, roomID, authorID, content string) (*domain.Message, error) {
	msg, err := newMessage(roomID, authorID, content)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Room{}).Where("id = ?", roomID).Update("updated_at", msg.CreatedAt).Error
	})
	if err != nil {
		return nil, apperr.Store("append message", err)
	}
	return msg, nil
}

func (s *GormStore) ListByRoom(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	var msgs []domain.Message
	q := s.db.WithContext(ctx).Where("room_id = ?", roomID)

	if limit > 0 {
		if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&msgs).Error; err != nil {
			return nil, apperr.Store("list messages", err)
		}
		reverse(msgs)
		return msgs, nil
	}

	if err := q.Order("created_at, id").Find(&msgs).Error; err != nil {
		return nil, apperr.Store("list messages", err)
	}
	return msgs, nil
}

func (s *GormStore) Latest(ctx context.Context, roomID string) (*domain.Message, error) {
	var msgs []domain.Message
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&msgs).Error
	if err != nil {
		return nil, apperr.Store("latest message", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (s *GormStore) Close() error {
	return database.CloseGorm(s.db)
}

func (s *GormStore) withMembers(ctx context.Context, db *gorm.DB, room *domain.Room) (*domain.Room, error) {
	var rows []domain.RoomMember
	if err := db.WithContext(ctx).Where("room_id = ?", room.ID).Order("position").Find(&rows).Error; err != nil {
		return nil, apperr.Store("load room members", err)
	}
	rooms := []domain.Room{*room}
	attachMembers(rooms, rows)
	return &rooms[0], nil
}
