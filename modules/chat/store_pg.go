package chat

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	domain "github.com/yuka166/chatapp-server/domain/chat"
	"github.com/yuka166/chatapp-server/pkg/apperr"
	"github.com/yuka166/chatapp-server/pkg/database"
)

const pgChatSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	name       TEXT,
	direct_key TEXT UNIQUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS room_members (
	room_id   TEXT NOT NULL REFERENCES rooms (id) ON DELETE CASCADE,
	user_id   TEXT NOT NULL,
	is_admin  BOOLEAN NOT NULL DEFAULT FALSE,
	position  INTEGER NOT NULL DEFAULT 0,
	joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_room_members_user_id ON room_members (user_id);
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL REFERENCES rooms (id) ON DELETE CASCADE,
	author_id  TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages (room_id, created_at);
`

const (
	pgRoomColumns    = `r.id, r.name, r.direct_key, r.created_at, r.updated_at`
	pgMessageColumns = `id, room_id, author_id, content, created_at`
)

// PgStore implements Store on PostgreSQL through pgx.
type PgStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PgStore)(nil)

// NewPgStore creates a new PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Migrate creates the chat tables if they do not exist.
func (s *PgStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, pgChatSchema)
	return err
}

func (s *PgStore) FindDirectRoom(ctx context.Context, a, b string) (*domain.Room, error) {
	room, err := s.findRoom(ctx,
		`SELECT `+pgRoomColumns+` FROM rooms r WHERE r.direct_key = $1`,
		domain.DirectKey(a, b),
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, apperr.Store("find direct room", err)
	}
	return room, nil
}

func (s *PgStore) CreateRoom(ctx context.Context, members []string, name *string, admins []string) (*domain.Room, error) {
	room, err := newRoom(members, name, admins)
	if err != nil {
		return nil, err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO rooms (id, name, direct_key, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
			room.ID, room.Name, room.DirectKey, room.CreatedAt, room.UpdatedAt,
		); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, row := range memberRows(room) {
			batch.Queue(
				`INSERT INTO room_members (room_id, user_id, is_admin, position, joined_at) VALUES ($1, $2, $3, $4, $5)`,
				row.RoomID, row.UserID, row.IsAdmin, row.Position, row.JoinedAt,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		if database.IsPgUniqueViolation(err) {
			return nil, ErrDirectRoomExists
		}
		return nil, apperr.Store("create room", err)
	}
	return room, nil
}

func (s *PgStore) FindRoomsForMember(ctx context.Context, userID string) ([]domain.Room, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgRoomColumns+` FROM rooms r
		 JOIN room_members m ON m.room_id = r.id
		 WHERE m.user_id = $1
		 ORDER BY r.created_at, r.id`,
		userID,
	)
	if err != nil {
		return nil, apperr.Store("find rooms for member", err)
	}
	rooms, err := pgx.CollectRows(rows, scanRoom)
	if err != nil {
		return nil, apperr.Store("find rooms for member", err)
	}
	if len(rooms) == 0 {
		return rooms, nil
	}
	if err := s.loadMembers(ctx, rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (s *PgStore) FindRoomForMember(ctx context.Context, roomID, userID string) (*domain.Room, error) {
	room, err := s.findRoom(ctx,
		`SELECT `+pgRoomColumns+` FROM rooms r
		 JOIN room_members m ON m.room_id = r.id
		 WHERE r.id = $1 AND m.user_id = $2`,
		roomID, userID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotMember
		}
		return nil, apperr.Store("find room for member", err)
	}
	return room, nil
}

func (s *PgStore) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID,
	).Scan(&exists)
	if err != nil {
		return false, apperr.Store("check membership", err)
	}
	return exists, nil
}

func (s *PgStore) Append(ctx context.Context, roomID, authorID, content string) (*domain.Message, error) {
	msg, err := newMessage(roomID, authorID, content)
	if err != nil {
		return nil, err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (`+pgMessageColumns+`) VALUES ($1, $2, $3, $4, $5)`,
			msg.ID, msg.RoomID, msg.AuthorID, msg.Content, msg.CreatedAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE rooms SET updated_at = $2 WHERE id = $1`, roomID, msg.CreatedAt)
		return err
	})
	if err != nil {
		return nil, apperr.Store("append message", err)
	}
	return msg, nil
}

func (s *PgStore) ListByRoom(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT `+pgMessageColumns+` FROM messages WHERE room_id = $1
			 ORDER BY created_at DESC, id DESC LIMIT $2`,
			roomID, limit,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+pgMessageColumns+` FROM messages WHERE room_id = $1 ORDER BY created_at, id`,
			roomID,
		)
	}
	if err != nil {
		return nil, apperr.Store("list messages", err)
	}

	msgs, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, apperr.Store("list messages", err)
	}
	if limit > 0 {
		reverse(msgs)
	}
	return msgs, nil
}

func (s *PgStore) Latest(ctx context.Context, roomID string) (*domain.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgMessageColumns+` FROM messages WHERE room_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		roomID,
	)
	if err != nil {
		return nil, apperr.Store("latest message", err)
	}
	msg, err := pgx.CollectExactlyOneRow(rows, scanMessage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Store("latest message", err)
	}
	return &msg, nil
}

// Ping checks the database connection.
func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PgStore) findRoom(ctx context.Context, query string, args ...any) (*domain.Room, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	room, err := pgx.CollectExactlyOneRow(rows, scanRoom)
	if err != nil {
		return nil, err
	}
	rooms := []domain.Room{room}
	if err := s.loadMembers(ctx, rooms); err != nil {
		return nil, err
	}
	return &rooms[0], nil
}

func (s *PgStore) loadMembers(ctx context.Context, rooms []domain.Room) error {
	rows, err := s.pool.Query(ctx,
		`SELECT room_id, user_id, is_admin, position, joined_at FROM room_members
		 WHERE room_id = ANY($1) ORDER BY room_id, position`,
		roomIDs(rooms),
	)
	if err != nil {
		return apperr.Store("load room members", err)
	}
	members, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RoomMember, error) {
		var m domain.RoomMember
		err := row.Scan(&m.RoomID, &m.UserID, &m.IsAdmin, &m.Position, &m.JoinedAt)
		return m, err
	})
	if err != nil {
		return apperr.Store("load room members", err)
	}
	attachMembers(rooms, members)
	return nil
}

func scanRoom(row pgx.CollectableRow) (domain.Room, error) {
	var r domain.Room
	err := row.Scan(&r.ID, &r.Name, &r.DirectKey, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func scanMessage(row pgx.CollectableRow) (domain.Message, error) {
	var m domain.Message
	err := row.Scan(&m.ID, &m.RoomID, &m.AuthorID, &m.Content, &m.CreatedAt)
	return m, err
}
