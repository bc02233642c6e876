package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

const messageColumns = `m.id, m.room_id, m.sender_id, m.content, m.message_type, m.file_url,
	m.file_name, m.file_size, m.reply_to_id, m.is_edited, m.is_deleted, m.created_at, m.updated_at`

const roomColumns = `r.id, r.name, r.description, r.avatar_url, r.is_group, r.created_by, r.created_at, r.updated_at`

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type SQLiteChatStore struct {
	db        *sql.DB
	publisher ChangePublisher
}

type ChatStoreOption func(*SQLiteChatStore)

// WithPublisher makes the store publish message changes after they are committed.
func WithPublisher(p ChangePublisher) ChatStoreOption {
	return func(s *SQLiteChatStore) {
		s.publisher = p
	}
}

func NewSQLiteChatStore(db *sql.DB, opts ...ChatStoreOption) *SQLiteChatStore {
	s := &SQLiteChatStore{
		db: db,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// publish sends the committed row to the publisher. Deletes are soft, so the store
// only ever publishes inserts and updates.
func (s *SQLiteChatStore) publish(t ChangeType, record *MessageRecord) {
	if s.publisher == nil || record == nil {
		return
	}
	s.publisher.PublishChange(ChangeEvent{Type: t, New: record})
}

func (s *SQLiteChatStore) GetMemberRoomIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT room_id FROM room_members WHERE user_id = @user_id ORDER BY joined_at",
		sql.Named("user_id", userID))
	if err != nil {
		return nil, transient("QueryContext(select room_members)", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, transient("rows.Scan", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("rows.Err", err)
	}
	return ids, nil
}

func (s *SQLiteChatStore) GetRoomsByIDs(ctx context.Context, ids []string) ([]Room, error) {
	if len(ids) == 0 {
		return []Room{}, nil
	}

	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	query := `
	SELECT ` + roomColumns + `
	FROM rooms AS r
	WHERE r.id IN (` + strings.Repeat("?,", len(ids)-1) + `?)
	ORDER BY r.updated_at DESC, r.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, transient("QueryContext(select rooms)", err)
	}
	defer rows.Close()

	rooms := make([]Room, 0, len(ids))
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, transient("rows.Scan", err)
		}
		rooms = append(rooms, *room)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("rows.Err", err)
	}
	return rooms, nil
}

func (s *SQLiteChatStore) GetRoomByID(ctx context.Context, roomID string) (*Room, error) {
	return getRoom(ctx, s.db, roomID)
}

func getRoom(ctx context.Context, q querier, roomID string) (*Room, error) {
	row := q.QueryRowContext(ctx, "SELECT "+roomColumns+" FROM rooms AS r WHERE r.id = @id", sql.Named("id", roomID))
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("GetRoomByID")
		}
		return nil, transient("row.Scan", err)
	}
	return room, nil
}

func (s *SQLiteChatStore) GetLastMessage(ctx context.Context, roomID string) (*MessageRecord, error) {
	query := `
	SELECT ` + messageColumns + `
	FROM messages AS m
	WHERE m.room_id = @room_id
	ORDER BY m.created_at DESC, m.rowid DESC
	LIMIT 1`

	record, err := scanMessageRecord(s.db.QueryRowContext(ctx, query, sql.Named("room_id", roomID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, transient("row.Scan", err)
	}
	return record, nil
}

func (s *SQLiteChatStore) GetRoomMembers(ctx context.Context, roomID string) ([]RoomMember, error) {
	query := `
	SELECT rm.id, rm.room_id, rm.user_id, rm.role, rm.is_muted, rm.joined_at, rm.last_read_at,
	` + profileColumns + `
	FROM room_members AS rm
	INNER JOIN profiles AS p ON p.user_id = rm.user_id
	WHERE rm.room_id = @room_id
	ORDER BY rm.joined_at ASC, rm.rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, sql.Named("room_id", roomID))
	if err != nil {
		return nil, transient("QueryContext(select room_members)", err)
	}
	defer rows.Close()

	members := []RoomMember{}
	for rows.Next() {
		var (
			member RoomMember
			p      Profile
			displayName, avatarURL, bio, statusMessage sql.NullString
		)
		if err := rows.Scan(&member.ID, &member.RoomID, &member.UserID, &member.Role,
			&member.IsMuted, &member.JoinedAt, &member.LastReadAt,
			&p.ID, &p.UserID, &p.Username, &displayName, &avatarURL,
			&bio, &statusMessage, &p.IsOnline, &p.LastSeen); err != nil {
			return nil, transient("rows.Scan", err)
		}
		p.DisplayName = stringPtr(displayName)
		p.AvatarURL = stringPtr(avatarURL)
		p.Bio = stringPtr(bio)
		p.StatusMessage = stringPtr(statusMessage)
		member.Profile = &p
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("rows.Err", err)
	}
	return members, nil
}

func (s *SQLiteChatStore) IsRoomMember(ctx context.Context, roomID, userID string) (bool, MemberRole, error) {
	return isRoomMember(ctx, s.db, roomID, userID)
}

func isRoomMember(ctx context.Context, q querier, roomID, userID string) (bool, MemberRole, error) {
	row := q.QueryRowContext(ctx,
		"SELECT role FROM room_members WHERE room_id = @room_id AND user_id = @user_id",
		sql.Named("room_id", roomID), sql.Named("user_id", userID))

	var role MemberRole
	if err := row.Scan(&role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, "", nil
		}
		return false, "", transient("row.Scan", err)
	}
	return true, role, nil
}

func (s *SQLiteChatStore) GetRoomMessages(ctx context.Context, roomID string, offset, limit int) ([]Message, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE room_id = @room_id", sql.Named("room_id", roomID))
	if err := row.Scan(&total); err != nil {
		return nil, 0, transient("row.Scan(count)", err)
	}

	query := `
	SELECT ` + messageColumns + `, ` + profileColumns + `
	FROM messages AS m
	INNER JOIN profiles AS p ON p.user_id = m.sender_id
	WHERE m.room_id = @room_id
	ORDER BY m.created_at DESC, m.rowid DESC
	LIMIT @limit OFFSET @offset`

	messages, err := s.queryMessages(ctx, query,
		sql.Named("room_id", roomID), sql.Named("limit", limit), sql.Named("offset", offset))
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

func (s *SQLiteChatStore) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	query := `
	SELECT ` + messageColumns + `, ` + profileColumns + `
	FROM messages AS m
	INNER JOIN profiles AS p ON p.user_id = m.sender_id
	WHERE m.id = @id`

	messages, err := s.queryMessages(ctx, query, sql.Named("id", messageID))
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, notFound("GetMessage")
	}
	return &messages[0], nil
}

// queryMessages runs a query selecting message and sender profile columns
// and attaches the reactions of the returned messages.
func (s *SQLiteChatStore) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, transient("QueryContext(select messages)", err)
	}

	messages := []Message{}
	for rows.Next() {
		message, err := scanMessageWithSender(rows)
		if err != nil {
			rows.Close()
			return nil, transient("rows.Scan", err)
		}
		messages = append(messages, *message)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, transient("rows.Err", err)
	}

	if len(messages) == 0 {
		return messages, nil
	}

	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	reactions, err := s.reactionsByMessage(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		messages[i].Reactions = reactions[messages[i].ID]
		if messages[i].Reactions == nil {
			messages[i].Reactions = []Reaction{}
		}
	}
	return messages, nil
}

func (s *SQLiteChatStore) reactionsByMessage(ctx context.Context, messageIDs []string) (map[string][]Reaction, error) {
	args := make([]any, 0, len(messageIDs))
	for _, id := range messageIDs {
		args = append(args, id)
	}
	query := `
	SELECT id, message_id, user_id, emoji
	FROM message_reactions
	WHERE message_id IN (` + strings.Repeat("?,", len(messageIDs)-1) + `?)
	ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, transient("QueryContext(select message_reactions)", err)
	}
	defer rows.Close()

	reactions := make(map[string][]Reaction)
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji); err != nil {
			return nil, transient("rows.Scan", err)
		}
		reactions[r.MessageID] = append(reactions[r.MessageID], r)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("rows.Err", err)
	}
	return reactions, nil
}

func (s *SQLiteChatStore) CreateMessage(ctx context.Context, input MessageCreateInput) (*MessageRecord, error) {
	if err := input.Validate(); err != nil {
		return nil, invalid("CreateMessage", err)
	}
	if input.Type == "" {
		input.Type = TextMessage
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, transient("BeginTx", err)
	}
	defer tx.Rollback()

	ok, _, err := isRoomMember(ctx, tx, input.RoomID, input.SenderID)
	if err != nil {
		return nil, fmt.Errorf("IsRoomMember: %w", err)
	}
	if !ok {
		return nil, unauthorized("CreateMessage")
	}

	now := time.Now().UTC()
	record := &MessageRecord{
		ID:        uuid.New().String(),
		RoomID:    input.RoomID,
		SenderID:  input.SenderID,
		Type:      input.Type,
		FileURL:   input.FileURL,
		FileName:  input.FileName,
		FileSize:  input.FileSize,
		ReplyToID: input.ReplyToID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if input.Content != "" {
		content := input.Content
		record.Content = &content
	}

	query := `
	INSERT INTO messages (id, room_id, sender_id, content, message_type, file_url, file_name,
		file_size, reply_to_id, is_edited, is_deleted, created_at, updated_at)
	VALUES (@id, @room_id, @sender_id, @content, @message_type, @file_url, @file_name,
		@file_size, @reply_to_id, FALSE, FALSE, @created_at, @updated_at)`
	_, err = tx.ExecContext(ctx, query,
		sql.Named("id", record.ID), sql.Named("room_id", record.RoomID),
		sql.Named("sender_id", record.SenderID), sql.Named("content", nullString(record.Content)),
		sql.Named("message_type", record.Type), sql.Named("file_url", nullString(record.FileURL)),
		sql.Named("file_name", nullString(record.FileName)), sql.Named("file_size", nullInt64(record.FileSize)),
		sql.Named("reply_to_id", nullString(record.ReplyToID)),
		sql.Named("created_at", record.CreatedAt), sql.Named("updated_at", record.UpdatedAt))
	if err != nil {
		return nil, classify("ExecContext(insert messages)", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, transient("Commit", err)
	}

	s.publish(InsertChange, record)
	return record, nil
}

func (s *SQLiteChatStore) EditMessage(ctx context.Context, messageID, senderID, content string) (*MessageRecord, error) {
	if strings.TrimSpace(content) == "" {
		return nil, invalid("EditMessage", errors.New("content is required"))
	}
	query := `
	UPDATE messages SET content = @content, is_edited = TRUE, updated_at = @updated_at
	WHERE id = @id AND sender_id = @sender_id AND is_deleted = FALSE`
	return s.updateMessage(ctx, "EditMessage", messageID, query,
		sql.Named("content", content), sql.Named("updated_at", time.Now().UTC()),
		sql.Named("id", messageID), sql.Named("sender_id", senderID))
}

func (s *SQLiteChatStore) SoftDeleteMessage(ctx context.Context, messageID, senderID string) (*MessageRecord, error) {
	query := `
	UPDATE messages SET content = @content, is_deleted = TRUE, updated_at = @updated_at
	WHERE id = @id AND sender_id = @sender_id`
	return s.updateMessage(ctx, "SoftDeleteMessage", messageID, query,
		sql.Named("content", DeletedMessageContent), sql.Named("updated_at", time.Now().UTC()),
		sql.Named("id", messageID), sql.Named("sender_id", senderID))
}

// updateMessage runs an update filtered by message and sender.
// When no row matches it tells a missing message apart from a rejected one.
func (s *SQLiteChatStore) updateMessage(ctx context.Context, op, messageID, query string, args ...any) (*MessageRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, transient("BeginTx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, classify("ExecContext(update messages)", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, transient("RowsAffected", err)
	}

	record, err := getMessageRecord(ctx, tx, messageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound(op)
		}
		return nil, err
	}
	if n == 0 {
		return nil, unauthorized(op)
	}

	if err := tx.Commit(); err != nil {
		return nil, transient("Commit", err)
	}

	s.publish(UpdateChange, record)
	return record, nil
}

func getMessageRecord(ctx context.Context, q querier, messageID string) (*MessageRecord, error) {
	row := q.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages AS m WHERE m.id = @id", sql.Named("id", messageID))
	record, err := scanMessageRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("getMessageRecord")
		}
		return nil, transient("row.Scan", err)
	}
	return record, nil
}

func (s *SQLiteChatStore) TouchRoom(ctx context.Context, roomID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE rooms SET updated_at = @updated_at WHERE id = @id",
		sql.Named("updated_at", at.UTC()), sql.Named("id", roomID))
	if err != nil {
		return transient("ExecContext(update rooms)", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return transient("RowsAffected", err)
	}
	if n == 0 {
		return notFound("TouchRoom")
	}
	return nil
}

func (s *SQLiteChatStore) CreateRoom(ctx context.Context, input RoomCreateInput) (*Room, error) {
	if err := input.Validate(); err != nil {
		return nil, invalid("CreateRoom", err)
	}

	memberIDs := []string{input.CreatedBy}
	for _, id := range input.MemberIDs {
		if !slices.Contains(memberIDs, id) {
			memberIDs = append(memberIDs, id)
		}
	}
	if len(memberIDs) < 2 {
		return nil, invalid("CreateRoom", errors.New("a room needs at least one member besides the creator"))
	}
	if !input.IsGroup && len(memberIDs) != 2 {
		return nil, invalid("CreateRoom", errors.New("a direct room has exactly two members"))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, transient("BeginTx", err)
	}
	defer tx.Rollback()

	// only one direct room can exist between two users
	if !input.IsGroup {
		existing, err := findDirectRoom(ctx, tx, memberIDs[0], memberIDs[1])
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if err := tx.Commit(); err != nil {
				return nil, transient("Commit", err)
			}
			return existing, nil
		}
	}

	now := time.Now().UTC()
	room := &Room{
		ID:        uuid.New().String(),
		IsGroup:   input.IsGroup,
		CreatedBy: &input.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if input.IsGroup {
		room.Name = input.Name
	}

	query := `
	INSERT INTO rooms (id, name, is_group, created_by, created_at, updated_at)
	VALUES (@id, @name, @is_group, @created_by, @created_at, @updated_at)`
	_, err = tx.ExecContext(ctx, query,
		sql.Named("id", room.ID), sql.Named("name", nullString(room.Name)),
		sql.Named("is_group", room.IsGroup), sql.Named("created_by", input.CreatedBy),
		sql.Named("created_at", now), sql.Named("updated_at", now))
	if err != nil {
		return nil, classify("ExecContext(insert rooms)", err)
	}

	for _, userID := range memberIDs {
		role := Member
		if userID == input.CreatedBy {
			role = Admin
		}
		member, err := insertMember(ctx, tx, room.ID, userID, role, now)
		if err != nil {
			return nil, err
		}
		room.Members = append(room.Members, *member)
	}

	if err := tx.Commit(); err != nil {
		return nil, transient("Commit", err)
	}
	return room, nil
}

func findDirectRoom(ctx context.Context, tx *sql.Tx, user1, user2 string) (*Room, error) {
	query := `
	SELECT r.id
	FROM rooms AS r
	INNER JOIN room_members AS a ON a.room_id = r.id AND a.user_id = @user1
	INNER JOIN room_members AS b ON b.room_id = r.id AND b.user_id = @user2
	WHERE r.is_group = FALSE
	LIMIT 1`
	var id string
	if err := tx.QueryRowContext(ctx, query, sql.Named("user1", user1), sql.Named("user2", user2)).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, transient("row.Scan", err)
	}
	return getRoom(ctx, tx, id)
}

func insertMember(ctx context.Context, tx *sql.Tx, roomID, userID string, role MemberRole, now time.Time) (*RoomMember, error) {
	member := &RoomMember{
		ID:         uuid.New().String(),
		RoomID:     roomID,
		UserID:     userID,
		Role:       role,
		JoinedAt:   now,
		LastReadAt: now,
	}
	query := `
	INSERT INTO room_members (id, room_id, user_id, role, is_muted, joined_at, last_read_at)
	VALUES (@id, @room_id, @user_id, @role, FALSE, @joined_at, @last_read_at)
	ON CONFLICT (room_id, user_id) DO NOTHING`
	_, err := tx.ExecContext(ctx, query,
		sql.Named("id", member.ID), sql.Named("room_id", roomID), sql.Named("user_id", userID),
		sql.Named("role", role), sql.Named("joined_at", now), sql.Named("last_read_at", now))
	if err != nil {
		return nil, classify("ExecContext(insert room_members)", err)
	}
	return member, nil
}

func (s *SQLiteChatStore) AddRoomMember(ctx context.Context, roomID, userID string, role MemberRole) error {
	if role != Admin && role != Member {
		return invalid("AddRoomMember", fmt.Errorf("unknown role %q", role))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return transient("BeginTx", err)
	}
	defer tx.Rollback()

	if _, err := getRoom(ctx, tx, roomID); err != nil {
		return err
	}
	if _, err := insertMember(ctx, tx, roomID, userID, role, time.Now().UTC()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return transient("Commit", err)
	}
	return nil
}

func (s *SQLiteChatStore) RemoveRoomMember(ctx context.Context, roomID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM room_members WHERE room_id = @room_id AND user_id = @user_id",
		sql.Named("room_id", roomID), sql.Named("user_id", userID))
	if err != nil {
		return transient("ExecContext(delete room_members)", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return transient("RowsAffected", err)
	}
	if n == 0 {
		return notFound("RemoveRoomMember")
	}
	return nil
}

func (s *SQLiteChatStore) CreateReaction(ctx context.Context, input ReactionInput) error {
	if err := input.Validate(); err != nil {
		return invalid("CreateReaction", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return transient("BeginTx", err)
	}
	defer tx.Rollback()

	record, err := getMessageRecord(ctx, tx, input.MessageID)
	if err != nil {
		return err
	}
	ok, _, err := isRoomMember(ctx, tx, record.RoomID, input.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return unauthorized("CreateReaction")
	}

	query := `
	INSERT INTO message_reactions (id, message_id, user_id, emoji, created_at)
	VALUES (@id, @message_id, @user_id, @emoji, @created_at)
	ON CONFLICT (message_id, user_id, emoji) DO NOTHING`
	_, err = tx.ExecContext(ctx, query,
		sql.Named("id", uuid.New().String()), sql.Named("message_id", input.MessageID),
		sql.Named("user_id", input.UserID), sql.Named("emoji", input.Emoji),
		sql.Named("created_at", time.Now().UTC()))
	if err != nil {
		return classify("ExecContext(insert message_reactions)", err)
	}

	if err := tx.Commit(); err != nil {
		return transient("Commit", err)
	}
	return nil
}

func (s *SQLiteChatStore) DeleteReaction(ctx context.Context, input ReactionInput) error {
	if err := input.Validate(); err != nil {
		return invalid("DeleteReaction", err)
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM message_reactions
		WHERE message_id = @message_id AND user_id = @user_id AND emoji = @emoji`,
		sql.Named("message_id", input.MessageID), sql.Named("user_id", input.UserID),
		sql.Named("emoji", input.Emoji))
	if err != nil {
		return transient("ExecContext(delete message_reactions)", err)
	}
	return nil
}

func (s *SQLiteChatStore) GetMessageReactions(ctx context.Context, messageID string) ([]Reaction, error) {
	reactions, err := s.reactionsByMessage(ctx, []string{messageID})
	if err != nil {
		return nil, err
	}
	if r := reactions[messageID]; r != nil {
		return r, nil
	}
	return []Reaction{}, nil
}

func scanRoom(row scanner) (*Room, error) {
	var (
		room                                     Room
		name, description, avatarURL, createdBy sql.NullString
	)
	if err := row.Scan(&room.ID, &name, &description, &avatarURL, &room.IsGroup,
		&createdBy, &room.CreatedAt, &room.UpdatedAt); err != nil {
		return nil, err
	}
	room.Name = stringPtr(name)
	room.Description = stringPtr(description)
	room.AvatarURL = stringPtr(avatarURL)
	room.CreatedBy = stringPtr(createdBy)
	return &room, nil
}

func messageRecordDest(m *MessageRecord, content, fileURL, fileName, replyToID *sql.NullString, fileSize *sql.NullInt64) []any {
	return []any{&m.ID, &m.RoomID, &m.SenderID, content, &m.Type, fileURL,
		fileName, fileSize, replyToID, &m.IsEdited, &m.IsDeleted, &m.CreatedAt, &m.UpdatedAt}
}

func scanMessageRecord(row scanner) (*MessageRecord, error) {
	var (
		m                                        MessageRecord
		content, fileURL, fileName, replyToID sql.NullString
		fileSize                                 sql.NullInt64
	)
	if err := row.Scan(messageRecordDest(&m, &content, &fileURL, &fileName, &replyToID, &fileSize)...); err != nil {
		return nil, err
	}
	m.Content = stringPtr(content)
	m.FileURL = stringPtr(fileURL)
	m.FileName = stringPtr(fileName)
	m.ReplyToID = stringPtr(replyToID)
	m.FileSize = int64Ptr(fileSize)
	return &m, nil
}

func scanMessageWithSender(row scanner) (*Message, error) {
	var (
		m                                          Message
		p                                          Profile
		content, fileURL, fileName, replyToID   sql.NullString
		displayName, avatarURL, bio, statusMessage sql.NullString
		fileSize                                   sql.NullInt64
	)
	dest := messageRecordDest(&m.MessageRecord, &content, &fileURL, &fileName, &replyToID, &fileSize)
	dest = append(dest, &p.ID, &p.UserID, &p.Username, &displayName, &avatarURL,
		&bio, &statusMessage, &p.IsOnline, &p.LastSeen)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	m.Content = stringPtr(content)
	m.FileURL = stringPtr(fileURL)
	m.FileName = stringPtr(fileName)
	m.ReplyToID = stringPtr(replyToID)
	m.FileSize = int64Ptr(fileSize)
	p.DisplayName = stringPtr(displayName)
	p.AvatarURL = stringPtr(avatarURL)
	p.Bio = stringPtr(bio)
	p.StatusMessage = stringPtr(statusMessage)
	m.Sender = &p
	return &m, nil
}

func nullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func int64Ptr(i sql.NullInt64) *int64 {
	if !i.Valid {
		return nil
	}
	v := i.Int64
	return &v
}

// classify maps constraint violations to input errors and everything else to transient failures.
func classify(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return invalid(op, err)
	}
	return transient(op, err)
}
