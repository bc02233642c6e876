package chatsync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/putto11262002/chatsync/client"
	"github.com/putto11262002/chatsync/core"
	"github.com/putto11262002/chatsync/pkg/router"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

type ChatHandler struct {
	chatStore core.ChatStore
	logger    *slog.Logger
}

func NewChatHandler(chatStore core.ChatStore, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{chatStore: chatStore, logger: logger}
}

func (h *ChatHandler) GetMyRoomsHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	rooms, err := client.ListRooms(r.Context(), h.chatStore, session.ID)
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, rooms)
}

type CreateRoomPayload struct {
	Name      *string  `json:"name"`
	IsGroup   bool     `json:"is_group"`
	MemberIDs []string `json:"member_ids"`
}

func (h *ChatHandler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	var payload CreateRoomPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid body")
	}
	r.Body.Close()

	room, err := h.chatStore.CreateRoom(r.Context(), core.RoomCreateInput{
		Name:      payload.Name,
		IsGroup:   payload.IsGroup,
		CreatedBy: session.ID,
		MemberIDs: payload.MemberIDs,
	})
	if err != nil {
		return fmt.Errorf("CreateRoom: %w", err)
	}

	return router.JSON(w, http.StatusCreated, room)
}

type AddRoomMemberPayload struct {
	UserID string          `json:"user_id" validate:"required"`
	Role   core.MemberRole `json:"role" validate:"omitempty,oneof=admin member"`
}

// AddRoomMemberHandler adds a user to the room. Only admins of the room can add members.
func (h *ChatHandler) AddRoomMemberHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	roomID := r.PathValue("roomID")

	if _, err := h.chatStore.GetRoomByID(r.Context(), roomID); err != nil {
		return fmt.Errorf("GetRoomByID: %w", err)
	}
	inRoom, role, err := h.chatStore.IsRoomMember(r.Context(), roomID, session.ID)
	if err != nil {
		return fmt.Errorf("IsRoomMember: %w", err)
	}
	if !inRoom || role != core.Admin {
		return core.NewError(core.ErrUnauthorized, "AddRoomMember", nil)
	}

	var payload AddRoomMemberPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid body")
	}
	r.Body.Close()

	if err := validate.Struct(payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid input")
	}
	if payload.Role == "" {
		payload.Role = core.Member
	}

	if err := h.chatStore.AddRoomMember(r.Context(), roomID, payload.UserID, payload.Role); err != nil {
		return fmt.Errorf("AddRoomMember: %w", err)
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *ChatHandler) LeaveRoomHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	if err := h.chatStore.RemoveRoomMember(r.Context(), r.PathValue("roomID"), session.ID); err != nil {
		return fmt.Errorf("RemoveRoomMember: %w", err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type MessagesPage struct {
	Messages []core.Message `json:"messages"`
	Total    int            `json:"total"`
	HasMore  bool           `json:"has_more"`
}

// GetRoomMessagesHandler returns a page of the room's messages, newest first.
func (h *ChatHandler) GetRoomMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	roomID := r.PathValue("roomID")

	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		return router.NewJsonError(http.StatusBadRequest, "invalid offset")
	}
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit <= 0 {
		return router.NewJsonError(http.StatusBadRequest, "invalid limit")
	}
	limit = min(limit, maxPageSize)

	if err := h.requireMember(r, "GetRoomMessages", roomID, session.ID); err != nil {
		return err
	}

	messages, total, err := h.chatStore.GetRoomMessages(r.Context(), roomID, offset, limit)
	if err != nil {
		return fmt.Errorf("GetRoomMessages: %w", err)
	}

	return router.JSON(w, http.StatusOK, MessagesPage{
		Messages: messages,
		Total:    total,
		HasMore:  offset+len(messages) < total,
	})
}

type SendMessagePayload struct {
	Content   string           `json:"content"`
	Type      core.MessageType `json:"message_type"`
	FileURL   *string          `json:"file_url"`
	FileName  *string          `json:"file_name"`
	FileSize  *int64           `json:"file_size"`
	ReplyToID *string          `json:"reply_to_id"`
}

// SendMessageHandler stores the message and bumps the activity timestamp of the room.
// A failure to bump the timestamp is logged and does not fail the request.
func (h *ChatHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	roomID := r.PathValue("roomID")

	var payload SendMessagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid body")
	}
	r.Body.Close()

	record, err := h.chatStore.CreateMessage(r.Context(), core.MessageCreateInput{
		RoomID:    roomID,
		SenderID:  session.ID,
		Content:   payload.Content,
		Type:      payload.Type,
		FileURL:   payload.FileURL,
		FileName:  payload.FileName,
		FileSize:  payload.FileSize,
		ReplyToID: payload.ReplyToID,
	})
	if err != nil {
		return fmt.Errorf("CreateMessage: %w", err)
	}

	if err := h.chatStore.TouchRoom(r.Context(), roomID, time.Now()); err != nil {
		h.logger.Warn("touching room", slog.String("room", roomID), slog.Any("error", err))
	}

	return router.JSON(w, http.StatusCreated, record)
}

type EditMessagePayload struct {
	Content string `json:"content"`
}

func (h *ChatHandler) EditMessageHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	var payload EditMessagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid body")
	}
	r.Body.Close()

	record, err := h.chatStore.EditMessage(r.Context(), r.PathValue("messageID"), session.ID, payload.Content)
	if err != nil {
		return fmt.Errorf("EditMessage: %w", err)
	}
	return router.JSON(w, http.StatusOK, record)
}

func (h *ChatHandler) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	record, err := h.chatStore.SoftDeleteMessage(r.Context(), r.PathValue("messageID"), session.ID)
	if err != nil {
		return fmt.Errorf("SoftDeleteMessage: %w", err)
	}
	return router.JSON(w, http.StatusOK, record)
}

type ReactionPayload struct {
	Emoji string `json:"emoji"`
}

// ToggleReactionHandler removes the caller's reaction if present, otherwise adds it,
// and responds with the message's reactions grouped by emoji.
func (h *ChatHandler) ToggleReactionHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	messageID := r.PathValue("messageID")

	var payload ReactionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid body")
	}
	r.Body.Close()

	message, err := h.chatStore.GetMessage(r.Context(), messageID)
	if err != nil {
		return fmt.Errorf("GetMessage: %w", err)
	}
	if err := h.requireMember(r, "ToggleReaction", message.RoomID, session.ID); err != nil {
		return err
	}

	input := core.ReactionInput{MessageID: messageID, UserID: session.ID, Emoji: payload.Emoji}
	groups := client.GroupReactions(message.Reactions)
	reacted := slices.ContainsFunc(groups, func(g client.ReactionGroup) bool {
		return g.Emoji == payload.Emoji && g.Has(session.ID)
	})
	if reacted {
		err = h.chatStore.DeleteReaction(r.Context(), input)
	} else {
		err = h.chatStore.CreateReaction(r.Context(), input)
	}
	if err != nil {
		return fmt.Errorf("toggle reaction: %w", err)
	}

	reactions, err := h.chatStore.GetMessageReactions(r.Context(), messageID)
	if err != nil {
		return fmt.Errorf("GetMessageReactions: %w", err)
	}
	return router.JSON(w, http.StatusOK, client.GroupReactions(reactions))
}

// requireMember fails with ErrNotFound if the room does not exist
// and with ErrUnauthorized if the user is not one of its members.
func (h *ChatHandler) requireMember(r *http.Request, op, roomID, userID string) error {
	if _, err := h.chatStore.GetRoomByID(r.Context(), roomID); err != nil {
		return fmt.Errorf("GetRoomByID: %w", err)
	}
	ok, _, err := h.chatStore.IsRoomMember(r.Context(), roomID, userID)
	if err != nil {
		return fmt.Errorf("IsRoomMember: %w", err)
	}
	if !ok {
		return core.NewError(core.ErrUnauthorized, op, nil)
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
