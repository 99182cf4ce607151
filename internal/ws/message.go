package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/service"
)

type EventType string

// Inbound and outbound event names. Several are used in both directions.
const (
	EventUserJoin       EventType = "user-join"
	EventUserLeave      EventType = "user-leave"
	EventChannelOpen    EventType = "channel-open"
	EventConvoOpen      EventType = "convo-open"
	EventMessage        EventType = "message"
	EventThreadMessage  EventType = "thread-message"
	EventMessageView    EventType = "message-view"
	EventEditMessage    EventType = "edit-message"
	EventDeleteMessage  EventType = "delete-message"
	EventReaction       EventType = "reaction"
	EventJoinRoom       EventType = "join-room"
	EventRoomLeave      EventType = "room-leave"
	EventOffer          EventType = "offer"
	EventAnswer         EventType = "answer"
	EventICECandidate   EventType = "ice-candidate"
	EventMessageUpdated EventType = "message-updated"
	EventMessageDeleted EventType = "message-deleted"
	EventChannelUpdated EventType = "channel-updated"
	EventConvoUpdated   EventType = "convo-updated"
	EventNotification   EventType = "notification"
	EventUserJoinedRoom EventType = "user-joined-room"
	EventUserLeftRoom   EventType = "user-left-room"
	EventAck            EventType = "ack"
	EventError          EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type    EventType       `json:"type"`
	AckID   string          `json:"ack_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// validator is implemented by every inbound payload.
type validator interface {
	Validate() error
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", service.ErrValidation, fmt.Sprintf(format, args...))
}

// decodePayload decodes raw strictly into v and validates it.
func decodePayload(raw json.RawMessage, v validator) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return invalid("payload is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalid("bad payload: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return invalid("trailing data after payload")
	}
	return v.Validate()
}

// --- inbound payloads ---

type PresencePayload struct {
	ID       string `json:"id"`
	IsOnline bool   `json:"isOnline"`
}

func (p *PresencePayload) Validate() error {
	if p.ID == "" {
		return invalid("id is required")
	}
	return nil
}

type OpenPayload struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

func (p *OpenPayload) Validate() error {
	if p.ID == "" {
		return invalid("id is required")
	}
	return nil
}

type MessageBody struct {
	Sender      string             `json:"sender"`
	Content     string             `json:"content"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
}

func (b *MessageBody) validate() error {
	if b.Content == "" && len(b.Attachments) == 0 {
		return invalid("message content or attachments required")
	}
	if len([]rune(b.Content)) > service.MaxContentLength {
		return invalid("message too long")
	}
	return nil
}

type MessagePayload struct {
	ChannelID      string      `json:"channelId,omitempty"`
	ConversationID string      `json:"conversationId,omitempty"`
	Collaborators  []string    `json:"collaborators,omitempty"`
	IsSelf         bool        `json:"isSelf"`
	Message        MessageBody `json:"message"`
	Organisation   string      `json:"organisation,omitempty"`
	// HasNotOpen nil means the server decides from who has the room open.
	HasNotOpen []string `json:"hasNotOpen"`
}

func (p *MessagePayload) Validate() error {
	if (p.ChannelID == "") == (p.ConversationID == "") {
		return invalid("exactly one of channelId or conversationId is required")
	}
	return p.Message.validate()
}

// Room is the home room named by the payload.
func (p *MessagePayload) Room() model.Room {
	if p.ChannelID != "" {
		return model.Room{Kind: model.RoomChannel, ID: p.ChannelID}
	}
	return model.Room{Kind: model.RoomConversation, ID: p.ConversationID}
}

type ThreadMessagePayload struct {
	UserID    string      `json:"userId"`
	MessageID string      `json:"messageId"`
	Message   MessageBody `json:"message"`
}

func (p *ThreadMessagePayload) Validate() error {
	if p.MessageID == "" {
		return invalid("messageId is required")
	}
	return p.Message.validate()
}

type ViewPayload struct {
	MessageID string `json:"messageId"`
	IsThread  bool   `json:"isThread,omitempty"`
}

func (p *ViewPayload) Validate() error {
	if p.MessageID == "" {
		return invalid("messageId is required")
	}
	return nil
}

type EditPayload struct {
	MessageID  string `json:"messageId"`
	NewContent string `json:"newContent"`
	IsThread   bool   `json:"isThread"`
}

func (p *EditPayload) Validate() error {
	if p.MessageID == "" || p.NewContent == "" {
		return invalid("messageId and newContent are required")
	}
	return nil
}

type DeletePayload struct {
	MessageID string `json:"messageId"`
	IsThread  bool   `json:"isThread"`
}

func (p *DeletePayload) Validate() error {
	if p.MessageID == "" {
		return invalid("messageId is required")
	}
	return nil
}

type ReactionPayload struct {
	Emoji    string `json:"emoji"`
	ID       string `json:"id"`
	IsThread bool   `json:"isThread"`
	UserID   string `json:"userId"`
}

func (p *ReactionPayload) Validate() error {
	if p.ID == "" || p.Emoji == "" {
		return invalid("id and emoji are required")
	}
	if utf8.RuneCountInString(p.Emoji) > service.MaxEmojiLength {
		return invalid("emoji too long")
	}
	return nil
}

// RoomPayload addresses a plain room, or with kind "thread" the thread
// room of the message roomId.
type RoomPayload struct {
	RoomID string `json:"roomId"`
	Kind   string `json:"kind,omitempty"`
	UserID string `json:"userId"`
}

const (
	roomKindPlain  = "room"
	roomKindThread = "thread"
)

func (p *RoomPayload) Validate() error {
	if p.RoomID == "" {
		return invalid("roomId is required")
	}
	switch p.Kind {
	case "", roomKindPlain, roomKindThread:
		return nil
	}
	return invalid("unknown room kind %q", p.Kind)
}

func (p *RoomPayload) Room() model.Room {
	if p.Kind == roomKindThread {
		return model.Room{Kind: model.RoomThread, ID: p.RoomID}
	}
	return model.Room{Kind: model.RoomPlain, ID: p.RoomID}
}

type SignalPayload struct {
	RoomID string          `json:"roomId"`
	To     string          `json:"to,omitempty"`
	Data   json.RawMessage `json:"data"`
}

func (p *SignalPayload) Validate() error {
	if p.RoomID == "" && p.To == "" {
		return invalid("roomId or to is required")
	}
	if len(p.Data) == 0 {
		return invalid("data is required")
	}
	return nil
}

// --- outbound payloads ---

type AckPayload struct {
	AckID string `json:"ack_id"`
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

type MessageDeletedPayload struct {
	ID       string `json:"id"`
	RoomID   string `json:"roomId"`
	IsThread bool   `json:"isThread"`
}

type MessageViewedPayload struct {
	MessageID string `json:"messageId"`
	IsThread  bool   `json:"isThread"`
	UserID    string `json:"userId"`
}

type RoomMemberPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// AdvisoryPayload is the coarse notification signal sent to every connection.
type AdvisoryPayload struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
}

type SignalOutPayload struct {
	RoomID string          `json:"roomId,omitempty"`
	From   string          `json:"from"`
	Data   json.RawMessage `json:"data"`
}
