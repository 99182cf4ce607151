package model

import (
	"errors"
	"time"
)

// ErrInvalidHome is returned when a message has both or neither of channel/conversation set.
var ErrInvalidHome = errors.New("message must belong to exactly one of channel or conversation")

type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Reaction holds the set of users that reacted with one emoji.
// A reaction with no reactors never exists.
type Reaction struct {
	Emoji     string   `json:"emoji"`
	ReactedBy []string `json:"reacted_by"`
}

type Message struct {
	ID                string       `json:"id"`
	SenderID          string       `json:"sender_id"`
	Content           string       `json:"content"`
	ChannelID         string       `json:"channel_id,omitempty"`
	ConversationID    string       `json:"conversation_id,omitempty"`
	OrganisationID    string       `json:"organisation_id,omitempty"`
	Attachments       []Attachment `json:"attachments,omitempty"`
	Reactions         []Reaction   `json:"reactions"`
	ThreadReplyCount  int          `json:"thread_reply_count"`
	ThreadLastReplyAt *time.Time   `json:"thread_last_reply_at,omitempty"`
	IsRead            bool         `json:"is_read"`
	IsFirstOfDay      bool         `json:"is_first_of_day"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
	Sender            *UserPublic  `json:"sender,omitempty"`
}

// Home returns the room the message lives in.
func (m *Message) Home() (Room, error) {
	switch {
	case m.ChannelID != "" && m.ConversationID == "":
		return Room{Kind: RoomChannel, ID: m.ChannelID}, nil
	case m.ConversationID != "" && m.ChannelID == "":
		return Room{Kind: RoomConversation, ID: m.ConversationID}, nil
	default:
		return Room{}, ErrInvalidHome
	}
}

// ThreadReply is scoped to its parent message; the parent id doubles as the room id.
type ThreadReply struct {
	ID          string       `json:"id"`
	ParentID    string       `json:"message_id"`
	SenderID    string       `json:"sender_id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Reactions   []Reaction   `json:"reactions"`
	IsRead      bool         `json:"is_read"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Sender      *UserPublic  `json:"sender,omitempty"`
}

func (r *ThreadReply) Room() Room {
	return Room{Kind: RoomThread, ID: r.ParentID}
}

// FindReaction returns the reaction for emoji, or nil.
func FindReaction(reactions []Reaction, emoji string) *Reaction {
	for i := range reactions {
		if reactions[i].Emoji == emoji {
			return &reactions[i]
		}
	}
	return nil
}
