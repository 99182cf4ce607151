package model

import "time"

type NotificationType string

const (
	NotificationMention        NotificationType = "mention"
	NotificationChannelMention NotificationType = "channel_mention"
	NotificationDirectMessage  NotificationType = "direct_message"
	NotificationThreadReply    NotificationType = "thread_reply"
)

// BroadcastClass is one of the three room-wide mention tokens.
type BroadcastClass string

const (
	BroadcastChannel  BroadcastClass = "channel"
	BroadcastHere     BroadcastClass = "here"
	BroadcastEveryone BroadcastClass = "everyone"
)

type MentionDetail struct {
	RoomName string `json:"room_name"`
}

type ChannelMentionDetail struct {
	Classes  []BroadcastClass `json:"classes"`
	RoomName string           `json:"room_name"`
}

type DirectMessageDetail struct {
	RoomName string `json:"room_name"`
}

type ThreadReplyDetail struct {
	ParentMessageID string `json:"parent_message_id"`
	RoomName        string `json:"room_name"`
}

// NotificationDetail is a tagged variant: exactly one arm is set, matching Notification.Type.
type NotificationDetail struct {
	Mention        *MentionDetail        `json:"mention,omitempty"`
	ChannelMention *ChannelMentionDetail `json:"channel_mention,omitempty"`
	DirectMessage  *DirectMessageDetail  `json:"direct_message,omitempty"`
	ThreadReply    *ThreadReplyDetail    `json:"thread_reply,omitempty"`
}

// Kind reports which arm is populated ("" if none).
func (d NotificationDetail) Kind() NotificationType {
	switch {
	case d.Mention != nil:
		return NotificationMention
	case d.ChannelMention != nil:
		return NotificationChannelMention
	case d.DirectMessage != nil:
		return NotificationDirectMessage
	case d.ThreadReply != nil:
		return NotificationThreadReply
	}
	return ""
}

type Notification struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	Type           NotificationType   `json:"type"`
	MessageID      string             `json:"message_id"`
	ChannelID      string             `json:"channel_id,omitempty"`
	ConversationID string             `json:"conversation_id,omitempty"`
	SenderID       string             `json:"sender_id"`
	IsRead         bool               `json:"is_read"`
	Detail         NotificationDetail `json:"detail"`
	CreatedAt      time.Time          `json:"created_at"`
}

type PreferenceType string

const (
	PreferenceAll            PreferenceType = "all"
	PreferenceDirectMentions PreferenceType = "direct_mentions_keywords"
	PreferenceNothing        PreferenceType = "nothing"
)

type Preference struct {
	UserID string         `json:"user_id"`
	Type   PreferenceType `json:"type"`
}

// Allows applies the preference decision table. direct is true when the
// recipient was addressed personally (explicit mention, DM, reply to own message).
func (p PreferenceType) Allows(direct bool) bool {
	switch p {
	case PreferenceNothing:
		return false
	case PreferenceDirectMentions:
		return direct
	default:
		return true
	}
}
