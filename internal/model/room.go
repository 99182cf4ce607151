package model

import "time"

// RoomKind identifies which broadcast scope a room id belongs to.
type RoomKind string

const (
	RoomChannel      RoomKind = "channel"
	RoomConversation RoomKind = "conversation"
	RoomThread       RoomKind = "thread"
	// RoomPlain is an ad-hoc room joined with join-room, used for call signaling.
	RoomPlain        RoomKind = "room"
)

// Room is a logical broadcast scope. It is not persisted.
type Room struct {
	Kind RoomKind `json:"kind"`
	ID   string   `json:"id"`
}

type Channel struct {
	ID             string    `json:"id"`
	OrganisationID string    `json:"organisation_id"`
	Name           string    `json:"name"`
	Members        []string  `json:"members"`
	HasNotOpen     []string  `json:"has_not_open"`
	CreatedAt      time.Time `json:"created_at"`
}

type Conversation struct {
	ID             string    `json:"id"`
	OrganisationID string    `json:"organisation_id"`
	Members        []string  `json:"members"`
	HasNotOpen     []string  `json:"has_not_open"`
	IsSelf         bool      `json:"is_self"`
	CreatedAt      time.Time `json:"created_at"`
}
