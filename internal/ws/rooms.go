package ws

import (
	"context"
	"encoding/json"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/service"
)

func (h *Hub) handleChannelOpen(ctx context.Context, c *Client, raw json.RawMessage) error {
	return h.open(ctx, c, raw, model.RoomChannel)
}

func (h *Hub) handleConvoOpen(ctx context.Context, c *Client, raw json.RawMessage) error {
	return h.open(ctx, c, raw, model.RoomConversation)
}

// open joins the room, clears the caller's unopened marker and publishes the room.
func (h *Hub) open(ctx context.Context, c *Client, raw json.RawMessage, kind model.RoomKind) error {
	var p OpenPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if err := c.actingAs(p.UserID); err != nil {
		return err
	}
	room := model.Room{Kind: kind, ID: p.ID}
	joined := h.registry.Join(c, room)
	st, err := h.messenger.OpenRoom(ctx, room, c.userID)
	if err != nil {
		if joined {
			h.registry.Leave(c, room)
		}
		return err
	}
	h.publishRoom(st)
	return nil
}

// publishRoom sends the updated room entity: channels to the channel room,
// conversations to each member directly.
func (h *Hub) publishRoom(st service.RoomState) {
	switch {
	case st.Channel != nil:
		h.registry.Broadcast(st.Room, EventChannelUpdated, st.Channel)
	case st.Conversation != nil:
		for _, uid := range st.Conversation.Members {
			h.registry.Unicast(uid, string(EventConvoUpdated), st.Conversation)
		}
	}
}

func (h *Hub) handleJoinRoom(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p RoomPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if err := c.actingAs(p.UserID); err != nil {
		return err
	}
	room := p.Room()
	if room.Kind == model.RoomThread {
		if _, err := h.messenger.ThreadParent(ctx, p.RoomID); err != nil {
			return err
		}
	}
	if h.registry.Join(c, room) {
		h.registry.Broadcast(room, EventUserJoinedRoom, RoomMemberPayload{RoomID: p.RoomID, UserID: c.userID})
	}
	return nil
}

func (h *Hub) handleRoomLeave(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p RoomPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if err := c.actingAs(p.UserID); err != nil {
		return err
	}
	room := p.Room()
	if !h.registry.Leave(c, room) {
		logger.Debugf("ws room-leave user=%s room=%s: not joined", c.userID, p.RoomID)
		return nil
	}
	payload := RoomMemberPayload{RoomID: p.RoomID, UserID: c.userID}
	h.registry.Broadcast(room, EventUserLeftRoom, payload)
	c.Send(OutgoingMessage{Type: EventUserLeftRoom, Payload: payload})
	return nil
}
