package ws

import (
	"context"
	"encoding/json"

	"github.com/teamchat/internal/model"
)

// signal relays WebRTC offer/answer/ice-candidate payloads untouched: to one
// peer when "to" is set, otherwise to the rest of the room.
func (h *Hub) signal(event EventType) handlerFunc {
	return func(ctx context.Context, c *Client, raw json.RawMessage) error {
		var p SignalPayload
		if err := decodePayload(raw, &p); err != nil {
			return err
		}
		out := SignalOutPayload{RoomID: p.RoomID, From: c.userID, Data: p.Data}
		if p.To != "" {
			if p.To == c.userID {
				return invalid("cannot signal yourself")
			}
			h.registry.Unicast(p.To, string(event), out)
			return nil
		}
		room := model.Room{Kind: model.RoomPlain, ID: p.RoomID}
		if !h.registry.Joined(c, room) {
			return invalid("not in room %q", p.RoomID)
		}
		h.registry.BroadcastExcept(room, c.userID, event, out)
		return nil
	}
}
