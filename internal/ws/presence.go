package ws

import (
	"context"
	"encoding/json"
)

// presence handles user-join / user-leave. The flag change goes to every
// connection, not just shared rooms.
func (h *Hub) presence(defaultOnline bool) handlerFunc {
	return func(ctx context.Context, c *Client, raw json.RawMessage) error {
		var p PresencePayload
		p.IsOnline = defaultOnline
		if err := decodePayload(raw, &p); err != nil {
			return err
		}
		if err := c.actingAs(p.ID); err != nil {
			return err
		}
		if err := h.messenger.SetPresence(ctx, p.ID, p.IsOnline); err != nil {
			return err
		}
		event := EventUserLeave
		if p.IsOnline {
			event = EventUserJoin
		}
		h.registry.BroadcastAll(event, PresencePayload{ID: p.ID, IsOnline: p.IsOnline})
		return nil
	}
}
