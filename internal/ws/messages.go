package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/notify"
	"github.com/teamchat/internal/service"
)

func (h *Hub) handleMessage(ctx context.Context, c *Client, raw json.RawMessage) error {
	defer logger.DeferLogDuration("ws.handleMessage", time.Now())()
	var p MessagePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if err := c.actingAs(p.Message.Sender); err != nil {
		return err
	}
	room := p.Room()
	joined := h.registry.Join(c, room)

	msg, err := h.messenger.CreateMessage(ctx, service.CreateMessageInput{
		SenderID:       c.userID,
		Content:        p.Message.Content,
		ChannelID:      p.ChannelID,
		ConversationID: p.ConversationID,
		OrganisationID: p.Organisation,
		Attachments:    p.Message.Attachments,
	})
	if err != nil {
		if joined {
			h.registry.Leave(c, room)
		}
		return err
	}
	h.registry.Broadcast(room, EventMessage, msg)

	if !p.IsSelf {
		st, err := h.messenger.RecomputeUnopened(ctx, room, c.userID, p.HasNotOpen, h.registry.UsersIn(room))
		if err != nil {
			logger.Errorf("ws unopened recompute room=%s: %v", room.ID, err)
		} else {
			h.publishRoom(st)
		}
	}
	h.registry.BroadcastAll(EventNotification, AdvisoryPayload{RoomID: room.ID, MessageID: msg.ID, SenderID: c.userID})

	h.submit(ctx, "first-of-day", func(ctx context.Context) {
		updated, ok, err := h.messenger.MarkFirstOfDay(ctx, msg)
		if err != nil {
			logger.Errorf("ws first-of-day message=%s: %v", msg.ID, err)
			return
		}
		if ok {
			h.registry.Broadcast(room, EventMessageUpdated, updated)
		}
	})
	if !p.IsSelf && h.engine != nil {
		h.submit(ctx, "fanout", func(ctx context.Context) {
			h.engine.Fanout(ctx, notify.Job{Message: msg})
		})
	}
	return nil
}

func (h *Hub) handleThreadMessage(ctx context.Context, c *Client, raw json.RawMessage) error {
	defer logger.DeferLogDuration("ws.handleThreadMessage", time.Now())()
	var p ThreadMessagePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if err := c.actingAs(p.UserID); err != nil {
		return err
	}
	if err := c.actingAs(p.Message.Sender); err != nil {
		return err
	}

	reply, parent, err := h.messenger.CreateThreadReply(ctx, service.ThreadReplyInput{
		ParentID:    p.MessageID,
		SenderID:    c.userID,
		Content:     p.Message.Content,
		Attachments: p.Message.Attachments,
	})
	if err != nil {
		return err
	}
	thread := reply.Room()
	h.registry.Join(c, thread)
	h.registry.Broadcast(thread, EventThreadMessage, reply)
	if home, err := parent.Home(); err == nil {
		h.registry.Broadcast(home, EventMessageUpdated, parent)
	}
	h.registry.Broadcast(thread, EventMessageUpdated, parent)

	if h.engine != nil {
		h.submit(ctx, "thread-fanout", func(ctx context.Context) {
			h.engine.Fanout(ctx, notify.Job{Message: parent, Reply: reply})
		})
	}
	return nil
}

func (h *Hub) handleMessageView(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p ViewPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if err := h.messenger.MarkViewed(ctx, p.MessageID, p.IsThread); err != nil {
		return err
	}
	h.registry.BroadcastAll(EventMessageView, MessageViewedPayload{MessageID: p.MessageID, IsThread: p.IsThread, UserID: c.userID})
	return nil
}

func (h *Hub) handleEditMessage(ctx context.Context, c *Client, raw json.RawMessage) error {
	defer logger.DeferLogDuration("ws.handleEditMessage", time.Now())()
	var p EditPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	mu, err := h.messenger.Edit(ctx, p.MessageID, p.NewContent, p.IsThread)
	if err != nil {
		return err
	}
	h.registry.Broadcast(mu.Room, EventMessageUpdated, mu.Entity())
	return nil
}

func (h *Hub) handleDeleteMessage(ctx context.Context, c *Client, raw json.RawMessage) error {
	defer logger.DeferLogDuration("ws.handleDeleteMessage", time.Now())()
	var p DeletePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	mu, err := h.messenger.Delete(ctx, p.MessageID, p.IsThread)
	if err != nil {
		return err
	}
	h.registry.Broadcast(mu.Room, EventMessageDeleted, MessageDeletedPayload{ID: mu.ID, RoomID: mu.Room.ID, IsThread: p.IsThread})
	if !p.IsThread {
		// the thread view of a deleted parent goes away too
		thread := model.Room{Kind: model.RoomThread, ID: mu.ID}
		h.registry.Broadcast(thread, EventMessageDeleted, MessageDeletedPayload{ID: mu.ID, RoomID: mu.Room.ID})
	}
	return nil
}

func (h *Hub) handleReaction(ctx context.Context, c *Client, raw json.RawMessage) error {
	defer logger.DeferLogDuration("ws.handleReaction", time.Now())()
	var p ReactionPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if err := c.actingAs(p.UserID); err != nil {
		return err
	}
	mu, _, err := h.messenger.React(ctx, p.ID, p.Emoji, c.userID, p.IsThread)
	if err != nil {
		return err
	}
	h.registry.Broadcast(mu.Room, EventMessageUpdated, mu.Entity())
	return nil
}
