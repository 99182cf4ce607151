package service

import (
	"context"
	"fmt"
	"time"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
)

// RoomState is a reloaded channel or conversation ready to broadcast.
type RoomState struct {
	Room         model.Room
	Channel      *model.Channel
	Conversation *model.Conversation
}

func (r RoomState) Entity() any {
	if r.Channel != nil {
		return r.Channel
	}
	return r.Conversation
}

func (r RoomState) Members() []string {
	if r.Channel != nil {
		return r.Channel.Members
	}
	if r.Conversation != nil {
		return r.Conversation.Members
	}
	return nil
}

func (r RoomState) IsSelf() bool {
	return r.Conversation != nil && r.Conversation.IsSelf
}

// LoadRoom reads a channel or conversation with its unopened marker.
func (s *Messenger) LoadRoom(ctx context.Context, room model.Room) (RoomState, error) {
	st := RoomState{Room: room}
	switch room.Kind {
	case model.RoomChannel:
		ch, err := s.stores.Rooms.GetChannel(ctx, room.ID)
		if err != nil {
			return RoomState{}, fmt.Errorf("service.LoadRoom: %w", err)
		}
		st.Channel = ch
	case model.RoomConversation:
		cv, err := s.stores.Rooms.GetConversation(ctx, room.ID)
		if err != nil {
			return RoomState{}, fmt.Errorf("service.LoadRoom: %w", err)
		}
		st.Conversation = cv
	default:
		return RoomState{}, fmt.Errorf("%w: room kind %q has no entity", ErrValidation, room.Kind)
	}
	return st, nil
}

// OpenRoom clears userID from the room's unopened marker and returns the updated room.
func (s *Messenger) OpenRoom(ctx context.Context, room model.Room, userID string) (RoomState, error) {
	defer logger.DeferLogDuration("service.OpenRoom", time.Now())()
	if room.ID == "" || userID == "" {
		return RoomState{}, fmt.Errorf("%w: room and user are required", ErrValidation)
	}
	if err := s.stores.Rooms.ClearUnopened(ctx, room, userID); err != nil {
		return RoomState{}, fmt.Errorf("service.OpenRoom: %w", err)
	}
	return s.LoadRoom(ctx, room)
}

// RecomputeUnopened marks every member except the sender as not having opened
// the room. With hasNotOpen given the marker is limited to those users;
// otherwise users in openNow are treated as having the room open.
func (s *Messenger) RecomputeUnopened(ctx context.Context, room model.Room, senderID string, hasNotOpen, openNow []string) (RoomState, error) {
	defer logger.DeferLogDuration("service.RecomputeUnopened", time.Now())()
	st, err := s.LoadRoom(ctx, room)
	if err != nil {
		return RoomState{}, err
	}
	if st.IsSelf() {
		return st, nil
	}

	var keep func(string) bool
	if hasNotOpen != nil {
		marked := toSet(hasNotOpen)
		keep = func(id string) bool { _, ok := marked[id]; return ok }
	} else {
		open := toSet(openNow)
		keep = func(id string) bool { _, ok := open[id]; return !ok }
	}

	ids := make([]string, 0, len(st.Members()))
	for _, id := range st.Members() {
		if id != senderID && keep(id) {
			ids = append(ids, id)
		}
	}
	if err := s.stores.Rooms.ReplaceUnopened(ctx, room, ids); err != nil {
		return RoomState{}, fmt.Errorf("service.RecomputeUnopened: %w", err)
	}
	return s.LoadRoom(ctx, room)
}

// SetPresence stores the online flag of userID.
func (s *Messenger) SetPresence(ctx context.Context, userID string, online bool) error {
	if userID == "" {
		return fmt.Errorf("%w: user is required", ErrValidation)
	}
	if err := s.stores.Users.SetOnline(ctx, userID, online); err != nil {
		return fmt.Errorf("service.SetPresence: %w", err)
	}
	return nil
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
