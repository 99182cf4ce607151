package memory

import (
	"context"

	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/storage"
)

type roomStore struct{ s *Store }

func (r roomStore) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ch, ok := r.s.channels[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	ch.Members = cloneStrings(ch.Members)
	ch.HasNotOpen = r.s.unopenedLocked(model.Room{Kind: model.RoomChannel, ID: id})
	return &ch, nil
}

func (r roomStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.conversations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c.Members = cloneStrings(c.Members)
	c.HasNotOpen = r.s.unopenedLocked(model.Room{Kind: model.RoomConversation, ID: id})
	return &c, nil
}

func (r roomStore) ClearUnopened(ctx context.Context, room model.Room, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !r.s.roomExistsLocked(room) {
		return storage.ErrNotFound
	}
	delete(r.s.unopened[room], userID)
	return nil
}

func (r roomStore) ReplaceUnopened(ctx context.Context, room model.Room, userIDs []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !r.s.roomExistsLocked(room) {
		return storage.ErrNotFound
	}
	r.s.setUnopenedLocked(room, userIDs)
	return nil
}

func (s *Store) roomExistsLocked(room model.Room) bool {
	switch room.Kind {
	case model.RoomChannel:
		_, ok := s.channels[room.ID]
		return ok
	case model.RoomConversation:
		_, ok := s.conversations[room.ID]
		return ok
	}
	return false
}
