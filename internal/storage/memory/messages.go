package memory

import (
	"context"
	"time"

	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/storage"
)

type messageStore struct{ s *Store }

func (m messageStore) Create(ctx context.Context, msg *model.Message) error {
	home, err := msg.Home()
	if err != nil {
		return err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if !m.s.roomExistsLocked(home) {
		return storage.ErrNotFound
	}
	v := *msg
	v.Attachments = append([]model.Attachment(nil), msg.Attachments...)
	v.Reactions = nil
	v.Sender = nil
	m.s.messages[v.ID] = v
	return nil
}

func (m messageStore) GetByID(ctx context.Context, id string) (*model.Message, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	v, ok := m.s.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	v.Attachments = append([]model.Attachment(nil), v.Attachments...)
	v.Reactions = m.s.reactionsLocked(id)
	v.Sender = m.s.publicLocked(v.SenderID)
	return &v, nil
}

func (m messageStore) update(id string, fn func(*model.Message)) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	v, ok := m.s.messages[id]
	if !ok {
		return storage.ErrNotFound
	}
	fn(&v)
	m.s.messages[id] = v
	return nil
}

func (m messageStore) UpdateContent(ctx context.Context, id, content string, at time.Time) error {
	return m.update(id, func(v *model.Message) {
		v.Content = content
		v.UpdatedAt = at
	})
}

func (m messageStore) Delete(ctx context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.messages[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.s.messages, id)
	delete(m.s.reactions, id)
	for rid, r := range m.s.replies {
		if r.ParentID == id {
			delete(m.s.replies, rid)
			delete(m.s.reactions, rid)
		}
	}
	return nil
}

func (m messageStore) MarkRead(ctx context.Context, id string) error {
	return m.update(id, func(v *model.Message) { v.IsRead = true })
}

func (m messageStore) BumpThread(ctx context.Context, id string, at time.Time) error {
	return m.update(id, func(v *model.Message) {
		v.ThreadReplyCount++
		t := at
		v.ThreadLastReplyAt = &t
	})
}

func (m messageStore) SetFirstOfDay(ctx context.Context, id string) error {
	return m.update(id, func(v *model.Message) { v.IsFirstOfDay = true })
}

func (m messageStore) HasEarlierInDay(ctx context.Context, msg *model.Message) (bool, error) {
	home, err := msg.Home()
	if err != nil {
		return false, err
	}
	created := msg.CreatedAt.UTC()
	dayStart := time.Date(created.Year(), created.Month(), created.Day(), 0, 0, 0, 0, time.UTC)
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, v := range m.s.messages {
		if v.ID == msg.ID {
			continue
		}
		h, err := v.Home()
		if err != nil || h != home {
			continue
		}
		at := v.CreatedAt.UTC()
		if at.Before(dayStart) || at.After(created) {
			continue
		}
		if at.Before(created) || v.ID < msg.ID {
			return true, nil
		}
	}
	return false, nil
}

type replyStore struct{ s *Store }

func (r replyStore) Create(ctx context.Context, reply *model.ThreadReply) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.messages[reply.ParentID]; !ok {
		return storage.ErrNotFound
	}
	v := *reply
	v.Attachments = append([]model.Attachment(nil), reply.Attachments...)
	v.Reactions = nil
	v.Sender = nil
	r.s.replies[v.ID] = v
	return nil
}

func (r replyStore) GetByID(ctx context.Context, id string) (*model.ThreadReply, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	v, ok := r.s.replies[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	v.Attachments = append([]model.Attachment(nil), v.Attachments...)
	v.Reactions = r.s.reactionsLocked(id)
	v.Sender = r.s.publicLocked(v.SenderID)
	return &v, nil
}

func (r replyStore) update(id string, fn func(*model.ThreadReply)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.replies[id]
	if !ok {
		return storage.ErrNotFound
	}
	fn(&v)
	r.s.replies[id] = v
	return nil
}

func (r replyStore) UpdateContent(ctx context.Context, id, content string, at time.Time) error {
	return r.update(id, func(v *model.ThreadReply) {
		v.Content = content
		v.UpdatedAt = at
	})
}

func (r replyStore) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.replies[id]; !ok {
		return storage.ErrNotFound
	}
	delete(r.s.replies, id)
	delete(r.s.reactions, id)
	return nil
}

func (r replyStore) MarkRead(ctx context.Context, id string) error {
	return r.update(id, func(v *model.ThreadReply) { v.IsRead = true })
}
