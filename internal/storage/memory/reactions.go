package memory

import (
	"context"
	"sort"

	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/storage"
)

type reactionStore struct{ s *Store }

// Toggle runs under the write lock, so concurrent toggles on one target never lose updates.
func (r reactionStore) Toggle(ctx context.Context, targetID, emoji, userID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, isMsg := r.s.messages[targetID]
	_, isReply := r.s.replies[targetID]
	if !isMsg && !isReply {
		return false, storage.ErrNotFound
	}

	list := r.s.reactions[targetID]
	for i := range list {
		if list[i].Emoji != emoji {
			continue
		}
		for j, id := range list[i].ReactedBy {
			if id == userID {
				list[i].ReactedBy = append(list[i].ReactedBy[:j:j], list[i].ReactedBy[j+1:]...)
				if len(list[i].ReactedBy) == 0 {
					list = append(list[:i:i], list[i+1:]...)
				}
				r.s.storeReactionsLocked(targetID, list)
				return false, nil
			}
		}
		list[i].ReactedBy = append(list[i].ReactedBy, userID)
		r.s.storeReactionsLocked(targetID, list)
		return true, nil
	}
	list = append(list, model.Reaction{Emoji: emoji, ReactedBy: []string{userID}})
	r.s.storeReactionsLocked(targetID, list)
	return true, nil
}

func (s *Store) storeReactionsLocked(targetID string, list []model.Reaction) {
	if len(list) == 0 {
		delete(s.reactions, targetID)
		return
	}
	s.reactions[targetID] = list
}

type notificationStore struct{ s *Store }

func (n notificationStore) Create(ctx context.Context, nt *model.Notification) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	n.s.notifications = append(n.s.notifications, *nt)
	return nil
}

func (n notificationStore) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]model.Notification, error) {
	n.s.mu.RLock()
	defer n.s.mu.RUnlock()
	out := make([]model.Notification, 0, 8)
	for _, v := range n.s.notifications {
		if v.UserID != userID || (unreadOnly && v.IsRead) {
			continue
		}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []model.Notification{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (n notificationStore) MarkRead(ctx context.Context, id, userID string) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	for i := range n.s.notifications {
		if n.s.notifications[i].ID == id && n.s.notifications[i].UserID == userID {
			n.s.notifications[i].IsRead = true
			return nil
		}
	}
	return storage.ErrNotFound
}

type preferenceStore struct{ s *Store }

func (p preferenceStore) Get(ctx context.Context, userID string) (model.PreferenceType, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	if v, ok := p.s.prefs[userID]; ok {
		return v, nil
	}
	return model.PreferenceAll, nil
}

func (p preferenceStore) Set(ctx context.Context, userID string, pt model.PreferenceType) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.s.prefs[userID] = pt
	return nil
}
