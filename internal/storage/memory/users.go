package memory

import (
	"context"
	"strings"
	"time"

	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/storage"
)

type userStore struct{ s *Store }

func (u userStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	v, ok := u.s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &v, nil
}

func (u userStore) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	for _, v := range u.s.users {
		if strings.EqualFold(v.Username, username) {
			v := v
			return &v, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (u userStore) SetOnline(ctx context.Context, userID string, online bool) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	v, ok := u.s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	v.IsOnline = online
	v.LastSeenAt = time.Now().UTC()
	u.s.users[userID] = v
	return nil
}

func (u userStore) OnlineAmong(ctx context.Context, ids []string) ([]string, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if v, ok := u.s.users[id]; ok && v.IsOnline {
			out = append(out, id)
		}
	}
	return out, nil
}

func (u userStore) IsOrgMember(ctx context.Context, orgID, userID string) (bool, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	_, ok := u.s.orgs[orgID][userID]
	return ok, nil
}

func (u userStore) OrgMembers(ctx context.Context, orgID string) ([]string, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	return sortedKeys(u.s.orgs[orgID]), nil
}
