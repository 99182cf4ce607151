package memory

import (
	"sort"
	"sync"

	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/storage"
)

// Store — хранилище в памяти для режима -memory и тестов.
// Все представления (Users, Rooms, ...) разделяют один мьютекс.
type Store struct {
	mu            sync.RWMutex
	users         map[string]model.User
	orgs          map[string]map[string]struct{}
	channels      map[string]model.Channel
	conversations map[string]model.Conversation
	unopened      map[model.Room]map[string]struct{}
	messages      map[string]model.Message
	replies       map[string]model.ThreadReply
	reactions     map[string][]model.Reaction
	notifications []model.Notification
	prefs         map[string]model.PreferenceType
}

func New() *Store {
	return &Store{
		users:         make(map[string]model.User),
		orgs:          make(map[string]map[string]struct{}),
		channels:      make(map[string]model.Channel),
		conversations: make(map[string]model.Conversation),
		unopened:      make(map[model.Room]map[string]struct{}),
		messages:      make(map[string]model.Message),
		replies:       make(map[string]model.ThreadReply),
		reactions:     make(map[string][]model.Reaction),
		prefs:         make(map[string]model.PreferenceType),
	}
}

// Stores returns every view of the store.
func (s *Store) Stores() storage.Stores {
	return storage.Stores{
		Users:         userStore{s},
		Rooms:         roomStore{s},
		Messages:      messageStore{s},
		ThreadReplies: replyStore{s},
		Reactions:     reactionStore{s},
		Notifications: notificationStore{s},
		Preferences:   preferenceStore{s},
	}
}

func (s *Store) Close() error { return nil }

// --- seeding ---

func (s *Store) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) AddOrgMember(orgID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.orgs[orgID]
	if !ok {
		m = make(map[string]struct{})
		s.orgs[orgID] = m
	}
	m[userID] = struct{}{}
}

func (s *Store) AddChannel(ch model.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setUnopenedLocked(model.Room{Kind: model.RoomChannel, ID: ch.ID}, ch.HasNotOpen)
	ch.Members = cloneStrings(ch.Members)
	ch.HasNotOpen = nil
	s.channels[ch.ID] = ch
}

func (s *Store) AddConversation(c model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setUnopenedLocked(model.Room{Kind: model.RoomConversation, ID: c.ID}, c.HasNotOpen)
	c.Members = cloneStrings(c.Members)
	c.HasNotOpen = nil
	s.conversations[c.ID] = c
}

// Notifications returns a snapshot of every persisted notification, oldest first.
func (s *Store) Notifications() []model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// --- helpers (caller holds mu) ---

func (s *Store) setUnopenedLocked(room model.Room, ids []string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	s.unopened[room] = set
}

func (s *Store) unopenedLocked(room model.Room) []string {
	return sortedKeys(s.unopened[room])
}

func (s *Store) publicLocked(userID string) *model.UserPublic {
	u, ok := s.users[userID]
	if !ok {
		return nil
	}
	p := u.ToPublic()
	return &p
}

func (s *Store) reactionsLocked(targetID string) []model.Reaction {
	src := s.reactions[targetID]
	out := make([]model.Reaction, 0, len(src))
	for _, r := range src {
		out = append(out, model.Reaction{Emoji: r.Emoji, ReactedBy: cloneStrings(r.ReactedBy)})
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
