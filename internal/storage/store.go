package storage

import (
	"context"
	"errors"
	"time"

	"github.com/teamchat/internal/model"
)

// ErrNotFound — общий сигнал «сущность отсутствует» для всех реализаций (pgx, memory).
var ErrNotFound = errors.New("not found")

// Users — профили, присутствие и членство в организации.
type Users interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	// FindByUsername ищет без учёта регистра.
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	SetOnline(ctx context.Context, userID string, online bool) error
	// OnlineAmong возвращает подмножество ids с флагом is_online.
	OnlineAmong(ctx context.Context, ids []string) ([]string, error)
	IsOrgMember(ctx context.Context, orgID, userID string) (bool, error)
	OrgMembers(ctx context.Context, orgID string) ([]string, error)
}

// Rooms — каналы и беседы вместе с маркерами «не открыто».
type Rooms interface {
	GetChannel(ctx context.Context, id string) (*model.Channel, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	// ClearUnopened убирает userID из маркера комнаты. Отсутствие записи — не ошибка.
	ClearUnopened(ctx context.Context, room model.Room, userID string) error
	// ReplaceUnopened заменяет маркер комнаты целиком.
	ReplaceUnopened(ctx context.Context, room model.Room, userIDs []string) error
}

type Messages interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	UpdateContent(ctx context.Context, id, content string, at time.Time) error
	Delete(ctx context.Context, id string) error
	MarkRead(ctx context.Context, id string) error
	// BumpThread атомарно увеличивает счётчик ответов и время последнего ответа.
	BumpThread(ctx context.Context, id string, at time.Time) error
	SetFirstOfDay(ctx context.Context, id string) error
	// HasEarlierInDay сообщает, есть ли в комнате сообщение раньше m в тот же день UTC.
	HasEarlierInDay(ctx context.Context, m *model.Message) (bool, error)
}

type ThreadReplies interface {
	Create(ctx context.Context, r *model.ThreadReply) error
	GetByID(ctx context.Context, id string) (*model.ThreadReply, error)
	UpdateContent(ctx context.Context, id, content string, at time.Time) error
	Delete(ctx context.Context, id string) error
	MarkRead(ctx context.Context, id string) error
}

// Reactions хранит реакции и сообщений, и ответов в треде по target_id.
type Reactions interface {
	// Toggle — одна атомарная операция: удаляет (target, emoji, user) если есть, иначе добавляет.
	Toggle(ctx context.Context, targetID, emoji, userID string) (added bool, err error)
}

type Notifications interface {
	Create(ctx context.Context, n *model.Notification) error
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]model.Notification, error)
	MarkRead(ctx context.Context, id, userID string) error
}

type Preferences interface {
	// Get возвращает PreferenceAll, если значение не задано.
	Get(ctx context.Context, userID string) (model.PreferenceType, error)
	Set(ctx context.Context, userID string, p model.PreferenceType) error
}

// Stores собирает все хранилища ядра; реализации: repository (pgx) и memory.
type Stores struct {
	Users         Users
	Rooms         Rooms
	Messages      Messages
	ThreadReplies ThreadReplies
	Reactions     Reactions
	Notifications Notifications
	Preferences   Preferences
}
