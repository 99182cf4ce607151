package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamchat/internal/storage"
)

// NewStores собирает все pgx-репозитории над одним пулом.
func NewStores(pool *pgxpool.Pool) storage.Stores {
	return storage.Stores{
		Users:         NewUserRepository(pool),
		Rooms:         NewRoomRepository(pool),
		Messages:      NewMessageRepository(pool),
		ThreadReplies: NewThreadReplyRepository(pool),
		Reactions:     NewReactionRepository(pool),
		Notifications: NewNotificationRepository(pool),
		Preferences:   NewPreferenceRepository(pool),
	}
}
