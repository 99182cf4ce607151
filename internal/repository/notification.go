package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
)

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	defer logger.DeferLogDuration("notification.Create", time.Now())()
	detail, err := json.Marshal(n.Detail)
	if err != nil {
		return fmt.Errorf("notificationRepo.Create detail: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, type, message_id, channel_id, conversation_id, sender_id, is_read, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, n.UserID, string(n.Type), n.MessageID, nullable(n.ChannelID), nullable(n.ConversationID),
		n.SenderID, n.IsRead, detail, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("notificationRepo.Create: %w", err)
	}
	return nil
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]model.Notification, error) {
	defer logger.DeferLogDuration("notification.ListByUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, type, message_id, channel_id::text, conversation_id::text, sender_id, is_read, detail, created_at
		 FROM notifications
		 WHERE user_id = $1 AND (NOT $2 OR NOT is_read)
		 ORDER BY created_at DESC
		 LIMIT $3 OFFSET $4`, userID, unreadOnly, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("notificationRepo.ListByUser query: %w", err)
	}
	defer rows.Close()

	list := make([]model.Notification, 0, limit)
	for rows.Next() {
		var n model.Notification
		var typ string
		var channelID, conversationID *string
		var detail []byte
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.MessageID, &channelID, &conversationID,
			&n.SenderID, &n.IsRead, &detail, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notificationRepo.ListByUser scan: %w", err)
		}
		n.Type = model.NotificationType(typ)
		n.ChannelID, n.ConversationID = deref(channelID), deref(conversationID)
		if err := json.Unmarshal(detail, &n.Detail); err != nil {
			return nil, fmt.Errorf("notificationRepo.ListByUser detail: %w", err)
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notificationRepo.ListByUser rows: %w", err)
	}
	return list, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string) error {
	defer logger.DeferLogDuration("notification.MarkRead", time.Now())()
	return exec(ctx, r.pool, "notificationRepo.MarkRead",
		`UPDATE notifications SET is_read = true WHERE id = $1 AND user_id = $2`, id, userID)
}

type PreferenceRepository struct {
	pool *pgxpool.Pool
}

func NewPreferenceRepository(pool *pgxpool.Pool) *PreferenceRepository {
	return &PreferenceRepository{pool: pool}
}

// Get: нет строки — значит "all".
func (r *PreferenceRepository) Get(ctx context.Context, userID string) (model.PreferenceType, error) {
	defer logger.DeferLogDuration("preference.Get", time.Now())()
	var typ string
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT type FROM notification_preferences WHERE user_id = $1), 'all')`, userID,
	).Scan(&typ)
	if err != nil {
		return "", fmt.Errorf("preferenceRepo.Get: %w", err)
	}
	return model.PreferenceType(typ), nil
}

func (r *PreferenceRepository) Set(ctx context.Context, userID string, p model.PreferenceType) error {
	defer logger.DeferLogDuration("preference.Set", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO notification_preferences (user_id, type) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET type = EXCLUDED.type`,
		userID, string(p),
	)
	if err != nil {
		return fmt.Errorf("preferenceRepo.Set: %w", err)
	}
	return nil
}
