package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func marshalAttachments(a []model.Attachment) ([]byte, error) {
	if a == nil {
		a = []model.Attachment{}
	}
	return json.Marshal(a)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	if _, err := m.Home(); err != nil {
		return err
	}
	att, err := marshalAttachments(m.Attachments)
	if err != nil {
		return fmt.Errorf("msgRepo.Create attachments: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO messages (id, sender_id, content, channel_id, conversation_id, organisation_id, attachments, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.SenderID, m.Content, nullable(m.ChannelID), nullable(m.ConversationID), nullable(m.OrganisationID),
		att, m.CreatedAt, m.UpdatedAt,
	)
	return wrapErr("msgRepo.Create", err)
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	sender := &model.UserPublic{}
	var channelID, conversationID, orgID *string
	var att []byte
	err := r.pool.QueryRow(ctx,
		`SELECT m.id, m.sender_id, m.content, m.channel_id::text, m.conversation_id::text, m.organisation_id::text,
		        m.attachments, m.thread_reply_count, m.thread_last_reply_at, m.is_read, m.is_first_of_day,
		        m.created_at, m.updated_at,
		        u.id, u.username, u.display_name, u.avatar_url, u.is_online, u.last_seen_at
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.id = $1`, id,
	).Scan(&m.ID, &m.SenderID, &m.Content, &channelID, &conversationID, &orgID,
		&att, &m.ThreadReplyCount, &m.ThreadLastReplyAt, &m.IsRead, &m.IsFirstOfDay,
		&m.CreatedAt, &m.UpdatedAt,
		&sender.ID, &sender.Username, &sender.DisplayName, &sender.AvatarURL, &sender.IsOnline, &sender.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("msgRepo.GetByID", err)
	}
	m.ChannelID, m.ConversationID, m.OrganisationID = deref(channelID), deref(conversationID), deref(orgID)
	if err := json.Unmarshal(att, &m.Attachments); err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID attachments: %w", err)
	}
	if m.Reactions, err = loadReactions(ctx, r.pool, id); err != nil {
		return nil, err
	}
	m.Sender = sender
	return m, nil
}

// exec выполняет UPDATE/DELETE по id и превращает 0 затронутых строк в ErrNotFound.
func exec(ctx context.Context, pool *pgxpool.Pool, op, query string, args ...any) error {
	tag, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return wrapErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MessageRepository) UpdateContent(ctx context.Context, id, content string, at time.Time) error {
	defer logger.DeferLogDuration("msg.UpdateContent", time.Now())()
	return exec(ctx, r.pool, "msgRepo.UpdateContent",
		`UPDATE messages SET content = $1, updated_at = $2 WHERE id = $3`, content, at, id)
}

// Delete удаляет сообщение; ответы в треде уходят каскадом, реакции чистим отдельно.
func (r *MessageRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.Delete", time.Now())()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM reactions WHERE target_id = $1 OR target_id IN (SELECT id FROM thread_replies WHERE message_id = $1)`,
			id,
		); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	return wrapErr("msgRepo.Delete", err)
}

func (r *MessageRepository) MarkRead(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	return exec(ctx, r.pool, "msgRepo.MarkRead", `UPDATE messages SET is_read = true WHERE id = $1`, id)
}

func (r *MessageRepository) BumpThread(ctx context.Context, id string, at time.Time) error {
	defer logger.DeferLogDuration("msg.BumpThread", time.Now())()
	return exec(ctx, r.pool, "msgRepo.BumpThread",
		`UPDATE messages SET thread_reply_count = thread_reply_count + 1, thread_last_reply_at = $1 WHERE id = $2`,
		at, id)
}

func (r *MessageRepository) SetFirstOfDay(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.SetFirstOfDay", time.Now())()
	return exec(ctx, r.pool, "msgRepo.SetFirstOfDay", `UPDATE messages SET is_first_of_day = true WHERE id = $1`, id)
}

func (r *MessageRepository) HasEarlierInDay(ctx context.Context, m *model.Message) (bool, error) {
	defer logger.DeferLogDuration("msg.HasEarlierInDay", time.Now())()
	home, err := m.Home()
	if err != nil {
		return false, err
	}
	col := "channel_id"
	if home.Kind == model.RoomConversation {
		col = "conversation_id"
	}
	created := m.CreatedAt.UTC()
	dayStart := time.Date(created.Year(), created.Month(), created.Day(), 0, 0, 0, 0, time.UTC)
	var ok bool
	err = r.pool.QueryRow(ctx,
		`SELECT EXISTS(
		   SELECT 1 FROM messages
		   WHERE `+col+` = $1 AND id <> $2 AND created_at >= $3
		     AND (created_at < $4 OR (created_at = $4 AND id::text < $2::text)))`,
		home.ID, m.ID, dayStart, created,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("msgRepo.HasEarlierInDay: %w", err)
	}
	return ok, nil
}
