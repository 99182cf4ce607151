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

type ThreadReplyRepository struct {
	pool *pgxpool.Pool
}

func NewThreadReplyRepository(pool *pgxpool.Pool) *ThreadReplyRepository {
	return &ThreadReplyRepository{pool: pool}
}

// Create возвращает ErrNotFound, если родительское сообщение уже удалено (нарушение FK).
func (r *ThreadReplyRepository) Create(ctx context.Context, t *model.ThreadReply) error {
	defer logger.DeferLogDuration("thread.Create", time.Now())()
	att, err := marshalAttachments(t.Attachments)
	if err != nil {
		return fmt.Errorf("threadRepo.Create attachments: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO thread_replies (id, message_id, sender_id, content, attachments, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.ParentID, t.SenderID, t.Content, att, t.CreatedAt, t.UpdatedAt,
	)
	return wrapErr("threadRepo.Create", err)
}

func (r *ThreadReplyRepository) GetByID(ctx context.Context, id string) (*model.ThreadReply, error) {
	defer logger.DeferLogDuration("thread.GetByID", time.Now())()
	t := &model.ThreadReply{}
	sender := &model.UserPublic{}
	var att []byte
	err := r.pool.QueryRow(ctx,
		`SELECT t.id, t.message_id, t.sender_id, t.content, t.attachments, t.is_read, t.created_at, t.updated_at,
		        u.id, u.username, u.display_name, u.avatar_url, u.is_online, u.last_seen_at
		 FROM thread_replies t
		 JOIN users u ON u.id = t.sender_id
		 WHERE t.id = $1`, id,
	).Scan(&t.ID, &t.ParentID, &t.SenderID, &t.Content, &att, &t.IsRead, &t.CreatedAt, &t.UpdatedAt,
		&sender.ID, &sender.Username, &sender.DisplayName, &sender.AvatarURL, &sender.IsOnline, &sender.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("threadRepo.GetByID", err)
	}
	if err := json.Unmarshal(att, &t.Attachments); err != nil {
		return nil, fmt.Errorf("threadRepo.GetByID attachments: %w", err)
	}
	if t.Reactions, err = loadReactions(ctx, r.pool, id); err != nil {
		return nil, err
	}
	t.Sender = sender
	return t, nil
}

func (r *ThreadReplyRepository) UpdateContent(ctx context.Context, id, content string, at time.Time) error {
	defer logger.DeferLogDuration("thread.UpdateContent", time.Now())()
	return exec(ctx, r.pool, "threadRepo.UpdateContent",
		`UPDATE thread_replies SET content = $1, updated_at = $2 WHERE id = $3`, content, at, id)
}

func (r *ThreadReplyRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("thread.Delete", time.Now())()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM reactions WHERE target_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM thread_replies WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	return wrapErr("threadRepo.Delete", err)
}

func (r *ThreadReplyRepository) MarkRead(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("thread.MarkRead", time.Now())()
	return exec(ctx, r.pool, "threadRepo.MarkRead", `UPDATE thread_replies SET is_read = true WHERE id = $1`, id)
}
