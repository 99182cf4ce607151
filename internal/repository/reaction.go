package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
)

type ReactionRepository struct {
	pool *pgxpool.Pool
}

func NewReactionRepository(pool *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{pool: pool}
}

// toggleSQL удаляет тройку, если она есть, иначе вставляет, одним выражением.
// Пустых реакций не бывает: реакция = набор строк с одним emoji.
const toggleSQL = `
WITH target AS (
    SELECT 1 FROM messages WHERE id = $1
    UNION ALL
    SELECT 1 FROM thread_replies WHERE id = $1
),
removed AS (
    DELETE FROM reactions
    WHERE target_id = $1 AND emoji = $2 AND user_id = $3
    RETURNING 1
),
inserted AS (
    INSERT INTO reactions (target_id, emoji, user_id, created_at)
    SELECT $1, $2, $3, now()
    WHERE NOT EXISTS (SELECT 1 FROM removed) AND EXISTS (SELECT 1 FROM target)
    ON CONFLICT DO NOTHING
    RETURNING 1
)
SELECT EXISTS (SELECT 1 FROM target), EXISTS (SELECT 1 FROM inserted)`

func (r *ReactionRepository) Toggle(ctx context.Context, targetID, emoji, userID string) (bool, error) {
	defer logger.DeferLogDuration("reaction.Toggle", time.Now())()
	var found, added bool
	if err := r.pool.QueryRow(ctx, toggleSQL, targetID, emoji, userID).Scan(&found, &added); err != nil {
		return false, wrapErr("reactionRepo.Toggle", err)
	}
	if !found {
		return false, ErrNotFound
	}
	return added, nil
}

// loadReactions группирует реакции цели по emoji в порядке первой реакции.
func loadReactions(ctx context.Context, pool *pgxpool.Pool, targetID string) ([]model.Reaction, error) {
	rows, err := pool.Query(ctx,
		`SELECT emoji, array_agg(user_id::text ORDER BY created_at, user_id)
		 FROM reactions
		 WHERE target_id = $1
		 GROUP BY emoji
		 ORDER BY min(created_at), emoji`, targetID,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.load query: %w", err)
	}
	defer rows.Close()

	reactions := make([]model.Reaction, 0, 4)
	for rows.Next() {
		var rc model.Reaction
		if err := rows.Scan(&rc.Emoji, &rc.ReactedBy); err != nil {
			return nil, fmt.Errorf("reactionRepo.load scan: %w", err)
		}
		reactions = append(reactions, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo.load rows: %w", err)
	}
	return reactions, nil
}
