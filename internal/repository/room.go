package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
)

type RoomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

func (r *RoomRepository) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	defer logger.DeferLogDuration("room.GetChannel", time.Now())()
	ch := &model.Channel{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, organisation_id::text, name, created_at FROM channels WHERE id = $1`, id,
	).Scan(&ch.ID, &ch.OrganisationID, &ch.Name, &ch.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("roomRepo.GetChannel", err)
	}
	if ch.Members, err = collectIDs(ctx, r.pool, "roomRepo.GetChannel members",
		`SELECT user_id::text FROM channel_members WHERE channel_id = $1 ORDER BY user_id`, id); err != nil {
		return nil, err
	}
	if ch.HasNotOpen, err = r.unopened(ctx, model.Room{Kind: model.RoomChannel, ID: id}); err != nil {
		return nil, err
	}
	return ch, nil
}

func (r *RoomRepository) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("room.GetConversation", time.Now())()
	c := &model.Conversation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, organisation_id::text, is_self, created_at FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.OrganisationID, &c.IsSelf, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("roomRepo.GetConversation", err)
	}
	if c.Members, err = collectIDs(ctx, r.pool, "roomRepo.GetConversation members",
		`SELECT user_id::text FROM conversation_members WHERE conversation_id = $1 ORDER BY user_id`, id); err != nil {
		return nil, err
	}
	if c.HasNotOpen, err = r.unopened(ctx, model.Room{Kind: model.RoomConversation, ID: id}); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *RoomRepository) unopened(ctx context.Context, room model.Room) ([]string, error) {
	return collectIDs(ctx, r.pool, "roomRepo.unopened",
		`SELECT user_id::text FROM room_unopened WHERE room_kind = $1 AND room_id = $2 ORDER BY user_id`,
		string(room.Kind), room.ID)
}

func roomTable(kind model.RoomKind) (string, error) {
	switch kind {
	case model.RoomChannel:
		return "channels", nil
	case model.RoomConversation:
		return "conversations", nil
	}
	return "", fmt.Errorf("room kind %q has no unopened marker", kind)
}

func roomExists(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, room model.Room) (bool, error) {
	table, err := roomTable(room.Kind)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = $1)`, room.ID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// ClearUnopened — set-level DELETE; повторный вызов ничего не меняет.
func (r *RoomRepository) ClearUnopened(ctx context.Context, room model.Room, userID string) error {
	defer logger.DeferLogDuration("room.ClearUnopened", time.Now())()
	ok, err := roomExists(ctx, r.pool, room)
	if err != nil {
		return wrapErr("roomRepo.ClearUnopened", err)
	}
	if !ok {
		return ErrNotFound
	}
	if _, err := r.pool.Exec(ctx,
		`DELETE FROM room_unopened WHERE room_kind = $1 AND room_id = $2 AND user_id = $3`,
		string(room.Kind), room.ID, userID,
	); err != nil {
		return wrapErr("roomRepo.ClearUnopened", err)
	}
	return nil
}

func (r *RoomRepository) ReplaceUnopened(ctx context.Context, room model.Room, userIDs []string) error {
	defer logger.DeferLogDuration("room.ReplaceUnopened", time.Now())()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		ok, err := roomExists(ctx, tx, room)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM room_unopened WHERE room_kind = $1 AND room_id = $2`,
			string(room.Kind), room.ID,
		); err != nil {
			return err
		}
		if len(userIDs) == 0 {
			return nil
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO room_unopened (room_kind, room_id, user_id)
			 SELECT $1, $2, u FROM unnest($3::uuid[]) AS u
			 ON CONFLICT DO NOTHING`,
			string(room.Kind), room.ID, userIDs,
		)
		return err
	})
	return wrapErr("roomRepo.ReplaceUnopened", err)
}
