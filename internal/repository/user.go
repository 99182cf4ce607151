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
	"github.com/teamchat/internal/storage"
)

// ErrNotFound — тот же sentinel, что и у storage: вызывающие проверяют errors.Is(err, storage.ErrNotFound).
var ErrNotFound = storage.ErrNotFound

// userCols — список колонок для SELECT.
const userCols = `id, username, display_name, email, avatar_url, last_seen_at, is_online, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// scanUser сканирует строку в model.User (порядок соответствует userCols).
func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.AvatarURL, &u.LastSeenAt, &u.IsOnline, &u.CreatedAt)
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, display_name, email, avatar_url, last_seen_at, is_online, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Username, u.DisplayName, u.Email, u.AvatarURL, u.LastSeenAt, u.IsOnline, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapErr("userRepo.GetByID", err)
	}
	return u, nil
}

// FindByUsername — поиск без учёта регистра (индекс idx_users_username_lower).
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	defer logger.DeferLogDuration("user.FindByUsername", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE lower(username) = lower($1)`, username)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.FindByUsername: %w", err)
	}
	return u, nil
}

func (r *UserRepository) SetOnline(ctx context.Context, userID string, online bool) error {
	defer logger.DeferLogDuration("user.SetOnline", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = $1, last_seen_at = $2 WHERE id = $3`,
		online, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.SetOnline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetOnline сбрасывает флаг присутствия при старте процесса.
func (r *UserRepository) ResetOnline(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `UPDATE users SET is_online = false`); err != nil {
		return fmt.Errorf("userRepo.ResetOnline: %w", err)
	}
	return nil
}

func (r *UserRepository) OnlineAmong(ctx context.Context, ids []string) ([]string, error) {
	defer logger.DeferLogDuration("user.OnlineAmong", time.Now())()
	if len(ids) == 0 {
		return nil, nil
	}
	return collectIDs(ctx, r.pool, "userRepo.OnlineAmong",
		`SELECT id::text FROM users WHERE id = ANY($1::uuid[]) AND is_online`, ids)
}

func (r *UserRepository) IsOrgMember(ctx context.Context, orgID, userID string) (bool, error) {
	defer logger.DeferLogDuration("user.IsOrgMember", time.Now())()
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM organisation_members WHERE organisation_id = $1 AND user_id = $2)`,
		orgID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("userRepo.IsOrgMember: %w", err)
	}
	return ok, nil
}

func (r *UserRepository) OrgMembers(ctx context.Context, orgID string) ([]string, error) {
	defer logger.DeferLogDuration("user.OrgMembers", time.Now())()
	return collectIDs(ctx, r.pool, "userRepo.OrgMembers",
		`SELECT user_id::text FROM organisation_members WHERE organisation_id = $1 ORDER BY user_id`, orgID)
}

// collectIDs выполняет запрос, возвращающий одну текстовую колонку.
func collectIDs(ctx context.Context, pool *pgxpool.Pool, op, query string, args ...any) ([]string, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", op, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return ids, nil
}
