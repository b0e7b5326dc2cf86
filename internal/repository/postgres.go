package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/undownding/ai-gallery/internal/domain"
)

var _ UserRepository = (*PostgresUserRepo)(nil)

// PostgresUserRepo implements UserRepository over pgx.
type PostgresUserRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

// NewPostgresUserRepo constructs the repo. New user ids come from the
// snowflake node.
func NewPostgresUserRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool, node: node}
}

// The unique index on provider_id makes concurrent first logins for the
// same identity converge on one row instead of racing a check-then-insert.
const upsertUserSQL = `INSERT INTO users (id, provider_id, login, display_name, email, avatar_url, last_login_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (provider_id) DO UPDATE SET
	login = EXCLUDED.login,
	display_name = EXCLUDED.display_name,
	email = EXCLUDED.email,
	avatar_url = EXCLUDED.avatar_url,
	updated_at = now(),
	last_login_at = now()
RETURNING id, provider_id, login, display_name, email, avatar_url, is_admin, created_at, updated_at, last_login_at`

func (r *PostgresUserRepo) Upsert(ctx context.Context, identity domain.ExternalIdentity) (domain.User, error) {
	if identity.ProviderID == "" {
		return domain.User{}, fmt.Errorf("upsert user: empty provider id")
	}

	row := r.db.QueryRow(ctx, upsertUserSQL,
		r.node.Generate().Int64(),
		identity.ProviderID,
		identity.Login,
		identity.DisplayName,
		identity.Email,
		identity.AvatarURL,
	)

	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

const getUserSQL = `SELECT id, provider_id, login, display_name, email, avatar_url, is_admin, created_at, updated_at, last_login_at
FROM users WHERE id = $1`

func (r *PostgresUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, getUserSQL, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	if err := row.Scan(
		&u.ID,
		&u.ProviderID,
		&u.Login,
		&u.DisplayName,
		&u.Email,
		&u.AvatarURL,
		&u.IsAdmin,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.LastLoginAt,
	); err != nil {
		return domain.User{}, err
	}
	return u, nil
}
