package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/finsight/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, name, provider, provider_id, profile_image_url, connected_id, created_at, updated_at`

const selectUserColumns = `SELECT ` + userColumns + ` FROM users`

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
// UUID形式でないIDも「見つからない」として扱うため、文字列として比較する。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, selectUserColumns+` WHERE id::text = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, selectUserColumns+` WHERE email = $1`, email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Save はユーザーを作成または更新する。
// idが既存の場合はcreated_at以外の全カラムを上書きする。
func (r *PostgresUserRepo) Save(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, provider, provider_id, profile_image_url, connected_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   email = EXCLUDED.email,
		   name = EXCLUDED.name,
		   provider = EXCLUDED.provider,
		   provider_id = EXCLUDED.provider_id,
		   profile_image_url = EXCLUDED.profile_image_url,
		   connected_id = EXCLUDED.connected_id,
		   updated_at = EXCLUDED.updated_at`,
		user.ID, user.Email, user.Name, string(user.Provider), user.ProviderID,
		user.ProfileImageURL, user.ConnectedID, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// CreateIfAbsent はユーザーを挿入する。emailが衝突した場合は既存行のupdated_atのみ進めて返す。
// 別のAPIレプリカが先に同じメールアドレスで作成していても一意制約違反にはならない。
func (r *PostgresUserRepo) CreateIfAbsent(ctx context.Context, user *model.User) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (email) DO UPDATE SET
		   updated_at = GREATEST(users.updated_at, EXCLUDED.updated_at)
		 RETURNING `+userColumns,
		user.ID, user.Email, user.Name, string(user.Provider), user.ProviderID,
		user.ProfileImageURL, user.ConnectedID, user.CreatedAt, user.UpdatedAt,
	)
	stored, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if stored == nil {
		return nil, fmt.Errorf("failed to create user: no row returned")
	}
	return stored, nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var provider string
	err := row.Scan(
		&user.ID, &user.Email, &user.Name, &provider, &user.ProviderID,
		&user.ProfileImageURL, &user.ConnectedID, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user.Provider = model.AuthProvider(provider)
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
