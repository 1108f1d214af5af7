package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
)

// UserRepository 用户资料与公钥目录
// 用户身份由外部身份服务提供，这里只保存展示名与公钥
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository 创建用户仓库
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID 获取用户资料
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	query := `SELECT id, display_name, COALESCE(public_key, '') FROM users WHERE id = $1`

	user := &model.User{}
	err := r.db.QueryRow(ctx, query, id).Scan(&user.UserID, &user.DisplayName, &user.PublicKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sharedErrors.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// UpsertDisplayName 设置展示名（用户不存在时创建）
func (r *UserRepository) UpsertDisplayName(ctx context.Context, id int64, displayName string) error {
	query := `
		INSERT INTO users (id, display_name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, id, displayName)
	return err
}

// UpsertPublicKey 幂等写入公钥
func (r *UserRepository) UpsertPublicKey(ctx context.Context, id int64, armored string) error {
	query := `
		INSERT INTO users (id, public_key, key_updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET public_key = EXCLUDED.public_key, key_updated_at = NOW(), updated_at = NOW()
		WHERE users.public_key IS DISTINCT FROM EXCLUDED.public_key
	`
	_, err := r.db.Exec(ctx, query, id, armored)
	return err
}

// GetPublicKey 获取公钥，未发布时返回 ErrPublicKeyNotFound
func (r *UserRepository) GetPublicKey(ctx context.Context, id int64) (string, error) {
	var armored *string
	err := r.db.QueryRow(ctx, `SELECT public_key FROM users WHERE id = $1`, id).Scan(&armored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", sharedErrors.ErrPublicKeyNotFound
		}
		return "", err
	}
	if armored == nil || *armored == "" {
		return "", sharedErrors.ErrPublicKeyNotFound
	}
	return *armored, nil
}

// GetDisplayNames 批量获取展示名
func (r *UserRepository) GetDisplayNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	rows, err := r.db.Query(ctx, `SELECT id, display_name FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}
