package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BlockRepository 屏蔽关系
type BlockRepository struct {
	db *pgxpool.Pool
}

// NewBlockRepository 创建屏蔽关系仓库
func NewBlockRepository(db *pgxpool.Pool) *BlockRepository {
	return &BlockRepository{db: db}
}

// Block 屏蔽用户（幂等）
func (r *BlockRepository) Block(ctx context.Context, blockerId, blockedId int64) error {
	query := `
		INSERT INTO blocks (blocker_id, blocked_id) VALUES ($1, $2)
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, blockerId, blockedId)
	return err
}

// Unblock 取消屏蔽（幂等）
func (r *BlockRepository) Unblock(ctx context.Context, blockerId, blockedId int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM blocks WHERE blocker_id = $1 AND blocked_id = $2`, blockerId, blockedId)
	return err
}

// Relation 查询两个用户之间的屏蔽关系
// iBlocked: me 屏蔽了 other；theyBlocked: other 屏蔽了 me
func (r *BlockRepository) Relation(ctx context.Context, me, other int64) (iBlocked, theyBlocked bool, err error) {
	query := `
		SELECT
			EXISTS (SELECT 1 FROM blocks WHERE blocker_id = $1 AND blocked_id = $2),
			EXISTS (SELECT 1 FROM blocks WHERE blocker_id = $2 AND blocked_id = $1)
	`
	err = r.db.QueryRow(ctx, query, me, other).Scan(&iBlocked, &theyBlocked)
	return
}
