package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
)

// ConversationRepository 会话与参与者个人状态
// 个人状态（标记、未读、删除）按 (conversation_id, user_id) 分行存储，
// 不同参与者的并发修改落在不同的行上
type ConversationRepository struct {
	db *pgxpool.Pool
}

// NewConversationRepository 创建会话仓库
func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = `
	c.id, c.subject, c.participants, c.last_activity,
	c.last_message_id, c.last_message_sender, c.last_message_content, c.last_message_at,
	c.created_at
`

// Create 创建会话及参与者状态行
func (r *ConversationRepository) Create(ctx context.Context, conv *model.Conversation) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, subject, participants, last_activity, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, conv.ID, conv.Subject, conv.Participants, conv.LastActivity, conv.CreatedAt)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO conversation_members (conversation_id, user_id)
		SELECT $1, unnest($2::bigint[])
	`, conv.ID, conv.Participants)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Remove 彻底删除会话，参与者状态与消息级联删除
func (r *ConversationRepository) Remove(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return err
}

// Get 获取会话（包含所有参与者的个人状态）
func (r *ConversationRepository) Get(ctx context.Context, id int64) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c WHERE c.id = $1`

	conv, err := scanConversation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sharedErrors.ErrConversationNotFound
		}
		return nil, err
	}

	if err := r.loadMembers(ctx, []*model.Conversation{conv}); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListForUser 用户可见的会话列表，按最后活跃时间倒序
func (r *ConversationRepository) ListForUser(ctx context.Context, userId int64, archived bool) ([]*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations c
		JOIN conversation_members m ON m.conversation_id = c.id
		WHERE m.user_id = $1 AND NOT m.deleted AND m.archived = $2
		ORDER BY c.last_activity DESC, c.id DESC
	`
	rows, err := r.db.Query(ctx, query, userId, archived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadMembers(ctx, convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// SetFlag 修改当前用户的标记；value 为 nil 时取反
func (r *ConversationRepository) SetFlag(ctx context.Context, conversationId, userId int64, flag model.ConversationFlag, value *bool) (model.UserFlags, error) {
	var column string
	switch flag {
	case model.FlagStar:
		column = "starred"
	case model.FlagMute:
		column = "muted"
	case model.FlagArchive:
		column = "archived"
	default:
		return model.UserFlags{}, sharedErrors.ErrInvalidFlag
	}

	var (
		query string
		args  = []any{conversationId, userId}
	)
	if value == nil {
		query = `UPDATE conversation_members SET ` + column + ` = NOT ` + column + `, updated_at = NOW()`
	} else {
		query = `UPDATE conversation_members SET ` + column + ` = $3, updated_at = NOW()`
		args = append(args, *value)
	}
	query += ` WHERE conversation_id = $1 AND user_id = $2 RETURNING starred, muted, archived`

	var flags model.UserFlags
	err := r.db.QueryRow(ctx, query, args...).Scan(&flags.Starred, &flags.Muted, &flags.Archived)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.UserFlags{}, sharedErrors.ErrConversationNotFound
		}
		return model.UserFlags{}, err
	}
	return flags, nil
}

// MarkDeleted 从用户的列表中移除会话
func (r *ConversationRepository) MarkDeleted(ctx context.Context, conversationId, userId int64) error {
	result, err := r.db.Exec(ctx, `
		UPDATE conversation_members SET deleted = TRUE, unread_count = 0, updated_at = NOW()
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationId, userId)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return sharedErrors.ErrConversationNotFound
	}
	return nil
}

// RecordMessage 记录新消息：更新最后消息与活跃时间，其他参与者未读 +1，
// 已删除该会话的参与者重新可见
func (r *ConversationRepository) RecordMessage(ctx context.Context, conversationId int64, ref *model.MessageRef) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE conversations
		SET last_activity = GREATEST(last_activity, $2),
		    last_message_id = $3, last_message_sender = $4, last_message_content = $5, last_message_at = $2
		WHERE id = $1
	`, conversationId, ref.Timestamp, ref.ID, ref.SenderID, ref.Preview)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return sharedErrors.ErrConversationNotFound
	}

	_, err = tx.Exec(ctx, `
		UPDATE conversation_members
		SET unread_count = unread_count + CASE WHEN user_id = $2 THEN 0 ELSE 1 END,
		    deleted = FALSE, updated_at = NOW()
		WHERE conversation_id = $1
	`, conversationId, ref.SenderID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ResetUnread 清零用户未读数
func (r *ConversationRepository) ResetUnread(ctx context.Context, conversationId, userId int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversation_members SET unread_count = 0, updated_at = NOW()
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationId, userId)
	return err
}

// loadMembers 填充参与者个人状态
func (r *ConversationRepository) loadMembers(ctx context.Context, convs []*model.Conversation) error {
	if len(convs) == 0 {
		return nil
	}

	byID := make(map[int64]*model.Conversation, len(convs))
	ids := make([]int64, 0, len(convs))
	for _, c := range convs {
		c.Flags = make(map[int64]model.UserFlags, len(c.Participants))
		c.Unread = make(map[int64]int, len(c.Participants))
		c.Deleted = make(map[int64]bool)
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}

	rows, err := r.db.Query(ctx, `
		SELECT conversation_id, user_id, starred, muted, archived, deleted, unread_count
		FROM conversation_members WHERE conversation_id = ANY($1)
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			convID, userID int64
			flags          model.UserFlags
			deleted        bool
			unread         int
		)
		if err := rows.Scan(&convID, &userID, &flags.Starred, &flags.Muted, &flags.Archived, &deleted, &unread); err != nil {
			return err
		}
		c := byID[convID]
		if c == nil {
			continue
		}
		c.Flags[userID] = flags
		c.Unread[userID] = unread
		if deleted {
			c.Deleted[userID] = true
		}
	}
	return rows.Err()
}

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var (
		conv       model.Conversation
		lastID     *int64
		lastSender *int64
		lastBody   *string
		lastAt     *time.Time
	)
	err := row.Scan(
		&conv.ID,
		&conv.Subject,
		&conv.Participants,
		&conv.LastActivity,
		&lastID,
		&lastSender,
		&lastBody,
		&lastAt,
		&conv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastID != nil {
		conv.LastMessage = &model.MessageRef{ID: *lastID}
		if lastSender != nil {
			conv.LastMessage.SenderID = *lastSender
		}
		if lastBody != nil {
			conv.LastMessage.Preview = *lastBody
		}
		if lastAt != nil {
			conv.LastMessage.Timestamp = *lastAt
		}
	}
	return &conv, nil
}
