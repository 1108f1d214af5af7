package repository

import (
	"context"
	"encoding/json"
	"errors"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
)

// MessageRepository 消息存储
// 正文写入后不可变，只有 status / read_by / deleted 会变化
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository 创建消息仓库
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, client_msg_id, conversation_id, sender_id, content, attachments, status, read_by, deleted, created_at`

// Insert 写入消息；(sender_id, client_msg_id) 已存在时不重复写入，
// 用已有记录覆盖 msg 并返回 inserted=false
func (r *MessageRepository) Insert(ctx context.Context, msg *model.Message) (bool, error) {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []model.Attachment{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return false, err
	}

	result, err := r.db.Exec(ctx, `
		INSERT INTO messages (id, client_msg_id, conversation_id, sender_id, content, attachments, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sender_id, client_msg_id) DO NOTHING
	`, msg.ID, msg.ClientMsgID, msg.ConversationID, msg.SenderID, msg.Content, attachmentsJSON, msg.Status, msg.Timestamp)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 1 {
		return true, nil
	}

	existing, err := r.GetByClientMsgID(ctx, msg.SenderID, msg.ClientMsgID)
	if err != nil {
		return false, err
	}
	*msg = *existing
	return false, nil
}

// Get 获取消息
func (r *MessageRepository) Get(ctx context.Context, id int64) (*model.Message, error) {
	msg, err := scanMessage(r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sharedErrors.ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

// GetByClientMsgID 通过客户端幂等令牌获取消息
func (r *MessageRepository) GetByClientMsgID(ctx context.Context, senderId int64, clientMsgId string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE sender_id = $1 AND client_msg_id = $2`
	msg, err := scanMessage(r.db.QueryRow(ctx, query, senderId, clientMsgId))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sharedErrors.ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

// ListByConversation 分页获取会话消息（beforeId 为 0 时从最新开始），结果按时间升序
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationId, beforeId int64, limit int) ([]*model.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1 AND NOT deleted AND ($2::bigint = 0 OR id < $2::bigint)
		ORDER BY id DESC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, conversationId, beforeId, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(messages)
	return messages, nil
}

// CompareAndSetStatus 仅当当前状态为 from 时更新为 to
func (r *MessageRepository) CompareAndSetStatus(ctx context.Context, id int64, from, to model.MessageStatus) (bool, error) {
	result, err := r.db.Exec(ctx, `UPDATE messages SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// MarkRead 将会话中他人发送、reader 未读的消息标记为已读，返回被更新的消息
func (r *MessageRepository) MarkRead(ctx context.Context, conversationId, readerId int64) ([]*model.Message, error) {
	query := `
		UPDATE messages
		SET read_by = array_append(read_by, $2), status = 'read'
		WHERE conversation_id = $1 AND sender_id <> $2 AND NOT deleted AND NOT ($2 = ANY(read_by))
		RETURNING ` + messageColumns
	rows, err := r.db.Query(ctx, query, conversationId, readerId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updated []*model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		updated = append(updated, msg)
	}
	return updated, rows.Err()
}

// SoftDelete 软删除消息
func (r *MessageRepository) SoftDelete(ctx context.Context, id int64) error {
	result, err := r.db.Exec(ctx, `UPDATE messages SET deleted = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return sharedErrors.ErrMessageNotFound
	}
	return nil
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	var (
		msg         model.Message
		attachments []byte
		status      string
	)
	err := row.Scan(
		&msg.ID,
		&msg.ClientMsgID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Content,
		&attachments,
		&status,
		&msg.ReadBy,
		&msg.Deleted,
		&msg.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	msg.Status = model.MessageStatus(status)
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
			return nil, err
		}
		if len(msg.Attachments) == 0 {
			msg.Attachments = nil
		}
	}
	return &msg, nil
}
