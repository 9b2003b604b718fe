package turn

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/apimkt/portal/core/chat"
	"github.com/apimkt/portal/core/errors"
	"github.com/apimkt/portal/core/metrics"
	"github.com/apimkt/portal/internal/dao"
	gormModel "github.com/apimkt/portal/internal/model/gorm"
	"github.com/gogf/gf/v2/frame/g"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 唯一索引冲突时的分配重试次数
const allocateRetries = 3

// Manager 轮次状态管理
// 重试序号在 (conversation_id, question_id, product_id) 内从0开始连续分配，
// 依赖唯一索引兜底并发冲突
type Manager struct{}

// NewManager 创建轮次管理器
func NewManager() *Manager {
	return &Manager{}
}

// Allocate 为一个产品分配新轮次
// 事务内取当前最大序号加一插入；并发下撞唯一索引则重试
func (m *Manager) Allocate(ctx context.Context, alloc *chat.TurnAllocation) (string, error) {
	var attachments gormModel.JSON
	if len(alloc.Attachments) > 0 {
		if data, err := json.Marshal(alloc.Attachments); err == nil {
			attachments = gormModel.JSON(data)
		}
	}

	var lastErr error
	for attempt := 0; attempt < allocateRetries; attempt++ {
		record := &gormModel.Chat{
			SessionID:      alloc.SessionID,
			UserID:         alloc.UserID,
			ConversationID: alloc.ConversationID,
			QuestionID:     alloc.QuestionID,
			ProductID:      alloc.ProductID,
			Question:       alloc.Question,
			Attachments:    attachments,
			Status:         gormModel.ChatStatusInit,
		}

		err := dao.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var maxSeq int
			row := tx.Model(&gormModel.Chat{}).
				Where("conversation_id = ? AND question_id = ? AND product_id = ?",
					alloc.ConversationID, alloc.QuestionID, alloc.ProductID).
				Select("COALESCE(MAX(sequence), -1)").
				Row()
			if err := row.Scan(&maxSeq); err != nil {
				return err
			}
			record.Sequence = maxSeq + 1
			return tx.Create(record).Error
		})
		if err == nil {
			g.Log().Debugf(ctx, "[Turn] 分配轮次 %s（对话 %s 产品 %s 序号 %d）",
				record.ChatID, alloc.ConversationID, alloc.ProductID, record.Sequence)
			return record.ChatID, nil
		}

		lastErr = err
		if !isDuplicateKey(err) {
			break
		}
		g.Log().Debugf(ctx, "[Turn] 序号冲突重试 %d/%d: %v", attempt+1, allocateRetries, err)
	}

	return "", errors.Newf(errors.ErrSequenceAllocation, "failed to allocate sequence: %v", lastErr)
}

// MarkProcessing INIT -> PROCESSING
func (m *Manager) MarkProcessing(ctx context.Context, chatID string) error {
	return m.transition(ctx, chatID, gormModel.ChatStatusInit, map[string]interface{}{
		"status": gormModel.ChatStatusProcessing,
	})
}

// MarkSuccess PROCESSING -> SUCCESS，落库最终回答与用量
// 空回答不允许进入SUCCESS
func (m *Manager) MarkSuccess(ctx context.Context, chatID, answer string, usage *metrics.ChatUsage) error {
	if answer == "" {
		return errors.New(errors.ErrInvalidTransition, "empty answer cannot transition to SUCCESS")
	}

	updates := map[string]interface{}{
		"status":    gormModel.ChatStatusSuccess,
		"answer":    answer,
		"answer_id": newAnswerID(),
	}
	if usage != nil {
		if data, err := json.Marshal(usage); err == nil {
			updates["usage_detail"] = gormModel.JSON(data)
		}
	}
	return m.transition(ctx, chatID, gormModel.ChatStatusProcessing, updates)
}

// MarkFailed PROCESSING -> FAILED，落库失败原因
func (m *Manager) MarkFailed(ctx context.Context, chatID string, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return m.transition(ctx, chatID, gormModel.ChatStatusProcessing, map[string]interface{}{
		"status":      gormModel.ChatStatusFailed,
		"fail_reason": reason,
	})
}

// transition 带前置状态保护的状态迁移
// WHERE条件校验当前状态，影响行数为0即非法迁移
func (m *Manager) transition(ctx context.Context, chatID, fromStatus string, updates map[string]interface{}) error {
	result := dao.GetDB().WithContext(ctx).Model(&gormModel.Chat{}).
		Where("chat_id = ? AND status = ?", chatID, fromStatus).
		Updates(updates)
	if result.Error != nil {
		g.Log().Errorf(ctx, "[Turn] 轮次 %s 状态迁移失败: %v", chatID, result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		chat, err := dao.Chat.GetByChatID(ctx, chatID)
		if err != nil {
			return err
		}
		if chat == nil {
			return errors.Newf(errors.ErrChatNotFound, "chat %s not found", chatID)
		}
		return errors.Newf(errors.ErrInvalidTransition,
			"chat %s is %s, expected %s", chatID, chat.Status, fromStatus)
	}
	return nil
}

// isDuplicateKey 判断是否唯一键冲突
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "Duplicate entry")
}

// newAnswerID 生成回答ID，成功终态时写入
func newAnswerID() string {
	return "answer_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
