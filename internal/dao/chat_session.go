package dao

import (
	"context"

	gormModel "github.com/apimkt/portal/internal/model/gorm"
	"github.com/gogf/gf/v2/frame/g"
	"gorm.io/gorm"
)

// ChatSessionDAO 会话数据访问对象
type ChatSessionDAO struct{}

var ChatSession = &ChatSessionDAO{}

// Create 创建会话
func (d *ChatSessionDAO) Create(ctx context.Context, session *gormModel.ChatSession) error {
	if err := GetDB().WithContext(ctx).Create(session).Error; err != nil {
		g.Log().Errorf(ctx, "创建会话失败: %v", err)
		return err
	}
	return nil
}

// GetBySessionID 根据会话ID获取会话
func (d *ChatSessionDAO) GetBySessionID(ctx context.Context, sessionID string) (*gormModel.ChatSession, error) {
	var session gormModel.ChatSession
	if err := GetDB().WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		g.Log().Errorf(ctx, "查询会话失败: %v", err)
		return nil, err
	}
	return &session, nil
}

// ListByUserID 根据用户ID获取会话列表
func (d *ChatSessionDAO) ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]*gormModel.ChatSession, int64, error) {
	var sessions []*gormModel.ChatSession
	var total int64

	query := GetDB().WithContext(ctx).Model(&gormModel.ChatSession{}).
		Where("user_id = ? AND status = ?", userID, "active")

	if err := query.Count(&total).Error; err != nil {
		g.Log().Errorf(ctx, "统计会话总数失败: %v", err)
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := query.Offset(offset).Limit(pageSize).Order("update_time DESC").Find(&sessions).Error; err != nil {
		g.Log().Errorf(ctx, "查询会话列表失败: %v", err)
		return nil, 0, err
	}

	return sessions, total, nil
}

// UpdateName 更新会话名称
func (d *ChatSessionDAO) UpdateName(ctx context.Context, sessionID, name string) error {
	if err := GetDB().WithContext(ctx).Model(&gormModel.ChatSession{}).
		Where("session_id = ?", sessionID).Update("name", name).Error; err != nil {
		g.Log().Errorf(ctx, "更新会话名称失败: %v", err)
		return err
	}
	return nil
}

// Delete 软删除会话
func (d *ChatSessionDAO) Delete(ctx context.Context, sessionID string) error {
	if err := GetDB().WithContext(ctx).Model(&gormModel.ChatSession{}).
		Where("session_id = ?", sessionID).Update("status", "deleted").Error; err != nil {
		g.Log().Errorf(ctx, "删除会话失败: %v", err)
		return err
	}
	return nil
}
