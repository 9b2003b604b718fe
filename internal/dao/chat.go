package dao

import (
	"context"

	gormModel "github.com/apimkt/portal/internal/model/gorm"
	"github.com/gogf/gf/v2/frame/g"
	"gorm.io/gorm"
)

// ChatDAO 轮次数据访问对象
type ChatDAO struct{}

var Chat = &ChatDAO{}

// GetByChatID 根据轮次ID获取轮次
func (d *ChatDAO) GetByChatID(ctx context.Context, chatID string) (*gormModel.Chat, error) {
	var chat gormModel.Chat
	if err := GetDB().WithContext(ctx).Where("chat_id = ?", chatID).First(&chat).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		g.Log().Errorf(ctx, "查询轮次失败: %v", err)
		return nil, err
	}
	return &chat, nil
}

// ListByConversation 按对话列出同一问答交换的重试轮次，序号升序
func (d *ChatDAO) ListByConversation(ctx context.Context, conversationID, productID string) ([]*gormModel.Chat, error) {
	var chats []*gormModel.Chat
	if err := GetDB().WithContext(ctx).
		Where("conversation_id = ? AND product_id = ?", conversationID, productID).
		Order("sequence ASC").
		Find(&chats).Error; err != nil {
		g.Log().Errorf(ctx, "查询重试轮次失败: %v", err)
		return nil, err
	}
	return chats, nil
}

// ListHistory 按会话和产品列出历史轮次，时间正序
func (d *ChatDAO) ListHistory(ctx context.Context, sessionID, productID string) ([]*gormModel.Chat, error) {
	var chats []*gormModel.Chat
	if err := GetDB().WithContext(ctx).
		Where("session_id = ? AND product_id = ?", sessionID, productID).
		Order("create_time ASC, sequence ASC").
		Find(&chats).Error; err != nil {
		g.Log().Errorf(ctx, "查询历史轮次失败: %v", err)
		return nil, err
	}
	return chats, nil
}

// ListBySessionID 按会话列出所有轮次
func (d *ChatDAO) ListBySessionID(ctx context.Context, sessionID string) ([]*gormModel.Chat, error) {
	var chats []*gormModel.Chat
	if err := GetDB().WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("create_time ASC, sequence ASC").
		Find(&chats).Error; err != nil {
		g.Log().Errorf(ctx, "查询会话轮次失败: %v", err)
		return nil, err
	}
	return chats, nil
}

// DeleteBySessionID 删除会话下所有轮次
func (d *ChatDAO) DeleteBySessionID(ctx context.Context, sessionID string) error {
	if err := GetDB().WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&gormModel.Chat{}).Error; err != nil {
		g.Log().Errorf(ctx, "删除会话轮次失败: %v", err)
		return err
	}
	return nil
}
