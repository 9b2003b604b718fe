package dao

import (
	"context"

	gormModel "github.com/apimkt/portal/internal/model/gorm"
	"github.com/gogf/gf/v2/frame/g"
	"gorm.io/gorm"
)

// ToolCallLogDAO 工具调用日志数据访问对象
type ToolCallLogDAO struct{}

var ToolCallLog = &ToolCallLogDAO{}

// Create 写入一条工具调用日志
func (d *ToolCallLogDAO) Create(ctx context.Context, log *gormModel.ToolCallLog) error {
	if err := GetDB().WithContext(ctx).Create(log).Error; err != nil {
		g.Log().Errorf(ctx, "写入工具调用日志失败: %v", err)
		return err
	}
	return nil
}

// CreateBatch 批量写入工具调用日志，缓存层刷盘用
func (d *ToolCallLogDAO) CreateBatch(ctx context.Context, logs []*gormModel.ToolCallLog) error {
	if len(logs) == 0 {
		return nil
	}
	if err := GetDB().WithContext(ctx).CreateInBatches(logs, len(logs)).Error; err != nil {
		return err
	}
	return nil
}

// GetByID 按主键查询单条工具调用日志
func (d *ToolCallLogDAO) GetByID(ctx context.Context, id string) (*gormModel.ToolCallLog, error) {
	var log gormModel.ToolCallLog
	err := GetDB().WithContext(ctx).Where("id = ?", id).First(&log).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		g.Log().Errorf(ctx, "查询工具调用日志失败: %v", err)
		return nil, err
	}
	return &log, nil
}

// ListByChatID 按轮次列出工具调用日志
func (d *ToolCallLogDAO) ListByChatID(ctx context.Context, chatID string) ([]*gormModel.ToolCallLog, error) {
	var logs []*gormModel.ToolCallLog
	if err := GetDB().WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("create_time ASC").
		Find(&logs).Error; err != nil {
		g.Log().Errorf(ctx, "查询工具调用日志失败: %v", err)
		return nil, err
	}
	return logs, nil
}
