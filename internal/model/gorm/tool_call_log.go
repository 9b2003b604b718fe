package gorm

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ToolCallLog 工具调用日志表
type ToolCallLog struct {
	ID              string     `gorm:"primaryKey;column:id;type:char(36)"`                // 主键ID
	ChatID          string     `gorm:"column:chat_id;type:varchar(64);index;not null"`    // 所属轮次ID
	ProductID       string     `gorm:"column:product_id;type:varchar(64);index"`          // 产品ID
	ServerName      string     `gorm:"column:server_name;type:varchar(100)"`              // MCP服务名快照
	ToolName        string     `gorm:"column:tool_name;type:varchar(200)"`                // 带前缀的完整工具名
	RequestPayload  string     `gorm:"column:request_payload;type:text"`                  // 请求参数（JSON）
	ResponsePayload string     `gorm:"column:response_payload;type:text"`                 // 响应结果
	Status          int8       `gorm:"column:status;default:1"`                           // 状态：1-成功，0-失败
	ErrorMessage    string     `gorm:"column:error_message;type:text"`                    // 错误信息
	Duration        int        `gorm:"column:duration;default:0"`                         // 调用耗时（毫秒）
	CreateTime      *time.Time `gorm:"column:create_time;autoCreateTime"`                 // 创建时间
}

// TableName 设置表名
func (ToolCallLog) TableName() string {
	return "tool_call_log"
}

// BeforeCreate GORM钩子：创建前自动生成UUID
func (l *ToolCallLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}
