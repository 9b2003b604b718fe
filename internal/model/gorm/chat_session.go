package gorm

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatSession 会话表
type ChatSession struct {
	SessionID  string     `gorm:"primaryKey;column:session_id;type:varchar(64)"`   // 会话ID（主键，格式：session_uuid）
	UserID     string     `gorm:"column:user_id;type:varchar(64);not null;index"`  // 用户ID
	Name       string     `gorm:"column:name;type:varchar(255)"`                   // 会话名称
	TalkType   string     `gorm:"column:talk_type;type:varchar(20);default:'MODEL'"` // 会话类型：MODEL / AGENT
	ProductIDs JSON       `gorm:"column:product_ids;type:json"`                    // 订阅的产品ID列表，保序
	Status     string     `gorm:"column:status;type:varchar(20);default:'active'"` // 状态：active / deleted
	Metadata   JSON       `gorm:"column:metadata;type:json"`                       // 扩展元数据
	CreateTime *time.Time `gorm:"column:create_time;autoCreateTime"`               // 创建时间
	UpdateTime *time.Time `gorm:"column:update_time;autoUpdateTime"`               // 更新时间
}

// TableName 设置表名
func (ChatSession) TableName() string {
	return "chat_sessions"
}

// BeforeCreate GORM钩子：创建前自动生成SessionID
func (s *ChatSession) BeforeCreate(tx *gorm.DB) error {
	if s.SessionID == "" {
		uuidStr := uuid.New().String()
		uuidStr = uuidStr[:8] + uuidStr[9:13] + uuidStr[14:18] + uuidStr[19:23] + uuidStr[24:]
		s.SessionID = fmt.Sprintf("session_%s", uuidStr)
	}
	return nil
}
