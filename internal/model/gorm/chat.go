package gorm

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 轮次状态
const (
	ChatStatusInit       = "INIT"
	ChatStatusProcessing = "PROCESSING"
	ChatStatusSuccess    = "SUCCESS"
	ChatStatusFailed     = "FAILED"
)

// Chat 问答轮次表
// 一个提问对每个产品各产生一行；重新生成答案复用 (conversation_id, question_id, product_id)
// 并递增sequence，序号从0开始连续无空洞
type Chat struct {
	ChatID           string     `gorm:"primaryKey;column:chat_id;type:varchar(64)"`                                       // 轮次ID（主键，格式：chat_uuid）
	SessionID        string     `gorm:"column:session_id;type:varchar(64);index;not null"`                                // 所属会话ID
	UserID           string     `gorm:"column:user_id;type:varchar(64);index"`                                            // 提问用户ID
	ConversationID   string     `gorm:"column:conversation_id;type:varchar(64);not null;uniqueIndex:idx_conv_q_prod_seq"` // 对话ID，同一问答交换的重试共用
	QuestionID       string     `gorm:"column:question_id;type:varchar(64);not null;uniqueIndex:idx_conv_q_prod_seq"`     // 提问ID
	ProductID        string     `gorm:"column:product_id;type:varchar(64);not null;uniqueIndex:idx_conv_q_prod_seq"`      // 产品ID
	Sequence         int        `gorm:"column:sequence;not null;uniqueIndex:idx_conv_q_prod_seq"`                         // 重试序号，从0开始
	Question         string     `gorm:"column:question;type:text"`                                                        // 用户提问
	Attachments      JSON       `gorm:"column:attachments;type:json"`                                                     // 提问附件引用
	AnswerID         string     `gorm:"column:answer_id;type:varchar(64)"`                                                // 回答ID，成功终态时生成
	Answer           string     `gorm:"column:answer;type:text"`                                                          // 最终回答
	ReasoningContent string     `gorm:"column:reasoning_content;type:text"`                                               // 推理过程
	Status           string     `gorm:"column:status;type:varchar(20);default:'INIT';index"`                              // 轮次状态
	FailReason       string     `gorm:"column:fail_reason;type:text"`                                                     // 失败原因
	Usage            JSON       `gorm:"column:usage_detail;type:json"`                                                    // 用量统计，终态时整体写入
	CreateTime       *time.Time `gorm:"column:create_time;autoCreateTime"`                                                // 创建时间
	UpdateTime       *time.Time `gorm:"column:update_time;autoUpdateTime"`                                                // 更新时间
}

// TableName 设置表名
func (Chat) TableName() string {
	return "chats"
}

// BeforeCreate GORM钩子：创建前自动生成ChatID
func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ChatID == "" {
		uuidStr := uuid.New().String()
		uuidStr = uuidStr[:8] + uuidStr[9:13] + uuidStr[14:18] + uuidStr[19:23] + uuidStr[24:]
		c.ChatID = fmt.Sprintf("chat_%s", uuidStr)
	}
	return nil
}
