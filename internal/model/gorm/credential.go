package gorm

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Credential 产品调用凭证表
type Credential struct {
	CredentialID string    `gorm:"primaryKey;column:credential_id;type:char(36)"` // UUID主键
	ProductID    string    `gorm:"column:product_id;type:varchar(64);index;not null"` // 所属产品ID
	UserID       string    `gorm:"column:user_id;type:varchar(64);index"`             // 凭证归属用户，空表示产品级共享凭证
	APIKey       string    `gorm:"column:api_key;type:varchar(500)"`                  // Bearer 鉴权
	Headers      JSON      `gorm:"column:headers;type:json"`                          // 附加请求头
	QueryParams  JSON      `gorm:"column:query_params;type:json"`                     // 附加查询参数
	Enabled      bool      `gorm:"column:enabled;type:tinyint(1);default:1"`          // 是否启用
	CreateTime   time.Time `gorm:"column:create_time;autoCreateTime"`                 // 创建时间
	UpdateTime   time.Time `gorm:"column:update_time;autoUpdateTime"`                 // 更新时间
}

// TableName 指定表名
func (Credential) TableName() string {
	return "credentials"
}

// BeforeCreate GORM钩子：创建前自动生成UUID
func (c *Credential) BeforeCreate(tx *gorm.DB) error {
	if c.CredentialID == "" {
		c.CredentialID = uuid.New().String()
	}
	return nil
}
