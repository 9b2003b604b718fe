package gorm

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product 市场内可对话的产品表
type Product struct {
	ProductID         string    `gorm:"primaryKey;column:product_id;type:varchar(64)"`          // 产品ID
	Name              string    `gorm:"column:name;type:varchar(200);not null"`                 // 产品名称
	ModelName         string    `gorm:"column:model_name;type:varchar(200);not null"`           // 上游模型名
	GatewayDomains    JSON      `gorm:"column:gateway_domains;type:json"`                       // 网关域名列表
	BasePath          string    `gorm:"column:base_path;type:varchar(255)"`                     // 模型接口根路径，如 /v1
	TransportProtocol string    `gorm:"column:transport_protocol;type:varchar(32)"`             // MCP传输协议
	PinDNS            bool      `gorm:"column:pin_dns;default:0"`                               // 是否固定网关IP
	GatewayIPs        JSON      `gorm:"column:gateway_ips;type:json"`                           // 网关节点IP候选列表
	SystemPrompt      string    `gorm:"column:system_prompt;type:text"`                         // 产品级系统提示词
	Enabled           bool      `gorm:"column:enabled;type:tinyint(1);default:1"`               // 是否启用
	CreateTime        time.Time `gorm:"column:create_time;autoCreateTime"`                      // 创建时间
	UpdateTime        time.Time `gorm:"column:update_time;autoUpdateTime"`                      // 更新时间
}

// TableName 指定表名
func (Product) TableName() string {
	return "products"
}

// BeforeCreate GORM钩子：创建前自动生成UUID
func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ProductID == "" {
		p.ProductID = uuid.New().String()
	}
	return nil
}
