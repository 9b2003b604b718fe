package gorm

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// McpServer 产品关联的MCP服务注册表
type McpServer struct {
	ServerID       string    `gorm:"primaryKey;column:server_id;type:char(36)"`          // UUID主键
	ProductID      string    `gorm:"column:product_id;type:varchar(64);index;not null"`  // 所属产品ID
	ServerName     string    `gorm:"column:server_name;type:varchar(100);not null"`      // 服务名，作为工具名前缀
	DisplayName    string    `gorm:"column:display_name;type:varchar(200)"`              // 服务展示名
	Mode           string    `gorm:"column:mode;type:varchar(32)"`                       // streamable-http / sse / stdio
	GatewayDomains JSON      `gorm:"column:gateway_domains;type:json"`                   // 网关域名列表，优先于endpoint
	Endpoint       string    `gorm:"column:endpoint;type:varchar(500)"`                  // 直连地址
	Command        string    `gorm:"column:command;type:varchar(255)"`                   // stdio模式启动命令
	Args           JSON      `gorm:"column:args;type:json"`                              // stdio模式命令参数
	APIKey         string    `gorm:"column:api_key;type:varchar(500)"`                   // Bearer 鉴权
	ToolMeta       JSON      `gorm:"column:tool_meta;type:json"`                         // 工具展示名映射
	Enabled        bool      `gorm:"column:enabled;type:tinyint(1);default:1"`           // 是否启用
	CreateTime     time.Time `gorm:"column:create_time;autoCreateTime"`                  // 创建时间
	UpdateTime     time.Time `gorm:"column:update_time;autoUpdateTime"`                  // 更新时间
}

// TableName 指定表名
func (McpServer) TableName() string {
	return "mcp_servers"
}

// BeforeCreate GORM钩子：创建前自动生成UUID
func (m *McpServer) BeforeCreate(tx *gorm.DB) error {
	if m.ServerID == "" {
		m.ServerID = uuid.New().String()
	}
	return nil
}
