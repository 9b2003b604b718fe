package dao

import (
	"context"

	gormModel "github.com/apimkt/portal/internal/model/gorm"
	"github.com/gogf/gf/v2/frame/g"
)

// McpServerDAO MCP服务注册数据访问对象
type McpServerDAO struct{}

var McpServer = &McpServerDAO{}

// ListByProductID 列出产品关联的启用MCP服务
func (d *McpServerDAO) ListByProductID(ctx context.Context, productID string) ([]*gormModel.McpServer, error) {
	var servers []*gormModel.McpServer
	if err := GetDB().WithContext(ctx).
		Where("product_id = ? AND enabled = ?", productID, true).
		Find(&servers).Error; err != nil {
		g.Log().Errorf(ctx, "查询产品MCP服务失败: %v", err)
		return nil, err
	}
	return servers, nil
}
