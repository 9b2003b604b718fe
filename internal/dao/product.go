package dao

import (
	"context"

	gormModel "github.com/apimkt/portal/internal/model/gorm"
	"github.com/gogf/gf/v2/frame/g"
	"gorm.io/gorm"
)

// ProductDAO 产品数据访问对象
type ProductDAO struct{}

var Product = &ProductDAO{}

// GetByProductID 根据产品ID获取产品
func (d *ProductDAO) GetByProductID(ctx context.Context, productID string) (*gormModel.Product, error) {
	var product gormModel.Product
	if err := GetDB().WithContext(ctx).
		Where("product_id = ? AND enabled = ?", productID, true).
		First(&product).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		g.Log().Errorf(ctx, "查询产品失败: %v", err)
		return nil, err
	}
	return &product, nil
}

// ListByProductIDs 批量获取启用的产品
func (d *ProductDAO) ListByProductIDs(ctx context.Context, productIDs []string) ([]*gormModel.Product, error) {
	var products []*gormModel.Product
	if err := GetDB().WithContext(ctx).
		Where("product_id IN ? AND enabled = ?", productIDs, true).
		Find(&products).Error; err != nil {
		g.Log().Errorf(ctx, "批量查询产品失败: %v", err)
		return nil, err
	}
	return products, nil
}
