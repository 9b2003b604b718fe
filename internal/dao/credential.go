package dao

import (
	"context"

	gormModel "github.com/apimkt/portal/internal/model/gorm"
	"github.com/gogf/gf/v2/frame/g"
	"gorm.io/gorm"
)

// CredentialDAO 凭证数据访问对象
type CredentialDAO struct{}

var Credential = &CredentialDAO{}

// GetForProduct 获取产品的可用凭证
// 优先取用户专属凭证，不存在时回退到产品级共享凭证
func (d *CredentialDAO) GetForProduct(ctx context.Context, productID, userID string) (*gormModel.Credential, error) {
	var credential gormModel.Credential

	if userID != "" {
		err := GetDB().WithContext(ctx).
			Where("product_id = ? AND user_id = ? AND enabled = ?", productID, userID, true).
			First(&credential).Error
		if err == nil {
			return &credential, nil
		}
		if err != gorm.ErrRecordNotFound {
			g.Log().Errorf(ctx, "查询用户凭证失败: %v", err)
			return nil, err
		}
	}

	err := GetDB().WithContext(ctx).
		Where("product_id = ? AND user_id = ? AND enabled = ?", productID, "", true).
		First(&credential).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		g.Log().Errorf(ctx, "查询产品凭证失败: %v", err)
		return nil, err
	}
	return &credential, nil
}
