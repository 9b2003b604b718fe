package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/apimkt/portal/core/errors"
	"github.com/apimkt/portal/internal/model/gorm"
	"github.com/gogf/gf/v2/frame/g"
	"github.com/redis/go-redis/v9"
)

const (
	productCacheKeyPrefix = "product:"
)

// GetProductTTL 获取产品配置缓存TTL
func GetProductTTL(ctx context.Context) time.Duration {
	ttl := g.Cfg().MustGet(ctx, "redis.cache.productTTL", 300).Int()
	return time.Duration(ttl) * time.Second
}

// GetProduct 从缓存获取产品配置
func GetProduct(ctx context.Context, productID string) (*gorm.Product, error) {
	if !Ready() {
		return nil, redis.Nil
	}
	cacheKey := productCacheKeyPrefix + productID

	cached, err := Get(ctx, cacheKey)
	if err != nil {
		if err != redis.Nil {
			g.Log().Warningf(ctx, "Failed to get product from cache: %v", err)
		}
		return nil, err
	}

	var product gorm.Product
	if err := json.Unmarshal([]byte(cached), &product); err != nil {
		g.Log().Errorf(ctx, "Failed to unmarshal cached product: %v", err)
		return nil, err
	}

	return &product, nil
}

// SetProduct 设置产品配置到缓存
func SetProduct(ctx context.Context, product *gorm.Product) error {
	if product == nil {
		return errors.New(errors.ErrInvalidParameter, "product is nil")
	}
	if !Ready() {
		return nil
	}

	cacheKey := productCacheKeyPrefix + product.ProductID

	data, err := json.Marshal(product)
	if err != nil {
		g.Log().Errorf(ctx, "Failed to marshal product: %v", err)
		return errors.Newf(errors.ErrInternalError, "failed to marshal product: %v", err)
	}

	if err := Set(ctx, cacheKey, data, GetProductTTL(ctx)); err != nil {
		g.Log().Errorf(ctx, "Failed to set product cache: %v", err)
		return errors.Newf(errors.ErrInternalError, "failed to set product cache: %v", err)
	}

	return nil
}

// InvalidateProduct 删除产品配置缓存
// 产品下架或网关域名变更后调用，下一次对话会重新读库
func InvalidateProduct(ctx context.Context, productID string) error {
	if !Ready() {
		return nil
	}
	cacheKey := productCacheKeyPrefix + productID

	if err := Delete(ctx, cacheKey); err != nil {
		g.Log().Warningf(ctx, "Failed to invalidate product cache: %v", err)
		return err
	}

	return nil
}
