package cmd

import (
	"context"

	"github.com/apimkt/portal/core/cache"
	"github.com/apimkt/portal/core/config"
	icache "github.com/apimkt/portal/internal/cache"
	"github.com/apimkt/portal/internal/dao"
	"github.com/gogf/gf/v2/frame/g"
)

// init initializes all components of the application
func init() {
	ctx := context.Background()

	// Validate configuration before initializing components
	g.Log().Info(ctx, "Validating application configuration...")
	err := config.ValidateConfiguration(ctx)
	if err != nil {
		g.Log().Fatalf(ctx, "Configuration validation failed:\n%v", err)
	}

	// Initialize database
	err = dao.InitDB()
	if err != nil {
		g.Log().Fatalf(ctx, "Database connection initialization failed: %v", err)
	}

	// Redis缓存层是可选的，未配置或连接失败时降级为直连数据库
	if g.Cfg().MustGet(ctx, "redis.address", "").String() != "" {
		if err := cache.InitRedis(ctx); err != nil {
			g.Log().Warningf(ctx, "Redis initialization failed, cache layer disabled: %v", err)
		} else if err := icache.InitToolCallLogCache(ctx); err != nil {
			g.Log().Warningf(ctx, "Tool call log cache initialization failed: %v", err)
		}
	}

	g.Log().Info(ctx, "✓ All components initialized successfully")
}
