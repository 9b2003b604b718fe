package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/gogf/gf/v2/frame/g"
)

// ValidateConfiguration validates all required configuration items
func ValidateConfiguration(ctx context.Context) error {
	var missingConfigs []string
	var warnings []string

	// 验证数据库配置
	dbHost := g.Cfg().MustGet(ctx, "database.default.host", "").String()
	dbPort := g.Cfg().MustGet(ctx, "database.default.port", "").String()
	dbUser := g.Cfg().MustGet(ctx, "database.default.user", "").String()
	dbName := g.Cfg().MustGet(ctx, "database.default.name", "").String()

	if dbHost == "" {
		missingConfigs = append(missingConfigs, "database.default.host")
	}
	if dbPort == "" {
		missingConfigs = append(missingConfigs, "database.default.port")
	}
	if dbUser == "" {
		missingConfigs = append(missingConfigs, "database.default.user")
	}
	if dbName == "" {
		missingConfigs = append(missingConfigs, "database.default.name")
	}

	// 验证 Chat 配置（缺省有默认值，只做提示）
	if !g.Cfg().MustGet(ctx, "chat.maxToolRounds", 0).IsEmpty() {
		rounds := g.Cfg().MustGet(ctx, "chat.maxToolRounds").Int()
		if rounds <= 0 {
			missingConfigs = append(missingConfigs, "chat.maxToolRounds (must be positive)")
		}
	}
	if g.Cfg().MustGet(ctx, "chat.firstByteTimeout", "").String() == "" {
		warnings = append(warnings, "chat.firstByteTimeout is not set, using default 60s")
	}
	if g.Cfg().MustGet(ctx, "chat.mcpCallTimeout", "").String() == "" {
		warnings = append(warnings, "chat.mcpCallTimeout is not set, using default 30s")
	}

	// 输出警告信息
	if len(warnings) > 0 {
		g.Log().Warningf(ctx, "Configuration warnings:\n- %s", strings.Join(warnings, "\n- "))
	}

	// 检查是否有缺失的必需配置
	if len(missingConfigs) > 0 {
		return fmt.Errorf("missing required configuration items:\n- %s\n\nPlease check your config.yaml file and ensure all required settings are properly configured", strings.Join(missingConfigs, "\n- "))
	}

	g.Log().Info(ctx, "✓ All required configuration items are present")

	return nil
}
