package mcp

import (
	"context"
	"sync"
	"time"

	v1 "github.com/apimkt/portal/api/portal/v1"
	"github.com/apimkt/portal/core/errors"
	"github.com/apimkt/portal/core/mcp/client"
	"github.com/apimkt/portal/core/toolctx"
	"github.com/gogf/gf/v2/frame/g"
)

// Mode 传输模式别名，方便上层引用
type Mode = client.Mode

const (
	ModeStreamableHTTP = client.ModeStreamableHTTP
	ModeSSE            = client.ModeSSE
	ModeStdio          = client.ModeStdio
)

// Config 客户端配置别名
type Config = client.Config

// ToolDescriptor 工具展示信息，来源于产品注册时的元数据
type ToolDescriptor struct {
	DisplayName string // 工具展示名
}

// Pool 一个轮次内的MCP客户端池
// 每个轮次新建一个池，轮次结束后通过CloseAll统一释放，不跨轮次复用
type Pool struct {
	clients   map[string]*client.Client // serverName -> client
	meta      map[string]ToolDescriptor // qualifiedToolName -> descriptor
	closeOnce sync.Once
}

// NewPool 按配置建立客户端池，只创建不连接
func NewPool(configs []Config) *Pool {
	p := &Pool{
		clients: make(map[string]*client.Client, len(configs)),
		meta:    make(map[string]ToolDescriptor),
	}
	for _, cfg := range configs {
		if cfg.ServerName == "" {
			continue
		}
		p.clients[cfg.ServerName] = client.New(cfg)
	}
	return p
}

// SetToolDescriptor 记录工具的展示信息
func (p *Pool) SetToolDescriptor(qualifiedName string, d ToolDescriptor) {
	p.meta[qualifiedName] = d
}

// Len 池内客户端数量
func (p *Pool) Len() int {
	return len(p.clients)
}

// ToolContext 初始化所有客户端并聚合工具清单
// 单个服务初始化或列举失败时跳过该服务，不影响其它服务
func (p *Pool) ToolContext(ctx context.Context) *toolctx.ToolContext {
	var entries []toolctx.Entry

	for serverName, cli := range p.clients {
		if err := cli.Initialize(ctx, map[string]interface{}{
			"name":    "api-portal",
			"version": "1.0.0",
		}); err != nil {
			g.Log().Warningf(ctx, "MCP server %s initialize failed, skipped: %v", serverName, err)
			continue
		}

		tools, err := cli.ListTools(ctx)
		if err != nil {
			g.Log().Warningf(ctx, "MCP server %s list tools failed, skipped: %v", serverName, err)
			continue
		}

		for _, tool := range tools {
			qualified := client.QualifyToolName(serverName, tool.Name)
			meta := &v1.ToolMeta{
				ToolName:          qualified,
				McpServerName:     serverName,
				ToolDisplayName:   tool.Name,
				ServerDisplayName: cli.DisplayName(),
			}
			if d, ok := p.meta[qualified]; ok && d.DisplayName != "" {
				meta.ToolDisplayName = d.DisplayName
			}
			entries = append(entries, toolctx.Entry{
				Meta:        meta,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			})
		}
	}

	return toolctx.Build(entries)
}

// Invoke 调用指定的带前缀工具名，返回文本结果和耗时毫秒数
func (p *Pool) Invoke(ctx context.Context, qualifiedName string, args map[string]interface{}) (string, int64, error) {
	serverName, toolName := client.ParseToolName(qualifiedName)
	if serverName == "" {
		return "", 0, errors.Newf(errors.ErrToolNotFound, "tool name %s missing server prefix", qualifiedName)
	}

	cli, ok := p.clients[serverName]
	if !ok {
		return "", 0, errors.Newf(errors.ErrMCPServerNotFound, "MCP server %s not in pool", serverName)
	}

	start := time.Now()
	result, err := cli.CallTool(ctx, toolName, args)
	cost := time.Since(start).Milliseconds()
	if err != nil {
		return "", cost, err
	}

	text := result.Text()
	if result.IsError {
		return text, cost, errors.Newf(errors.ErrMCPCallFailed, "tool %s reported error: %s", qualifiedName, text)
	}
	return text, cost, nil
}

// CloseAll 关闭池内所有客户端
// 幂等，单个客户端关闭失败不阻断其它客户端
func (p *Pool) CloseAll(ctx context.Context) {
	p.closeOnce.Do(func() {
		for serverName, cli := range p.clients {
			if err := cli.Close(); err != nil {
				g.Log().Warningf(ctx, "Failed to close MCP client %s: %v", serverName, err)
			}
		}
	})
}
