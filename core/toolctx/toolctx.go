package toolctx

import (
	v1 "github.com/apimkt/portal/api/portal/v1"
	"github.com/apimkt/portal/pkg/schema"
)

// Entry 一个可调用工具的完整描述，来源于某个MCP服务的工具广告
type Entry struct {
	Meta        *v1.ToolMeta           // 工具元信息（ToolName 为带服务前缀的完整名）
	Description string                 // 工具描述，进入模型的函数schema
	InputSchema map[string]interface{} // 参数JSON Schema
}

// ToolContext 单轮对话的工具注册表
// 构建后不可变，同一轮内的模型调用与工具分发都以它为准
type ToolContext struct {
	tools   []*schema.ToolInfo
	entries map[string]*Entry
	servers map[string]string
}

// Build 纯内存构建注册表，不做任何I/O
// 空输入返回合法的空注册表；完整工具名冲突时后注册者覆盖先注册者
func Build(entries []Entry) *ToolContext {
	tc := &ToolContext{
		entries: make(map[string]*Entry, len(entries)),
		servers: make(map[string]string, len(entries)),
	}
	for i := range entries {
		e := entries[i]
		if e.Meta == nil || e.Meta.ToolName == "" {
			continue
		}
		name := e.Meta.ToolName
		if _, dup := tc.entries[name]; !dup {
			tc.tools = append(tc.tools, &schema.ToolInfo{
				Name:       name,
				Desc:       e.Description,
				Parameters: e.InputSchema,
			})
		} else {
			// 覆盖已有定义时同步替换schema列表里的条目
			for j, ti := range tc.tools {
				if ti.Name == name {
					tc.tools[j] = &schema.ToolInfo{
						Name:       name,
						Desc:       e.Description,
						Parameters: e.InputSchema,
					}
					break
				}
			}
		}
		tc.entries[name] = &e
		tc.servers[name] = e.Meta.McpServerName
	}
	return tc
}

// Tools 面向模型函数调用schema的工具列表
func (tc *ToolContext) Tools() []*schema.ToolInfo {
	return tc.tools
}

// Definition 按完整工具名查找定义
func (tc *ToolContext) Definition(name string) (*Entry, bool) {
	e, ok := tc.entries[name]
	return e, ok
}

// Server 按完整工具名查找所属MCP服务名
func (tc *ToolContext) Server(name string) (string, bool) {
	s, ok := tc.servers[name]
	return s, ok
}

// Meta 按完整工具名查找工具元信息，未注册返回nil
func (tc *ToolContext) Meta(name string) *v1.ToolMeta {
	if e, ok := tc.entries[name]; ok {
		return e.Meta
	}
	return nil
}

// Len 已注册的工具数量
func (tc *ToolContext) Len() int {
	return len(tc.entries)
}
