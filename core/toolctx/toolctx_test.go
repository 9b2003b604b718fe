package toolctx

import (
	"testing"

	v1 "github.com/apimkt/portal/api/portal/v1"
	"github.com/stretchr/testify/assert"
)

func entry(server, tool, desc string) Entry {
	return Entry{
		Meta: &v1.ToolMeta{
			ToolName:      server + "__" + tool,
			McpServerName: server,
		},
		Description: desc,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"q": map[string]interface{}{"type": "string"},
			},
		},
	}
}

func TestBuild_EmptyInput(t *testing.T) {
	// 空输入必须返回可用的空注册表，而不是报错
	tc := Build(nil)
	assert.NotNil(t, tc)
	assert.Equal(t, 0, tc.Len())
	assert.Empty(t, tc.Tools())

	tc = Build([]Entry{})
	assert.Equal(t, 0, tc.Len())
}

func TestBuild_ThreeViews(t *testing.T) {
	tc := Build([]Entry{
		entry("weather", "query", "查询天气"),
		entry("stock", "quote", "查询行情"),
	})

	assert.Equal(t, 2, tc.Len())
	assert.Len(t, tc.Tools(), 2)

	def, ok := tc.Definition("weather__query")
	assert.True(t, ok)
	assert.Equal(t, "查询天气", def.Description)

	server, ok := tc.Server("stock__quote")
	assert.True(t, ok)
	assert.Equal(t, "stock", server)

	meta := tc.Meta("weather__query")
	assert.NotNil(t, meta)
	assert.Equal(t, "weather__query", meta.ToolName)
	assert.Equal(t, "weather", meta.McpServerName)

	_, ok = tc.Definition("weather__missing")
	assert.False(t, ok)
	assert.Nil(t, tc.Meta("weather__missing"))
}

func TestBuild_CollisionLastWins(t *testing.T) {
	// 同名工具后注册者覆盖先注册者，schema列表不出现重复项
	tc := Build([]Entry{
		entry("svc", "echo", "第一版"),
		entry("svc", "echo", "第二版"),
	})

	assert.Equal(t, 1, tc.Len())
	assert.Len(t, tc.Tools(), 1)
	assert.Equal(t, "第二版", tc.Tools()[0].Desc)

	def, _ := tc.Definition("svc__echo")
	assert.Equal(t, "第二版", def.Description)
}

func TestBuild_SkipsInvalidEntries(t *testing.T) {
	tc := Build([]Entry{
		{Meta: nil, Description: "无元信息"},
		{Meta: &v1.ToolMeta{ToolName: ""}, Description: "空名"},
		entry("svc", "ok", "有效"),
	})
	assert.Equal(t, 1, tc.Len())
}
