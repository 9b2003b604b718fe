package schema

// RoleType 消息角色类型
type RoleType string

const (
	System    RoleType = "system"
	User      RoleType = "user"
	Assistant RoleType = "assistant"
	Tool      RoleType = "tool"
)

// Message 表示对话消息
type Message struct {
	// Role 消息角色：system, user, assistant, tool
	Role RoleType `json:"role"`
	// Content 文本内容
	Content string `json:"content,omitempty"`

	// ReasoningContent 思考内容（用于思考模型）
	ReasoningContent string `json:"reasoning_content,omitempty"`

	// ToolCalls 工具调用列表（Assistant消息使用）
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID 工具调用ID（Tool消息使用）
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Name 工具名称（Tool消息使用）
	Name string `json:"name,omitempty"`

	// Extra 扩展字段，用于存储额外信息
	Extra map[string]any `json:"extra,omitempty"`
}

// ToolCall 工具调用
type ToolCall struct {
	// Index 在多个工具调用中的索引（流式模式使用）
	Index *int `json:"index,omitempty"`
	// ID 工具调用的唯一标识
	ID string `json:"id"`
	// Type 工具调用类型，默认为 "function"
	Type string `json:"type"`
	// Function 要调用的函数
	Function FunctionCall `json:"function"`
}

// FunctionCall 函数调用
type FunctionCall struct {
	// Name 函数名称
	Name string `json:"name"`
	// Arguments 函数参数（JSON字符串）
	Arguments string `json:"arguments"`
}

// ToolInfo 暴露给模型的工具定义
type ToolInfo struct {
	// Name 工具名称（同一轮对话内全局唯一）
	Name string `json:"name"`
	// Desc 工具描述
	Desc string `json:"description"`
	// Parameters 参数定义（JSON Schema）
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}
