package v1

import (
	"github.com/apimkt/portal/core/metrics"
	"github.com/gogf/gf/v2/frame/g"
)

// ChatReq 发起一次提问，按会话订阅的产品并发作答，SSE流式返回
type ChatReq struct {
	g.Meta          `path:"/v1/chat" method:"post" tags:"chat" mime:"application/json"`
	SessionID       string        `json:"session_id"`                  // 会话ID；为空时按临时提问处理，需显式传product_ids
	ConversationID  string        `json:"conversation_id"`             // 同一问答交换的分组ID；为空时自动生成
	QuestionID      string        `json:"question_id"`                 // 问题ID；重新生成答案时复用原question_id
	Question        string        `json:"question" v:"required"`       // 用户问题
	ProductIDs      []string      `json:"product_ids"`                 // 覆盖会话订阅的产品列表（可选）
	Attachments     []*Attachment `json:"attachments"`                 // 附件列表
	EnableWebSearch bool          `json:"enable_web_search"`           // 联网搜索开关（透传给模型后端）
}

// ChatRes 流式输出经由HTTP响应流返回，不承载具体内容
type ChatRes struct {
	g.Meta `mime:"text/event-stream"`
}

// Attachment 用户随提问上传的附件引用
type Attachment struct {
	Type         string `json:"type"`
	AttachmentID string `json:"attachmentId"`
}

// MsgType 流式事件类型
type MsgType string

const (
	MsgTypeUser         MsgType = "USER"
	MsgTypeAnswer       MsgType = "ANSWER"
	MsgTypeToolCall     MsgType = "TOOL_CALL"
	MsgTypeToolResponse MsgType = "TOOL_RESPONSE"
	MsgTypeStop         MsgType = "STOP"
	MsgTypeError        MsgType = "ERROR"
)

// ToolMeta 工具元信息，每轮对话基于存活的MCP服务现场构建，不落库
type ToolMeta struct {
	ToolName          string `json:"toolName"`          // 带服务前缀的完整工具名，轮次内全局唯一
	McpServerName     string `json:"mcpServerName"`     // 所属MCP服务名
	ToolDisplayName   string `json:"toolDisplayName"`   // 工具展示名
	ServerDisplayName string `json:"serverDisplayName"` // 服务展示名
}

// ToolCallContent TOOL_CALL 事件内容
type ToolCallContent struct {
	ToolMeta     *ToolMeta              `json:"toolMeta"`
	InputSchema  map[string]interface{} `json:"inputSchema,omitempty"`
	ParsedInput  map[string]interface{} `json:"parsedInput,omitempty"`
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Name         string                 `json:"name"`
	RawArguments string                 `json:"rawArguments"`
}

// ToolResponseContent TOOL_RESPONSE 事件内容
type ToolResponseContent struct {
	ToolMeta        *ToolMeta `json:"toolMeta"`
	ParsedOutput    string    `json:"parsedOutput,omitempty"`
	CostMillis      int64     `json:"costMillis"`
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	RawResponseData string    `json:"rawResponseData,omitempty"`
}

// EventContent 事件内容，按MsgType取且仅取一个变体
type EventContent struct {
	Question     string               `json:"question,omitempty"`
	Answer       string               `json:"answer,omitempty"`
	ToolCall     *ToolCallContent     `json:"toolCall,omitempty"`
	ToolResponse *ToolResponseContent `json:"toolResponse,omitempty"`
}

// ChatStreamEvent 推送给调用方的流式事件
// STOP 事件无content且必定收尾成功流；ERROR 事件可提前终止
type ChatStreamEvent struct {
	ChatID    string             `json:"chatId,omitempty"`
	ProductID string             `json:"productId,omitempty"`
	MsgType   MsgType            `json:"msgType"`
	Content   *EventContent      `json:"content,omitempty"`
	ChatUsage *metrics.ChatUsage `json:"chatUsage,omitempty"`
	ErrorKind string             `json:"error,omitempty"`
	Message   string             `json:"message,omitempty"`
}

// AnswerEvent 构造纯文本ANSWER事件
func AnswerEvent(chatID, productID, delta string) *ChatStreamEvent {
	return &ChatStreamEvent{
		ChatID:    chatID,
		ProductID: productID,
		MsgType:   MsgTypeAnswer,
		Content:   &EventContent{Answer: delta},
	}
}
