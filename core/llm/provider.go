package llm

import (
	"context"

	"github.com/apimkt/portal/pkg/schema"
)

// Request 一次对话补全请求
type Request struct {
	Model       string
	Messages    []*schema.Message
	Tools       []*schema.ToolInfo
	Temperature float32
	MaxTokens   int
}

// ToolCallDelta 流式工具调用增量，按Index聚合
type ToolCallDelta struct {
	Index          *int
	ID             string
	Type           string
	Name           string
	ArgumentsDelta string
}

// Usage 上游返回的token用量
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CachedTokens     int
}

// Chunk 经过归一化的流式增量
// 不同上游的流式格式在Provider内收敛为该结构
type Chunk struct {
	Delta          string
	ReasoningDelta string
	ToolCalls      []ToolCallDelta
	FinishReason   string
	Usage          *Usage
}

// Provider 模型上游的统一抽象
type Provider interface {
	// StreamCompletion 发起流式补全，调用方负责Close返回的读端
	StreamCompletion(ctx context.Context, req *Request) (*schema.StreamReader[*Chunk], error)
}
