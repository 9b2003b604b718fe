package llm

import (
	"context"
	"encoding/json"
	"io"

	"github.com/apimkt/portal/core/common"
	"github.com/apimkt/portal/core/errors"
	"github.com/apimkt/portal/pkg/schema"
	"github.com/gogf/gf/v2/frame/g"
	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider OpenAI兼容协议的模型上游
// 市场内产品暴露的模型网关均按OpenAI格式收敛
type OpenAIProvider struct {
	client *openai.Client
}

// ProviderConfig 上游接入配置
type ProviderConfig struct {
	Endpoint   string             // BaseURL，形如 http://gw.example.com/v1
	Credential *CredentialContext // 鉴权上下文
	PinDNS     bool               // 是否在建连前固定IP
	GatewayIPs []string           // 网关节点IP候选，优先于DNS解析
	Resolver   Resolver           // 自定义解析器，nil时按GatewayIPs或系统DNS
}

// NewOpenAIProvider 创建OpenAI格式的模型上游
func NewOpenAIProvider(ctx context.Context, cfg ProviderConfig) *OpenAIProvider {
	cred := cfg.Credential.Clone()

	endpoint := cfg.Endpoint
	hostHeader := ""
	if cfg.PinDNS {
		resolver := cfg.Resolver
		if resolver == nil && len(cfg.GatewayIPs) > 0 {
			resolver = StaticResolver(cfg.GatewayIPs)
		}
		pinned := ResolveEndpoint(ctx, endpoint, resolver)
		endpoint = pinned.URL
		hostHeader = pinned.HostHeader
	}

	config := openai.DefaultConfig(cred.APIKey)
	if endpoint != "" {
		config.BaseURL = endpoint
	}
	config.HTTPClient = newHTTPClient(cred, hostHeader)

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
	}
}

// StreamCompletion 发起流式对话补全
func (p *OpenAIProvider) StreamCompletion(ctx context.Context, req *Request) (*schema.StreamReader[*Chunk], error) {
	openaiReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    convertMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       convertTools(req.Tools),
		Stream:      true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}

	g.Log().Infof(ctx, "[LLM] 发起流式请求 - Model: %s, Messages: %d, Tools: %d",
		req.Model, len(req.Messages), len(req.Tools))

	stream, err := p.client.CreateChatCompletionStream(ctx, openaiReq)
	if err != nil {
		return nil, errors.Newf(errors.ErrUpstreamResponse, "failed to create chat completion stream: %v", err)
	}

	sr, sw := schema.Pipe[*Chunk](8)

	common.SafeGo(ctx, "llm-stream-pump", func() {
		defer sw.Close()
		defer stream.Close()

		for {
			resp, recvErr := stream.Recv()
			if recvErr == io.EOF {
				return
			}
			if recvErr != nil {
				sw.Send(nil, errors.Newf(errors.ErrUpstreamResponse, "stream recv failed: %v", recvErr))
				return
			}

			chunk := convertChunk(&resp)
			if chunk == nil {
				continue
			}
			if closed := sw.Send(chunk, nil); closed {
				return
			}
		}
	})

	return sr, nil
}

// convertChunk 归一化一条流式响应
func convertChunk(resp *openai.ChatCompletionStreamResponse) *Chunk {
	chunk := &Chunk{}

	if resp.Usage != nil {
		chunk.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
		if resp.Usage.PromptTokensDetails != nil {
			chunk.Usage.CachedTokens = resp.Usage.PromptTokensDetails.CachedTokens
		}
	}

	if len(resp.Choices) == 0 {
		if chunk.Usage == nil {
			return nil
		}
		return chunk
	}

	choice := resp.Choices[0]
	chunk.Delta = choice.Delta.Content
	chunk.ReasoningDelta = choice.Delta.ReasoningContent
	chunk.FinishReason = string(choice.FinishReason)

	for _, tc := range choice.Delta.ToolCalls {
		chunk.ToolCalls = append(chunk.ToolCalls, ToolCallDelta{
			Index:          tc.Index,
			ID:             tc.ID,
			Type:           string(tc.Type),
			Name:           tc.Function.Name,
			ArgumentsDelta: tc.Function.Arguments,
		})
	}

	return chunk
}

// convertMessages 转换为OpenAI消息格式
func convertMessages(messages []*schema.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		m := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				Index: tc.Index,
				ID:    tc.ID,
				Type:  openai.ToolType(tc.Type),
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		result = append(result, m)
	}
	return result
}

// convertTools 转换为OpenAI工具定义格式
func convertTools(tools []*schema.ToolInfo) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		if tool == nil {
			continue
		}
		params, err := json.Marshal(tool.Parameters)
		if err != nil {
			params = []byte(`{"type":"object"}`)
		}
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Desc,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return result
}
