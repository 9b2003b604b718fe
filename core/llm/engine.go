package llm

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/apimkt/portal/core/errors"
	"github.com/apimkt/portal/core/metrics"
	"github.com/apimkt/portal/pkg/schema"
	"github.com/gogf/gf/v2/frame/g"
)

// Engine 模型调用引擎，负责单轮流式调用的分发与聚合
// 首字节超时只约束轮次的首个内容字节，按轮次预算扣减
// 首字节到达后，后续的模型往返不再受该预算限制
type Engine struct {
	provider        Provider
	firstByteBudget time.Duration
}

// NewEngine 创建调用引擎
// firstByteBudget 为0时不启用首字节超时
func NewEngine(provider Provider, firstByteBudget time.Duration) *Engine {
	return &Engine{
		provider:        provider,
		firstByteBudget: firstByteBudget,
	}
}

// RoundResult 单轮调用的聚合结果
type RoundResult struct {
	Content          string
	ReasoningContent string
	ToolCalls        []schema.ToolCall
	FinishReason     string
}

// HasToolCalls 本轮是否请求了工具调用
func (r *RoundResult) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Invoke 发起一轮流式调用
// 文本增量通过onDelta实时回调，工具调用增量按Index聚合后随结果返回
// usage与首字节时间写入tracker
func (e *Engine) Invoke(ctx context.Context, req *Request, tracker *metrics.Tracker, onDelta func(delta string)) (*RoundResult, error) {
	remaining := time.Duration(0)
	if e.firstByteBudget > 0 && !tracker.FirstByteSeen() {
		remaining = e.firstByteBudget - tracker.Running()
		if remaining <= 0 {
			return nil, errors.New(errors.ErrFirstByteTimeout, "first byte budget exhausted before invocation")
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	firstByte := false
	var budgetTimer *time.Timer
	if remaining > 0 {
		budgetTimer = time.AfterFunc(remaining, cancel)
		defer budgetTimer.Stop()
	}

	reader, err := e.provider.StreamCompletion(streamCtx, req)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	result := &RoundResult{}
	var contentBuf, reasoningBuf []byte
	calls := make(map[int]*schema.ToolCall)
	var orphanCalls []schema.ToolCall

	for {
		chunk, recvErr := reader.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			// 首字节预算耗尽导致的取消归一为超时错误
			if !firstByte && remaining > 0 && streamCtx.Err() != nil && ctx.Err() == nil {
				return nil, errors.New(errors.ErrFirstByteTimeout, "upstream produced no output within first byte budget")
			}
			if errors.IsAppError(recvErr) {
				return nil, recvErr
			}
			return nil, errors.Newf(errors.ErrStreamingFailed, "stream interrupted: %v", recvErr)
		}
		if chunk == nil {
			continue
		}

		if !firstByte {
			firstByte = true
			tracker.RecordFirstByte()
			if budgetTimer != nil {
				budgetTimer.Stop()
			}
		}

		if chunk.Usage != nil {
			tracker.AddUsage(chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens, chunk.Usage.TotalTokens, chunk.Usage.CachedTokens)
		}

		if chunk.Delta != "" {
			contentBuf = append(contentBuf, chunk.Delta...)
			if onDelta != nil {
				onDelta(chunk.Delta)
			}
		}
		if chunk.ReasoningDelta != "" {
			reasoningBuf = append(reasoningBuf, chunk.ReasoningDelta...)
		}
		if chunk.FinishReason != "" {
			result.FinishReason = chunk.FinishReason
		}

		for _, delta := range chunk.ToolCalls {
			mergeToolCallDelta(calls, &orphanCalls, delta)
		}
	}

	result.Content = string(contentBuf)
	result.ReasoningContent = string(reasoningBuf)
	result.ToolCalls = collectToolCalls(calls, orphanCalls)

	g.Log().Debugf(ctx, "[LLM] 本轮完成 - Content: %d bytes, ToolCalls: %d, FinishReason: %s",
		len(result.Content), len(result.ToolCalls), result.FinishReason)

	return result, nil
}

// mergeToolCallDelta 按Index聚合工具调用增量
// 部分上游不带Index，此时按到达顺序独立成条
func mergeToolCallDelta(calls map[int]*schema.ToolCall, orphans *[]schema.ToolCall, delta ToolCallDelta) {
	if delta.Index == nil {
		*orphans = append(*orphans, schema.ToolCall{
			ID:   delta.ID,
			Type: delta.Type,
			Function: schema.FunctionCall{
				Name:      delta.Name,
				Arguments: delta.ArgumentsDelta,
			},
		})
		return
	}

	idx := *delta.Index
	call, ok := calls[idx]
	if !ok {
		call = &schema.ToolCall{Index: delta.Index}
		calls[idx] = call
	}
	if delta.ID != "" {
		call.ID = delta.ID
	}
	if delta.Type != "" {
		call.Type = delta.Type
	}
	if delta.Name != "" {
		call.Function.Name = delta.Name
	}
	call.Function.Arguments += delta.ArgumentsDelta
}

// collectToolCalls 按Index排序输出聚合结果
func collectToolCalls(calls map[int]*schema.ToolCall, orphans []schema.ToolCall) []schema.ToolCall {
	if len(calls) == 0 && len(orphans) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	result := make([]schema.ToolCall, 0, len(calls)+len(orphans))
	for _, idx := range indexes {
		result = append(result, *calls[idx])
	}
	result = append(result, orphans...)
	return result
}
