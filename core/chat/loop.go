package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	v1 "github.com/apimkt/portal/api/portal/v1"
	"github.com/apimkt/portal/core/errors"
	"github.com/apimkt/portal/core/llm"
	"github.com/apimkt/portal/core/metrics"
	"github.com/apimkt/portal/core/toolctx"
	"github.com/apimkt/portal/pkg/schema"
	"github.com/gogf/gf/v2/frame/g"
)

// EventSink 流式事件的下游，实现方需要保证并发安全
type EventSink interface {
	Emit(event *v1.ChatStreamEvent)
}

// ToolCallRecord 一次工具调用的落库记录
type ToolCallRecord struct {
	ChatID       string
	ProductID    string
	ServerName   string
	ToolName     string
	Arguments    string
	Result       string
	CostMillis   int64
	Success      bool
	ErrorMessage string
}

// Recorder 工具调用日志的持久化接口
type Recorder interface {
	RecordToolCall(ctx context.Context, record *ToolCallRecord)
}

// ToolInvoker 工具执行入口，由MCP客户端池实现
type ToolInvoker interface {
	Invoke(ctx context.Context, qualifiedName string, args map[string]interface{}) (string, int64, error)
}

// LoopConfig 工具调用循环配置
type LoopConfig struct {
	MaxRounds        int  // 最大模型往返轮数，默认5
	FailOnRoundLimit bool // 达到上限时直接报错；默认false，改为去掉工具再调一轮拿最终答案
}

// Loop 工具调用循环
// 模型流式输出与工具执行交替进行，直到模型不再请求工具或达到轮数上限
type Loop struct {
	engine   *llm.Engine
	invoker  ToolInvoker
	tools    *toolctx.ToolContext
	recorder Recorder
	cfg      LoopConfig
}

// NewLoop 创建工具调用循环
func NewLoop(engine *llm.Engine, invoker ToolInvoker, tools *toolctx.ToolContext, recorder Recorder, cfg LoopConfig) *Loop {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 5
	}
	return &Loop{
		engine:   engine,
		invoker:  invoker,
		tools:    tools,
		recorder: recorder,
		cfg:      cfg,
	}
}

// Run 执行完整的工具调用循环，返回累计的最终回答
// 文本增量、工具调用、工具响应实时通过sink推送
func (l *Loop) Run(ctx context.Context, chatID, productID, model string, messages []*schema.Message, tracker *metrics.Tracker, sink EventSink) (string, error) {
	var answer strings.Builder
	onDelta := func(delta string) {
		answer.WriteString(delta)
		sink.Emit(v1.AnswerEvent(chatID, productID, delta))
	}

	for round := 0; round < l.cfg.MaxRounds; round++ {
		g.Log().Debugf(ctx, "[Chat %s] 工具调用轮次 %d/%d", chatID, round+1, l.cfg.MaxRounds)

		result, err := l.engine.Invoke(ctx, &llm.Request{
			Model:    model,
			Messages: messages,
			Tools:    l.tools.Tools(),
		}, tracker, onDelta)
		if err != nil {
			return answer.String(), err
		}

		if !result.HasToolCalls() {
			g.Log().Infof(ctx, "[Chat %s] 模型未请求工具，回答完成（长度: %d）", chatID, answer.Len())
			return answer.String(), nil
		}

		// 模型请求了工具，把本轮assistant消息加入历史后逐个执行
		messages = append(messages, &schema.Message{
			Role:      schema.Assistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})

		for _, call := range result.ToolCalls {
			toolMsg, err := l.dispatchTool(ctx, chatID, productID, call, sink)
			if err != nil {
				return answer.String(), err
			}
			messages = append(messages, toolMsg)
		}
	}

	if l.cfg.FailOnRoundLimit {
		return answer.String(), errors.Newf(errors.ErrRoundLimitExceeded, "tool call rounds exceeded limit %d", l.cfg.MaxRounds)
	}

	// 达到轮数上限，去掉工具定义强制模型基于已有结果收尾
	g.Log().Warningf(ctx, "[Chat %s] 达到最大工具调用轮数 %d，强制收尾", chatID, l.cfg.MaxRounds)
	if _, err := l.engine.Invoke(ctx, &llm.Request{
		Model:    model,
		Messages: messages,
	}, tracker, onDelta); err != nil {
		return answer.String(), err
	}

	return answer.String(), nil
}

// dispatchTool 执行单个工具调用并推送TOOL_CALL/TOOL_RESPONSE事件
// 未注册的工具名是硬错误；已注册工具的执行失败作为错误文本回传给模型继续
func (l *Loop) dispatchTool(ctx context.Context, chatID, productID string, call schema.ToolCall, sink EventSink) (*schema.Message, error) {
	qualifiedName := call.Function.Name

	meta := l.tools.Meta(qualifiedName)
	if meta == nil {
		return nil, errors.Newf(errors.ErrToolNotFound, "model requested unregistered tool %s", qualifiedName)
	}
	var inputSchema map[string]interface{}
	if def, ok := l.tools.Definition(qualifiedName); ok {
		inputSchema = def.InputSchema
	}

	var args map[string]interface{}
	parseErr := json.Unmarshal([]byte(call.Function.Arguments), &args)

	sink.Emit(&v1.ChatStreamEvent{
		ChatID:    chatID,
		ProductID: productID,
		MsgType:   v1.MsgTypeToolCall,
		Content: &v1.EventContent{
			ToolCall: &v1.ToolCallContent{
				ToolMeta:     meta,
				InputSchema:  inputSchema,
				ParsedInput:  args,
				ID:           call.ID,
				Type:         call.Type,
				Name:         qualifiedName,
				RawArguments: call.Function.Arguments,
			},
		},
	})

	var resultText string
	var cost int64
	var execErr error
	if parseErr != nil {
		execErr = fmt.Errorf("参数解析错误: %v", parseErr)
	} else {
		resultText, cost, execErr = l.invoker.Invoke(ctx, qualifiedName, args)
	}

	record := &ToolCallRecord{
		ChatID:     chatID,
		ProductID:  productID,
		ServerName: meta.McpServerName,
		ToolName:   qualifiedName,
		Arguments:  call.Function.Arguments,
		Result:     resultText,
		CostMillis: cost,
		Success:    execErr == nil,
	}

	content := resultText
	if execErr != nil {
		content = fmt.Sprintf("工具调用失败: %v", execErr)
		record.ErrorMessage = execErr.Error()
		g.Log().Errorf(ctx, "[Chat %s] 工具 %s 调用失败: %v", chatID, qualifiedName, execErr)
	}

	if l.recorder != nil {
		l.recorder.RecordToolCall(ctx, record)
	}

	sink.Emit(&v1.ChatStreamEvent{
		ChatID:    chatID,
		ProductID: productID,
		MsgType:   v1.MsgTypeToolResponse,
		Content: &v1.EventContent{
			ToolResponse: &v1.ToolResponseContent{
				ToolMeta:        meta,
				ParsedOutput:    content,
				CostMillis:      cost,
				ID:              call.ID,
				Name:            qualifiedName,
				RawResponseData: resultText,
			},
		},
	})

	return &schema.Message{
		Role:       schema.Tool,
		Content:    content,
		ToolCallID: call.ID,
		Name:       qualifiedName,
	}, nil
}
