package chat

import (
	"context"
	"sync"
	"testing"

	v1 "github.com/apimkt/portal/api/portal/v1"
	"github.com/apimkt/portal/core/errors"
	"github.com/apimkt/portal/core/llm"
	"github.com/apimkt/portal/core/metrics"
	"github.com/apimkt/portal/core/toolctx"
	"github.com/apimkt/portal/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider 按预设轮次脚本回放模型输出
type scriptedProvider struct {
	mu       sync.Mutex
	rounds   [][]*llm.Chunk
	call     int
	requests []*llm.Request
}

func (p *scriptedProvider) StreamCompletion(_ context.Context, req *llm.Request) (*schema.StreamReader[*llm.Chunk], error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var chunks []*llm.Chunk
	if p.call < len(p.rounds) {
		chunks = p.rounds[p.call]
	}
	p.call++
	p.mu.Unlock()

	sr, sw := schema.Pipe[*llm.Chunk](4)
	go func() {
		defer sw.Close()
		for _, chunk := range chunks {
			if closed := sw.Send(chunk, nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

// collectSink 收集所有事件供断言
type collectSink struct {
	mu     sync.Mutex
	events []*v1.ChatStreamEvent
}

func (s *collectSink) Emit(event *v1.ChatStreamEvent) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *collectSink) types() []v1.MsgType {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]v1.MsgType, 0, len(s.events))
	for _, e := range s.events {
		result = append(result, e.MsgType)
	}
	return result
}

// fakeInvoker 固定返回每个工具的预设结果
type fakeInvoker struct {
	results map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeInvoker) Invoke(_ context.Context, qualifiedName string, _ map[string]interface{}) (string, int64, error) {
	f.calls = append(f.calls, qualifiedName)
	if err, ok := f.errs[qualifiedName]; ok {
		return "", 3, err
	}
	return f.results[qualifiedName], 3, nil
}

type memRecorder struct {
	mu      sync.Mutex
	records []*ToolCallRecord
}

func (r *memRecorder) RecordToolCall(_ context.Context, record *ToolCallRecord) {
	r.mu.Lock()
	r.records = append(r.records, record)
	r.mu.Unlock()
}

func testTools() *toolctx.ToolContext {
	return toolctx.Build([]toolctx.Entry{
		{
			Meta: &v1.ToolMeta{
				ToolName:          "weather__get_weather",
				McpServerName:     "weather",
				ToolDisplayName:   "查天气",
				ServerDisplayName: "天气服务",
			},
			Description: "查询城市天气",
			InputSchema: map[string]interface{}{"type": "object"},
		},
		{
			Meta: &v1.ToolMeta{
				ToolName:          "stock__quote",
				McpServerName:     "stock",
				ToolDisplayName:   "查行情",
				ServerDisplayName: "行情服务",
			},
			Description: "查询股票行情",
			InputSchema: map[string]interface{}{"type": "object"},
		},
	})
}

func toolCallChunk(index int, id, name, args string) *llm.Chunk {
	return &llm.Chunk{ToolCalls: []llm.ToolCallDelta{
		{Index: &index, ID: id, Type: "function", Name: name, ArgumentsDelta: args},
	}}
}

func TestLoopEventOrderAcrossToolRounds(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]*llm.Chunk{
		{
			{Delta: "让我查一下。"},
			toolCallChunk(0, "call_1", "weather__get_weather", `{"city":"Beijing"}`),
			{FinishReason: "tool_calls"},
		},
		{
			toolCallChunk(0, "call_2", "stock__quote", `{}`),
			{FinishReason: "tool_calls"},
		},
		{
			{Delta: "最终答案"},
			{FinishReason: "stop", Usage: &llm.Usage{TotalTokens: 30}},
		},
	}}

	invoker := &fakeInvoker{results: map[string]string{
		"weather__get_weather": "sunny",
		"stock__quote":         "100.5",
	}}
	recorder := &memRecorder{}
	sink := &collectSink{}
	tracker := metrics.NewTracker()
	tracker.Start()

	loop := NewLoop(llm.NewEngine(provider, 0), invoker, testTools(), recorder, LoopConfig{MaxRounds: 5})
	answer, err := loop.Run(context.Background(), "chat-1", "prod-1", "test-model", []*schema.Message{
		{Role: schema.User, Content: "北京天气和大盘怎么样"},
	}, tracker, sink)

	require.NoError(t, err)
	assert.Equal(t, "让我查一下。最终答案", answer)
	assert.Equal(t, []v1.MsgType{
		v1.MsgTypeAnswer,
		v1.MsgTypeToolCall,
		v1.MsgTypeToolResponse,
		v1.MsgTypeToolCall,
		v1.MsgTypeToolResponse,
		v1.MsgTypeAnswer,
	}, sink.types())

	// TOOL_CALL事件携带现场构建的元信息
	tc := sink.events[1].Content.ToolCall
	require.NotNil(t, tc)
	assert.Equal(t, "weather__get_weather", tc.Name)
	assert.Equal(t, "天气服务", tc.ToolMeta.ServerDisplayName)
	assert.Equal(t, "Beijing", tc.ParsedInput["city"])

	tr := sink.events[2].Content.ToolResponse
	require.NotNil(t, tr)
	assert.Equal(t, "sunny", tr.ParsedOutput)
	assert.Equal(t, int64(3), tr.CostMillis)

	assert.Equal(t, []string{"weather__get_weather", "stock__quote"}, invoker.calls)
	require.Len(t, recorder.records, 2)
	assert.True(t, recorder.records[0].Success)
}

func TestLoopUnknownToolIsHardError(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]*llm.Chunk{
		{toolCallChunk(0, "call_1", "ghost__vanish", `{}`)},
	}}

	sink := &collectSink{}
	tracker := metrics.NewTracker()
	tracker.Start()

	loop := NewLoop(llm.NewEngine(provider, 0), &fakeInvoker{}, testTools(), nil, LoopConfig{})
	_, err := loop.Run(context.Background(), "chat-1", "prod-1", "m", []*schema.Message{
		{Role: schema.User, Content: "hi"},
	}, tracker, sink)

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrToolNotFound))
	assert.Equal(t, errors.KindToolResolution, errors.KindOf(err))
	// 未注册的工具不应产生TOOL_CALL/TOOL_RESPONSE事件
	for _, e := range sink.events {
		assert.NotEqual(t, v1.MsgTypeToolCall, e.MsgType)
	}
}

func TestLoopToolFailureFeedsBackAndContinues(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]*llm.Chunk{
		{toolCallChunk(0, "call_1", "weather__get_weather", `{"city":"Beijing"}`)},
		{{Delta: "天气服务暂时不可用"}},
	}}

	invoker := &fakeInvoker{errs: map[string]error{
		"weather__get_weather": errors.New(errors.ErrMCPCallFailed, "connection refused"),
	}}
	recorder := &memRecorder{}
	sink := &collectSink{}
	tracker := metrics.NewTracker()
	tracker.Start()

	loop := NewLoop(llm.NewEngine(provider, 0), invoker, testTools(), recorder, LoopConfig{})
	answer, err := loop.Run(context.Background(), "chat-1", "prod-1", "m", []*schema.Message{
		{Role: schema.User, Content: "北京天气"},
	}, tracker, sink)

	require.NoError(t, err)
	assert.Equal(t, "天气服务暂时不可用", answer)
	require.Len(t, recorder.records, 1)
	assert.False(t, recorder.records[0].Success)
	assert.Contains(t, recorder.records[0].ErrorMessage, "connection refused")

	// 失败结果作为错误文本回传给模型
	require.Len(t, provider.requests, 2)
	last := provider.requests[1].Messages
	assert.Equal(t, schema.Tool, last[len(last)-1].Role)
	assert.Contains(t, last[len(last)-1].Content, "工具调用失败")
}

func TestLoopRoundLimitForcesFinalAnswer(t *testing.T) {
	tooling := toolCallChunk(0, "call_x", "weather__get_weather", `{}`)
	provider := &scriptedProvider{rounds: [][]*llm.Chunk{
		{tooling},
		{tooling},
		{{Delta: "基于已有结果的收尾"}},
	}}

	invoker := &fakeInvoker{results: map[string]string{"weather__get_weather": "sunny"}}
	sink := &collectSink{}
	tracker := metrics.NewTracker()
	tracker.Start()

	loop := NewLoop(llm.NewEngine(provider, 0), invoker, testTools(), nil, LoopConfig{MaxRounds: 2})
	answer, err := loop.Run(context.Background(), "chat-1", "prod-1", "m", []*schema.Message{
		{Role: schema.User, Content: "hi"},
	}, tracker, sink)

	require.NoError(t, err)
	assert.Equal(t, "基于已有结果的收尾", answer)

	// 收尾轮不再携带工具定义
	require.Len(t, provider.requests, 3)
	assert.NotEmpty(t, provider.requests[0].Tools)
	assert.Empty(t, provider.requests[2].Tools)
}

func TestLoopRoundLimitCanFailHard(t *testing.T) {
	tooling := toolCallChunk(0, "call_x", "weather__get_weather", `{}`)
	provider := &scriptedProvider{rounds: [][]*llm.Chunk{
		{tooling},
		{tooling},
	}}

	invoker := &fakeInvoker{results: map[string]string{"weather__get_weather": "sunny"}}
	tracker := metrics.NewTracker()
	tracker.Start()

	loop := NewLoop(llm.NewEngine(provider, 0), invoker, testTools(), nil, LoopConfig{MaxRounds: 2, FailOnRoundLimit: true})
	_, err := loop.Run(context.Background(), "chat-1", "prod-1", "m", []*schema.Message{
		{Role: schema.User, Content: "hi"},
	}, tracker, &collectSink{})

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrRoundLimitExceeded))
}

func TestLoopMalformedArgumentsFeedBack(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]*llm.Chunk{
		{toolCallChunk(0, "call_1", "weather__get_weather", `{broken`)},
		{{Delta: "参数异常"}},
	}}

	invoker := &fakeInvoker{}
	sink := &collectSink{}
	tracker := metrics.NewTracker()
	tracker.Start()

	loop := NewLoop(llm.NewEngine(provider, 0), invoker, testTools(), nil, LoopConfig{})
	answer, err := loop.Run(context.Background(), "chat-1", "prod-1", "m", []*schema.Message{
		{Role: schema.User, Content: "hi"},
	}, tracker, sink)

	require.NoError(t, err)
	assert.Equal(t, "参数异常", answer)
	// 参数解析失败不应触达工具
	assert.Empty(t, invoker.calls)
}
