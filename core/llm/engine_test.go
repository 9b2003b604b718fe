package llm

import (
	"context"
	"testing"
	"time"

	"github.com/apimkt/portal/core/errors"
	"github.com/apimkt/portal/core/metrics"
	"github.com/apimkt/portal/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider 按预置chunk序列回放流
type fakeProvider struct {
	chunks []*Chunk
	err    error
	hang   bool // 模拟上游一直不吐首字节
}

func (p *fakeProvider) StreamCompletion(ctx context.Context, _ *Request) (*schema.StreamReader[*Chunk], error) {
	sr, sw := schema.Pipe[*Chunk](4)
	go func() {
		defer sw.Close()
		if p.hang {
			<-ctx.Done()
			sw.Send(nil, ctx.Err())
			return
		}
		for _, chunk := range p.chunks {
			if closed := sw.Send(chunk, nil); closed {
				return
			}
		}
		if p.err != nil {
			sw.Send(nil, p.err)
		}
	}()
	return sr, nil
}

func intPtr(i int) *int { return &i }

func TestEngineAggregatesContentAndUsage(t *testing.T) {
	provider := &fakeProvider{chunks: []*Chunk{
		{Delta: "你好"},
		{Delta: "，世界"},
		{ReasoningDelta: "thinking"},
		{FinishReason: "stop", Usage: &Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, CachedTokens: 2}},
	}}

	tracker := metrics.NewTracker()
	tracker.Start()

	var deltas []string
	engine := NewEngine(provider, 0)
	result, err := engine.Invoke(context.Background(), &Request{Model: "test"}, tracker, func(delta string) {
		deltas = append(deltas, delta)
	})

	require.NoError(t, err)
	assert.Equal(t, "你好，世界", result.Content)
	assert.Equal(t, "thinking", result.ReasoningContent)
	assert.Equal(t, "stop", result.FinishReason)
	assert.False(t, result.HasToolCalls())
	assert.Equal(t, []string{"你好", "，世界"}, deltas)

	tracker.Stop()
	snapshot := tracker.Snapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, 10, snapshot.PromptTokens)
	assert.Equal(t, 15, snapshot.TotalTokens)
	assert.Equal(t, 2, snapshot.CachedTokens)
}

func TestEngineAggregatesToolCallDeltas(t *testing.T) {
	provider := &fakeProvider{chunks: []*Chunk{
		{ToolCalls: []ToolCallDelta{
			{Index: intPtr(0), ID: "call_1", Type: "function", Name: "weather__get_weather"},
		}},
		{ToolCalls: []ToolCallDelta{
			{Index: intPtr(0), ArgumentsDelta: `{"city":`},
			{Index: intPtr(1), ID: "call_2", Type: "function", Name: "stock__quote", ArgumentsDelta: `{}`},
		}},
		{ToolCalls: []ToolCallDelta{
			{Index: intPtr(0), ArgumentsDelta: `"Beijing"}`},
		}},
		{FinishReason: "tool_calls"},
	}}

	engine := NewEngine(provider, 0)
	tracker := metrics.NewTracker()
	tracker.Start()

	result, err := engine.Invoke(context.Background(), &Request{Model: "test"}, tracker, nil)
	require.NoError(t, err)
	require.Len(t, result.ToolCalls, 2)

	assert.Equal(t, "call_1", result.ToolCalls[0].ID)
	assert.Equal(t, "weather__get_weather", result.ToolCalls[0].Function.Name)
	assert.Equal(t, `{"city":"Beijing"}`, result.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call_2", result.ToolCalls[1].ID)
	assert.Equal(t, "tool_calls", result.FinishReason)
}

func TestEngineFirstByteTimeout(t *testing.T) {
	provider := &fakeProvider{hang: true}

	engine := NewEngine(provider, 50*time.Millisecond)
	tracker := metrics.NewTracker()
	tracker.Start()

	_, err := engine.Invoke(context.Background(), &Request{Model: "test"}, tracker, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrFirstByteTimeout))
}

func TestEngineBudgetExhaustedBeforeInvoke(t *testing.T) {
	provider := &fakeProvider{chunks: []*Chunk{{Delta: "hi"}}}

	engine := NewEngine(provider, time.Nanosecond)
	tracker := metrics.NewTracker()
	tracker.Start()
	time.Sleep(5 * time.Millisecond)

	_, err := engine.Invoke(context.Background(), &Request{Model: "test"}, tracker, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrFirstByteTimeout))
}

func TestEngineBudgetNotAppliedAfterFirstByte(t *testing.T) {
	// 首字节已经到达的轮次，后续模型往返不再受首字节预算约束
	provider := &fakeProvider{chunks: []*Chunk{{Delta: "继续"}, {FinishReason: "stop"}}}

	engine := NewEngine(provider, time.Nanosecond)
	tracker := metrics.NewTracker()
	tracker.Start()
	tracker.RecordFirstByte()
	time.Sleep(5 * time.Millisecond)

	result, err := engine.Invoke(context.Background(), &Request{Model: "test"}, tracker, nil)
	require.NoError(t, err)
	assert.Equal(t, "继续", result.Content)
}

func TestEngineUpstreamError(t *testing.T) {
	provider := &fakeProvider{
		chunks: []*Chunk{{Delta: "partial"}},
		err:    errors.New(errors.ErrUpstreamResponse, "bad chunk"),
	}

	engine := NewEngine(provider, 0)
	tracker := metrics.NewTracker()
	tracker.Start()

	_, err := engine.Invoke(context.Background(), &Request{Model: "test"}, tracker, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrUpstreamResponse))
	assert.Equal(t, errors.KindUpstreamResponse, errors.KindOf(err))
}
