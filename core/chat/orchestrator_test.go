package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	v1 "github.com/apimkt/portal/api/portal/v1"
	"github.com/apimkt/portal/core/errors"
	"github.com/apimkt/portal/core/llm"
	"github.com/apimkt/portal/core/mcp"
	"github.com/apimkt/portal/core/metrics"
	"github.com/apimkt/portal/core/toolctx"
	"github.com/apimkt/portal/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memTurns 内存实现的轮次管理，记录状态迁移
type memTurns struct {
	mu     sync.Mutex
	seq    int
	states map[string]string
}

func newMemTurns() *memTurns {
	return &memTurns{states: make(map[string]string)}
}

func (m *memTurns) Allocate(_ context.Context, alloc *TurnAllocation) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	chatID := alloc.ProductID + "-chat"
	m.states[chatID] = "INIT"
	return chatID, nil
}

func (m *memTurns) MarkProcessing(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states[chatID] != "INIT" {
		return errors.New(errors.ErrInvalidTransition, "not in INIT")
	}
	m.states[chatID] = "PROCESSING"
	return nil
}

func (m *memTurns) MarkSuccess(_ context.Context, chatID, answer string, _ *metrics.ChatUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states[chatID] != "PROCESSING" {
		return errors.New(errors.ErrInvalidTransition, "not in PROCESSING")
	}
	if answer == "" {
		return errors.New(errors.ErrInvalidTransition, "empty answer")
	}
	m.states[chatID] = "SUCCESS"
	return nil
}

func (m *memTurns) MarkFailed(_ context.Context, chatID string, _ error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[chatID] = "FAILED"
	return nil
}

func (m *memTurns) state(chatID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[chatID]
}

// hangingProvider 不吐任何内容，直到上下文取消
type hangingProvider struct{}

func (hangingProvider) StreamCompletion(ctx context.Context, _ *llm.Request) (*schema.StreamReader[*llm.Chunk], error) {
	sr, sw := schema.Pipe[*llm.Chunk](1)
	go func() {
		defer sw.Close()
		<-ctx.Done()
		sw.Send(nil, ctx.Err())
	}()
	return sr, nil
}

// countingPool 记录CloseAll调用次数
type countingPool struct {
	closes int32
}

func (p *countingPool) SetToolDescriptor(string, mcp.ToolDescriptor) {}

func (p *countingPool) Len() int { return 0 }

func (p *countingPool) ToolContext(context.Context) *toolctx.ToolContext {
	return toolctx.Build(nil)
}

func (p *countingPool) Invoke(context.Context, string, map[string]interface{}) (string, int64, error) {
	return "", 0, errors.New(errors.ErrToolNotFound, "no tools registered")
}

func (p *countingPool) CloseAll(context.Context) {
	atomic.AddInt32(&p.closes, 1)
}

// failingProvider 建流即失败
type failingProvider struct{}

func (failingProvider) StreamCompletion(context.Context, *llm.Request) (*schema.StreamReader[*llm.Chunk], error) {
	return nil, errors.New(errors.ErrUpstreamResponse, "upstream rejected request")
}

func TestOrchestratorFanOutIsolation(t *testing.T) {
	turns := newMemTurns()
	sink := &collectSink{}

	providers := map[string]llm.Provider{
		"prod-ok": &scriptedProvider{rounds: [][]*llm.Chunk{
			{{Delta: "答案"}, {FinishReason: "stop", Usage: &llm.Usage{TotalTokens: 12}}},
		}},
		"prod-bad": failingProvider{},
	}

	o := NewOrchestrator(turns, nil, Config{MaxRounds: 3})
	o.SetProviderFactory(func(_ context.Context, run *ProductRun) llm.Provider {
		return providers[run.ProductID]
	})

	o.Run(context.Background(), &RunRequest{
		ConversationID: "conv-1",
		QuestionID:     "q-1",
		Question:       "你好",
		Runs: []*ProductRun{
			{ProductID: "prod-ok", Model: "m"},
			{ProductID: "prod-bad", Model: "m"},
		},
	}, sink)

	// 一个产品失败不影响另一个产品
	assert.Equal(t, "SUCCESS", turns.state("prod-ok-chat"))
	assert.Equal(t, "FAILED", turns.state("prod-bad-chat"))

	// STOP 必定是最后一个事件且只有一个
	require.NotEmpty(t, sink.events)
	var stopCount int
	for _, e := range sink.events {
		if e.MsgType == v1.MsgTypeStop {
			stopCount++
		}
	}
	assert.Equal(t, 1, stopCount)
	assert.Equal(t, v1.MsgTypeStop, sink.events[len(sink.events)-1].MsgType)

	// 失败产品携带归一后的错误种类
	var sawError bool
	for _, e := range sink.events {
		if e.MsgType == v1.MsgTypeError && e.ProductID == "prod-bad" {
			sawError = true
			assert.Equal(t, string(errors.KindUpstreamResponse), e.ErrorKind)
		}
	}
	assert.True(t, sawError)

	// 成功产品收到携带用量的完成标记
	var sawFinal bool
	for _, e := range sink.events {
		if e.MsgType == v1.MsgTypeAnswer && e.ProductID == "prod-ok" && e.ChatUsage != nil {
			sawFinal = true
			assert.Equal(t, 12, e.ChatUsage.TotalTokens)
			assert.Empty(t, e.Content.Answer)
		}
	}
	assert.True(t, sawFinal)
}

func TestOrchestratorEmitsUserEventPerProduct(t *testing.T) {
	turns := newMemTurns()
	sink := &collectSink{}

	o := NewOrchestrator(turns, nil, Config{})
	o.SetProviderFactory(func(context.Context, *ProductRun) llm.Provider {
		return &scriptedProvider{rounds: [][]*llm.Chunk{{{Delta: "ok"}}}}
	})

	o.Run(context.Background(), &RunRequest{
		ConversationID: "conv-1",
		QuestionID:     "q-1",
		Question:       "问题内容",
		Runs: []*ProductRun{
			{ProductID: "a", Model: "m"},
			{ProductID: "b", Model: "m"},
		},
	}, sink)

	users := 0
	for _, e := range sink.events {
		if e.MsgType == v1.MsgTypeUser {
			users++
			assert.Equal(t, "问题内容", e.Content.Question)
			assert.Empty(t, e.Content.Answer)
		}
	}
	assert.Equal(t, 2, users)
}

func TestOrchestratorCancelFinalizesTurnAndClosesPool(t *testing.T) {
	// 调用方断开：轮次落为FAILED，客户端池只关闭一次，STOP仍然收尾
	turns := newMemTurns()
	sink := &collectSink{}
	pool := &countingPool{}

	o := NewOrchestrator(turns, nil, Config{MaxRounds: 3})
	o.SetProviderFactory(func(context.Context, *ProductRun) llm.Provider {
		return hangingProvider{}
	})
	o.SetPoolFactory(func([]mcp.Config) toolPool {
		return pool
	})

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()
	defer cancel()

	o.Run(ctx, &RunRequest{
		ConversationID: "conv-1",
		QuestionID:     "q-1",
		Question:       "你好",
		Runs:           []*ProductRun{{ProductID: "prod-hang", Model: "m"}},
	}, sink)

	assert.Equal(t, "FAILED", turns.state("prod-hang-chat"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&pool.closes))

	var sawError bool
	for _, e := range sink.events {
		if e.MsgType == v1.MsgTypeError && e.ProductID == "prod-hang" {
			sawError = true
		}
	}
	assert.True(t, sawError)
	assert.Equal(t, v1.MsgTypeStop, sink.events[len(sink.events)-1].MsgType)
}

func TestOrchestratorStopWithoutProducts(t *testing.T) {
	sink := &collectSink{}
	o := NewOrchestrator(newMemTurns(), nil, Config{})

	o.Run(context.Background(), &RunRequest{Question: "hi"}, sink)

	require.Len(t, sink.events, 1)
	assert.Equal(t, v1.MsgTypeStop, sink.events[0].MsgType)
}
