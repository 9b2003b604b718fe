package metrics

import (
	"sync"
	"time"
)

// ChatUsage 单轮对话的用量统计
// 仅在轮次终态时整体落库，不做部分持久化
type ChatUsage struct {
	ElapsedTime      int64 `json:"elapsedTime"`      // 总耗时（毫秒）
	FirstByteTimeout int64 `json:"firstByteTimeout"` // 首字节耗时（毫秒）
	PromptTokens     int   `json:"promptTokens"`
	CompletionTokens int   `json:"completionTokens"`
	TotalTokens      int   `json:"totalTokens"`
	CachedTokens     int   `json:"cachedTokens"`
}

// Tracker 单轮对话的计时与用量累加器
// 一个轮次持有一个 Tracker，多轮模型往返的用量在此累加
type Tracker struct {
	mu        sync.Mutex
	start     time.Time
	started   bool
	stopped   bool
	elapsed   int64
	firstByte int64
	gotFirst  bool
	usage     ChatUsage
	hasUsage  bool
}

// NewTracker 创建计时器
func NewTracker() *Tracker {
	return &Tracker{}
}

// Start 开始计时（单调时钟）
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true
	t.start = time.Now()
}

// RecordFirstByte 记录首个内容字节的到达时刻
// 只有第一次调用生效，后续调用为空操作
func (t *Tracker) RecordFirstByte() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.gotFirst {
		return
	}
	t.gotFirst = true
	t.firstByte = time.Since(t.start).Milliseconds()
}

// FirstByteSeen 本轮次是否已收到首个内容字节
func (t *Tracker) FirstByteSeen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gotFirst
}

// AddUsage 累加一次模型往返上报的token用量
func (t *Tracker) AddUsage(prompt, completion, total, cached int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hasUsage = true
	t.usage.PromptTokens += prompt
	t.usage.CompletionTokens += completion
	t.usage.TotalTokens += total
	t.usage.CachedTokens += cached
}

// Stop 冻结耗时，若存在用量则回填耗时字段
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.stopped {
		return
	}
	t.stopped = true
	t.elapsed = time.Since(t.start).Milliseconds()
	t.usage.ElapsedTime = t.elapsed
	t.usage.FirstByteTimeout = t.firstByte
}

// Elapsed 返回已冻结的总耗时（毫秒），未 Stop 时返回0
func (t *Tracker) Elapsed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed
}

// Running 返回自 Start 起的实时耗时，未 Start 时返回0
// 引擎按该值扣减首字节预算
func (t *Tracker) Running() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return 0
	}
	return time.Since(t.start)
}

// Snapshot 返回定稿的用量统计
// 引擎未产生任何用量时返回nil
func (t *Tracker) Snapshot() *ChatUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasUsage && !t.gotFirst {
		return nil
	}
	u := t.usage
	return &u
}
