package chat

import (
	"context"
	"sync"
	"time"

	v1 "github.com/apimkt/portal/api/portal/v1"
	"github.com/apimkt/portal/core/errors"
	"github.com/apimkt/portal/core/llm"
	"github.com/apimkt/portal/core/mcp"
	"github.com/apimkt/portal/core/metrics"
	"github.com/apimkt/portal/core/toolctx"
	"github.com/apimkt/portal/pkg/schema"
	"github.com/gogf/gf/v2/frame/g"
	"golang.org/x/sync/errgroup"
)

// TurnAllocation 新轮次的分配参数
// 同一问答交换的重试共用 (ConversationID, QuestionID, ProductID)，由序号区分
type TurnAllocation struct {
	SessionID      string
	UserID         string
	ConversationID string
	QuestionID     string
	ProductID      string
	Question       string
	Attachments    []*v1.Attachment
}

// TurnManager 轮次状态管理，负责序号分配与状态迁移
type TurnManager interface {
	// Allocate 为一个产品分配新轮次，返回chatID，初始状态INIT
	Allocate(ctx context.Context, alloc *TurnAllocation) (string, error)
	// MarkProcessing INIT -> PROCESSING
	MarkProcessing(ctx context.Context, chatID string) error
	// MarkSuccess PROCESSING -> SUCCESS，落库最终回答与用量
	MarkSuccess(ctx context.Context, chatID, answer string, usage *metrics.ChatUsage) error
	// MarkFailed PROCESSING -> FAILED，落库失败原因
	MarkFailed(ctx context.Context, chatID string, cause error) error
}

// ProductRun 单个产品的调用参数，由业务层组装
type ProductRun struct {
	ProductID       string
	Model           string
	Endpoint        string
	Credential      *llm.CredentialContext
	PinDNS          bool
	GatewayIPs      []string
	EnableWebSearch bool
	MCPConfigs      []mcp.Config
	ToolDescriptors map[string]mcp.ToolDescriptor
	SystemPrompt    string
	History         []*schema.Message
}

// RunRequest 一次提问的完整调用请求
type RunRequest struct {
	SessionID      string
	UserID         string
	ConversationID string
	QuestionID     string
	Question       string
	Attachments    []*v1.Attachment
	Runs           []*ProductRun
}

// Config 编排器配置
type Config struct {
	MaxRounds        int           // 单产品最大工具调用轮数
	FailOnRoundLimit bool          // 达到上限时是否直接报错
	FirstByteBudget  time.Duration // 首字节超时预算，0表示不限制
}

// ProviderFactory 模型上游构造器，测试时可替换
type ProviderFactory func(ctx context.Context, run *ProductRun) llm.Provider

// toolPool 单轮次持有的MCP客户端池
type toolPool interface {
	SetToolDescriptor(qualifiedName string, d mcp.ToolDescriptor)
	Len() int
	ToolContext(ctx context.Context) *toolctx.ToolContext
	Invoke(ctx context.Context, qualifiedName string, args map[string]interface{}) (string, int64, error)
	CloseAll(ctx context.Context)
}

// PoolFactory MCP客户端池构造器，测试时可替换
type PoolFactory func(configs []mcp.Config) toolPool

// Orchestrator 多产品并行调用编排器
// 各产品独立执行互不取消，全部到达终态后推送单个STOP事件
type Orchestrator struct {
	turns       TurnManager
	recorder    Recorder
	cfg         Config
	newProvider ProviderFactory
	newPool     PoolFactory
}

// NewOrchestrator 创建编排器
func NewOrchestrator(turns TurnManager, recorder Recorder, cfg Config) *Orchestrator {
	return &Orchestrator{
		turns:    turns,
		recorder: recorder,
		cfg:      cfg,
		newProvider: func(ctx context.Context, run *ProductRun) llm.Provider {
			cred := run.Credential.Clone()
			// 联网搜索作为查询参数透传给OpenAI兼容网关
			if run.EnableWebSearch {
				if cred.QueryParams == nil {
					cred.QueryParams = make(map[string]string)
				}
				cred.QueryParams["enable_search"] = "true"
			}
			return llm.NewOpenAIProvider(ctx, llm.ProviderConfig{
				Endpoint:   run.Endpoint,
				Credential: cred,
				PinDNS:     run.PinDNS,
				GatewayIPs: run.GatewayIPs,
			})
		},
		newPool: func(configs []mcp.Config) toolPool {
			return mcp.NewPool(configs)
		},
	}
}

// SetProviderFactory 替换模型上游构造器
func (o *Orchestrator) SetProviderFactory(factory ProviderFactory) {
	o.newProvider = factory
}

// SetPoolFactory 替换MCP客户端池构造器
func (o *Orchestrator) SetPoolFactory(factory PoolFactory) {
	o.newPool = factory
}

// lockedSink 对下游sink做串行化，多个产品协程共用一条事件流
type lockedSink struct {
	mu   sync.Mutex
	sink EventSink
}

func (s *lockedSink) Emit(event *v1.ChatStreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink.Emit(event)
}

// Run 对请求内所有产品并行执行问答
// 单个产品失败只影响自身，STOP事件在所有产品终态后必定推送
func (o *Orchestrator) Run(ctx context.Context, req *RunRequest, sink EventSink) {
	safe := &lockedSink{sink: sink}

	// 不使用WithContext：一个产品失败不应取消其它产品
	var group errgroup.Group
	for _, run := range req.Runs {
		run := run
		group.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					g.Log().Errorf(ctx, "[Orchestrator] 产品 %s 执行panic: %v", run.ProductID, r)
					safe.Emit(&v1.ChatStreamEvent{
						ProductID: run.ProductID,
						MsgType:   v1.MsgTypeError,
						ErrorKind: string(errors.KindUnknown),
						Message:   "internal error",
					})
				}
			}()
			o.runProduct(ctx, req, run, safe)
			return nil
		})
	}
	group.Wait()

	safe.Emit(&v1.ChatStreamEvent{MsgType: v1.MsgTypeStop})
}

// runProduct 执行单个产品的完整轮次
func (o *Orchestrator) runProduct(ctx context.Context, req *RunRequest, run *ProductRun, sink EventSink) {
	chatID, err := o.turns.Allocate(ctx, &TurnAllocation{
		SessionID:      req.SessionID,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		QuestionID:     req.QuestionID,
		ProductID:      run.ProductID,
		Question:       req.Question,
		Attachments:    req.Attachments,
	})
	if err != nil {
		g.Log().Errorf(ctx, "[Orchestrator] 产品 %s 轮次分配失败: %v", run.ProductID, err)
		o.emitError(sink, "", run.ProductID, err)
		return
	}

	sink.Emit(&v1.ChatStreamEvent{
		ChatID:    chatID,
		ProductID: run.ProductID,
		MsgType:   v1.MsgTypeUser,
		Content:   &v1.EventContent{Question: req.Question},
	})

	if err := o.turns.MarkProcessing(ctx, chatID); err != nil {
		g.Log().Errorf(ctx, "[Orchestrator] Chat %s 进入PROCESSING失败: %v", chatID, err)
		o.emitError(sink, chatID, run.ProductID, err)
		return
	}

	tracker := metrics.NewTracker()
	tracker.Start()

	answer, runErr := o.invokeProduct(ctx, req, run, chatID, tracker, sink)
	tracker.Stop()
	usage := tracker.Snapshot()

	// 终态落库不随调用方断开而取消
	finCtx := context.WithoutCancel(ctx)

	if runErr != nil {
		o.emitError(sink, chatID, run.ProductID, runErr)
		if err := o.turns.MarkFailed(finCtx, chatID, runErr); err != nil {
			g.Log().Errorf(ctx, "[Orchestrator] Chat %s 进入FAILED失败: %v", chatID, err)
		}
		return
	}

	if err := o.turns.MarkSuccess(finCtx, chatID, answer, usage); err != nil {
		g.Log().Errorf(ctx, "[Orchestrator] Chat %s 进入SUCCESS失败: %v", chatID, err)
		o.emitError(sink, chatID, run.ProductID, err)
		return
	}

	// 空内容ANSWER事件携带用量，作为该产品的完成标记
	sink.Emit(&v1.ChatStreamEvent{
		ChatID:    chatID,
		ProductID: run.ProductID,
		MsgType:   v1.MsgTypeAnswer,
		Content:   &v1.EventContent{},
		ChatUsage: usage,
	})
}

// invokeProduct 建立MCP客户端池并执行工具调用循环
// 客户端池在本函数所有退出路径上关闭
func (o *Orchestrator) invokeProduct(ctx context.Context, req *RunRequest, run *ProductRun, chatID string, tracker *metrics.Tracker, sink EventSink) (string, error) {
	pool := o.newPool(run.MCPConfigs)
	defer pool.CloseAll(ctx)

	for name, d := range run.ToolDescriptors {
		pool.SetToolDescriptor(name, d)
	}

	tools := pool.ToolContext(ctx)
	g.Log().Infof(ctx, "[Orchestrator] Chat %s 可用工具 %d 个（来自 %d 个MCP服务）", chatID, tools.Len(), pool.Len())

	messages := make([]*schema.Message, 0, len(run.History)+2)
	if run.SystemPrompt != "" {
		messages = append(messages, &schema.Message{Role: schema.System, Content: run.SystemPrompt})
	}
	messages = append(messages, run.History...)
	messages = append(messages, &schema.Message{Role: schema.User, Content: req.Question})

	engine := llm.NewEngine(o.newProvider(ctx, run), o.cfg.FirstByteBudget)
	loop := NewLoop(engine, pool, tools, o.recorder, LoopConfig{
		MaxRounds:        o.cfg.MaxRounds,
		FailOnRoundLimit: o.cfg.FailOnRoundLimit,
	})

	return loop.Run(ctx, chatID, run.ProductID, run.Model, messages, tracker, sink)
}

// emitError 推送ERROR事件，错误种类按错误码归一
func (o *Orchestrator) emitError(sink EventSink, chatID, productID string, err error) {
	sink.Emit(&v1.ChatStreamEvent{
		ChatID:    chatID,
		ProductID: productID,
		MsgType:   v1.MsgTypeError,
		ErrorKind: string(errors.KindOf(err)),
		Message:   err.Error(),
	})
}
