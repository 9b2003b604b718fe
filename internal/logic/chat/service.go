package chat

import (
	"context"
	"encoding/json"
	"time"

	v1 "github.com/apimkt/portal/api/portal/v1"
	"github.com/apimkt/portal/core/cache"
	"github.com/apimkt/portal/core/chat"
	"github.com/apimkt/portal/core/errors"
	"github.com/apimkt/portal/core/llm"
	"github.com/apimkt/portal/core/mcp"
	icache "github.com/apimkt/portal/internal/cache"
	"github.com/apimkt/portal/internal/dao"
	"github.com/apimkt/portal/internal/history"
	"github.com/apimkt/portal/internal/logic/session"
	"github.com/apimkt/portal/internal/logic/turn"
	gormModel "github.com/apimkt/portal/internal/model/gorm"
	"github.com/gogf/gf/v2/frame/g"
	"github.com/google/uuid"
)

// Service 对话服务，组装产品调用参数并驱动编排器
type Service struct {
	sessions     *session.Manager
	historyMgr   *history.Manager
	orchestrator *chat.Orchestrator
}

// NewService 创建对话服务，配置从 chat.* 读取
func NewService(ctx context.Context) *Service {
	cfg := chat.Config{
		MaxRounds:        g.Cfg().MustGet(ctx, "chat.maxToolRounds", 5).Int(),
		FailOnRoundLimit: g.Cfg().MustGet(ctx, "chat.failOnRoundLimit", false).Bool(),
		FirstByteBudget:  g.Cfg().MustGet(ctx, "chat.firstByteTimeout", "60s").Duration(),
	}
	return &Service{
		sessions:     session.NewManager(),
		historyMgr:   history.NewManager(),
		orchestrator: chat.NewOrchestrator(turn.NewManager(), &dbRecorder{}, cfg),
	}
}

// Process 处理一次提问，对请求内所有产品并行调用
// 事件通过sink流式推出，函数在STOP事件推送后返回
func (s *Service) Process(ctx context.Context, req *v1.ChatReq, userID string, sink chat.EventSink) error {
	productIDs := req.ProductIDs

	if req.SessionID == "" {
		// 临时提问：无会话则必须显式指定产品
		if len(productIDs) == 0 {
			return errors.New(errors.ErrInvalidParameter, "临时提问必须指定product_ids")
		}
	} else {
		sess, err := s.sessions.Get(ctx, req.SessionID)
		if err != nil {
			return err
		}
		subscribed := session.SubscribedProducts(sess)
		if len(productIDs) == 0 {
			productIDs = subscribed
		} else {
			for _, id := range productIDs {
				if !contains(subscribed, id) {
					return errors.Newf(errors.ErrProductNotSubscribed, "产品 %s 不在会话订阅内", id)
				}
			}
		}
	}

	// 对话ID与提问ID缺省时生成，重新生成答案的请求会带原ID进来
	if req.ConversationID == "" {
		req.ConversationID = "conv_" + uuid.New().String()
	}
	if req.QuestionID == "" {
		req.QuestionID = "qst_" + uuid.New().String()
	}

	maxHistoryTokens := g.Cfg().MustGet(ctx, "chat.maxHistoryTokens", 8000).Int()

	runs := make([]*chat.ProductRun, 0, len(productIDs))
	for _, productID := range productIDs {
		run, err := s.buildRun(ctx, req, userID, productID, maxHistoryTokens)
		if err != nil {
			return err
		}
		runs = append(runs, run)
	}

	s.orchestrator.Run(ctx, &chat.RunRequest{
		SessionID:      req.SessionID,
		UserID:         userID,
		ConversationID: req.ConversationID,
		QuestionID:     req.QuestionID,
		Question:       req.Question,
		Attachments:    req.Attachments,
		Runs:           runs,
	}, sink)
	return nil
}

// buildRun 组装单个产品的调用参数：模型接入点、凭证、MCP配置与历史
func (s *Service) buildRun(ctx context.Context, req *v1.ChatReq, userID, productID string, maxHistoryTokens int) (*chat.ProductRun, error) {
	product, err := s.loadProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, errors.Newf(errors.ErrModelNotConfigured, "产品 %s 不存在或未启用", productID)
	}

	endpoint, err := modelEndpoint(product)
	if err != nil {
		return nil, err
	}

	credential, err := s.loadCredential(ctx, productID, userID)
	if err != nil {
		return nil, err
	}

	mcpConfigs, descriptors, err := s.loadMCPConfigs(ctx, product)
	if err != nil {
		return nil, err
	}

	msgs, err := s.historyMgr.BuildMessages(ctx, req.SessionID, productID)
	if err != nil {
		return nil, err
	}
	msgs = s.historyMgr.TruncateByToken(msgs, maxHistoryTokens)

	var gatewayIPs []string
	if len(product.GatewayIPs) > 0 {
		_ = json.Unmarshal(product.GatewayIPs, &gatewayIPs)
	}

	return &chat.ProductRun{
		ProductID:       productID,
		Model:           product.ModelName,
		Endpoint:        endpoint,
		Credential:      credential,
		PinDNS:          product.PinDNS,
		GatewayIPs:      gatewayIPs,
		EnableWebSearch: req.EnableWebSearch,
		MCPConfigs:      mcpConfigs,
		ToolDescriptors: descriptors,
		SystemPrompt:    product.SystemPrompt,
		History:         msgs,
	}, nil
}

// loadProduct 取产品配置，优先走缓存
// 缓存未命中或Redis不可用时读库并回写
func (s *Service) loadProduct(ctx context.Context, productID string) (*gormModel.Product, error) {
	if product, err := cache.GetProduct(ctx, productID); err == nil {
		return product, nil
	}

	product, err := dao.Product.GetByProductID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product != nil {
		_ = cache.SetProduct(ctx, product)
	}
	return product, nil
}

// loadCredential 取产品凭证并转换为调用上下文
func (s *Service) loadCredential(ctx context.Context, productID, userID string) (*llm.CredentialContext, error) {
	record, err := dao.Credential.GetForProduct(ctx, productID, userID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return &llm.CredentialContext{}, nil
	}

	cred := &llm.CredentialContext{APIKey: record.APIKey}
	if len(record.Headers) > 0 {
		_ = json.Unmarshal(record.Headers, &cred.Headers)
	}
	if len(record.QueryParams) > 0 {
		_ = json.Unmarshal(record.QueryParams, &cred.QueryParams)
	}
	return cred, nil
}

// loadMCPConfigs 把产品关联的MCP注册记录转换为客户端配置
// 单个服务的地址推导失败只跳过该服务
func (s *Service) loadMCPConfigs(ctx context.Context, product *gormModel.Product) ([]mcp.Config, map[string]mcp.ToolDescriptor, error) {
	servers, err := dao.McpServer.ListByProductID(ctx, product.ProductID)
	if err != nil {
		return nil, nil, err
	}

	timeout := g.Cfg().MustGet(ctx, "chat.mcpCallTimeout", "30s").Duration()

	configs := make([]mcp.Config, 0, len(servers))
	descriptors := make(map[string]mcp.ToolDescriptor)
	for _, server := range servers {
		cfg := mcp.Config{
			ServerName:  server.ServerName,
			DisplayName: server.DisplayName,
			Mode:        mcp.Mode(server.Mode),
			Endpoint:    server.Endpoint,
			Command:     server.Command,
			APIKey:      server.APIKey,
			Timeout:     timeout,
		}
		if len(server.Args) > 0 {
			_ = json.Unmarshal(server.Args, &cfg.Args)
		}

		if cfg.Endpoint == "" && cfg.Mode != mcp.ModeStdio {
			var domains []mcp.GatewayDomain
			if len(server.GatewayDomains) > 0 {
				_ = json.Unmarshal(server.GatewayDomains, &domains)
			}
			endpoint, err := mcp.DeriveEndpoint(domains, server.Mode)
			if err != nil {
				g.Log().Warningf(ctx, "MCP服务 %s 地址推导失败，跳过: %v", server.ServerName, err)
				continue
			}
			cfg.Endpoint = endpoint
		}

		if len(server.ToolMeta) > 0 {
			var meta map[string]string
			if json.Unmarshal(server.ToolMeta, &meta) == nil {
				for toolName, displayName := range meta {
					descriptors[server.ServerName+"__"+toolName] = mcp.ToolDescriptor{DisplayName: displayName}
				}
			}
		}

		configs = append(configs, cfg)
	}
	return configs, descriptors, nil
}

// modelEndpoint 从网关域名推导模型接入地址
func modelEndpoint(product *gormModel.Product) (string, error) {
	var domains []mcp.GatewayDomain
	if len(product.GatewayDomains) > 0 {
		if err := json.Unmarshal(product.GatewayDomains, &domains); err != nil {
			return "", errors.Newf(errors.ErrModelNotConfigured, "产品 %s 网关域名配置无效: %v", product.ProductID, err)
		}
	}
	endpoint, err := mcp.DeriveEndpoint(domains, "")
	if err != nil {
		return "", errors.Newf(errors.ErrModelNotConfigured, "产品 %s 无可用网关域名", product.ProductID)
	}
	return endpoint + product.BasePath, nil
}

// dbRecorder 把工具调用日志写入数据库
// Redis缓存层就绪时走异步刷盘，否则直接落库
type dbRecorder struct{}

func (dbRecorder) RecordToolCall(ctx context.Context, record *chat.ToolCallRecord) {
	status := int8(1)
	if !record.Success {
		status = 0
	}
	now := time.Now()
	log := &gormModel.ToolCallLog{
		ChatID:          record.ChatID,
		ProductID:       record.ProductID,
		ServerName:      record.ServerName,
		ToolName:        record.ToolName,
		RequestPayload:  record.Arguments,
		ResponsePayload: record.Result,
		Status:          status,
		ErrorMessage:    record.ErrorMessage,
		Duration:        int(record.CostMillis),
		CreateTime:      &now,
	}

	if logCache := icache.GetToolCallLogCache(); logCache != nil {
		if err := logCache.SaveToolCallLog(ctx, log); err != nil {
			g.Log().Warningf(ctx, "工具调用日志写入失败: %v", err)
		}
		return
	}

	if err := dao.ToolCallLog.Create(ctx, log); err != nil {
		g.Log().Warningf(ctx, "工具调用日志写入失败: %v", err)
	}
}

func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
