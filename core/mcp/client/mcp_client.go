package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/apimkt/portal/core/common"
	"github.com/apimkt/portal/core/errors"
	"github.com/gogf/gf/v2/frame/g"
	"github.com/gogf/gf/v2/os/gctx"
)

// Mode MCP传输模式
type Mode string

const (
	ModeStreamableHTTP Mode = "streamable-http"
	ModeSSE            Mode = "sse"
	ModeStdio          Mode = "stdio"
)

// Config MCP客户端配置，由网关广告或注册信息推导
type Config struct {
	ServerName    string            // 服务名，用于工具名前缀
	DisplayName   string            // 服务展示名
	Mode          Mode              // 传输模式，默认 streamable-http
	Endpoint      string            // http/sse 模式的接入地址
	Command       string            // stdio 模式的启动命令
	Args          []string          // stdio 模式的命令参数
	APIKey        string            // Bearer 认证
	Headers       map[string]string // 自定义请求头
	Timeout       time.Duration     // 单次调用超时，默认30秒
}

// Client MCP 客户端，一个轮次独占一个实例，不跨轮次共享
type Client struct {
	cfg        Config
	httpClient *http.Client
	sessionID  string // MCP session ID

	// SSE 模式相关
	sseConn         *http.Response // SSE 连接
	messageEndpoint string         // 消息发送端点
	sseReader       *bufio.Scanner

	// stdio 模式相关
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdioReader *bufio.Scanner

	// 响应分发（SSE 与 stdio 共用）
	responses      map[interface{}]chan *Response
	responsesMutex sync.RWMutex
	connClosed     chan struct{} // 通知连接已关闭
	connMutex      sync.Mutex
	closeOnce      sync.Once // 确保 Close 只执行一次
}

// New 创建MCP客户端
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	// 自动检测传输模式
	if cfg.Mode == "" {
		cfg.Mode = ModeStreamableHTTP
		if strings.HasSuffix(cfg.Endpoint, "/sse") {
			cfg.Mode = ModeSSE
		}
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		responses:  make(map[interface{}]chan *Response),
		connClosed: make(chan struct{}),
	}
}

// ServerName 所属MCP服务名
func (c *Client) ServerName() string {
	return c.cfg.ServerName
}

// DisplayName 所属MCP服务展示名
func (c *Client) DisplayName() string {
	if c.cfg.DisplayName != "" {
		return c.cfg.DisplayName
	}
	return c.cfg.ServerName
}

// Request MCP请求结构
type Request struct {
	Jsonrpc string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response MCP响应结构
type Response struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError MCP错误结构
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Tool MCP工具定义
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolsListResult 工具列表响应结果
type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams 调用工具参数
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// CallToolResult 调用工具结果
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content MCP内容结构
type Content struct {
	Type string `json:"type"` // text, image, resource
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
}

// Text 拼接结果里的全部文本内容
func (r *CallToolResult) Text() string {
	var sb strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" && c.Text != "" {
			sb.WriteString(c.Text)
			sb.WriteString("\n")
		}
	}
	return strings.TrimSpace(sb.String())
}

// Initialize 初始化MCP连接
func (c *Client) Initialize(ctx context.Context, clientInfo map[string]interface{}) error {
	req := Request{
		Jsonrpc: "2.0",
		ID:      "init",
		Method:  "initialize",
		Params: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"clientInfo": clientInfo,
		},
	}

	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return err
	}

	if resp.Error != nil {
		return errors.Newf(errors.ErrMCPInitFailed, "initialize failed: %s", resp.Error.Message)
	}

	return nil
}

// ListTools 列出所有可用工具
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	req := Request{
		Jsonrpc: "2.0",
		ID:      "tools-list", // 使用字符串ID确保类型匹配
		Method:  "tools/list",
		Params:  map[string]interface{}{},
	}

	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, errors.Newf(errors.ErrMCPCallFailed, "MCP error %d: %s - %s", resp.Error.Code, resp.Error.Message, resp.Error.Data)
	}

	var result ToolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, errors.Newf(errors.ErrMCPCallFailed, "failed to parse tools list result: %v", err)
	}

	return result.Tools, nil
}

// CallTool 调用指定工具
func (c *Client) CallTool(ctx context.Context, toolName string, arguments map[string]interface{}) (*CallToolResult, error) {
	req := Request{
		Jsonrpc: "2.0",
		ID:      fmt.Sprintf("call-%d", time.Now().UnixNano()),
		Method:  "tools/call",
		Params: CallToolParams{
			Name:      toolName,
			Arguments: arguments,
		},
	}

	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, errors.Newf(errors.ErrMCPCallFailed, "MCP error %d: %s - %s", resp.Error.Code, resp.Error.Message, resp.Error.Data)
	}

	var result CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, errors.Newf(errors.ErrMCPCallFailed, "failed to parse tool call result: %v", err)
	}

	return &result, nil
}

// Ping 测试MCP服务连通性
func (c *Client) Ping(ctx context.Context) error {
	req := Request{
		Jsonrpc: "2.0",
		ID:      "ping",
		Method:  "ping",
	}

	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return err
	}

	if resp.Error != nil {
		return errors.Newf(errors.ErrMCPCallFailed, "ping failed: %s", resp.Error.Message)
	}

	return nil
}

// sendRequest 发送MCP请求（按传输模式分发）
func (c *Client) sendRequest(ctx context.Context, req Request) (*Response, error) {
	switch c.cfg.Mode {
	case ModeSSE:
		return c.sendSSERequest(ctx, req)
	case ModeStdio:
		return c.sendStdioRequest(ctx, req)
	default:
		return c.sendHTTPRequest(ctx, req)
	}
}

// sendHTTPRequest 发送streamable-http模式的MCP请求
func (c *Client) sendHTTPRequest(ctx context.Context, mcpReq Request) (*Response, error) {
	reqBody, err := json.Marshal(mcpReq)
	if err != nil {
		return nil, errors.Newf(errors.ErrMCPCallFailed, "failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.cfg.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Newf(errors.ErrMCPCallFailed, "failed to create request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	// 如果有 session ID，则添加到请求头
	if c.sessionID != "" {
		httpReq.Header.Set("mcp-session-id", c.sessionID)
	}

	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Newf(errors.ErrMCPCallFailed, "failed to send request: %v", err)
	}
	defer resp.Body.Close()

	// 保存 session ID（如果有）
	if sessionID := resp.Header.Get("mcp-session-id"); sessionID != "" {
		c.sessionID = sessionID
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.Newf(errors.ErrMCPCallFailed, "HTTP error %d: %s", resp.StatusCode, string(body))
	}

	// streamable-http 服务端可能直接回JSON，也可能回SSE帧
	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var mcpResp Response
		if err := json.NewDecoder(resp.Body).Decode(&mcpResp); err != nil {
			return nil, errors.Newf(errors.ErrMCPCallFailed, "failed to decode response: %v", err)
		}
		return &mcpResp, nil
	}

	return c.readSSEResponse(resp.Body)
}

// sendSSERequest 发送SSE模式的MCP请求
func (c *Client) sendSSERequest(ctx context.Context, mcpReq Request) (*Response, error) {
	if err := c.ensureSSEConnection(ctx); err != nil {
		return nil, errors.Newf(errors.ErrMCPInitFailed, "failed to establish SSE connection: %v", err)
	}

	respChan := c.registerResponse(mcpReq.ID)
	defer c.unregisterResponse(mcpReq.ID)

	reqBody, err := json.Marshal(mcpReq)
	if err != nil {
		return nil, errors.Newf(errors.ErrMCPCallFailed, "failed to marshal request: %v", err)
	}

	// 发送消息到消息端点
	baseURL := strings.TrimSuffix(c.cfg.Endpoint, "/sse")
	messageURL := fmt.Sprintf("%s%s", baseURL, c.messageEndpoint)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", messageURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Newf(errors.ErrMCPCallFailed, "failed to create message request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Newf(errors.ErrMCPCallFailed, "failed to send message: %v", err)
	}
	defer resp.Body.Close()

	// SSE模式消息端点应该返回202 Accepted
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.Newf(errors.ErrMCPCallFailed, "failed to send message, status %d: %s", resp.StatusCode, string(body))
	}

	return c.awaitResponse(ctx, respChan)
}

// sendStdioRequest 发送stdio模式的MCP请求
func (c *Client) sendStdioRequest(ctx context.Context, mcpReq Request) (*Response, error) {
	if err := c.ensureStdioProcess(ctx); err != nil {
		return nil, errors.Newf(errors.ErrMCPInitFailed, "failed to start stdio process: %v", err)
	}

	respChan := c.registerResponse(mcpReq.ID)
	defer c.unregisterResponse(mcpReq.ID)

	reqBody, err := json.Marshal(mcpReq)
	if err != nil {
		return nil, errors.Newf(errors.ErrMCPCallFailed, "failed to marshal request: %v", err)
	}

	// stdio 传输为行分隔JSON-RPC
	c.connMutex.Lock()
	_, err = c.stdin.Write(append(reqBody, '\n'))
	c.connMutex.Unlock()
	if err != nil {
		return nil, errors.Newf(errors.ErrMCPCallFailed, "failed to write stdio request: %v", err)
	}

	return c.awaitResponse(ctx, respChan)
}

// registerResponse 注册响应通道
func (c *Client) registerResponse(id interface{}) chan *Response {
	respChan := make(chan *Response, 1)
	c.responsesMutex.Lock()
	c.responses[id] = respChan
	c.responsesMutex.Unlock()
	return respChan
}

// unregisterResponse 清理响应通道
func (c *Client) unregisterResponse(id interface{}) {
	c.responsesMutex.Lock()
	delete(c.responses, id)
	c.responsesMutex.Unlock()
}

// awaitResponse 等待分发协程投递响应
func (c *Client) awaitResponse(ctx context.Context, respChan chan *Response) (*Response, error) {
	select {
	case response := <-respChan:
		if response != nil {
			return response, nil
		}
		return nil, errors.New(errors.ErrMCPCallFailed, "received nil response")
	case <-c.connClosed:
		return nil, errors.New(errors.ErrMCPCallFailed, "connection closed while awaiting response")
	case <-ctx.Done():
		return nil, errors.Newf(errors.ErrMCPCallFailed, "request cancelled: %v", ctx.Err())
	case <-time.After(c.cfg.Timeout):
		return nil, errors.New(errors.ErrMCPCallFailed, "response timeout")
	}
}

// ensureSSEConnection 确保SSE连接已建立
func (c *Client) ensureSSEConnection(ctx context.Context) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.sseConn != nil && c.messageEndpoint != "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.Endpoint, nil)
	if err != nil {
		return errors.Newf(errors.ErrMCPInitFailed, "failed to create SSE request: %v", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Newf(errors.ErrMCPInitFailed, "failed to connect to SSE endpoint: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return errors.Newf(errors.ErrMCPInitFailed, "SSE connection failed with status %d", resp.StatusCode)
	}

	c.sseConn = resp
	c.sseReader = bufio.NewScanner(resp.Body)

	// 读取第一个事件以获取消息端点
	if err := c.readSSEEndpoint(); err != nil {
		resp.Body.Close()
		c.sseConn = nil
		c.sseReader = nil
		return errors.Newf(errors.ErrMCPInitFailed, "failed to read SSE endpoint: %v", err)
	}

	common.SafeGo(ctx, "mcp-sse-dispatch", func() {
		c.dispatchSSEResponses(ctx)
	})

	return nil
}

// readSSEEndpoint 读取 SSE 端点信息
func (c *Client) readSSEEndpoint() error {
	for c.sseReader.Scan() {
		line := c.sseReader.Text()

		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimPrefix(line, "data: ")

			// endpoint 事件携带消息端点路径
			if strings.Contains(data, "/message") {
				c.messageEndpoint = data
				return nil
			}
		}
	}

	return errors.New(errors.ErrMCPInitFailed, "failed to find message endpoint in SSE stream")
}

// dispatchSSEResponses 读取SSE事件流并按请求ID分发响应
func (c *Client) dispatchSSEResponses(ctx context.Context) {
	defer func() {
		if c.sseConn != nil {
			c.sseConn.Body.Close()
			c.sseConn = nil
		}
		close(c.connClosed)
	}()

	var messageData []byte

	for c.sseReader.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := c.sseReader.Text()

		// 空行表示一条消息结束
		if line == "" {
			if len(messageData) > 0 {
				c.dispatchMessage(ctx, messageData)
				messageData = nil
			}
			continue
		}

		if strings.HasPrefix(line, "data: ") {
			messageData = append(messageData, []byte(strings.TrimPrefix(line, "data: "))...)
		}
	}

	if err := c.sseReader.Err(); err != nil {
		// 连接被 Close 主动断开时的报错不需要记录
		if !strings.Contains(err.Error(), "use of closed network connection") {
			g.Log().Errorf(ctx, "SSE reader error: %v", err)
		}
	}
}

// dispatchStdioResponses 读取子进程stdout并按请求ID分发响应
func (c *Client) dispatchStdioResponses(ctx context.Context) {
	defer func() {
		close(c.connClosed)
	}()

	for c.stdioReader.Scan() {
		line := bytes.TrimSpace(c.stdioReader.Bytes())
		if len(line) == 0 {
			continue
		}
		c.dispatchMessage(ctx, line)
	}
}

// dispatchMessage 解析一条JSON-RPC响应并投递给等待方
func (c *Client) dispatchMessage(ctx context.Context, data []byte) {
	var mcpResp Response
	if err := json.Unmarshal(data, &mcpResp); err != nil {
		g.Log().Warningf(ctx, "Failed to parse MCP message: %v, data: %s", err, string(data))
		return
	}

	c.responsesMutex.RLock()
	respChan, exists := c.responses[mcpResp.ID]
	c.responsesMutex.RUnlock()

	if exists && respChan != nil {
		select {
		case respChan <- &mcpResp:
		default:
			g.Log().Warningf(ctx, "Response channel full or closed for ID: %v", mcpResp.ID)
		}
	} else {
		g.Log().Warningf(ctx, "No response channel found for ID: %v", mcpResp.ID)
	}
}

// ensureStdioProcess 确保stdio子进程已启动
func (c *Client) ensureStdioProcess(ctx context.Context) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.cmd != nil {
		return nil
	}

	if c.cfg.Command == "" {
		return errors.New(errors.ErrMCPInitFailed, "stdio mode requires a command")
	}

	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Newf(errors.ErrMCPInitFailed, "failed to open stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Newf(errors.ErrMCPInitFailed, "failed to open stdout pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		return errors.Newf(errors.ErrMCPInitFailed, "failed to start command %s: %v", c.cfg.Command, err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.stdioReader = bufio.NewScanner(stdout)
	c.stdioReader.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	common.SafeGo(ctx, "mcp-stdio-dispatch", func() {
		c.dispatchStdioResponses(ctx)
	})

	return nil
}

// Close 关闭MCP客户端连接
// 只执行一次；每个轮次的客户端池在所有退出路径上调用
func (c *Client) Close() error {
	var closeErr error

	c.closeOnce.Do(func() {
		switch c.cfg.Mode {
		case ModeSSE:
			if c.sseConn != nil {
				// 先关闭连接，触发分发协程退出
				c.sseConn.Body.Close()

				select {
				case <-c.connClosed:
				case <-time.After(5 * time.Second):
					closeErr = errors.New(errors.ErrMCPCallFailed, "timeout waiting for SSE reader to close")
				}
			}
		case ModeStdio:
			if c.cmd != nil {
				c.stdin.Close()

				done := make(chan struct{})
				go func() {
					c.cmd.Wait()
					close(done)
				}()
				select {
				case <-done:
				case <-time.After(5 * time.Second):
					if c.cmd.Process != nil {
						c.cmd.Process.Kill()
					}
					closeErr = errors.New(errors.ErrMCPCallFailed, "timeout waiting for stdio process to exit")
				}
			}
		}
	})

	return closeErr
}

// readSSEResponse 读取SSE格式的响应体
func (c *Client) readSSEResponse(reader io.Reader) (*Response, error) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var messageData []byte

	for scanner.Scan() {
		line := scanner.Text()

		// 空行表示一条消息结束
		if line == "" {
			if len(messageData) > 0 {
				var mcpResp Response
				if err := json.Unmarshal(messageData, &mcpResp); err != nil {
					g.Log().Warningf(gctx.New(), "Failed to parse SSE message: %v, data: %s", err, string(messageData))
					messageData = nil
					continue
				}
				return &mcpResp, nil
			}
			continue
		}

		if strings.HasPrefix(line, "data: ") {
			messageData = append(messageData, []byte(strings.TrimPrefix(line, "data: "))...)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Newf(errors.ErrMCPCallFailed, "error reading SSE stream: %v", err)
	}

	// 部分服务端结束前不发空行，兜底解析剩余数据
	if len(messageData) > 0 {
		var mcpResp Response
		if err := json.Unmarshal(messageData, &mcpResp); err == nil {
			return &mcpResp, nil
		}
	}

	return nil, errors.New(errors.ErrMCPCallFailed, "no valid SSE message received")
}

// QualifyToolName 生成带服务前缀的完整工具名
func QualifyToolName(serverName, toolName string) string {
	return fmt.Sprintf("%s__%s", serverName, toolName)
}

// ParseToolName 解析带服务前缀的工具名，返回 (serverName, toolName)
func ParseToolName(fullToolName string) (string, string) {
	parts := strings.SplitN(fullToolName, "__", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", fullToolName
}
