package llm

// CredentialContext 模型调用的鉴权上下文
// 所有调用路径必须使用Clone出的副本，避免并发轮次互相污染
type CredentialContext struct {
	APIKey      string            // Bearer 鉴权
	Headers     map[string]string // 附加请求头
	QueryParams map[string]string // 附加查询参数
}

// Clone 深拷贝鉴权上下文
func (c *CredentialContext) Clone() *CredentialContext {
	if c == nil {
		return &CredentialContext{}
	}
	clone := &CredentialContext{
		APIKey: c.APIKey,
	}
	if len(c.Headers) > 0 {
		clone.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			clone.Headers[k] = v
		}
	}
	if len(c.QueryParams) > 0 {
		clone.QueryParams = make(map[string]string, len(c.QueryParams))
		for k, v := range c.QueryParams {
			clone.QueryParams[k] = v
		}
	}
	return clone
}
