package llm

import (
	"net/http"
)

// headerRoundTripper 在每次请求上注入凭证头、查询参数和固定Host
type headerRoundTripper struct {
	base        http.RoundTripper
	headers     map[string]string
	queryParams map[string]string
	hostHeader  string
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	for k, v := range t.headers {
		clone.Header.Set(k, v)
	}

	if len(t.queryParams) > 0 {
		q := clone.URL.Query()
		for k, v := range t.queryParams {
			q.Set(k, v)
		}
		clone.URL.RawQuery = q.Encode()
	}

	// 域名被替换为IP时保留原始Host，确保网关按域名路由
	if t.hostHeader != "" {
		clone.Host = t.hostHeader
	}

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

// newHTTPClient 构造携带凭证与Host固定逻辑的HTTP客户端
func newHTTPClient(cred *CredentialContext, hostHeader string) *http.Client {
	if cred == nil {
		cred = &CredentialContext{}
	}
	return &http.Client{
		Transport: &headerRoundTripper{
			headers:     cred.Headers,
			queryParams: cred.QueryParams,
			hostHeader:  hostHeader,
		},
	}
}
