package llm

import (
	"context"
	"math/rand"
	"net"
	"net/url"
	"strings"

	"github.com/gogf/gf/v2/frame/g"
)

// Resolver DNS解析接口，测试时可替换
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type netResolver struct{}

func (netResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}

// DefaultResolver 默认使用系统DNS
var DefaultResolver Resolver = netResolver{}

// StaticResolver 固定IP候选列表，来自网关节点发现
// 配置了网关节点IP的产品用它绕过DNS，在已知节点间随机分摊
type StaticResolver []string

func (s StaticResolver) LookupHost(_ context.Context, _ string) ([]string, error) {
	return s, nil
}

// PinnedEndpoint DNS固定解析后的接入地址
type PinnedEndpoint struct {
	URL        string // 实际请求地址，域名可能已替换为IP
	HostHeader string // 替换为IP时需要携带的原始Host头，未替换时为空
}

// ResolveEndpoint 在请求前对域名做一次性DNS解析并固定到单个IP
// 只处理http协议；https依赖SNI校验证书，不做替换
// 解析失败或地址异常时降级为原始地址，不阻断调用
func ResolveEndpoint(ctx context.Context, rawURL string, resolver Resolver) PinnedEndpoint {
	degraded := PinnedEndpoint{URL: rawURL}

	if !strings.HasPrefix(rawURL, "http://") {
		return degraded
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		g.Log().Warningf(ctx, "DNS pinning skipped, unparsable URL %s: %v", rawURL, err)
		return degraded
	}

	host := u.Hostname()
	if host == "" || net.ParseIP(host) != nil {
		// 本来就是IP，无需固定
		return degraded
	}

	if resolver == nil {
		resolver = DefaultResolver
	}

	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		g.Log().Warningf(ctx, "DNS pinning skipped, lookup %s failed: %v", host, err)
		return degraded
	}

	ip := addrs[rand.Intn(len(addrs))]

	originalHost := u.Host
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(ip, port)
	} else {
		u.Host = ip
		if strings.Contains(ip, ":") {
			// IPv6 literal 需要方括号
			u.Host = "[" + ip + "]"
		}
	}

	return PinnedEndpoint{
		URL:        u.String(),
		HostHeader: originalHost,
	}
}
