package mcp

import (
	"fmt"
	"strings"

	"github.com/apimkt/portal/core/errors"
)

// NetworkType 网关域名网络类型
const (
	NetworkIntranet = "intranet"
	NetworkInternet = "internet"
)

// GatewayDomain 网关为产品暴露的一个域名
type GatewayDomain struct {
	Domain      string `json:"domain"`
	Protocol    string `json:"protocol"`    // http / https
	NetworkType string `json:"networkType"` // intranet / internet
}

// DeriveEndpoint 根据网关域名列表推导MCP接入地址
// 选第一个非内网域名；协议为sse且路径尚未以/sse结尾时追加/sse
func DeriveEndpoint(domains []GatewayDomain, transportProtocol string) (string, error) {
	var pick *GatewayDomain
	for i := range domains {
		if domains[i].NetworkType == NetworkIntranet {
			continue
		}
		if domains[i].Domain == "" {
			continue
		}
		pick = &domains[i]
		break
	}
	if pick == nil {
		return "", errors.New(errors.ErrMCPNoEndpoint, "no public gateway domain available")
	}

	scheme := pick.Protocol
	if scheme == "" {
		scheme = "http"
	}

	domain := strings.TrimSuffix(pick.Domain, "/")
	endpoint := fmt.Sprintf("%s://%s", scheme, domain)
	if transportProtocol == string(ModeSSE) && !strings.HasSuffix(endpoint, "/sse") {
		endpoint += "/sse"
	}
	return endpoint, nil
}
