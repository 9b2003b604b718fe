package mcp

import (
	"testing"

	"github.com/apimkt/portal/core/errors"
	"github.com/stretchr/testify/assert"
)

func TestDeriveEndpoint(t *testing.T) {
	domains := []GatewayDomain{
		{Domain: "a.example.com", Protocol: "https", NetworkType: NetworkIntranet},
		{Domain: "b.example.com", Protocol: "http", NetworkType: NetworkInternet},
	}

	endpoint, err := DeriveEndpoint(domains, "sse")
	assert.NoError(t, err)
	assert.Equal(t, "http://b.example.com/sse", endpoint)

	endpoint, err = DeriveEndpoint(domains, "streamable-http")
	assert.NoError(t, err)
	assert.Equal(t, "http://b.example.com", endpoint)
}

func TestDeriveEndpointDefaultsScheme(t *testing.T) {
	domains := []GatewayDomain{
		{Domain: "gw.example.com", NetworkType: NetworkInternet},
	}

	endpoint, err := DeriveEndpoint(domains, "streamable-http")
	assert.NoError(t, err)
	assert.Equal(t, "http://gw.example.com", endpoint)
}

func TestDeriveEndpointNoPublicDomain(t *testing.T) {
	domains := []GatewayDomain{
		{Domain: "a.internal", Protocol: "http", NetworkType: NetworkIntranet},
	}

	_, err := DeriveEndpoint(domains, "sse")
	assert.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrMCPNoEndpoint))

	_, err = DeriveEndpoint(nil, "sse")
	assert.Error(t, err)
}

func TestDeriveEndpointKeepsExistingSSESuffix(t *testing.T) {
	// 域名自带/sse路径时不重复追加
	domains := []GatewayDomain{
		{Domain: "gw.example.com/mcp/sse", Protocol: "https", NetworkType: NetworkInternet},
	}

	endpoint, err := DeriveEndpoint(domains, "sse")
	assert.NoError(t, err)
	assert.Equal(t, "https://gw.example.com/mcp/sse", endpoint)
}

func TestDeriveEndpointTrimsTrailingSlash(t *testing.T) {
	domains := []GatewayDomain{
		{Domain: "gw.example.com/", Protocol: "https", NetworkType: NetworkInternet},
	}

	endpoint, err := DeriveEndpoint(domains, "sse")
	assert.NoError(t, err)
	assert.Equal(t, "https://gw.example.com/sse", endpoint)
}
