package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeResolver struct {
	addrs map[string][]string
	err   error
}

func (r *fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.addrs[host], nil
}

func TestResolveEndpointPinsHTTP(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]string{
		"gw.example.com": {"10.0.0.1"},
	}}

	pinned := ResolveEndpoint(context.Background(), "http://gw.example.com/v1", resolver)
	assert.Equal(t, "http://10.0.0.1/v1", pinned.URL)
	assert.Equal(t, "gw.example.com", pinned.HostHeader)
}

func TestResolveEndpointKeepsPort(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]string{
		"gw.example.com": {"10.0.0.1"},
	}}

	pinned := ResolveEndpoint(context.Background(), "http://gw.example.com:8080/v1", resolver)
	assert.Equal(t, "http://10.0.0.1:8080/v1", pinned.URL)
	assert.Equal(t, "gw.example.com:8080", pinned.HostHeader)
}

func TestResolveEndpointSkipsHTTPS(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]string{
		"gw.example.com": {"10.0.0.1"},
	}}

	pinned := ResolveEndpoint(context.Background(), "https://gw.example.com/v1", resolver)
	assert.Equal(t, "https://gw.example.com/v1", pinned.URL)
	assert.Empty(t, pinned.HostHeader)
}

func TestResolveEndpointSkipsIPLiteral(t *testing.T) {
	pinned := ResolveEndpoint(context.Background(), "http://10.1.2.3/v1", &fakeResolver{})
	assert.Equal(t, "http://10.1.2.3/v1", pinned.URL)
	assert.Empty(t, pinned.HostHeader)
}

func TestResolveEndpointDegradesOnLookupFailure(t *testing.T) {
	resolver := &fakeResolver{err: fmt.Errorf("no such host")}

	pinned := ResolveEndpoint(context.Background(), "http://gw.example.com/v1", resolver)
	assert.Equal(t, "http://gw.example.com/v1", pinned.URL)
	assert.Empty(t, pinned.HostHeader)
}

func TestResolveEndpointPicksFromMultiple(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]string{
		"gw.example.com": {"10.0.0.1", "10.0.0.2", "10.0.0.3"},
	}}

	pinned := ResolveEndpoint(context.Background(), "http://gw.example.com/v1", resolver)
	assert.Contains(t, []string{
		"http://10.0.0.1/v1",
		"http://10.0.0.2/v1",
		"http://10.0.0.3/v1",
	}, pinned.URL)
	assert.Equal(t, "gw.example.com", pinned.HostHeader)
}

func TestResolveEndpointWithStaticGatewayIPs(t *testing.T) {
	pinned := ResolveEndpoint(context.Background(), "http://svc.internal/v1/chat", StaticResolver{"10.0.0.5"})
	assert.Equal(t, "http://10.0.0.5/v1/chat", pinned.URL)
	assert.Equal(t, "svc.internal", pinned.HostHeader)
}

func TestResolveEndpointWithEmptyStaticList(t *testing.T) {
	pinned := ResolveEndpoint(context.Background(), "http://svc.internal/v1/chat", StaticResolver{})
	assert.Equal(t, "http://svc.internal/v1/chat", pinned.URL)
	assert.Empty(t, pinned.HostHeader)
}
