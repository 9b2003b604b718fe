package common

import (
	"fmt"

	v1 "github.com/apimkt/portal/api/portal/v1"
	"github.com/bytedance/sonic"
	"github.com/gogf/gf/v2/frame/g"
	"github.com/gogf/gf/v2/net/ghttp"
	"github.com/gogf/gf/v2/os/gctx"
)

// SSEWriter 把流式事件写入HTTP响应
// 实现编排器的事件下游接口；编排器侧已做串行化，这里不再加锁
type SSEWriter struct {
	resp *ghttp.Response
}

// NewSSEWriter 绑定请求并写入SSE响应头
func NewSSEWriter(req *ghttp.Request) *SSEWriter {
	resp := req.Response
	resp.Header().Set("Content-Type", "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no") // 禁用Nginx缓冲
	resp.Header().Set("Access-Control-Allow-Origin", "*")
	return &SSEWriter{resp: resp}
}

// Emit 推送一条事件
func (w *SSEWriter) Emit(event *v1.ChatStreamEvent) {
	marshal, err := sonic.Marshal(event)
	if err != nil {
		g.Log().Errorf(gctx.New(), "事件序列化失败: %v", err)
		return
	}
	w.writeData(string(marshal))
}

// Done 推送结束标记
func (w *SSEWriter) Done() {
	w.writeData("[DONE]")
}

// WriteError 推送SSE错误帧
func (w *SSEWriter) WriteError(err error) {
	g.Log().Error(gctx.New(), err)
	w.resp.Writeln(fmt.Sprintf("event: error\ndata: %s\n\n", err.Error()))
	w.resp.Flush()
}

func (w *SSEWriter) writeData(data string) {
	if len(data) == 0 {
		return
	}
	w.resp.Writeln(fmt.Sprintf("data:%s\n", data))
	w.resp.Flush()
}
