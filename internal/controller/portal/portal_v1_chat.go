package portal

import (
	"context"

	v1 "github.com/apimkt/portal/api/portal/v1"
	"github.com/apimkt/portal/core/common"
	"github.com/apimkt/portal/core/errors"
	"github.com/gogf/gf/v2/frame/g"
	"github.com/gogf/gf/v2/net/ghttp"
)

// Chat 处理一次提问，SSE流式返回所有产品的事件
func (c *ControllerV1) Chat(ctx context.Context, req *v1.ChatReq) (res *v1.ChatRes, err error) {
	g.Log().Infof(ctx, "Chat request received - SessionID: %s, ConversationID: %s, QuestionID: %s, Products: %d",
		req.SessionID, req.ConversationID, req.QuestionID, len(req.ProductIDs))

	httpReq := ghttp.RequestFromCtx(ctx)
	writer := common.NewSSEWriter(httpReq)
	userID := resolveUserID(httpReq)

	if err := c.chatService.Process(ctx, req, userID, writer); err != nil {
		// 流尚未开始时的失败走SSE错误帧，保持流式语义
		writer.Emit(&v1.ChatStreamEvent{
			MsgType:   v1.MsgTypeError,
			ErrorKind: string(errors.KindOf(err)),
			Message:   err.Error(),
		})
	}
	writer.Done()
	return nil, nil
}

// resolveUserID 从请求头取用户标识
// 网关统一注入 X-User-Id，缺省回退为匿名用户
func resolveUserID(req *ghttp.Request) string {
	if userID := req.Header.Get("X-User-Id"); userID != "" {
		return userID
	}
	return "anonymous"
}
