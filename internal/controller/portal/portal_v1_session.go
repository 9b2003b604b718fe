package portal

import (
	"context"

	v1 "github.com/apimkt/portal/api/portal/v1"
	"github.com/gogf/gf/v2/net/ghttp"
)

// SessionCreate 创建会话
func (c *ControllerV1) SessionCreate(ctx context.Context, req *v1.SessionCreateReq) (res *v1.SessionCreateRes, err error) {
	userID := resolveUserID(ghttp.RequestFromCtx(ctx))
	session, err := c.sessions.Create(ctx, userID, req.Name, req.ProductIDs, req.TalkType)
	if err != nil {
		return nil, err
	}
	return &v1.SessionCreateRes{SessionID: session.SessionID}, nil
}

// SessionRename 重命名会话
func (c *ControllerV1) SessionRename(ctx context.Context, req *v1.SessionRenameReq) (res *v1.SessionRenameRes, err error) {
	if err := c.sessions.Rename(ctx, req.SessionID, req.Name); err != nil {
		return nil, err
	}
	return &v1.SessionRenameRes{}, nil
}

// SessionDelete 删除会话及其全部轮次
func (c *ControllerV1) SessionDelete(ctx context.Context, req *v1.SessionDeleteReq) (res *v1.SessionDeleteRes, err error) {
	if err := c.sessions.Delete(ctx, req.SessionID); err != nil {
		return nil, err
	}
	return &v1.SessionDeleteRes{}, nil
}

// SessionList 分页获取用户会话列表
func (c *ControllerV1) SessionList(ctx context.Context, req *v1.SessionListReq) (res *v1.SessionListRes, err error) {
	sessions, total, err := c.sessions.List(ctx, req.UserID, req.Page, req.PageSize)
	if err != nil {
		return nil, err
	}
	return &v1.SessionListRes{Sessions: sessions, Total: total}, nil
}
