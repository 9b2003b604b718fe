package portal

import (
	"context"

	chatLogic "github.com/apimkt/portal/internal/logic/chat"
	"github.com/apimkt/portal/internal/logic/session"
)

// ControllerV1 门户V1接口控制器
type ControllerV1 struct {
	chatService *chatLogic.Service
	sessions    *session.Manager
}

// NewV1 创建V1控制器
func NewV1(ctx context.Context) *ControllerV1 {
	return &ControllerV1{
		chatService: chatLogic.NewService(ctx),
		sessions:    session.NewManager(),
	}
}
