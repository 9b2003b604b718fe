package session

import (
	"context"
	"encoding/json"

	v1 "github.com/apimkt/portal/api/portal/v1"
	"github.com/apimkt/portal/core/errors"
	"github.com/apimkt/portal/internal/dao"
	gormModel "github.com/apimkt/portal/internal/model/gorm"
	"github.com/gogf/gf/v2/frame/g"
)

// Manager 会话管理器
type Manager struct{}

// NewManager 创建会话管理器
func NewManager() *Manager {
	return &Manager{}
}

// Create 创建新会话
// 订阅的产品列表在创建时固化，后续提问只能在其中选择
func (m *Manager) Create(ctx context.Context, userID, name string, productIDs []string, talkType string) (*gormModel.ChatSession, error) {
	if talkType == "" {
		talkType = "MODEL"
	}

	products, err := dao.Product.ListByProductIDs(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	if len(products) != len(productIDs) {
		return nil, errors.Newf(errors.ErrProductNotSubscribed, "部分产品不存在或未启用")
	}

	idsJSON, err := json.Marshal(productIDs)
	if err != nil {
		return nil, err
	}

	session := &gormModel.ChatSession{
		UserID:     userID,
		Name:       name,
		TalkType:   talkType,
		ProductIDs: gormModel.JSON(idsJSON),
		Status:     "active",
	}
	if err := dao.ChatSession.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get 获取活跃会话
func (m *Manager) Get(ctx context.Context, sessionID string) (*gormModel.ChatSession, error) {
	session, err := dao.ChatSession.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.Status != "active" {
		return nil, errors.Newf(errors.ErrSessionNotFound, "会话不存在: %s", sessionID)
	}
	return session, nil
}

// Rename 重命名会话，会话唯一允许的变更
func (m *Manager) Rename(ctx context.Context, sessionID, name string) error {
	if _, err := m.Get(ctx, sessionID); err != nil {
		return err
	}
	return dao.ChatSession.UpdateName(ctx, sessionID, name)
}

// Delete 删除会话及其所有轮次
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if _, err := m.Get(ctx, sessionID); err != nil {
		return err
	}

	if err := dao.Chat.DeleteBySessionID(ctx, sessionID); err != nil {
		g.Log().Errorf(ctx, "删除会话轮次失败: %v", err)
		return errors.Newf(errors.ErrSessionDeleteFailed, "删除会话轮次失败: %v", err)
	}
	if err := dao.ChatSession.Delete(ctx, sessionID); err != nil {
		return errors.Newf(errors.ErrSessionDeleteFailed, "删除会话失败: %v", err)
	}
	return nil
}

// List 分页获取用户会话列表
func (m *Manager) List(ctx context.Context, userID string, page, pageSize int) ([]*v1.SessionInfo, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	sessions, total, err := dao.ChatSession.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*v1.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, toSessionInfo(s))
	}
	return items, total, nil
}

// SubscribedProducts 解析会话订阅的产品ID列表，保序
func SubscribedProducts(session *gormModel.ChatSession) []string {
	var ids []string
	if len(session.ProductIDs) > 0 {
		_ = json.Unmarshal(session.ProductIDs, &ids)
	}
	return ids
}

func toSessionInfo(s *gormModel.ChatSession) *v1.SessionInfo {
	return &v1.SessionInfo{
		SessionID:  s.SessionID,
		UserID:     s.UserID,
		Name:       s.Name,
		ProductIDs: SubscribedProducts(s),
		TalkType:   s.TalkType,
	}
}
