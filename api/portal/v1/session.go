package v1

import (
	"github.com/gogf/gf/v2/frame/g"
)

// SessionCreateReq 创建会话
type SessionCreateReq struct {
	g.Meta     `path:"/v1/session" method:"post" tags:"session"`
	Name       string   `json:"name" v:"required"`
	ProductIDs []string `json:"product_ids" v:"required"` // 订阅的产品，保序
	TalkType   string   `json:"talk_type"`                // MODEL | AGENT，默认MODEL
}

type SessionCreateRes struct {
	g.Meta    `mime:"application/json"`
	SessionID string `json:"session_id"`
}

// SessionRenameReq 重命名会话（会话唯一允许的变更）
type SessionRenameReq struct {
	g.Meta    `path:"/v1/session/rename" method:"post" tags:"session"`
	SessionID string `json:"session_id" v:"required"`
	Name      string `json:"name" v:"required"`
}

type SessionRenameRes struct {
	g.Meta `mime:"application/json"`
}

// SessionDeleteReq 删除会话，级联删除该会话的全部对话轮次
type SessionDeleteReq struct {
	g.Meta    `path:"/v1/session" method:"delete" tags:"session"`
	SessionID string `json:"session_id" v:"required"`
}

type SessionDeleteRes struct {
	g.Meta `mime:"application/json"`
}

// SessionListReq 查询用户会话列表
type SessionListReq struct {
	g.Meta   `path:"/v1/session/list" method:"get" tags:"session"`
	UserID   string `json:"user_id" v:"required"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

type SessionListRes struct {
	g.Meta   `mime:"application/json"`
	Sessions []*SessionInfo `json:"sessions"`
	Total    int64          `json:"total"`
}

// SessionInfo 会话摘要
type SessionInfo struct {
	SessionID  string   `json:"session_id"`
	UserID     string   `json:"user_id"`
	Name       string   `json:"name"`
	ProductIDs []string `json:"product_ids"`
	TalkType   string   `json:"talk_type"`
}
