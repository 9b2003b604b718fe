package history

import (
	"context"
	"regexp"
	"unicode/utf8"

	"github.com/apimkt/portal/internal/dao"
	gormModel "github.com/apimkt/portal/internal/model/gorm"
	"github.com/apimkt/portal/pkg/schema"
)

// Manager 对话历史管理器
// 历史从轮次表重建：每个SUCCESS轮次展开为一条user消息和一条assistant消息
type Manager struct{}

// NewManager 创建历史管理器
func NewManager() *Manager {
	return &Manager{}
}

// BuildMessages 重建某产品在会话内的历史消息，时间正序
// 未到终态或失败的轮次不进入历史；同一问答交换的多次重试只保留最新的成功轮次
func (h *Manager) BuildMessages(ctx context.Context, sessionID, productID string) ([]*schema.Message, error) {
	if sessionID == "" {
		return nil, nil
	}

	chats, err := dao.Chat.ListHistory(ctx, sessionID, productID)
	if err != nil {
		return nil, err
	}

	type exchange struct {
		question string
		answer   string
		sequence int
	}
	order := make([]string, 0, len(chats))
	latest := make(map[string]*exchange)
	for _, chat := range chats {
		if chat.Status != gormModel.ChatStatusSuccess {
			continue
		}
		key := chat.ConversationID + "\x00" + chat.QuestionID
		if prev, ok := latest[key]; ok {
			if chat.Sequence > prev.sequence {
				latest[key] = &exchange{question: chat.Question, answer: chat.Answer, sequence: chat.Sequence}
			}
			continue
		}
		order = append(order, key)
		latest[key] = &exchange{question: chat.Question, answer: chat.Answer, sequence: chat.Sequence}
	}

	messages := make([]*schema.Message, 0, len(order)*2)
	for _, key := range order {
		ex := latest[key]
		messages = append(messages,
			&schema.Message{Role: schema.User, Content: ex.question},
			&schema.Message{Role: schema.Assistant, Content: ex.answer},
		)
	}
	return messages, nil
}

// TruncateByToken 根据估算token数从头部截断历史
// 截断只在成对的user/assistant边界上进行
func (h *Manager) TruncateByToken(messages []*schema.Message, maxTokens int) []*schema.Message {
	if maxTokens <= 0 || len(messages) == 0 {
		return messages
	}

	total := 0
	for i := len(messages) - 1; i >= 0; i-- {
		total += estimateTokenCount(messages[i].Content) + 10 // + role 开销
		if total > maxTokens {
			start := i + 1
			// 对齐到user消息开头，避免孤立的assistant回复
			for start < len(messages) && messages[start].Role != schema.User {
				start++
			}
			return messages[start:]
		}
	}
	return messages
}

var (
	hanPattern   = regexp.MustCompile(`[\p{Han}]`)
	asciiPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)
)

// estimateTokenCount 估算token数量
// 简化版：中文按 1.5 字/词，英文按 4 字/词
func estimateTokenCount(text string) int {
	chinese := utf8.RuneCountInString(text) - utf8.RuneCountInString(hanPattern.ReplaceAllString(text, ""))
	english := len(asciiPattern.FindAllString(text, -1))
	return chinese*3/2 + english*4/3 + 1
}
