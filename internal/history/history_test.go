package history

import (
	"context"
	"fmt"
	"testing"

	"github.com/apimkt/portal/internal/dao"
	gormModel "github.com/apimkt/portal/internal/model/gorm"
	"github.com/apimkt/portal/pkg/schema"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gormModel.Migrate(db))
	dao.SetDB(db)
}

func seedChat(t *testing.T, conv string, seq int, status, question, answer string) {
	require.NoError(t, dao.GetDB().Create(&gormModel.Chat{
		SessionID:      "sess-1",
		ConversationID: conv,
		QuestionID:     conv + "-q",
		ProductID:      "prod-1",
		Sequence:       seq,
		Question:       question,
		Answer:         answer,
		Status:         status,
	}).Error)
}

func TestBuildMessagesOnlySuccessfulTurns(t *testing.T) {
	setupTestDB(t)

	seedChat(t, "conv-1", 0, gormModel.ChatStatusSuccess, "第一问", "第一答")
	seedChat(t, "conv-2", 0, gormModel.ChatStatusFailed, "失败的问题", "")
	seedChat(t, "conv-3", 0, gormModel.ChatStatusSuccess, "第三问", "第三答")
	seedChat(t, "conv-4", 0, gormModel.ChatStatusProcessing, "进行中", "")

	messages, err := NewManager().BuildMessages(context.Background(), "sess-1", "prod-1")
	require.NoError(t, err)
	require.Len(t, messages, 4)

	assert.Equal(t, schema.User, messages[0].Role)
	assert.Equal(t, "第一问", messages[0].Content)
	assert.Equal(t, schema.Assistant, messages[1].Role)
	assert.Equal(t, "第一答", messages[1].Content)
	assert.Equal(t, "第三问", messages[2].Content)
	assert.Equal(t, "第三答", messages[3].Content)
}

func TestBuildMessagesKeepsLatestRetry(t *testing.T) {
	setupTestDB(t)

	// 同一问答交换重新生成两次，历史里只保留最新的成功轮次
	seedChat(t, "conv-1", 0, gormModel.ChatStatusSuccess, "重试的问题", "旧答案")
	seedChat(t, "conv-1", 1, gormModel.ChatStatusFailed, "重试的问题", "")
	seedChat(t, "conv-1", 2, gormModel.ChatStatusSuccess, "重试的问题", "新答案")
	seedChat(t, "conv-2", 0, gormModel.ChatStatusSuccess, "后续问题", "后续答案")

	messages, err := NewManager().BuildMessages(context.Background(), "sess-1", "prod-1")
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Equal(t, "重试的问题", messages[0].Content)
	assert.Equal(t, "新答案", messages[1].Content)
	assert.Equal(t, "后续问题", messages[2].Content)
	assert.Equal(t, "后续答案", messages[3].Content)
}

func TestBuildMessagesEmptySession(t *testing.T) {
	setupTestDB(t)

	messages, err := NewManager().BuildMessages(context.Background(), "sess-none", "prod-1")
	require.NoError(t, err)
	assert.Empty(t, messages)

	// 临时提问无会话，不带历史
	messages, err = NewManager().BuildMessages(context.Background(), "", "prod-1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestTruncateByTokenKeepsRecentPairs(t *testing.T) {
	h := NewManager()

	var messages []*schema.Message
	for i := 0; i < 10; i++ {
		messages = append(messages,
			&schema.Message{Role: schema.User, Content: "这是一个比较长的用户问题内容"},
			&schema.Message{Role: schema.Assistant, Content: "这是一个比较长的助手回答内容"},
		)
	}

	truncated := h.TruncateByToken(messages, 100)
	assert.Less(t, len(truncated), len(messages))
	require.NotEmpty(t, truncated)
	// 截断后以user消息开头
	assert.Equal(t, schema.User, truncated[0].Role)
	// 最新的消息保留在尾部
	assert.Same(t, messages[len(messages)-1], truncated[len(truncated)-1])
}

func TestTruncateByTokenNoLimit(t *testing.T) {
	h := NewManager()
	messages := []*schema.Message{{Role: schema.User, Content: "hi"}}

	assert.Len(t, h.TruncateByToken(messages, 0), 1)
	assert.Len(t, h.TruncateByToken(messages, 10000), 1)
}
