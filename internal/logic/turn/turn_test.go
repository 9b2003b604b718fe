package turn

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/apimkt/portal/core/chat"
	"github.com/apimkt/portal/core/errors"
	"github.com/apimkt/portal/core/metrics"
	"github.com/apimkt/portal/internal/dao"
	gormModel "github.com/apimkt/portal/internal/model/gorm"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		TranslateError: true,
	})
	require.NoError(t, err)

	// 内存库限制单连接，模拟生产库的写入串行化
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, gormModel.Migrate(db))
	dao.SetDB(db)
}

func allocation(conversationID, questionID, productID string) *chat.TurnAllocation {
	return &chat.TurnAllocation{
		SessionID:      "sess-1",
		UserID:         "user-1",
		ConversationID: conversationID,
		QuestionID:     questionID,
		ProductID:      productID,
		Question:       "question",
	}
}

func TestAllocateSequencesAreGapFree(t *testing.T) {
	setupTestDB(t)
	m := NewManager()
	ctx := context.Background()

	// 并发"重新生成"同一问答，序号必须无重复无空洞
	const workers = 8
	const perWorker = 4

	var wg sync.WaitGroup
	chatIDs := make(chan string, workers*perWorker)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				chatID, err := m.Allocate(ctx, allocation("conv-1", "q-1", "prod-1"))
				assert.NoError(t, err)
				chatIDs <- chatID
			}
		}()
	}
	wg.Wait()
	close(chatIDs)

	var chats []*gormModel.Chat
	require.NoError(t, dao.GetDB().
		Where("conversation_id = ? AND question_id = ? AND product_id = ?", "conv-1", "q-1", "prod-1").
		Find(&chats).Error)
	require.Len(t, chats, workers*perWorker)

	// 序号从0开始连续无空洞
	sequences := make([]int, 0, len(chats))
	for _, c := range chats {
		sequences = append(sequences, c.Sequence)
	}
	sort.Ints(sequences)
	for i, seq := range sequences {
		assert.Equal(t, i, seq)
	}
}

func TestAllocateIsolatesKeys(t *testing.T) {
	setupTestDB(t)
	m := NewManager()
	ctx := context.Background()

	// 不同产品、不同提问各自独立计数
	_, err := m.Allocate(ctx, allocation("conv-1", "q-1", "prod-a"))
	require.NoError(t, err)
	_, err = m.Allocate(ctx, allocation("conv-1", "q-1", "prod-b"))
	require.NoError(t, err)
	_, err = m.Allocate(ctx, allocation("conv-1", "q-2", "prod-a"))
	require.NoError(t, err)
	_, err = m.Allocate(ctx, allocation("conv-1", "q-1", "prod-a"))
	require.NoError(t, err)

	var chats []*gormModel.Chat
	require.NoError(t, dao.GetDB().
		Where("conversation_id = ? AND question_id = ? AND product_id = ?", "conv-1", "q-1", "prod-a").
		Order("sequence ASC").Find(&chats).Error)
	require.Len(t, chats, 2)
	assert.Equal(t, 0, chats[0].Sequence)
	assert.Equal(t, 1, chats[1].Sequence)

	var other gormModel.Chat
	require.NoError(t, dao.GetDB().
		Where("conversation_id = ? AND question_id = ? AND product_id = ?", "conv-1", "q-2", "prod-a").
		First(&other).Error)
	assert.Equal(t, 0, other.Sequence)
}

func TestTransitionLifecycle(t *testing.T) {
	setupTestDB(t)
	m := NewManager()
	ctx := context.Background()

	chatID, err := m.Allocate(ctx, allocation("conv-1", "q-1", "prod-1"))
	require.NoError(t, err)

	require.NoError(t, m.MarkProcessing(ctx, chatID))

	usage := &metrics.ChatUsage{TotalTokens: 42, ElapsedTime: 100}
	require.NoError(t, m.MarkSuccess(ctx, chatID, "最终回答", usage))

	chat, err := dao.Chat.GetByChatID(ctx, chatID)
	require.NoError(t, err)
	require.NotNil(t, chat)
	assert.Equal(t, gormModel.ChatStatusSuccess, chat.Status)
	assert.Equal(t, "最终回答", chat.Answer)
	assert.True(t, strings.HasPrefix(chat.AnswerID, "answer_"))
	assert.NotEmpty(t, chat.Usage)
}

func TestTransitionRejectsInvalidPaths(t *testing.T) {
	setupTestDB(t)
	m := NewManager()
	ctx := context.Background()

	chatID, err := m.Allocate(ctx, allocation("conv-1", "q-1", "prod-1"))
	require.NoError(t, err)

	// INIT 不能直接到 SUCCESS
	err = m.MarkSuccess(ctx, chatID, "answer", nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidTransition))

	require.NoError(t, m.MarkProcessing(ctx, chatID))

	// PROCESSING 不能重复进入
	err = m.MarkProcessing(ctx, chatID)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidTransition))

	// 空回答不能进入 SUCCESS
	err = m.MarkSuccess(ctx, chatID, "", nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidTransition))

	require.NoError(t, m.MarkFailed(ctx, chatID, errors.New(errors.ErrUpstreamResponse, "boom")))

	chat, err := dao.Chat.GetByChatID(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, gormModel.ChatStatusFailed, chat.Status)
	assert.Contains(t, chat.FailReason, "boom")
}

func TestTransitionUnknownChat(t *testing.T) {
	setupTestDB(t)
	m := NewManager()

	err := m.MarkProcessing(context.Background(), "chat_missing")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrChatNotFound))
}
