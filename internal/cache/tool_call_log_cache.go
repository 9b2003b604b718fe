package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/apimkt/portal/core/cache"
	"github.com/apimkt/portal/internal/dao"
	gormModel "github.com/apimkt/portal/internal/model/gorm"
	"github.com/gogf/gf/v2/frame/g"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis key前缀
	toolCallLogKeyPrefix  = "tool_log:"
	chatToolLogListPrefix = "chat_tool_logs:"

	// 默认缓存过期时间
	defaultToolLogTTL = 48 * time.Hour

	// 刷盘配置
	defaultFlushInterval = 30 * time.Second // 30秒刷盘一次
	defaultBatchSize     = 50               // 每批次刷盘50条
)

// ToolCallLogCache 工具调用日志缓存层
// 写路径先落Redis再异步批量刷盘，对话主流程不等数据库
type ToolCallLogCache struct {
	rdb          *redis.Client
	flushTicker  *time.Ticker
	pendingQueue chan *gormModel.ToolCallLog
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
}

var (
	toolLogCache     *ToolCallLogCache
	toolLogCacheOnce sync.Once
)

// InitToolCallLogCache 初始化工具调用日志缓存
func InitToolCallLogCache(ctx context.Context) error {
	var initErr error
	toolLogCacheOnce.Do(func() {
		rdb := cache.GetRedisClient()
		if rdb == nil {
			initErr = fmt.Errorf("Redis客户端未初始化")
			return
		}

		cctx, cancel := context.WithCancel(ctx)
		toolLogCache = &ToolCallLogCache{
			rdb:          rdb,
			flushTicker:  time.NewTicker(defaultFlushInterval),
			pendingQueue: make(chan *gormModel.ToolCallLog, 1000),
			ctx:          cctx,
			cancel:       cancel,
		}

		// 启动刷盘协程
		toolLogCache.wg.Add(1)
		go toolLogCache.flushWorker()

		g.Log().Info(ctx, "工具调用日志缓存层初始化成功")
	})

	return initErr
}

// GetToolCallLogCache 获取工具调用日志缓存实例
// 未初始化时返回nil，调用方降级为直接写数据库
func GetToolCallLogCache() *ToolCallLogCache {
	return toolLogCache
}

// SaveToolCallLog 保存工具调用日志到缓存（异步刷盘到数据库）
func (tc *ToolCallLogCache) SaveToolCallLog(ctx context.Context, log *gormModel.ToolCallLog) error {
	// 入库前先定ID，缓存key和刷盘写的是同一条记录
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreateTime == nil {
		now := time.Now()
		log.CreateTime = &now
	}

	// 1. 先写入Redis缓存
	if err := tc.saveToCache(ctx, log); err != nil {
		g.Log().Errorf(ctx, "写入工具调用日志到Redis缓存失败: %v", err)
		// 缓存失败时直接写数据库
		return tc.saveToDatabase(ctx, log)
	}

	// 2. 将日志加入刷盘队列
	select {
	case tc.pendingQueue <- log:
		// 成功加入队列
	default:
		// 队列满了，直接写数据库
		g.Log().Warning(ctx, "工具调用日志刷盘队列已满，直接写入数据库")
		return tc.saveToDatabase(ctx, log)
	}

	return nil
}

// saveToCache 保存日志到Redis
func (tc *ToolCallLogCache) saveToCache(ctx context.Context, log *gormModel.ToolCallLog) error {
	// 1. 保存日志主体
	logKey := fmt.Sprintf("%s%s", toolCallLogKeyPrefix, log.ID)
	logJSON, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("序列化工具调用日志失败: %w", err)
	}
	if err := tc.rdb.Set(ctx, logKey, logJSON, defaultToolLogTTL).Err(); err != nil {
		return fmt.Errorf("保存工具调用日志到Redis失败: %w", err)
	}

	// 2. 将日志ID添加到轮次的日志列表中（使用sorted set，按创建时间排序）
	if log.ChatID != "" {
		chatListKey := fmt.Sprintf("%s%s", chatToolLogListPrefix, log.ChatID)
		var score float64
		if log.CreateTime != nil {
			score = float64(log.CreateTime.UnixMilli())
		}
		if err := tc.rdb.ZAdd(ctx, chatListKey, redis.Z{
			Score:  score,
			Member: log.ID,
		}).Err(); err != nil {
			g.Log().Errorf(ctx, "添加工具调用日志到轮次列表失败: %v", err)
		}
		// 设置轮次列表的过期时间
		tc.rdb.Expire(ctx, chatListKey, defaultToolLogTTL)
	}

	return nil
}

// saveToDatabase 保存日志到数据库
func (tc *ToolCallLogCache) saveToDatabase(ctx context.Context, log *gormModel.ToolCallLog) error {
	return dao.ToolCallLog.Create(ctx, log)
}

// GetToolCallLog 获取单条工具调用日志（优先从缓存读取）
func (tc *ToolCallLogCache) GetToolCallLog(ctx context.Context, id string) (*gormModel.ToolCallLog, error) {
	// 1. 先从Redis缓存读取
	logKey := fmt.Sprintf("%s%s", toolCallLogKeyPrefix, id)
	logJSON, err := tc.rdb.Get(ctx, logKey).Result()
	if err == nil {
		// 缓存命中
		var log gormModel.ToolCallLog
		if err := json.Unmarshal([]byte(logJSON), &log); err == nil {
			return &log, nil
		}
	} else if err != redis.Nil {
		g.Log().Errorf(ctx, "从Redis读取工具调用日志失败: %v", err)
	}

	// 2. 缓存未命中，从数据库读取
	log, err := dao.ToolCallLog.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if log == nil {
		return nil, nil
	}

	// 3. 回写缓存
	go tc.saveToCache(context.Background(), log)

	return log, nil
}

// GetToolCallLogsByChatID 获取单轮对话的工具调用日志（优先从缓存读取）
func (tc *ToolCallLogCache) GetToolCallLogsByChatID(ctx context.Context, chatID string) ([]*gormModel.ToolCallLog, error) {
	chatListKey := fmt.Sprintf("%s%s", chatToolLogListPrefix, chatID)

	// 1. 检查缓存是否存在
	exists, err := tc.rdb.Exists(ctx, chatListKey).Result()
	if err == nil && exists > 0 {
		// 从缓存读取，按调用时间正序
		logIDs, err := tc.rdb.ZRange(ctx, chatListKey, 0, -1).Result()
		if err != nil {
			g.Log().Errorf(ctx, "获取轮次工具调用日志列表失败: %v", err)
		} else {
			var logs []*gormModel.ToolCallLog
			for _, logID := range logIDs {
				log, err := tc.GetToolCallLog(ctx, logID)
				if err == nil && log != nil {
					logs = append(logs, log)
				}
			}
			if len(logs) > 0 {
				return logs, nil
			}
		}
	}

	// 2. 缓存未命中，从数据库读取
	logs, err := dao.ToolCallLog.ListByChatID(ctx, chatID)
	if err != nil {
		return nil, err
	}

	// 3. 回写缓存（异步）
	go func() {
		for _, log := range logs {
			tc.saveToCache(context.Background(), log)
		}
	}()

	return logs, nil
}

// flushWorker 定期刷盘协程
func (tc *ToolCallLogCache) flushWorker() {
	defer tc.wg.Done()

	batch := make([]*gormModel.ToolCallLog, 0, defaultBatchSize)

	for {
		select {
		case <-tc.ctx.Done():
			// 退出前刷盘所有剩余数据
			tc.flushBatch(batch)
			for len(tc.pendingQueue) > 0 {
				log := <-tc.pendingQueue
				if err := tc.saveToDatabase(context.Background(), log); err != nil {
					g.Log().Errorf(context.Background(), "刷盘工具调用日志失败: %v", err)
				}
			}
			return

		case <-tc.flushTicker.C:
			// 定时刷盘
			if len(batch) > 0 {
				tc.flushBatch(batch)
				batch = make([]*gormModel.ToolCallLog, 0, defaultBatchSize)
			}

		case log := <-tc.pendingQueue:
			batch = append(batch, log)
			if len(batch) >= defaultBatchSize {
				// 批次满了，立即刷盘
				tc.flushBatch(batch)
				batch = make([]*gormModel.ToolCallLog, 0, defaultBatchSize)
			}
		}
	}
}

// flushBatch 批量刷盘
func (tc *ToolCallLogCache) flushBatch(batch []*gormModel.ToolCallLog) {
	if len(batch) == 0 {
		return
	}

	ctx := context.Background()
	if err := dao.ToolCallLog.CreateBatch(ctx, batch); err != nil {
		// 批量失败退化为逐条写，尽量少丢日志
		g.Log().Errorf(ctx, "批量刷盘工具调用日志失败，退化为逐条写入: %v", err)
		failCount := 0
		for _, log := range batch {
			if err := tc.saveToDatabase(ctx, log); err != nil {
				failCount++
			}
		}
		if failCount > 0 {
			g.Log().Errorf(ctx, "逐条刷盘仍有%d条失败", failCount)
		}
		return
	}

	g.Log().Infof(ctx, "刷盘工具调用日志完成: %d条", len(batch))
}

// Close 关闭缓存层
func (tc *ToolCallLogCache) Close() {
	if tc.cancel != nil {
		tc.cancel()
	}
	tc.wg.Wait()
	if tc.flushTicker != nil {
		tc.flushTicker.Stop()
	}
}
