package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"validibot/internal/logger"
	"validibot/internal/validation"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// workflowCacheTTL 工作流定义的缓存时间
// 定义变更低频，短 TTL 加显式失效足够
const workflowCacheTTL = 5 * time.Minute

// WorkflowCache 工作流定义的 Redis 读穿缓存
// 运行发起路径每次都要加载完整工作流（含步骤），缓存避免热点查询打到数据库
type WorkflowCache struct {
	rdb *redis.Client
}

// NewWorkflowCache 创建工作流缓存
func NewWorkflowCache(rdb *redis.Client) *WorkflowCache {
	return &WorkflowCache{rdb: rdb}
}

func (c *WorkflowCache) key(tenantID, workflowID string) string {
	return fmt.Sprintf("validibot:workflow:%s:%s", tenantID, workflowID)
}

// Get 读取缓存的工作流定义，未命中或缓存不可用时返回 (nil, false)
func (c *WorkflowCache) Get(ctx context.Context, tenantID, workflowID string) (*validation.Workflow, bool) {
	if c.rdb == nil {
		return nil, false
	}

	raw, err := c.rdb.Get(ctx, c.key(tenantID, workflowID)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Warn("工作流缓存读取失败", zap.Error(err))
		return nil, false
	}

	var workflow validation.Workflow
	if err := json.Unmarshal(raw, &workflow); err != nil {
		logger.Warn("工作流缓存内容损坏", zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, false
	}
	return &workflow, true
}

// Set 写入工作流定义，缓存失败只记日志不影响主流程
func (c *WorkflowCache) Set(ctx context.Context, workflow *validation.Workflow) {
	if c.rdb == nil || workflow == nil {
		return
	}

	raw, err := json.Marshal(workflow)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(workflow.TenantID, workflow.ID), raw, workflowCacheTTL).Err(); err != nil {
		logger.Warn("工作流缓存写入失败", zap.Error(err))
	}
}

// Invalidate 工作流定义变更后使缓存失效
func (c *WorkflowCache) Invalidate(ctx context.Context, tenantID, workflowID string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, c.key(tenantID, workflowID)).Err(); err != nil {
		logger.Warn("工作流缓存失效失败", zap.Error(err))
	}
}
