package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"validibot/internal/config"
	"validibot/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Client 任务队列客户端接口
type Client interface {
	EnqueueExecuteRun(ctx context.Context, runID, tenantID string) error
	EnqueuePurgeSweep(ctx context.Context, payload tasks.PurgeSweepPayload) error
	EnqueuePurgeRetrySweep(ctx context.Context, payload tasks.PurgeRetrySweepPayload) error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &asynqClient{client: client}
}

func (c *asynqClient) EnqueueExecuteRun(ctx context.Context, runID, tenantID string) error {
	payload, err := json.Marshal(tasks.ExecuteRunPayload{RunID: runID, TenantID: tenantID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeExecuteRun, payload)

	// 执行本身幂等（PENDING 条件更新仲裁），队列层可以安全重试
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
		asynq.Queue("runs"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) EnqueuePurgeSweep(ctx context.Context, payload tasks.PurgeSweepPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypePurgeSweep, data)

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(0), // 扫描失败等下一轮调度，不做队列层重试
		asynq.Timeout(10*time.Minute),
		asynq.Queue("retention"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) EnqueuePurgeRetrySweep(ctx context.Context, payload tasks.PurgeRetrySweepPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypePurgeRetrySweep, data)

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(0),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("retention"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
