package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"validibot/internal/config"
	"validibot/internal/retention"
	"validibot/internal/validation/run"
	"validibot/internal/worker/handlers"
	"validibot/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Server 后台任务服务器
// 同时承载任务消费与周期任务调度（保留期清理扫描）
type Server struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	logger    *zap.Logger
}

// NewServer 创建后台任务服务器
func NewServer(
	cfg *config.Config,
	orchestrator *run.Orchestrator,
	purger *retention.Purger,
	logger *zap.Logger,
) *Server {
	redisOpt := asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"runs":      6, // 运行执行优先级高
				"retention": 2,
				"default":   1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()

	runHandler := handlers.NewRunHandler(orchestrator, logger)
	mux.HandleFunc(tasks.TypeExecuteRun, runHandler.HandleExecuteRun)

	retentionHandler := handlers.NewRetentionHandler(purger, logger)
	mux.HandleFunc(tasks.TypePurgeSweep, retentionHandler.HandlePurgeSweep)
	mux.HandleFunc(tasks.TypePurgeRetrySweep, retentionHandler.HandlePurgeRetrySweep)

	scheduler := newScheduler(redisOpt, cfg.Retention, logger)

	return &Server{server: srv, scheduler: scheduler, mux: mux, logger: logger}
}

// newScheduler 注册周期性清理任务
func newScheduler(redisOpt asynq.RedisClientOpt, cfg config.RetentionConfig, logger *zap.Logger) *asynq.Scheduler {
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		EnqueueErrorHandler: func(task *asynq.Task, opts []asynq.Option, err error) {
			logger.Error("周期任务入队失败",
				zap.String("type", task.Type()),
				zap.Error(err),
			)
		},
	})

	sweepPayload, _ := json.Marshal(tasks.PurgeSweepPayload{
		BatchSize:  cfg.SweepBatchSize(),
		MaxBatches: cfg.SweepMaxBatches(),
	})
	retryPayload, _ := json.Marshal(tasks.PurgeRetrySweepPayload{
		BatchSize: cfg.SweepBatchSize(),
	})

	if _, err := scheduler.Register(
		cfg.SweepSchedule(),
		asynq.NewTask(tasks.TypePurgeSweep, sweepPayload),
		asynq.Queue("retention"),
	); err != nil {
		logger.Error("注册清理扫描任务失败", zap.Error(err))
	}
	if _, err := scheduler.Register(
		cfg.RetrySchedule(),
		asynq.NewTask(tasks.TypePurgeRetrySweep, retryPayload),
		asynq.Queue("retention"),
	); err != nil {
		logger.Error("注册清理重试任务失败", zap.Error(err))
	}

	return scheduler
}

// Start 启动任务服务器与调度器（非阻塞）
func (s *Server) Start() error {
	s.logger.Info("后台任务服务器启动")
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	if err := s.scheduler.Start(); err != nil {
		s.server.Shutdown()
		return err
	}
	return nil
}

// Shutdown 优雅关停，等待在途任务完成
func (s *Server) Shutdown() {
	s.logger.Info("后台任务服务器关停")
	s.scheduler.Shutdown()
	s.server.Shutdown()
}
