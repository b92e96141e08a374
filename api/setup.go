package api

import (
	"net/http"
	"time"

	runHandlers "validibot/api/handlers/runs"
	submissionHandlers "validibot/api/handlers/submissions"
	workflowHandlers "validibot/api/handlers/workflows"
	"validibot/internal/authz"
	"validibot/internal/cache"
	"validibot/internal/config"
	"validibot/internal/idempotency"
	"validibot/internal/infra"
	"validibot/internal/infra/queue"
	"validibot/internal/logger"
	"validibot/internal/metrics"
	"validibot/internal/middleware"
	"validibot/internal/retention"
	"validibot/internal/tracking"
	"validibot/internal/validation"
	"validibot/internal/validation/backends"
	"validibot/internal/validation/run"
	"validibot/internal/validation/validators"
	"validibot/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// buildRegistry 按配置把校验器类型映射到执行后端
// 廉价校验器走进程内，仿真类走容器化后端
func buildRegistry(cfg *config.Config) *backends.Registry {
	registry := backends.NewRegistry()

	inprocess := backends.NewInProcessBackend(validators.BuiltinEngines())
	registry.Register(validation.KindSchemaCheck, inprocess)
	registry.Register(validation.KindXMLCheck, inprocess)

	probeTimeout := time.Duration(cfg.Backends.ProbeTimeout) * time.Second
	var containerized backends.ExecutionBackend
	switch cfg.Backends.Containerized {
	case "agent":
		containerized = backends.NewAgentBackend(cfg.Backends.Agent.BaseURL, cfg.Backends.Agent.Token, probeTimeout)
	default:
		containerized = backends.NewComposeBackend(
			cfg.Backends.Compose.ComposeBin,
			cfg.Backends.Compose.Project,
			cfg.Backends.Compose.ServiceName,
		)
	}
	registry.Register(validation.KindEnergySimulation, containerized)
	registry.Register(validation.KindCustom, containerized)

	return registry
}

// SetupRouter 组装 Gin 路由与后台任务服务器
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *worker.Server) {
	queueClient := queue.NewClient(cfg.Redis)
	redisClient := infra.GetRedis()

	registry := buildRegistry(cfg)
	tracker := tracking.NewLogTracker()
	capable := authz.NewAllowAll()
	wfCache := cache.NewWorkflowCache(redisClient)

	processor := run.NewStepProcessor(
		db,
		registry,
		tracker,
		time.Duration(cfg.Backends.RunTimeout)*time.Second,
		time.Duration(cfg.Backends.SimulationTimeout)*time.Second,
	)
	orchestrator := run.NewOrchestrator(db, processor, capable, tracker, wfCache, queueClient)

	purger := retention.NewPurger(db, nil, cfg.Retention.MaxAttempts)

	workflowService := validation.NewWorkflowService(db)
	submissionService := validation.NewSubmissionService(db)

	idemStore := idempotency.NewStore(db, cfg.Idempotency.TTL())
	gate := idempotency.Gate(idemStore, cfg.Idempotency.KeyLimit())

	handlers := &Handlers{
		Runs:            runHandlers.NewRunHandler(orchestrator, cfg.Server.AsyncRuns),
		Workflows:       workflowHandlers.NewWorkflowHandler(workflowService, wfCache),
		Submissions:     submissionHandlers.NewSubmissionHandler(submissionService),
		IdempotencyGate: gate,
	}

	router := gin.New()
	router.Use(Recovery(), middleware.RequestID(), RequestLogger(), CORS(), metrics.GinMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		if err := infra.HealthCheck(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	RegisterRoutes(router, handlers)

	workerServer := worker.NewServer(cfg, orchestrator, purger, logger.Get())

	return router, workerServer
}
