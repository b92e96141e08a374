package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"validibot/internal/config"
	"validibot/internal/infra"
	"validibot/internal/logger"
	"validibot/internal/retention"

	"go.uber.org/zap"
)

// purge_sweeper 保留期清理工具
// 扫描保留期已到的提交内容并清空其正文，校验和等审计元数据保留。
// 通常由 cron 调度，也可在排障时手工执行。
func main() {
	var (
		env        = flag.String("env", envOrDefault("APP_ENV", "dev"), "运行环境 (dev/prod)")
		dryRun     = flag.Bool("dry-run", false, "只统计不实际清理")
		batchSize  = flag.Int("batch-size", 0, "单批处理条数，0 使用配置默认值")
		maxBatches = flag.Int("max-batches", 0, "单次扫描最大批数，0 使用配置默认值")
		retry      = flag.Bool("retry", false, "处理失败重试队列而不是常规扫描")
	)
	flag.Parse()

	cfg, err := config.Load(*env, "")
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer infra.CloseDatabase()

	if *batchSize <= 0 {
		*batchSize = cfg.Retention.SweepBatchSize()
	}
	if *maxBatches <= 0 {
		*maxBatches = cfg.Retention.SweepMaxBatches()
	}

	purger := retention.NewPurger(db, nil, cfg.Retention.MaxAttempts)
	ctx := context.Background()

	var report *retention.SweepReport
	if *retry {
		report, err = purger.RetrySweep(ctx, *batchSize)
	} else {
		report, err = purger.Sweep(ctx, *batchSize, *maxBatches, *dryRun)
	}
	if report != nil {
		for _, line := range report.Lines() {
			fmt.Println(line)
		}
	}
	if err != nil {
		logger.Error("清理扫描失败", zap.Error(err))
		os.Exit(1)
	}
}

func envOrDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
