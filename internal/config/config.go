package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Log         LogConfig         `mapstructure:"log"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	Backends    BackendsConfig    `mapstructure:"backends"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	// AsyncRuns 为 true 时，启动运行的请求入队后立即返回 202
	AsyncRuns bool `mapstructure:"async_runs"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
}

// RedisConfig Redis 配置（asynq 队列与工作流定义缓存共用）
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	PoolSize     int `mapstructure:"pool_size"`      // 连接池大小
	MinIdleConns int `mapstructure:"min_idle_conns"` // 最小空闲连接数
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// IdempotencyConfig 幂等键配置
type IdempotencyConfig struct {
	TTLHours     int `mapstructure:"ttl_hours"`      // 记录有效期，默认 24 小时
	MaxKeyLength int `mapstructure:"max_key_length"` // 键最大长度，默认 255
}

// TTL 返回记录有效期
func (c *IdempotencyConfig) TTL() time.Duration {
	hours := c.TTLHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// KeyLimit 返回键长度上限
func (c *IdempotencyConfig) KeyLimit() int {
	if c.MaxKeyLength <= 0 {
		return 255
	}
	return c.MaxKeyLength
}

// RetentionConfig 提交内容保留与清理配置
type RetentionConfig struct {
	BatchSize   int `mapstructure:"batch_size"`   // 单批处理数量，默认 100
	MaxBatches  int `mapstructure:"max_batches"`  // 单次扫描最大批数，默认 10
	MaxAttempts int `mapstructure:"max_attempts"` // 清理重试上限，默认 5

	SweepCron string `mapstructure:"sweep_cron"` // 过期扫描调度表达式，默认每小时
	RetryCron string `mapstructure:"retry_cron"` // 重试扫描调度表达式，默认每 5 分钟
}

// SweepBatchSize 返回单批处理数量
func (c *RetentionConfig) SweepBatchSize() int {
	if c.BatchSize <= 0 {
		return 100
	}
	return c.BatchSize
}

// SweepMaxBatches 返回单次扫描最大批数
func (c *RetentionConfig) SweepMaxBatches() int {
	if c.MaxBatches <= 0 {
		return 10
	}
	return c.MaxBatches
}

// SweepSchedule 返回过期扫描调度表达式
func (c *RetentionConfig) SweepSchedule() string {
	if c.SweepCron == "" {
		return "@every 1h"
	}
	return c.SweepCron
}

// RetrySchedule 返回重试扫描调度表达式
func (c *RetentionConfig) RetrySchedule() string {
	if c.RetryCron == "" {
		return "@every 5m"
	}
	return c.RetryCron
}

// BackendsConfig 执行后端配置
type BackendsConfig struct {
	// Containerized 选择激活的容器化后端实现: compose, agent
	Containerized string `mapstructure:"containerized"`

	// ProbeTimeout 存活探测超时（秒），默认 2
	ProbeTimeout int `mapstructure:"probe_timeout"`
	// RunTimeout 廉价后端单次执行超时（秒），默认 5
	RunTimeout int `mapstructure:"run_timeout"`
	// SimulationTimeout 仿真后端单次执行超时（秒），默认 300
	SimulationTimeout int `mapstructure:"simulation_timeout"`

	// Agent 自托管执行代理配置
	Agent AgentBackendConfig `mapstructure:"agent"`
	// Compose docker compose 编排配置
	Compose ComposeBackendConfig `mapstructure:"compose"`
}

// AgentBackendConfig 自托管执行代理（HTTP 守护进程）配置
type AgentBackendConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// ComposeBackendConfig docker compose 执行单元配置
type ComposeBackendConfig struct {
	Project     string `mapstructure:"project"`      // compose 项目名
	ServiceName string `mapstructure:"service_name"` // 仿真器服务名
	ComposeBin  string `mapstructure:"compose_bin"`  // 可执行文件，默认 docker
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件名和路径
	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("APP") // 环境变量前缀：APP_
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 支持嵌套配置：APP_DATABASE_HOST

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
