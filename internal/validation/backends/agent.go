package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"validibot/internal/logger"
	"validibot/internal/validation"

	"go.uber.org/zap"
)

// probeCacheTTL 存活探测结果的缓存时间
// 避免每个步骤都打一次 /healthz
const probeCacheTTL = 30 * time.Second

// AgentBackend 自托管执行代理后端
// 校验器在远端 HTTP 守护进程内的容器中执行，守护进程负责容器生命周期
type AgentBackend struct {
	baseURL      string
	token        string
	client       *http.Client
	probeTimeout time.Duration

	mu         sync.Mutex
	probedAt   time.Time
	probeAlive bool
}

// NewAgentBackend 创建执行代理后端
func NewAgentBackend(baseURL, token string, probeTimeout time.Duration) *AgentBackend {
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	return &AgentBackend{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		client:       &http.Client{},
		probeTimeout: probeTimeout,
	}
}

// BackendName 实现 ExecutionBackend 接口
func (b *AgentBackend) BackendName() string {
	return "agent"
}

// IsAvailable 探测守护进程的 /healthz 端点，结果短暂缓存
func (b *AgentBackend) IsAvailable(ctx context.Context) bool {
	b.mu.Lock()
	if time.Since(b.probedAt) < probeCacheTTL {
		alive := b.probeAlive
		b.mu.Unlock()
		return alive
	}
	b.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, b.probeTimeout)
	defer cancel()

	alive := b.probe(probeCtx)

	b.mu.Lock()
	b.probedAt = time.Now()
	b.probeAlive = alive
	b.mu.Unlock()

	return alive
}

func (b *AgentBackend) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		logger.Debug("执行代理探测失败", zap.String("base_url", b.baseURL), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Run 实现 ExecutionBackend 接口
// 将执行输入 POST 给守护进程，守护进程返回归一化的执行结果
func (b *AgentBackend) Run(ctx context.Context, in *validation.ExecInput) (*validation.ExecResult, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("序列化执行输入失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构造执行请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		// 保留传输错误链，上层按 context.DeadlineExceeded 区分超时
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("读取执行响应失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("执行代理返回 %d: %s", resp.StatusCode, truncate(string(body), 500))
	}

	var result validation.ExecResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("解析执行结果失败: %w", err)
	}
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
