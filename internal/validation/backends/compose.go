package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"validibot/internal/logger"
	"validibot/internal/validation"

	"go.uber.org/zap"
)

// ComposeBackend docker compose 执行后端
// 每次执行以 `docker compose run --rm` 拉起一个一次性仿真器容器，
// 执行输入经 stdin 传入，容器把归一化结果写到 stdout
type ComposeBackend struct {
	composeBin  string
	project     string
	serviceName string
}

// NewComposeBackend 创建 compose 后端
func NewComposeBackend(composeBin, project, serviceName string) *ComposeBackend {
	if composeBin == "" {
		composeBin = "docker"
	}
	return &ComposeBackend{
		composeBin:  composeBin,
		project:     project,
		serviceName: serviceName,
	}
}

// BackendName 实现 ExecutionBackend 接口
func (b *ComposeBackend) BackendName() string {
	return "compose"
}

// IsAvailable 通过 `docker info` 探测容器守护进程是否可达
func (b *ComposeBackend) IsAvailable(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, b.composeBin, "info")
	if err := cmd.Run(); err != nil {
		logger.Debug("容器守护进程探测失败", zap.String("bin", b.composeBin), zap.Error(err))
		return false
	}
	return true
}

// Run 实现 ExecutionBackend 接口
func (b *ComposeBackend) Run(ctx context.Context, in *validation.ExecInput) (*validation.ExecResult, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("序列化执行输入失败: %w", err)
	}

	args := []string{"compose"}
	if b.project != "" {
		args = append(args, "-p", b.project)
	}
	args = append(args, "run", "--rm", "-T", b.serviceName)

	cmd := exec.CommandContext(ctx, b.composeBin, args...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("仿真器容器执行失败: %v: %s", err, truncate(stderr.String(), 500))
	}

	var result validation.ExecResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("解析仿真器输出失败: %w", err)
	}
	return &result, nil
}
