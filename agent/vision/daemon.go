// Package vision 驱动物体检测子进程：模型只加载一次，就绪后输出 READY，
// 之后对 stdin 上的每行 "capture" 在 stdout 回一行 JSON。
package vision

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/kyronex/config"
	"go.uber.org/zap"
)

var (
	// ErrUnavailable 视觉进程未启用或无法启动
	ErrUnavailable = errors.New("vision: unavailable")
	// ErrEmptyResponse 进程返回了空行或已退出
	ErrEmptyResponse = errors.New("vision: empty response")
)

// Object 检测到的物体
type Object struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Capture 一次拍摄的检测结果
type Capture struct {
	Description string   `json:"description"`
	Objects     []Object `json:"objects"`
	Error       string   `json:"error,omitempty"`
}

// Count 返回指定标签的物体数量
func (c *Capture) Count(label string) int {
	n := 0
	for _, o := range c.Objects {
		if o.Label == label {
			n++
		}
	}
	return n
}

// Source 视觉采集接口，便于替换为测试桩
type Source interface {
	Capture(ctx context.Context) (*Capture, error)
}

// Daemon 管理常驻视觉子进程；请求串行执行，失败时杀掉进程并在下次请求时重启。
type Daemon struct {
	cfg    config.VisionConfig
	logger *zap.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	exited chan struct{}
}

// NewDaemon 创建视觉进程管理器（不立即启动）
func NewDaemon(cfg config.VisionConfig, logger *zap.Logger) *Daemon {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 15 * time.Second
	}
	return &Daemon{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "vision")),
	}
}

// Capture 请求一次拍摄
func (d *Daemon) Capture(ctx context.Context) (*Capture, error) {
	if !d.cfg.Enabled || d.cfg.Command == "" {
		return nil, ErrUnavailable
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(ctx); err != nil {
		return nil, err
	}
	if _, err := io.WriteString(d.stdin, "capture\n"); err != nil {
		d.killLocked()
		return nil, fmt.Errorf("vision: write command: %w", err)
	}
	line, err := d.readLine(ctx, d.cfg.CaptureTimeout)
	if err != nil {
		d.killLocked()
		return nil, err
	}
	var c Capture
	if err := json.Unmarshal([]byte(line), &c); err != nil {
		d.killLocked()
		return nil, fmt.Errorf("vision: decode response: %w", err)
	}
	if c.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, c.Error)
	}
	return &c, nil
}

// Describe 返回场景描述
func (d *Daemon) Describe(ctx context.Context) (string, error) {
	c, err := d.Capture(ctx)
	if err != nil {
		return "", err
	}
	return c.Description, nil
}

// Close 通知进程退出，超时后强制结束
func (d *Daemon) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd == nil {
		return nil
	}
	_, _ = io.WriteString(d.stdin, "quit\n")
	select {
	case <-d.exited:
	case <-time.After(3 * time.Second):
		d.logger.Warn("vision daemon did not quit, killing")
	}
	d.killLocked()
	return nil
}

func (d *Daemon) ensureStarted(ctx context.Context) error {
	if d.cmd != nil {
		select {
		case <-d.exited:
			d.logger.Warn("vision daemon exited, restarting")
			d.killLocked()
		default:
			return nil
		}
	}

	cmd := exec.Command(d.cfg.Command, d.cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	d.cmd, d.stdin, d.stdout, d.exited = cmd, stdin, bufio.NewReader(stdout), exited

	ready, err := d.readLine(ctx, d.cfg.StartTimeout)
	if err != nil {
		d.killLocked()
		return fmt.Errorf("%w: start: %v", ErrUnavailable, err)
	}
	d.logger.Info("vision daemon started", zap.String("banner", ready), zap.Int("pid", cmd.Process.Pid))
	return nil
}

// readLine 在超时内读取一行输出
func (d *Daemon) readLine(ctx context.Context, timeout time.Duration) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	reader := d.stdout
	go func() {
		line, err := reader.ReadString('\n')
		ch <- result{line: line, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		line := strings.TrimSpace(r.line)
		if line == "" {
			if r.err != nil {
				return "", fmt.Errorf("%w: %v", ErrEmptyResponse, r.err)
			}
			return "", ErrEmptyResponse
		}
		return line, nil
	case <-timer.C:
		return "", fmt.Errorf("vision: no response within %s", timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// killLocked 结束进程；读协程随管道关闭退出
func (d *Daemon) killLocked() {
	if d.cmd == nil {
		return
	}
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.stdin.Close()
	<-d.exited
	d.cmd, d.stdin, d.stdout, d.exited = nil, nil, nil, nil
}
