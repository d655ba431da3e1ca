package enrichment

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/kyronex/agent/vision"
	"go.uber.org/zap"
)

const visionUnavailable = "Capteurs visuels indisponibles."

// VisionGate 关键词触发的自动拍摄，带冷却时间
type VisionGate struct {
	source   vision.Source
	cooldown time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu   sync.Mutex
	last time.Time
}

// NewVisionGate 创建视觉门控；source 为 nil 时总是返回"不可用"
func NewVisionGate(source vision.Source, cooldown, timeout time.Duration, logger *zap.Logger) *VisionGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &VisionGate{
		source:   source,
		cooldown: cooldown,
		timeout:  timeout,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "vision_gate")),
	}
}

// Triggered 报告文本是否提到视觉相关内容
func (g *VisionGate) Triggered(text string) bool {
	return visionKeywords.MatchString(text)
}

// Inject 返回视觉块与耗时。未触发时 OK 为 false；冷却中或拍摄失败时
// 返回"不可用"占位块，保证提示词结构确定。force 跳过关键词和冷却检查。
func (g *VisionGate) Inject(ctx context.Context, text string, force bool) (Block, time.Duration) {
	if !force && !g.Triggered(text) {
		return Block{Kind: KindVision}, 0
	}
	if !force && !g.claim() {
		g.logger.Debug("vision cooldown active")
		return Block{Kind: KindVision, Text: visionUnavailable, OK: true}, 0
	}
	if force {
		g.mu.Lock()
		g.last = g.now()
		g.mu.Unlock()
	}
	if g.source == nil {
		return Block{Kind: KindVision, Text: visionUnavailable, OK: true}, 0
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	c, err := g.source.Capture(ctx)
	elapsed := time.Since(start)
	if err != nil || strings.TrimSpace(c.Description) == "" {
		g.logger.Warn("vision capture failed", zap.Error(err))
		return Block{Kind: KindVision, Text: visionUnavailable, OK: true}, elapsed
	}
	return Block{Kind: KindVision, Text: strings.TrimSpace(c.Description), OK: true}, elapsed
}

// claim 冷却期已过时记录本次拍摄并返回 true
func (g *VisionGate) claim() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if !g.last.IsZero() && now.Sub(g.last) < g.cooldown {
		return false
	}
	g.last = now
	return true
}
