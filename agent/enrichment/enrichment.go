// Package enrichment 在推理前增强用户消息：确定性的函数调用应答、摄像头描述、
// 本地知识摘录，以及经过门控的联网搜索结果。
package enrichment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/kyronex/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BlockKind 上下文块类型
type BlockKind string

const (
	KindVision    BlockKind = "vision"
	KindKnowledge BlockKind = "knowledge"
	KindWeb       BlockKind = "web"
)

// Block 带来源标记的上下文块；OK 为 false 表示没有内容
type Block struct {
	Kind BlockKind
	Text string
	OK   bool
}

// Render 按来源格式化
func (b Block) Render() string {
	if !b.OK {
		return ""
	}
	switch b.Kind {
	case KindKnowledge:
		return fmt.Sprintf("[CONNAISSANCE LOCALE (Prioritaire):\n%s]\n", b.Text)
	case KindWeb:
		return fmt.Sprintf("[INFO WEB:\n%s]\n", b.Text)
	case KindVision:
		return fmt.Sprintf("[VISION: %s] ", b.Text)
	}
	return ""
}

// Request 一次增强请求
type Request struct {
	Text        string
	UserName    string
	ForceVision bool
}

// Result 增强结果；Function 非空时回复已确定，不再调用模型
type Result struct {
	Original  string
	Function  *FunctionCall
	Vision    Block
	Knowledge Block
	Web       Block

	VisionElapsed time.Duration
}

// Prompt 拼接发送给模型的用户消息：知识块、网络块、视觉块、原文
func (r Result) Prompt() string {
	var sb strings.Builder
	sb.WriteString(r.Knowledge.Render())
	sb.WriteString(r.Web.Render())
	sb.WriteString(r.Vision.Render())
	sb.WriteString(r.Original)
	return sb.String()
}

// Stage 上下文增强阶段
type Stage struct {
	functions *Interceptor
	vision    *VisionGate
	corpus    *Corpus
	search    *WebSearch
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewStage 组装增强阶段；任一组件为 nil 时跳过该步骤
func NewStage(functions *Interceptor, gate *VisionGate, corpus *Corpus, search *WebSearch, collector *metrics.Collector, logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{
		functions: functions,
		vision:    gate,
		corpus:    corpus,
		search:    search,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "enrichment")),
	}
}

// Enrich 依次执行直答拦截、视觉、知识库与网络搜索（后两者并发）
func (s *Stage) Enrich(ctx context.Context, req Request) Result {
	res := Result{Original: req.Text}

	if s.functions != nil && !req.ForceVision {
		if call, ok := s.functions.Intercept(ctx, req.Text, req.UserName); ok {
			s.metrics.RecordFunctionCall(call.Name)
			res.Function = &call
			return res
		}
	}

	if s.vision != nil {
		res.Vision, res.VisionElapsed = s.vision.Inject(ctx, req.Text, req.ForceVision)
		s.record(res.Vision, req.ForceVision || s.vision.Triggered(req.Text))
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.corpus != nil {
		g.Go(func() error {
			res.Knowledge = s.corpus.Search(req.Text)
			return nil
		})
	}
	if s.search != nil {
		g.Go(func() error {
			res.Web = s.search.Lookup(gctx, req.Text)
			return nil
		})
	}
	_ = g.Wait()

	if s.corpus != nil {
		s.record(res.Knowledge, true)
	}
	if s.search != nil {
		s.record(res.Web, Gate(req.Text))
	}
	return res
}

func (s *Stage) record(b Block, attempted bool) {
	outcome := "used"
	switch {
	case !attempted:
		outcome = "skipped"
	case !b.OK:
		outcome = "empty"
	}
	s.metrics.RecordEnrichment(string(b.Kind), outcome)
}
