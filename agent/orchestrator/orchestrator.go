package orchestrator

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/agent/conversation"
	"github.com/BaSui01/kyronex/agent/enrichment"
	"github.com/BaSui01/kyronex/agent/language"
	"github.com/BaSui01/kyronex/agent/persistence"
	"github.com/BaSui01/kyronex/agent/persona"
	"github.com/BaSui01/kyronex/agent/proactive"
	"github.com/BaSui01/kyronex/agent/voice"
	"github.com/BaSui01/kyronex/config"
	"github.com/BaSui01/kyronex/internal/metrics"
	"github.com/BaSui01/kyronex/internal/pool"
	"github.com/BaSui01/kyronex/internal/telemetry"
	"github.com/BaSui01/kyronex/llm"
	"github.com/BaSui01/kyronex/llm/tokenizer"
	"github.com/BaSui01/kyronex/types"
)

// FallbackReply 推理在首个 token 之前失败时的回复
const FallbackReply = "Mes circuits ont subi une micro-interruption. Reformulez votre demande."

// =============================================================================
// 🔌 协作者
// =============================================================================

// Enricher 上下文增强
type Enricher interface {
	Enrich(ctx context.Context, req enrichment.Request) enrichment.Result
}

// Synthesizer 单段合成，返回音频引用
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string, emotion voice.Emotion) (string, error)
}

// Persistence 设备资料、记忆与转录。*persistence.Store 满足该接口。
type Persistence interface {
	Profile(ctx context.Context, deviceKey string) persistence.DeviceProfile
	RecentFacts(ctx context.Context, n int) []string
	AddFact(ctx context.Context, fact, user string) (int64, error)
	ForgetUser(ctx context.Context, user string) (int64, error)
	AppendExchange(ctx context.Context, user, assistant, userMsg, reply string) error
}

// Heartbeater 连接统计
type Heartbeater interface {
	Beat(ctx context.Context, hb persistence.Heartbeat) (int, bool)
}

// Monitor 对话监控流
type Monitor interface {
	Broadcast(ctx context.Context, v any) (int, error)
}

// CacheDropper 释放系统页缓存
type CacheDropper interface {
	DropCaches(ctx context.Context, timeout time.Duration) error
}

// AudioSweeper 清理过期音频文件
type AudioSweeper interface {
	Sweep(now time.Time, maxAge time.Duration) (int, error)
}

// Deps 编排器依赖。除 Provider、Sessions 外都可为 nil。
type Deps struct {
	Provider  llm.Provider
	Enricher  Enricher
	Sessions  *conversation.Store
	Store     Persistence
	Stats     Heartbeater
	Synth     Synthesizer
	Pool      *pool.WorkerPool
	Monitor   Monitor
	Tokenizer tokenizer.Tokenizer
	Caches    CacheDropper
	Audio     AudioSweeper
	Watermark *proactive.Watermark
	Metrics   *metrics.Collector
}

// Config 编排器配置
type Config struct {
	Pipeline    config.PipelineConfig
	LLM         config.LLMConfig
	AudioMaxAge time.Duration
}

// TurnRequest 一次用户输入，受理后不再修改
type TurnRequest struct {
	Text        string
	LangHint    string
	SessionID   string
	DeviceKey   string
	IP          string
	UserName    string
	WantAudio   bool
	ForceVision bool
}

// Outcome 一轮回复的结果
type Outcome struct {
	Reply     string
	AudioRef  string
	Lang      string
	Emotion   voice.Emotion
	Function  string
	Segments  int
	Fallback  bool
	SessionID string
	Timing    Timing
	States    []State
}

// Orchestrator 把一次用户输入变成流式文本与有序语音
type Orchestrator struct {
	cfg       Config
	provider  llm.Provider
	enricher  Enricher
	sessions  *conversation.Store
	store     Persistence
	stats     Heartbeater
	synth     Synthesizer
	pool      *pool.WorkerPool
	monitor   Monitor
	tokenizer tokenizer.Tokenizer
	caches    CacheDropper
	audio     AudioSweeper
	watermark *proactive.Watermark
	metrics   *metrics.Collector
	logger    *zap.Logger

	now   func() time.Time
	turns atomic.Int64
}

// New 创建编排器
func New(cfg Config, deps Deps, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Watermark == nil {
		deps.Watermark = proactive.DefaultWatermark
	}
	if deps.Tokenizer == nil {
		deps.Tokenizer = tokenizer.NewEstimatorTokenizer(cfg.LLM.ContextWindow)
	}
	if deps.Pool == nil {
		deps.Pool = pool.New(pool.DefaultConfig())
	}
	if cfg.Pipeline.AssistantName == "" {
		cfg.Pipeline.AssistantName = "KITT"
	}
	return &Orchestrator{
		cfg:       cfg,
		provider:  deps.Provider,
		enricher:  deps.Enricher,
		sessions:  deps.Sessions,
		store:     deps.Store,
		stats:     deps.Stats,
		synth:     deps.Synth,
		pool:      deps.Pool,
		monitor:   deps.Monitor,
		tokenizer: deps.Tokenizer,
		caches:    deps.Caches,
		audio:     deps.Audio,
		watermark: deps.Watermark,
		metrics:   deps.Metrics,
		logger:    logger.With(zap.String("component", "orchestrator")),
		now:       time.Now,
	}
}

// turn 单轮的解析结果
type turn struct {
	req      TurnRequest
	session  *conversation.Session
	user     string
	decision language.Decision
	enriched enrichment.Result
	start    time.Time
	tracker  *tracker
	logger   *zap.Logger
}

// prepare 打水印、读设备资料、定语言、做增强
func (o *Orchestrator) prepare(ctx context.Context, req TurnRequest) (*turn, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "message vide")
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}

	t := &turn{req: req, start: o.now()}
	o.watermark.Touch(t.start)
	t.session = o.sessions.Get(req.SessionID)
	t.logger = o.logger.With(zap.String("session_id", req.SessionID), zap.String("trace_id", uuid.NewString()))
	t.tracker = newTracker(o.metrics, t.logger)
	t.tracker.must(StateEnriching)

	var profile persistence.DeviceProfile
	if o.store != nil && req.DeviceKey != "" {
		profile = o.store.Profile(ctx, req.DeviceKey)
	}
	t.user = strings.TrimSpace(req.UserName)
	if t.user == "" {
		t.user = persistence.DisplayName(profile, req.IP)
	}
	stored := profile.Lang
	if stored == "" {
		stored = t.session.Language()
	}
	t.decision = language.Resolve(stored, req.LangHint, req.Text)

	ectx, end := telemetry.StartStage(ctx, "enrichment")
	if o.enricher != nil {
		t.enriched = o.enricher.Enrich(ectx, enrichment.Request{Text: req.Text, UserName: t.user, ForceVision: req.ForceVision})
	} else {
		t.enriched = enrichment.Result{Original: req.Text}
	}
	end(nil)

	t.logger.Debug("turn prepared",
		zap.String("user", t.user),
		zap.String("lang", t.decision.Lang),
		zap.Bool("locked", t.decision.Locked),
		zap.Bool("function", t.enriched.Function != nil))
	return t, nil
}

// Reply 流式回复。事件写入 em；客户端断开后后续事件被丢弃，回复照常完成并归档。
func (o *Orchestrator) Reply(ctx context.Context, req TurnRequest, em Emitter) (*Outcome, error) {
	ctx, endTurn := telemetry.StartStage(ctx, "turn", attribute.String("session_id", req.SessionID))
	t, err := o.prepare(ctx, req)
	if err != nil {
		endTurn(err)
		return nil, err
	}
	t.session.Lock()
	defer t.session.Unlock()

	out := guard(em, t.logger)
	o.notify(ctx, t, proactive.TypeUserMessage, t.req.Text)

	var oc *Outcome
	if fc := t.enriched.Function; fc != nil {
		oc = o.functionReply(ctx, t, out, fc)
	} else {
		oc = o.streamReply(ctx, t, out)
	}

	o.archive(ctx, t, oc)
	oc.Timing.TotalMs = o.now().Sub(t.start).Milliseconds()
	out.done(ctx, oc.Timing)
	oc.States = t.tracker.path
	endTurn(nil)
	return oc, nil
}

// Complete 非流式回复：整段推理，再整段合成
func (o *Orchestrator) Complete(ctx context.Context, req TurnRequest) (*Outcome, error) {
	ctx, endTurn := telemetry.StartStage(ctx, "complete", attribute.String("session_id", req.SessionID))
	t, err := o.prepare(ctx, req)
	if err != nil {
		endTurn(err)
		return nil, err
	}
	t.session.Lock()
	defer t.session.Unlock()
	o.notify(ctx, t, proactive.TypeUserMessage, t.req.Text)

	oc := &Outcome{SessionID: t.req.SessionID, Lang: t.decision.Lang}
	path := "llm"
	if fc := t.enriched.Function; fc != nil {
		path = "function"
		oc.Reply, oc.Function = fc.Reply, fc.Name
		oc.Timing.Function = fc.Name
	} else {
		t.tracker.must(StateStreaming)
		llmStart := o.now()
		resp, err := o.provider.Completion(ctx, o.chatRequest(ctx, t))
		oc.Timing.LLMMs = o.now().Sub(llmStart).Milliseconds()
		if err != nil {
			o.metrics.RecordTurn(path, "error", o.now().Sub(t.start))
			t.logger.Warn("completion failed", zap.Error(err))
			endTurn(err)
			return nil, types.NewError(types.ErrInferenceFailed, "Erreur LLM").WithCause(err).WithRetryable(true)
		}
		oc.Reply = strings.TrimSpace(resp.Content)
	}
	oc.Emotion = voice.Classify(oc.Reply)
	t.tracker.must(StateDraining)

	if req.WantAudio && o.synth != nil {
		ttsStart := o.now()
		lang := language.NewReplyLock(t.decision, o.cfg.Pipeline.LanguageRelockChars)
		l, _ := lang.Observe(oc.Reply)
		if ref, err := o.synth.Synthesize(ctx, oc.Reply, l, oc.Emotion); err == nil {
			oc.AudioRef = ref
		}
		oc.Timing.TTSMs = o.now().Sub(ttsStart).Milliseconds()
	}
	oc.Timing.Emotion = string(oc.Emotion)

	o.archive(ctx, t, oc)
	oc.Timing.TotalMs = o.now().Sub(t.start).Milliseconds()
	oc.States = t.tracker.path
	o.metrics.RecordTurn(path, "ok", o.now().Sub(t.start))
	endTurn(nil)
	return oc, nil
}

// chatRequest 组装提示词：系统提示词、按预算裁剪的历史、增强后的用户消息
func (o *Orchestrator) chatRequest(ctx context.Context, t *turn) *llm.ChatRequest {
	var facts []string
	if o.store != nil {
		facts = o.store.RecentFacts(ctx, persona.PromptFacts)
	}
	system := llm.Message{Role: llm.RoleSystem, Content: persona.SystemPrompt(t.user, t.decision.Lang, facts)}
	user := llm.Message{Role: llm.RoleUser, Content: t.enriched.Prompt()}

	history := t.session.History(o.cfg.Pipeline.HistoryTurns)
	fitted := tokenizer.FitHistory(o.tokenizer,
		toTokenMessages([]llm.Message{system, user}),
		toTokenMessages(history),
		o.cfg.LLM.MaxTokens)
	history = history[len(history)-len(fitted):]

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, system)
	messages = append(messages, history...)
	messages = append(messages, user)

	if n, err := o.tokenizer.CountMessages(toTokenMessages(messages)); err == nil {
		o.metrics.RecordPromptTokens(n)
	}
	c := o.cfg.LLM
	return &llm.ChatRequest{
		TraceID:   t.req.SessionID,
		Model:     c.Model,
		Messages:  messages,
		MaxTokens: c.MaxTokens,
		Sampling: llm.Sampling{
			Temperature:   float32(c.Temperature),
			TopP:          float32(c.TopP),
			TopK:          c.TopK,
			MinP:          float32(c.MinP),
			RepeatPenalty: float32(c.RepeatPenalty),
			RepeatLastN:   c.RepeatLastN,
		},
		Timeout: c.Timeout,
	}
}

func toTokenMessages(msgs []llm.Message) []tokenizer.Message {
	out := make([]tokenizer.Message, len(msgs))
	for i, m := range msgs {
		out[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}

// notify 向监控流发送一条消息，失败只记日志
func (o *Orchestrator) notify(ctx context.Context, t *turn, typ, msg string) {
	if o.monitor == nil {
		return
	}
	ev := proactive.MonitorEvent{
		Type:      typ,
		User:      t.user,
		SessionID: t.req.SessionID,
		Message:   msg,
		Timestamp: proactive.Stamp(o.now()),
	}
	if _, err := o.monitor.Broadcast(context.WithoutCancel(ctx), ev); err != nil {
		t.logger.Debug("monitor broadcast failed", zap.Error(err))
	}
}
