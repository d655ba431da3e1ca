package proactive

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/agent/vision"
	"github.com/BaSui01/kyronex/agent/voice"
	"github.com/BaSui01/kyronex/config"
	"github.com/BaSui01/kyronex/internal/metrics"
	"github.com/BaSui01/kyronex/internal/sensors"
)

// =============================================================================
// 📢 主动播报 / 警戒模式
// =============================================================================

// Synthesizer 单次合成
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string, emotion voice.Emotion) (string, error)
}

// Sensors 主机传感器
type Sensors interface {
	TemperatureC() (float64, error)
	Memory() (sensors.Memory, error)
}

// Broadcaster 定时检查问候、温度、内存与摄像头人数，向订阅者播报
type Broadcaster struct {
	cfg         config.ProactiveConfig
	personLabel string
	lang        string

	hub       *Hub
	monitor   *Hub
	synth     Synthesizer
	sensors   Sensors
	vision    vision.Source
	watermark *Watermark
	metrics   *metrics.Collector
	logger    *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	lastHour     int
	lastThermal  time.Time
	lastMemory   time.Time
	vigilance    bool
	prevPeople   int
	lastDelivery time.Time
}

// Deps 播报依赖。Vision、Sensors、Synth、Monitor 可为 nil。
type Deps struct {
	Hub       *Hub
	Monitor   *Hub
	Synth     Synthesizer
	Sensors   Sensors
	Vision    vision.Source
	Watermark *Watermark
	Metrics   *metrics.Collector
}

// NewBroadcaster 创建播报器
func NewBroadcaster(cfg config.ProactiveConfig, personLabel, lang string, deps Deps, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Watermark == nil {
		deps.Watermark = DefaultWatermark
	}
	return &Broadcaster{
		cfg:         cfg,
		personLabel: personLabel,
		lang:        lang,
		hub:         deps.Hub,
		monitor:     deps.Monitor,
		synth:       deps.Synth,
		sensors:     deps.Sensors,
		vision:      deps.Vision,
		watermark:   deps.Watermark,
		metrics:     deps.Metrics,
		logger:      logger.With(zap.String("component", "broadcaster")),
		now:         time.Now,
		sleep:       sleepCtx,
		lastHour:    -1,
		prevPeople:  -1,
	}
}

// Run 等待启动延迟后按固定间隔调度 Tick 与 VigilanceTick，直到 ctx 结束
func (b *Broadcaster) Run(ctx context.Context) error {
	if err := b.sleep(ctx, b.cfg.StartDelay); err != nil {
		return nil
	}

	cl := cronLogger{b.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(cron.Every(b.cfg.Interval), cron.FuncJob(func() { b.Tick(ctx, b.now()) }))
	c.Schedule(cron.Every(b.cfg.VigilanceInterval), cron.FuncJob(func() { b.VigilanceTick(ctx, b.now()) }))

	b.logger.Info("broadcaster started",
		zap.Duration("interval", b.cfg.Interval),
		zap.Duration("vigilance_interval", b.cfg.VigilanceInterval),
	)
	b.Tick(ctx, b.now())
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	b.logger.Info("broadcaster stopped")
	return nil
}

// Tick 一次主检查：整点问候、温度、内存
func (b *Broadcaster) Tick(ctx context.Context, now time.Time) {
	subscribed := b.hub.Len() > 0

	var events []Event
	b.mu.Lock()
	if subscribed && now.Hour() != b.lastHour {
		b.lastHour = now.Hour()
		if msg, ok := Greeting(now.Hour()); ok {
			events = append(events, Event{Kind: KindGreeting, Message: msg, Emotion: voice.EmotionConfident})
		}
	}
	b.mu.Unlock()

	if b.sensors != nil {
		if temp, err := b.sensors.TemperatureC(); err == nil && temp > b.cfg.ThermalThreshold {
			b.mu.Lock()
			due := now.Sub(b.lastThermal) > b.cfg.AlertCooldown
			if due {
				b.lastThermal = now
			}
			b.mu.Unlock()
			if due {
				msg, emo := ThermalAlert(temp)
				events = append(events, Event{Kind: KindThermal, Message: msg, Emotion: emo})
			}
		}
		if mem, err := b.sensors.Memory(); err == nil && mem.AvailableMB < b.cfg.MemoryThresholdMB && subscribed {
			b.mu.Lock()
			due := now.Sub(b.lastMemory) > b.cfg.AlertCooldown
			if due {
				b.lastMemory = now
			}
			b.mu.Unlock()
			if due {
				events = append(events, Event{Kind: KindMemory, Message: MemoryAlert(mem.AvailableMB), Emotion: voice.EmotionWorried})
			}
		}
	}

	for _, ev := range events {
		b.Deliver(ctx, ev)
	}
}

// SetVigilance 开关警戒模式；每次切换都重置上次人数
func (b *Broadcaster) SetVigilance(enabled bool) {
	b.mu.Lock()
	b.vigilance = enabled
	b.prevPeople = -1
	b.mu.Unlock()
	b.logger.Info("vigilance toggled", zap.Bool("enabled", enabled))
}

// Vigilance 警戒模式是否开启
func (b *Broadcaster) Vigilance() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.vigilance
}

// VigilanceTick 一次摄像头检查。0→≥1（终端空闲时）或 1→≥2 时告警，人数不变不重复告警。
func (b *Broadcaster) VigilanceTick(ctx context.Context, now time.Time) {
	if !b.Vigilance() || b.hub.Len() == 0 || b.vision == nil {
		return
	}
	count := b.countPeople(ctx)
	if count < 0 {
		return
	}

	b.mu.Lock()
	if !b.vigilance {
		b.mu.Unlock()
		return
	}
	prev := b.prevPeople
	b.prevPeople = count
	b.mu.Unlock()

	idle := b.watermark.Since(now)
	var msg string
	switch {
	case prev == 0 && count >= 1 && idle > b.cfg.VigilanceIdle:
		msg = vigilanceIdleAlert
	case prev >= 1 && prev < 2 && count >= 2:
		msg = vigilanceCrowdAlert
	default:
		return
	}
	b.logger.Warn("vigilance alert", zap.Int("previous", prev), zap.Int("count", count), zap.Duration("idle", idle))
	b.Deliver(ctx, Event{Kind: KindVigilance, Message: msg, Emotion: voice.EmotionWorried})
}

func (b *Broadcaster) countPeople(ctx context.Context) int {
	c, err := b.vision.Capture(ctx)
	if err != nil {
		b.logger.Debug("vigilance capture failed", zap.Error(err))
		return -1
	}
	if c.Error != "" {
		return -1
	}
	return c.Count(b.personLabel)
}

// TimerDone 计时结束：播报给主动订阅者，并通知监控流
func (b *Broadcaster) TimerDone(ctx context.Context, label string) {
	if b.monitor != nil {
		if _, err := b.monitor.Broadcast(ctx, MonitorEvent{Type: TypeTimerDone, Label: label, Timestamp: Stamp(b.now())}); err != nil {
			b.logger.Warn("timer monitor event failed", zap.Error(err))
		}
	}
	b.Deliver(ctx, Event{Kind: KindTimer, Message: TimerMessage(label), Emotion: voice.EmotionConfident, Label: label})
}

// Deliver 避让最近的对话后合成并广播。没有订阅者时直接丢弃。
func (b *Broadcaster) Deliver(ctx context.Context, ev Event) {
	if b.hub.Len() == 0 {
		return
	}

	for tries := 0; b.watermark.Since(b.now()) < b.cfg.DeferGrace && tries < b.cfg.DeferMaxRetries; tries++ {
		b.metrics.RecordProactiveDeferral()
		if err := b.sleep(ctx, b.cfg.DeferStep); err != nil {
			return
		}
	}

	if b.synth != nil {
		ref, err := b.synth.Synthesize(ctx, ev.Message, b.lang, ev.Emotion)
		if err != nil {
			b.logger.Warn("proactive synthesis failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
		} else {
			ev.Audio = &ref
		}
	}

	ev.Type = ev.Kind.WireType()
	now := b.now()
	ev.Timestamp = Stamp(now)
	n, err := b.hub.Broadcast(ctx, ev)
	if err != nil {
		b.logger.Warn("proactive broadcast failed", zap.Error(err))
		return
	}
	b.mu.Lock()
	b.lastDelivery = now
	b.mu.Unlock()
	b.metrics.RecordProactiveEvent(string(ev.Kind))
	b.logger.Info("proactive event", zap.String("kind", string(ev.Kind)), zap.Int("subscribers", n))
}

// LastDelivery 最近一次广播时间
func (b *Broadcaster) LastDelivery() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastDelivery
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// cronLogger 把 cron 日志转到 zap
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
