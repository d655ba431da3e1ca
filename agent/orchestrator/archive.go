package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/agent/persistence"
	"github.com/BaSui01/kyronex/agent/persona"
	"github.com/BaSui01/kyronex/agent/proactive"
)

// archive 写会话历史、记忆、转录与连接统计，按周期做清理。
// 客户端断开不影响归档。
func (o *Orchestrator) archive(ctx context.Context, t *turn, oc *Outcome) {
	t.tracker.must(StateArchiving)
	ctx = context.WithoutCancel(ctx)
	now := o.now()

	t.session.AppendTurn(t.req.Text, oc.Reply, now)
	o.notify(ctx, t, proactive.TypeAssistantMsg, oc.Reply)

	if o.store != nil && oc.Function == "" {
		o.remember(ctx, t)
		if o.cfg.Pipeline.TranscriptEnabled {
			if err := o.store.AppendExchange(ctx, t.user, o.cfg.Pipeline.AssistantName, t.req.Text, oc.Reply); err != nil {
				t.logger.Warn("transcript append failed", zap.Error(err))
			}
		}
	}
	if o.stats != nil {
		o.stats.Beat(ctx, persistence.Heartbeat{
			SessionID: t.req.SessionID,
			IP:        t.req.IP,
			MAC:       t.req.DeviceKey,
			Name:      t.user,
			Lang:      oc.Lang,
		})
	}

	if n := o.turns.Add(1); o.cfg.Pipeline.HousekeepingEvery > 0 && n%int64(o.cfg.Pipeline.HousekeepingEvery) == 0 {
		o.housekeep(ctx, t)
	}
	t.tracker.must(StateIdle)
}

// remember 忘记指令优先于记忆提取
func (o *Orchestrator) remember(ctx context.Context, t *turn) {
	if persona.IsForget(t.req.Text) {
		n, err := o.store.ForgetUser(ctx, t.user)
		if err != nil {
			t.logger.Warn("forget failed", zap.Error(err))
			return
		}
		t.logger.Info("memory forgotten", zap.String("user", t.user), zap.Int64("facts", n))
		return
	}
	fact, ok := persona.ExtractFact(t.req.Text, t.user)
	if !ok {
		return
	}
	total, err := o.store.AddFact(ctx, fact, t.user)
	if err != nil {
		t.logger.Warn("memory fact not saved", zap.Error(err))
		return
	}
	t.logger.Info("memory fact saved", zap.String("user", t.user), zap.Int64("total", total))
}

// housekeep 尽力释放页缓存并清理过期音频，失败只记日志
func (o *Orchestrator) housekeep(ctx context.Context, t *turn) {
	if o.cfg.Pipeline.DropCaches && o.caches != nil {
		if err := o.caches.DropCaches(ctx, o.cfg.Pipeline.DropCachesTimeout); err != nil {
			t.logger.Warn("drop caches failed", zap.Error(err))
		} else {
			t.logger.Debug("page caches dropped")
		}
	}
	if o.audio != nil && o.cfg.AudioMaxAge > 0 {
		n, err := o.audio.Sweep(o.now(), o.cfg.AudioMaxAge)
		if err != nil {
			t.logger.Warn("audio sweep failed", zap.Error(err))
		} else if n > 0 {
			t.logger.Info("audio files swept", zap.Int("removed", n))
		}
	}
}
