package orchestrator

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/internal/metrics"
)

// State 一轮回复所处的阶段
type State string

const (
	StateIdle      State = "idle"
	StateEnriching State = "enriching"
	StateStreaming State = "streaming"
	StateDraining  State = "draining"
	StateArchiving State = "archiving"
)

// validTransitions 合法的阶段转换。直答轮次跳过 Streaming。
var validTransitions = map[State][]State{
	StateIdle:      {StateEnriching},
	StateEnriching: {StateStreaming, StateDraining},
	StateStreaming: {StateDraining},
	StateDraining:  {StateArchiving},
	StateArchiving: {StateIdle},
}

// CanTransition 检查阶段转换是否合法
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition 非法阶段转换
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid turn transition: %s -> %s", e.From, e.To)
}

// tracker 单轮阶段记录，每次转换写指标和调试日志
type tracker struct {
	cur     State
	path    []State
	metrics *metrics.Collector
	logger  *zap.Logger
}

func newTracker(collector *metrics.Collector, logger *zap.Logger) *tracker {
	return &tracker{cur: StateIdle, path: []State{StateIdle}, metrics: collector, logger: logger}
}

func (t *tracker) to(next State) error {
	if !CanTransition(t.cur, next) {
		return ErrInvalidTransition{From: t.cur, To: next}
	}
	t.metrics.RecordStateTransition(string(t.cur), string(next))
	t.logger.Debug("turn state", zap.String("from", string(t.cur)), zap.String("to", string(next)))
	t.cur = next
	t.path = append(t.path, next)
	return nil
}

// must 用于编码期固定的转换序列
func (t *tracker) must(next State) {
	if err := t.to(next); err != nil {
		t.logger.Error("turn state", zap.Error(err))
	}
}
