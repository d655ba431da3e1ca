package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// 🧵 流水线阶段 span
// =============================================================================

const (
	scopeName     = "github.com/BaSui01/kyronex"
	spanPrefix    = "kyronex."
	stageDuration = "kyronex.stage.duration"
)

// StartStage 为一个回复阶段（enrichment、llm、synthesis…）开 span。
// 返回的 end 记录阶段耗时并结束 span，传入阶段错误或 nil。
func StartStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.Tracer(scopeName).Start(ctx, spanPrefix+stage, trace.WithAttributes(attrs...))

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		recordStage(stage, time.Since(start))
	}
}

// recordStage 每次都从当前全局 MeterProvider 取 histogram，测试替换 provider 后立即生效
func recordStage(stage string, d time.Duration) {
	h, err := otel.Meter(scopeName).Float64Histogram(stageDuration,
		metric.WithUnit("s"),
		metric.WithDescription("Reply pipeline stage duration"),
	)
	if err != nil {
		return
	}
	h.Record(context.Background(), d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}
