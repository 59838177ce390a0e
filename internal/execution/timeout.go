package execution

import (
	"context"
	"time"

	"fx-pilot/internal/schedule"
)

// timeoutSink 为内层 Sink 的每次调用附加超时上限。
// 调度核心把执行调用当作阻塞操作,超时策略属于执行层,
// 由本包装器统一落实。
type timeoutSink struct {
	inner   Sink
	timeout time.Duration
}

var _ Sink = (*timeoutSink)(nil)

// WithCallTimeout 包装 inner,使每次 Prepare/Execute 调用最多等待 timeout。
// timeout 不大于零时返回原 Sink,表示不设上限。
func WithCallTimeout(inner Sink, timeout time.Duration) Sink {
	if timeout <= 0 {
		return inner
	}
	return &timeoutSink{
		inner:   inner,
		timeout: timeout,
	}
}

func (t *timeoutSink) Prepare(ctx context.Context, rec *schedule.Record) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Prepare(callCtx, rec)
}

func (t *timeoutSink) Execute(ctx context.Context, rec *schedule.Record) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Execute(callCtx, rec)
}
