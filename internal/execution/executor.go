package execution

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fx-pilot/internal/schedule"
)

// DryRunExecutor 模拟执行端。所有调用都会成功,可配置人为延迟
// 以逼近真实执行层的耗时特征。
type DryRunExecutor struct {
	latency time.Duration
	logger  *zap.Logger
}

var _ Sink = (*DryRunExecutor)(nil)

// NewDryRunExecutor 创建模拟执行器。
func NewDryRunExecutor(latency time.Duration, logger *zap.Logger) *DryRunExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRunExecutor{
		latency: latency,
		logger:  logger,
	}
}

// Prepare 模拟交易准备动作。
func (d *DryRunExecutor) Prepare(ctx context.Context, rec *schedule.Record) (Result, error) {
	if err := d.wait(ctx); err != nil {
		return Result{}, err
	}

	d.logger.Info("模拟准备交易",
		zap.String("id", rec.ID),
		zap.String("instrument", rec.Instrument),
		zap.String("action", string(rec.Action)),
		zap.Time("execute_at", rec.ExecuteAt),
	)

	return Result{
		Stage:       StagePrepare,
		CompletedAt: time.Now(),
		Diagnostic:  fmt.Sprintf("dry-run prepare %s", rec.ID),
	}, nil
}

// Execute 模拟交易执行动作。
func (d *DryRunExecutor) Execute(ctx context.Context, rec *schedule.Record) (Result, error) {
	if err := d.wait(ctx); err != nil {
		return Result{}, err
	}

	d.logger.Info("模拟执行交易",
		zap.String("id", rec.ID),
		zap.String("instrument", rec.Instrument),
		zap.String("action", string(rec.Action)),
		zap.String("side", string(rec.Side)),
		zap.Int64("quantity", rec.Quantity),
	)

	return Result{
		Stage:       StageExecute,
		CompletedAt: time.Now(),
		Diagnostic:  fmt.Sprintf("dry-run execute %s", rec.ID),
	}, nil
}

func (d *DryRunExecutor) wait(ctx context.Context) error {
	if d.latency <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d.latency)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
