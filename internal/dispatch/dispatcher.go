package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"fx-pilot/internal/execution"
	"fx-pilot/internal/journal"
	"fx-pilot/internal/risk"
	"fx-pilot/internal/schedule"
)

// Deps 聚合调度器依赖。Risk 与 Journal 可为 nil，表示对应能力未启用。
type Deps struct {
	Manager *schedule.Manager
	Sink    execution.Sink
	Risk    *risk.Manager
	Journal *journal.Service
}

// Options 控制调度节奏。Now 为空时使用系统时钟。
type Options struct {
	TickInterval time.Duration
	Now          func() time.Time
}

// Dispatcher 以固定节奏推进交易计划：每轮先淘汰超期记录，
// 再准备到期记录，最后执行到期记录。
// 调度核心为单协程模型，所有状态变更都发生在当轮 Tick 内，不做并发保护。
type Dispatcher struct {
	manager  *schedule.Manager
	sink     execution.Sink
	risk     *risk.Manager
	journal  *journal.Service
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// New 创建调度器。
func New(deps Deps, opts Options, logger *zap.Logger) (*Dispatcher, error) {
	if deps.Manager == nil {
		return nil, errors.New("dispatch: manager 不能为空")
	}
	if deps.Sink == nil {
		return nil, errors.New("dispatch: sink 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	interval := opts.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Dispatcher{
		manager:  deps.Manager,
		sink:     deps.Sink,
		risk:     deps.Risk,
		journal:  deps.Journal,
		interval: interval,
		now:      now,
		logger:   logger,
	}, nil
}

// Run 以固定间隔驱动调度循环，直到计划全部进入终态或上下文被取消。
func (d *Dispatcher) Run(ctx context.Context) error {
	done, err := d.Tick(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error("首次执行失败", zap.Error(err))
	}
	if done {
		d.logger.Info("交易计划已全部处理完毕，调度器退出")
		return nil
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("调度循环异常退出: %w", err)
			}
			d.logger.Info("调度器收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			done, err := d.Tick(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("执行调度失败", zap.Error(err))
			}
			if done {
				d.logger.Info("交易计划已全部处理完毕，调度器退出")
				return nil
			}
		}
	}
}

// Tick 推进一轮调度，返回计划是否已全部进入终态。
// 执行器调用与状态提交之间存在窗口：若进程在调用发出后、状态提交前崩溃，
// 重启后无法判断该笔指令是否已实际成交，需要人工核对执行器侧的真实结果。
func (d *Dispatcher) Tick(ctx context.Context) (bool, error) {
	return d.tickAt(ctx, d.now())
}

// Rehearse 在虚拟时钟下完整演练计划：按时间顺序跳到每个准备与执行时刻
// 各执行一轮调度，不做真实等待。用于上线前验证计划数据。
func (d *Dispatcher) Rehearse(ctx context.Context) error {
	for _, instant := range d.rehearsalInstants() {
		done, err := d.tickAt(ctx, instant)
		if err != nil {
			return err
		}
		if done {
			break
		}
	}

	if remaining := d.manager.Remaining(); remaining > 0 {
		return fmt.Errorf("dispatch: 演练结束后仍有 %d 条记录未进入终态", remaining)
	}

	d.logger.Info("计划演练完成", zap.Int("records", len(d.manager.Records())))
	return nil
}

func (d *Dispatcher) tickAt(ctx context.Context, now time.Time) (bool, error) {
	start := time.Now()
	defer func() {
		TickDuration.Observe(time.Since(start).Seconds())
		RemainingRecords.Set(float64(d.manager.Remaining()))
	}()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	for _, rec := range d.manager.Expire(now) {
		recordOutcome(outcomeSkipped)
		d.logger.Warn("记录超出宽限期，标记为跳过",
			zap.String("record_id", rec.ID),
			zap.String("instrument", rec.Instrument),
			zap.Time("execute_at", rec.ExecuteAt),
		)
		if d.journal != nil {
			d.journal.RecordSkipped(ctx, rec, "超出执行宽限期")
		}
		if rec.Action == schedule.ActionEntry {
			d.skipDependents(ctx, rec.ID, "关联入场记录已跳过")
		}
	}

	for _, rec := range d.manager.DueForPreparation(now) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		d.prepare(ctx, rec)
	}

	for _, rec := range d.manager.DueForExecution(now) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := d.execute(ctx, rec); err != nil {
			return false, err
		}
	}

	return d.manager.Remaining() == 0, nil
}

func (d *Dispatcher) prepare(ctx context.Context, rec *schedule.Record) {
	result, err := d.sink.Prepare(ctx, rec)
	if err != nil {
		d.fail(ctx, rec, fmt.Errorf("准备失败: %w", err))
		return
	}

	if markErr := d.manager.Mark(rec.ID, schedule.StatusPrepared); markErr != nil {
		d.logger.Error("提交准备状态失败", zap.String("record_id", rec.ID), zap.Error(markErr))
		return
	}

	recordOutcome(outcomePrepared)
	d.logger.Info("交易已准备",
		zap.String("record_id", rec.ID),
		zap.String("instrument", rec.Instrument),
		zap.Time("execute_at", rec.ExecuteAt),
	)
	if d.journal != nil {
		d.journal.RecordPrepared(ctx, rec, result.Diagnostic)
	}
}

func (d *Dispatcher) execute(ctx context.Context, rec *schedule.Record) error {
	if d.risk != nil && rec.Action == schedule.ActionEntry {
		assessment, err := d.risk.EvaluateOpen(ctx, rec)
		if err != nil {
			return fmt.Errorf("风险评估失败: %w", err)
		}
		if !assessment.Allowed() {
			d.rejectByRisk(ctx, rec, assessment.Reason)
			return nil
		}
	}

	result, err := d.sink.Execute(ctx, rec)
	if err != nil {
		d.fail(ctx, rec, fmt.Errorf("执行失败: %w", err))
		return nil
	}

	if markErr := d.manager.Mark(rec.ID, schedule.StatusExecuted); markErr != nil {
		d.logger.Error("提交执行状态失败", zap.String("record_id", rec.ID), zap.Error(markErr))
		return nil
	}

	recordOutcome(outcomeExecuted)
	d.logger.Info("交易已执行",
		zap.String("record_id", rec.ID),
		zap.String("instrument", rec.Instrument),
		zap.String("side", string(rec.Side)),
		zap.Int64("quantity", rec.Quantity),
	)
	if d.journal != nil {
		d.journal.RecordExecuted(ctx, rec, result.Diagnostic)
	}

	if d.risk != nil {
		var noteErr error
		switch rec.Action {
		case schedule.ActionEntry:
			noteErr = d.risk.NoteOpened(ctx, rec)
		case schedule.ActionExit:
			noteErr = d.risk.NoteClosed(ctx, rec)
		}
		if noteErr != nil {
			d.logger.Warn("更新持仓账本失败", zap.String("record_id", rec.ID), zap.Error(noteErr))
		}
	}

	return nil
}

func (d *Dispatcher) fail(ctx context.Context, rec *schedule.Record, cause error) {
	if markErr := d.manager.Mark(rec.ID, schedule.StatusFailed); markErr != nil {
		d.logger.Error("提交失败状态失败", zap.String("record_id", rec.ID), zap.Error(markErr))
		return
	}

	recordOutcome(outcomeFailed)
	d.logger.Error("交易指令失败",
		zap.String("record_id", rec.ID),
		zap.String("instrument", rec.Instrument),
		zap.Error(cause),
	)
	if d.journal != nil {
		d.journal.RecordFailed(ctx, rec, cause)
	}

	if rec.Action == schedule.ActionEntry {
		d.skipDependents(ctx, rec.ID, "关联入场记录执行失败")
	}
}

func (d *Dispatcher) rejectByRisk(ctx context.Context, rec *schedule.Record, reason string) {
	if markErr := d.manager.Mark(rec.ID, schedule.StatusSkipped); markErr != nil {
		d.logger.Error("提交跳过状态失败", zap.String("record_id", rec.ID), zap.Error(markErr))
		return
	}

	recordOutcome(outcomeRiskDenied)
	d.logger.Warn("开仓被风控拒绝",
		zap.String("record_id", rec.ID),
		zap.String("instrument", rec.Instrument),
		zap.String("reason", reason),
	)
	if d.journal != nil {
		d.journal.RecordRiskRejected(ctx, rec, reason)
	}

	d.skipDependents(ctx, rec.ID, "关联入场记录被风控拒绝")
}

func (d *Dispatcher) skipDependents(ctx context.Context, entryID, reason string) {
	for _, dep := range d.manager.SkipDependents(entryID) {
		recordOutcome(outcomeSkipped)
		d.logger.Warn("跳过依赖的平仓记录",
			zap.String("record_id", dep.ID),
			zap.String("entry_id", entryID),
		)
		if d.journal != nil {
			d.journal.RecordSkipped(ctx, dep, reason)
		}
	}
}

func (d *Dispatcher) rehearsalInstants() []time.Time {
	var instants []time.Time
	for _, rec := range d.manager.Records() {
		instants = append(instants, rec.PrepareAt, rec.ExecuteAt)
	}
	sort.Slice(instants, func(i, j int) bool { return instants[i].Before(instants[j]) })

	deduped := instants[:0]
	var last time.Time
	for _, t := range instants {
		if !last.IsZero() && t.Equal(last) {
			continue
		}
		deduped = append(deduped, t)
		last = t
	}
	return deduped
}
