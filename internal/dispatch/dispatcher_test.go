package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"fx-pilot/internal/config"
	"fx-pilot/internal/execution"
	"fx-pilot/internal/journal"
	"fx-pilot/internal/risk"
	"fx-pilot/internal/schedule"
	"fx-pilot/internal/store"
)

func newPlanManager(t *testing.T, grace time.Duration, records ...*schedule.Record) *schedule.Manager {
	t.Helper()

	mgr := schedule.NewManager(planLoader{records: records}, schedule.Options{GraceWindow: grace}, zap.NewNop())
	if !mgr.LoadData(context.Background()) {
		t.Fatalf("加载测试计划失败: %v", mgr.LoadFailure())
	}
	return mgr
}

func newDispatchStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.NewSQLite(config.DatabaseConfig{
		InMemory:     true,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("创建内存数据库失败: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func planEntry(id, instrument string, executeAt time.Time) *schedule.Record {
	return &schedule.Record{
		ID:         id,
		Action:     schedule.ActionEntry,
		Side:       schedule.SideBuy,
		Instrument: instrument,
		Quantity:   1000,
		ExecuteAt:  executeAt,
		PrepareAt:  executeAt.Add(-30 * time.Second),
		Status:     schedule.StatusPending,
	}
}

func planExit(id, linkedID, instrument string, executeAt time.Time) *schedule.Record {
	rec := planEntry(id, instrument, executeAt)
	rec.Action = schedule.ActionExit
	rec.LinkedEntryID = linkedID
	return rec
}

func statusOf(t *testing.T, mgr *schedule.Manager, id string) schedule.Status {
	t.Helper()

	rec, ok := mgr.Lookup(id)
	if !ok {
		t.Fatalf("记录 %s 不存在", id)
	}
	return rec.Status
}

func countIn(ids []string, id string) int {
	n := 0
	for _, candidate := range ids {
		if candidate == id {
			n++
		}
	}
	return n
}

func TestNewRequiresManagerAndSink(t *testing.T) {
	base := time.Date(2026, 3, 2, 15, 15, 0, 0, time.UTC)
	mgr := newPlanManager(t, time.Minute, planEntry("csv_1", "USD/JPY", base))

	if _, err := New(Deps{Sink: &scriptedSink{}}, Options{}, zap.NewNop()); err == nil {
		t.Fatal("expected error for missing manager, got nil")
	}
	if _, err := New(Deps{Manager: mgr}, Options{}, zap.NewNop()); err == nil {
		t.Fatal("expected error for missing sink, got nil")
	}
}

func TestDispatcherRunsEntryAndExitPlan(t *testing.T) {
	base := time.Date(2026, 3, 2, 15, 15, 0, 0, time.UTC)
	entry := planEntry("csv_1", "USD/JPY", base)
	exit := planExit("csv_1_exit", "csv_1", "USD/JPY", base.Add(time.Minute))

	mgr := newPlanManager(t, time.Minute, entry, exit)
	sink := &scriptedSink{}
	journalSvc, err := journal.NewService(newDispatchStore(t), zap.NewNop())
	if err != nil {
		t.Fatalf("创建操作日志服务失败: %v", err)
	}

	clock := &manualClock{now: base.Add(-30 * time.Second)}
	d, err := New(Deps{Manager: mgr, Sink: sink, Journal: journalSvc}, Options{Now: clock.Now}, zap.NewNop())
	if err != nil {
		t.Fatalf("创建调度器失败: %v", err)
	}

	ctx := context.Background()

	done, err := d.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if done {
		t.Fatal("expected plan to still have work after preparation tick")
	}
	if got := statusOf(t, mgr, "csv_1"); got != schedule.StatusPrepared {
		t.Fatalf("expected entry prepared at lead time, got %s", got)
	}
	if got := statusOf(t, mgr, "csv_1_exit"); got != schedule.StatusPending {
		t.Fatalf("expected exit untouched at lead time, got %s", got)
	}

	clock.Set(base)
	if _, err := d.Tick(ctx); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if got := statusOf(t, mgr, "csv_1"); got != schedule.StatusExecuted {
		t.Fatalf("expected entry executed at execute time, got %s", got)
	}

	clock.Set(base.Add(30 * time.Second))
	if _, err := d.Tick(ctx); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if got := statusOf(t, mgr, "csv_1_exit"); got != schedule.StatusPrepared {
		t.Fatalf("expected exit prepared, got %s", got)
	}

	clock.Set(base.Add(time.Minute))
	done, err = d.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if !done {
		t.Fatal("expected plan to be complete after exit execution")
	}
	if got := statusOf(t, mgr, "csv_1_exit"); got != schedule.StatusExecuted {
		t.Fatalf("expected exit executed, got %s", got)
	}

	// 后续轮次不得重复触达执行器。
	clock.Set(base.Add(2 * time.Minute))
	if _, err := d.Tick(ctx); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	if len(sink.executed) != 2 || sink.executed[0] != "csv_1" || sink.executed[1] != "csv_1_exit" {
		t.Fatalf("unexpected execution order: %v", sink.executed)
	}
	for _, id := range []string{"csv_1", "csv_1_exit"} {
		if n := countIn(sink.prepareCalls, id); n != 1 {
			t.Fatalf("expected exactly one prepare call for %s, got %d", id, n)
		}
		if n := countIn(sink.executeCalls, id); n != 1 {
			t.Fatalf("expected exactly one execute call for %s, got %d", id, n)
		}
	}

	events, err := journalSvc.ListEvents(ctx, journal.EventExecuted, 10)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 executed events, got %d", len(events))
	}
	if events[0].RecordID != "csv_1_exit" || events[1].RecordID != "csv_1" {
		t.Fatalf("unexpected executed event order: %s, %s", events[0].RecordID, events[1].RecordID)
	}
}

func TestDispatcherHandlesOverdueRecordInOneTick(t *testing.T) {
	base := time.Date(2026, 3, 2, 15, 15, 0, 0, time.UTC)
	entry := planEntry("csv_1", "USD/JPY", base)

	mgr := newPlanManager(t, time.Minute, entry)
	sink := &scriptedSink{}

	// 准备与执行时间都已过去，但仍在宽限期内：应当在同一轮内补齐两个阶段。
	clock := &manualClock{now: base.Add(30 * time.Second)}
	d, err := New(Deps{Manager: mgr, Sink: sink}, Options{Now: clock.Now}, zap.NewNop())
	if err != nil {
		t.Fatalf("创建调度器失败: %v", err)
	}

	done, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if !done {
		t.Fatal("expected plan to finish in a single tick")
	}
	if got := statusOf(t, mgr, "csv_1"); got != schedule.StatusExecuted {
		t.Fatalf("expected executed, got %s", got)
	}
	if len(sink.prepared) != 1 || len(sink.executed) != 1 {
		t.Fatalf("expected one prepare and one execute, got %v / %v", sink.prepared, sink.executed)
	}
}

func TestDispatcherExpiresStaleRecordsWithoutDispatch(t *testing.T) {
	base := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	entry := planEntry("csv_1", "USD/JPY", base)
	exit := planExit("csv_1_exit", "csv_1", "USD/JPY", base.Add(5*time.Minute))

	mgr := newPlanManager(t, time.Minute, entry, exit)
	sink := &scriptedSink{}

	clock := &manualClock{now: base.Add(2 * time.Minute)}
	d, err := New(Deps{Manager: mgr, Sink: sink}, Options{Now: clock.Now}, zap.NewNop())
	if err != nil {
		t.Fatalf("创建调度器失败: %v", err)
	}

	done, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if !done {
		t.Fatal("expected plan to be drained after expiry")
	}
	if got := statusOf(t, mgr, "csv_1"); got != schedule.StatusSkipped {
		t.Fatalf("expected stale entry skipped, got %s", got)
	}
	if got := statusOf(t, mgr, "csv_1_exit"); got != schedule.StatusSkipped {
		t.Fatalf("expected dependent exit skipped, got %s", got)
	}
	if len(sink.prepareCalls) != 0 || len(sink.executeCalls) != 0 {
		t.Fatalf("expected no sink calls for expired records, got %v / %v", sink.prepareCalls, sink.executeCalls)
	}
}

func TestDispatcherMarksFailedWhenExecutionFails(t *testing.T) {
	base := time.Date(2026, 3, 2, 15, 15, 0, 0, time.UTC)
	entry := planEntry("csv_1", "USD/JPY", base)
	exit := planExit("csv_1_exit", "csv_1", "USD/JPY", base.Add(time.Minute))

	mgr := newPlanManager(t, time.Minute, entry, exit)
	sink := &scriptedSink{
		executeErrs: map[string]error{"csv_1": errors.New("order rejected")},
	}

	clock := &manualClock{now: base.Add(-30 * time.Second)}
	d, err := New(Deps{Manager: mgr, Sink: sink}, Options{Now: clock.Now}, zap.NewNop())
	if err != nil {
		t.Fatalf("创建调度器失败: %v", err)
	}

	ctx := context.Background()
	if _, err := d.Tick(ctx); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	clock.Set(base)
	done, err := d.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if !done {
		t.Fatal("expected plan to be drained after entry failure")
	}

	if got := statusOf(t, mgr, "csv_1"); got != schedule.StatusFailed {
		t.Fatalf("expected entry failed, got %s", got)
	}
	if got := statusOf(t, mgr, "csv_1_exit"); got != schedule.StatusSkipped {
		t.Fatalf("expected dependent exit skipped, got %s", got)
	}
	if n := countIn(sink.executeCalls, "csv_1"); n != 1 {
		t.Fatalf("expected exactly one execute attempt, got %d", n)
	}
	if countIn(sink.executeCalls, "csv_1_exit") != 0 {
		t.Fatal("expected dependent exit never reaching the sink")
	}
}

func TestDispatcherMarksFailedWhenPreparationFails(t *testing.T) {
	base := time.Date(2026, 3, 2, 15, 15, 0, 0, time.UTC)
	entry := planEntry("csv_1", "USD/JPY", base)
	exit := planExit("csv_1_exit", "csv_1", "USD/JPY", base.Add(time.Minute))

	mgr := newPlanManager(t, time.Minute, entry, exit)
	sink := &scriptedSink{
		prepareErrs: map[string]error{"csv_1": errors.New("browser session lost")},
	}

	clock := &manualClock{now: base.Add(-30 * time.Second)}
	d, err := New(Deps{Manager: mgr, Sink: sink}, Options{Now: clock.Now}, zap.NewNop())
	if err != nil {
		t.Fatalf("创建调度器失败: %v", err)
	}

	done, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if !done {
		t.Fatal("expected plan to be drained after preparation failure")
	}
	if got := statusOf(t, mgr, "csv_1"); got != schedule.StatusFailed {
		t.Fatalf("expected entry failed, got %s", got)
	}
	if got := statusOf(t, mgr, "csv_1_exit"); got != schedule.StatusSkipped {
		t.Fatalf("expected dependent exit skipped, got %s", got)
	}
	if len(sink.executeCalls) != 0 {
		t.Fatalf("expected no execute attempts, got %v", sink.executeCalls)
	}
}

func TestDispatcherDeniesEntryBeyondPositionLimit(t *testing.T) {
	base := time.Date(2026, 3, 2, 15, 15, 0, 0, time.UTC)
	first := planEntry("csv_1", "USD/JPY", base)
	second := planEntry("csv_2", "EUR/USD", base)
	firstExit := planExit("csv_1_exit", "csv_1", "USD/JPY", base.Add(time.Minute))
	secondExit := planExit("csv_2_exit", "csv_2", "EUR/USD", base.Add(time.Minute))

	mgr := newPlanManager(t, time.Minute, first, second, firstExit, secondExit)
	sink := &scriptedSink{}

	riskMgr, err := risk.NewManager(
		config.RiskConfig{MaxOpenPositions: 1, MaxLotSize: 100000},
		newDispatchStore(t),
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("创建风险管理器失败: %v", err)
	}

	clock := &manualClock{now: base.Add(-30 * time.Second)}
	d, err := New(Deps{Manager: mgr, Sink: sink, Risk: riskMgr}, Options{Now: clock.Now}, zap.NewNop())
	if err != nil {
		t.Fatalf("创建调度器失败: %v", err)
	}

	ctx := context.Background()
	if _, err := d.Tick(ctx); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	clock.Set(base)
	if _, err := d.Tick(ctx); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if got := statusOf(t, mgr, "csv_1"); got != schedule.StatusExecuted {
		t.Fatalf("expected first entry executed, got %s", got)
	}
	if got := statusOf(t, mgr, "csv_2"); got != schedule.StatusSkipped {
		t.Fatalf("expected second entry denied by risk, got %s", got)
	}
	if got := statusOf(t, mgr, "csv_2_exit"); got != schedule.StatusSkipped {
		t.Fatalf("expected dependent exit of denied entry skipped, got %s", got)
	}

	clock.Set(base.Add(30 * time.Second))
	if _, err := d.Tick(ctx); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	clock.Set(base.Add(time.Minute))
	done, err := d.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if !done {
		t.Fatal("expected plan to finish")
	}

	if len(sink.executed) != 2 || sink.executed[0] != "csv_1" || sink.executed[1] != "csv_1_exit" {
		t.Fatalf("unexpected execution order: %v", sink.executed)
	}

	positions, err := riskMgr.Positions(ctx)
	if err != nil {
		t.Fatalf("Positions failed: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("expected all positions closed, got %d", len(positions))
	}
}

func TestDispatcherRunStopsOnContextCancel(t *testing.T) {
	base := time.Now().Add(time.Hour)
	entry := planEntry("csv_1", "USD/JPY", base)

	mgr := newPlanManager(t, time.Minute, entry)
	d, err := New(Deps{Manager: mgr, Sink: &scriptedSink{}}, Options{TickInterval: 10 * time.Millisecond}, zap.NewNop())
	if err != nil {
		t.Fatalf("创建调度器失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.Run(ctx); err != nil {
		t.Fatalf("expected clean shutdown on cancel, got %v", err)
	}
	if got := statusOf(t, mgr, "csv_1"); got != schedule.StatusPending {
		t.Fatalf("expected future record untouched, got %s", got)
	}
}

func TestDispatcherRunCompletesImmediatelyDuePlan(t *testing.T) {
	now := time.Now()
	entry := planEntry("csv_1", "USD/JPY", now.Add(-2*time.Second))
	exit := planExit("csv_1_exit", "csv_1", "USD/JPY", now.Add(-time.Second))

	mgr := newPlanManager(t, time.Hour, entry, exit)
	sink := &scriptedSink{}
	d, err := New(Deps{Manager: mgr, Sink: sink}, Options{TickInterval: 10 * time.Millisecond}, zap.NewNop())
	if err != nil {
		t.Fatalf("创建调度器失败: %v", err)
	}

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(sink.executed) != 2 || sink.executed[0] != "csv_1" || sink.executed[1] != "csv_1_exit" {
		t.Fatalf("unexpected execution order: %v", sink.executed)
	}
}

func TestDispatcherRehearsesFullPlan(t *testing.T) {
	base := time.Date(2026, 3, 2, 15, 15, 0, 0, time.UTC)
	entry := planEntry("csv_1", "USD/JPY", base)
	exit := planExit("csv_1_exit", "csv_1", "USD/JPY", base.Add(time.Minute))

	mgr := newPlanManager(t, time.Minute, entry, exit)
	sink := &scriptedSink{}
	d, err := New(Deps{Manager: mgr, Sink: sink}, Options{}, zap.NewNop())
	if err != nil {
		t.Fatalf("创建调度器失败: %v", err)
	}

	if err := d.Rehearse(context.Background()); err != nil {
		t.Fatalf("Rehearse failed: %v", err)
	}
	if len(sink.executed) != 2 || sink.executed[0] != "csv_1" || sink.executed[1] != "csv_1_exit" {
		t.Fatalf("unexpected rehearsal execution order: %v", sink.executed)
	}
	if got := statusOf(t, mgr, "csv_1"); got != schedule.StatusExecuted {
		t.Fatalf("expected entry executed after rehearsal, got %s", got)
	}
	if got := statusOf(t, mgr, "csv_1_exit"); got != schedule.StatusExecuted {
		t.Fatalf("expected exit executed after rehearsal, got %s", got)
	}
}

type planLoader struct {
	records []*schedule.Record
	err     error
}

func (l planLoader) LoadSchedule(ctx context.Context) ([]*schedule.Record, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.records, nil
}

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time {
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.now = t
}

type scriptedSink struct {
	prepareCalls []string
	executeCalls []string
	prepared     []string
	executed     []string
	prepareErrs  map[string]error
	executeErrs  map[string]error
}

var _ execution.Sink = (*scriptedSink)(nil)

func (s *scriptedSink) Prepare(ctx context.Context, rec *schedule.Record) (execution.Result, error) {
	s.prepareCalls = append(s.prepareCalls, rec.ID)
	if err := s.prepareErrs[rec.ID]; err != nil {
		return execution.Result{}, err
	}
	s.prepared = append(s.prepared, rec.ID)
	return execution.Result{
		Stage:       execution.StagePrepare,
		CompletedAt: time.Now(),
		Diagnostic:  "scripted prepare " + rec.ID,
	}, nil
}

func (s *scriptedSink) Execute(ctx context.Context, rec *schedule.Record) (execution.Result, error) {
	s.executeCalls = append(s.executeCalls, rec.ID)
	if err := s.executeErrs[rec.ID]; err != nil {
		return execution.Result{}, err
	}
	s.executed = append(s.executed, rec.ID)
	return execution.Result{
		Stage:       execution.StageExecute,
		CompletedAt: time.Now(),
		Diagnostic:  "scripted execute " + rec.ID,
	}, nil
}
