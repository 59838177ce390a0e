package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fx-pilot/internal/config"
	"fx-pilot/internal/dispatch"
	"fx-pilot/internal/execution"
	"fx-pilot/internal/journal"
	"fx-pilot/internal/reader"
	"fx-pilot/internal/risk"
	"fx-pilot/internal/schedule"
	"fx-pilot/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg     *config.Config
	trading *config.TradingConfig
	logger  *zap.Logger
	store   *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, trading *config.TradingConfig, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:     cfg,
		trading: trading,
		logger:  logger,
		store:   store,
	}
}

// pipeline 聚合一次运行所需的全部组件。
type pipeline struct {
	manager    *schedule.Manager
	dispatcher *dispatch.Dispatcher
	journal    *journal.Service
	risk       *risk.Manager
}

// Run 加载交易计划并驱动调度循环，直到计划完成或收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("data_source", a.cfg.DataSource.Type),
		zap.String("mode", a.cfg.Execution.Mode),
	)

	pipe, err := a.buildPipeline()
	if err != nil {
		return err
	}

	if err := a.loadPlan(ctx, pipe); err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer stop()
		return pipe.dispatcher.Run(gctx)
	})

	if a.cfg.Report.Enabled {
		summary := pipe.manager.Summary()
		g.Go(func() error {
			return serveReport(gctx, reportState{
				journal: pipe.journal,
				risk:    pipe.risk,
				summary: summary,
			}, a.cfg.Report.Port, a.logger)
		})
	}

	return g.Wait()
}

// Rehearse 在虚拟时钟下完整演练计划后退出，用于上线前验证计划数据。
func (a *App) Rehearse(ctx context.Context) error {
	pipe, err := a.buildPipeline()
	if err != nil {
		return err
	}

	if err := a.loadPlan(ctx, pipe); err != nil {
		return err
	}

	return pipe.dispatcher.Rehearse(ctx)
}

func (a *App) buildPipeline() (*pipeline, error) {
	rdr, err := reader.New(a.cfg.DataSource, *a.trading, a.logger)
	if err != nil {
		return nil, fmt.Errorf("初始化数据读取器失败: %w", err)
	}

	journalSvc, err := journal.NewService(a.store, a.logger)
	if err != nil {
		return nil, fmt.Errorf("初始化操作日志失败: %w", err)
	}

	riskMgr, err := risk.NewManager(a.trading.Risk, a.store, a.logger)
	if err != nil {
		return nil, fmt.Errorf("初始化风险管理失败: %w", err)
	}

	sink, err := a.buildSink()
	if err != nil {
		return nil, err
	}

	manager := schedule.NewManager(rdr, schedule.Options{
		GraceWindow: a.trading.Schedule.GraceWindow,
	}, a.logger)

	dispatcher, err := dispatch.New(dispatch.Deps{
		Manager: manager,
		Sink:    sink,
		Risk:    riskMgr,
		Journal: journalSvc,
	}, dispatch.Options{
		TickInterval: a.trading.Schedule.TickInterval,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("初始化调度器失败: %w", err)
	}

	return &pipeline{
		manager:    manager,
		dispatcher: dispatcher,
		journal:    journalSvc,
		risk:       riskMgr,
	}, nil
}

func (a *App) buildSink() (execution.Sink, error) {
	var sink execution.Sink
	switch a.cfg.Execution.Mode {
	case config.ModeSimulation:
		a.logger.Info("执行器处于模拟模式",
			zap.Duration("simulated_latency", a.cfg.Execution.SimulatedLatency),
		)
		sink = execution.NewDryRunExecutor(a.cfg.Execution.SimulatedLatency, a.logger)
	case config.ModeLive:
		return nil, errors.New("app: live 模式尚未接入真实执行通道")
	default:
		return nil, fmt.Errorf("app: 不支持的执行模式 %q", a.cfg.Execution.Mode)
	}

	return execution.WithCallTimeout(sink, a.cfg.Execution.CallTimeout), nil
}

func (a *App) loadPlan(ctx context.Context, pipe *pipeline) error {
	if ok := pipe.manager.LoadData(ctx); !ok {
		cause := pipe.manager.LoadFailure()
		pipe.journal.RecordLoadFailure(ctx, cause)
		return fmt.Errorf("加载交易计划失败: %w", cause)
	}

	summary := pipe.manager.Summary()
	a.logger.Info("交易计划加载完成",
		zap.Int("total", summary.Total),
		zap.Any("by_instrument", summary.ByInstrument),
		zap.Time("earliest", summary.Earliest),
		zap.Time("latest", summary.Latest),
	)
	pipe.journal.RecordScheduleLoaded(ctx, summary)

	return nil
}
