package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"fx-pilot/internal/app"
	"fx-pilot/internal/config"
	"fx-pilot/internal/log"
	"fx-pilot/internal/store"
)

func main() {
	var (
		configPath  string
		tradingPath string
		rehearse    bool
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/settings.json")
	flag.StringVar(&tradingPath, "trading", "", "交易配置文件路径，默认使用 configs/trading.json")
	flag.BoolVar(&rehearse, "rehearse", false, "演练模式：以虚拟时钟完整走一遍计划后退出")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	trading, err := config.LoadTrading(tradingPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载交易配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	pilot := app.New(cfg, trading, logger, sqliteStore)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if rehearse {
		if err := pilot.Rehearse(ctx); err != nil {
			logger.Error("计划演练失败", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("计划演练通过")
		return
	}

	if err := pilot.Run(ctx); err != nil {
		logger.Error("系统运行异常", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("系统已安全退出")
}
