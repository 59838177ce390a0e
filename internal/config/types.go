package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// 支持的数据源类型。
const (
	SourceExcel        = "excel"
	SourceCSV          = "csv"
	SourceGoogleSheets = "google_sheets"
)

// 支持的执行模式。
const (
	ModeSimulation = "simulation"
	ModeLive       = "live"
)

// Config 聚合系统运行所需的通用配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	DataSource DataSourceConfig `mapstructure:"data_source"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Report     ReportConfig     `mapstructure:"report"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// DataSourceConfig 描述交易计划的数据来源。
type DataSourceConfig struct {
	Type         string                   `mapstructure:"type"`
	Excel        ExcelSourceConfig        `mapstructure:"excel"`
	CSV          CSVSourceConfig          `mapstructure:"csv"`
	GoogleSheets GoogleSheetsSourceConfig `mapstructure:"google_sheets"`
	Retry        RetryConfig              `mapstructure:"retry"`
}

// ExcelSourceConfig 描述 Excel 工作簿数据源。
type ExcelSourceConfig struct {
	Path  string `mapstructure:"path"`
	Sheet string `mapstructure:"sheet"`
}

// CSVSourceConfig 描述 CSV 文件数据源。
type CSVSourceConfig struct {
	Path string `mapstructure:"path"`
}

// GoogleSheetsSourceConfig 描述 Google Sheets 数据源。
type GoogleSheetsSourceConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	ReadRange       string `mapstructure:"read_range"`
}

// RetryConfig 统一控制远端数据源的重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// ExecutionConfig 控制执行端行为。
type ExecutionConfig struct {
	Mode             string        `mapstructure:"mode"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	SimulatedLatency time.Duration `mapstructure:"simulated_latency"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// ReportConfig 控制运行报告接口。
type ReportConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TradingConfig 聚合交易行为配置，独立于通用配置单独加载。
type TradingConfig struct {
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Defaults DefaultsConfig `mapstructure:"defaults"`
	Risk     RiskConfig     `mapstructure:"risk"`
}

// ScheduleConfig 控制计划调度节奏。
type ScheduleConfig struct {
	LeadTime     time.Duration `mapstructure:"lead_time"`
	GraceWindow  time.Duration `mapstructure:"grace_window"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// DefaultsConfig 提供缺省交易参数。
type DefaultsConfig struct {
	LotSize int64 `mapstructure:"lot_size"`
}

// RiskConfig 管理风控参数。
type RiskConfig struct {
	MaxOpenPositions int   `mapstructure:"max_open_positions"`
	MaxLotSize       int64 `mapstructure:"max_lot_size"`
}

// Validate 对通用配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	switch c.DataSource.Type {
	case "":
		err = multierr.Append(err, errors.New("data_source.type 不能为空"))
	case SourceExcel:
		if c.DataSource.Excel.Path == "" {
			err = multierr.Append(err, errors.New("data_source.excel.path 不能为空"))
		}
		if c.DataSource.Excel.Sheet == "" {
			err = multierr.Append(err, errors.New("data_source.excel.sheet 不能为空"))
		}
	case SourceCSV:
		if c.DataSource.CSV.Path == "" {
			err = multierr.Append(err, errors.New("data_source.csv.path 不能为空"))
		}
	case SourceGoogleSheets:
		if c.DataSource.GoogleSheets.CredentialsFile == "" {
			err = multierr.Append(err, errors.New("data_source.google_sheets.credentials_file 不能为空"))
		}
		if c.DataSource.GoogleSheets.SpreadsheetID == "" {
			err = multierr.Append(err, errors.New("data_source.google_sheets.spreadsheet_id 不能为空"))
		}
		if c.DataSource.GoogleSheets.ReadRange == "" {
			err = multierr.Append(err, errors.New("data_source.google_sheets.read_range 不能为空"))
		}
	default:
		err = multierr.Append(err, errors.New("data_source.type 必须为 excel/csv/google_sheets 之一"))
	}
	if c.DataSource.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("data_source.retry.max_attempts 必须大于0"))
	}
	if c.DataSource.Retry.MinDelay <= 0 || c.DataSource.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("data_source.retry.delay 必须为正"))
	}
	if c.DataSource.Retry.MinDelay > c.DataSource.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("data_source.retry.min_delay 不能大于 max_delay"))
	}
	if c.Execution.Mode != ModeSimulation && c.Execution.Mode != ModeLive {
		err = multierr.Append(err, errors.New("execution.mode 必须为 simulation 或 live"))
	}
	if c.Execution.CallTimeout <= 0 {
		err = multierr.Append(err, errors.New("execution.call_timeout 必须大于0"))
	}
	if c.Execution.SimulatedLatency < 0 {
		err = multierr.Append(err, errors.New("execution.simulated_latency 不能为负"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Report.Enabled && (c.Report.Port <= 0 || c.Report.Port > 65535) {
		err = multierr.Append(err, errors.New("report.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

// Validate 对交易配置进行基本校验。
func (t *TradingConfig) Validate() error {
	var err error

	if t.Schedule.LeadTime <= 0 {
		err = multierr.Append(err, errors.New("schedule.lead_time 必须大于0"))
	}
	if t.Schedule.GraceWindow <= 0 {
		err = multierr.Append(err, errors.New("schedule.grace_window 必须大于0"))
	}
	if t.Schedule.TickInterval <= 0 {
		err = multierr.Append(err, errors.New("schedule.tick_interval 必须大于0"))
	}
	if t.Defaults.LotSize <= 0 {
		err = multierr.Append(err, errors.New("defaults.lot_size 必须大于0"))
	}
	if t.Risk.MaxOpenPositions <= 0 {
		err = multierr.Append(err, errors.New("risk.max_open_positions 必须大于0"))
	}
	if t.Risk.MaxLotSize <= 0 {
		err = multierr.Append(err, errors.New("risk.max_lot_size 必须大于0"))
	}
	if t.Risk.MaxLotSize > 0 && t.Defaults.LotSize > t.Risk.MaxLotSize {
		err = multierr.Append(err, errors.New("defaults.lot_size 不能大于 risk.max_lot_size"))
	}

	if err != nil {
		return fmt.Errorf("交易配置校验失败: %w", err)
	}

	return nil
}
