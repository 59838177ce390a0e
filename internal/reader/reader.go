package reader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fx-pilot/internal/config"
	"fx-pilot/internal/schedule"
)

var (
	// ErrConfig 表示数据源配置缺失或不受支持。
	ErrConfig = errors.New("reader: invalid data source config")
	// ErrSourceUnavailable 表示数据源无法访问，如文件缺失或网络失败。
	ErrSourceUnavailable = errors.New("reader: source unavailable")
	// ErrSourceMalformed 表示数据源内容不符合约定格式。
	ErrSourceMalformed = errors.New("reader: source malformed")
	// ErrDuplicateEntry 表示计划中出现重复条目，整次加载被拒绝。
	ErrDuplicateEntry = errors.New("reader: duplicate schedule entry")
)

// Row 表示数据源中一行原始的计划数据，所有单元格保持字符串形态。
type Row struct {
	Line       int
	Instrument string
	Side       string
	Quantity   string
	EntryAt    string
	Hold       string
	ExitAt     string
}

// Reader 从配置指定的数据源加载完整的交易计划。
type Reader interface {
	LoadSchedule(ctx context.Context) ([]*schedule.Record, error)
}

// source 抽象具体数据源，只负责取出带表头映射后的原始行。
type source interface {
	fetch(ctx context.Context) ([]Row, error)
	name() string
}

type scheduleReader struct {
	src    source
	norm   Normalizer
	logger *zap.Logger
}

// New 根据数据源配置创建计划读取器。type 字段决定具体实现。
func New(ds config.DataSourceConfig, trading config.TradingConfig, logger *zap.Logger) (Reader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	norm := Normalizer{
		LeadTime:   trading.Schedule.LeadTime,
		DefaultLot: trading.Defaults.LotSize,
		Now:        time.Now,
	}

	var src source
	switch ds.Type {
	case "":
		return nil, fmt.Errorf("%w: 缺少 type 字段", ErrConfig)
	case config.SourceCSV:
		if ds.CSV.Path == "" {
			return nil, fmt.Errorf("%w: csv.path 不能为空", ErrConfig)
		}
		norm.IDPrefix = "csv"
		src = &csvSource{path: ds.CSV.Path}
	case config.SourceExcel:
		if ds.Excel.Path == "" {
			return nil, fmt.Errorf("%w: excel.path 不能为空", ErrConfig)
		}
		sheet := ds.Excel.Sheet
		if sheet == "" {
			sheet = "Sheet1"
		}
		norm.IDPrefix = "excel"
		src = &excelSource{path: ds.Excel.Path, sheet: sheet}
	case config.SourceGoogleSheets:
		if ds.GoogleSheets.CredentialsFile == "" || ds.GoogleSheets.SpreadsheetID == "" || ds.GoogleSheets.ReadRange == "" {
			return nil, fmt.Errorf("%w: google_sheets 需要 credentials_file、spreadsheet_id 与 read_range", ErrConfig)
		}
		norm.IDPrefix = "sheet"
		src = &sheetsSource{cfg: ds.GoogleSheets, retry: ds.Retry, logger: logger}
	default:
		return nil, fmt.Errorf("%w: 不支持的数据源类型 %q", ErrConfig, ds.Type)
	}

	return &scheduleReader{src: src, norm: norm, logger: logger}, nil
}

// LoadSchedule 读取数据源并生成规范化的交易计划。
func (r *scheduleReader) LoadSchedule(ctx context.Context) ([]*schedule.Record, error) {
	rows, err := r.src.fetch(ctx)
	if err != nil {
		return nil, err
	}

	records, err := r.norm.BuildSchedule(rows)
	if err != nil {
		return nil, err
	}

	r.logger.Info("数据源读取完成",
		zap.String("source", r.src.name()),
		zap.Int("rows", len(rows)),
		zap.Int("records", len(records)),
	)
	return records, nil
}
