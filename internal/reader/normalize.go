package reader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"fx-pilot/internal/schedule"
)

// 规范列名。
const (
	colInstrument = "instrument"
	colSide       = "side"
	colQuantity   = "quantity"
	colEntryAt    = "entry_time"
	colHold       = "hold"
	colExitAt     = "exit_time"
)

// 表头别名,兼容英文与日文表格。
var headerAliases = map[string]string{
	"instrument":    colInstrument,
	"currency_pair": colInstrument,
	"pair":          colInstrument,
	"通貨ペア":          colInstrument,

	"side":      colSide,
	"direction": colSide,
	"方向":        colSide,
	"売買":        colSide,

	"quantity": colQuantity,
	"amount":   colQuantity,
	"数量":       colQuantity,

	"entry_time": colEntryAt,
	"エントリー時刻":    colEntryAt,
	"エントリー時間":    colEntryAt,

	"hold":         colHold,
	"holding":      colHold,
	"hold_seconds": colHold,
	"保有時間":         colHold,

	"exit_time":  colExitAt,
	"close_time": colExitAt,
	"クローズ時刻":     colExitAt,
	"決済時間":       colExitAt,
}

// 方向同义词。
var sideSynonyms = map[string]schedule.Side{
	"buy":  schedule.SideBuy,
	"long": schedule.SideBuy,
	"l":    schedule.SideBuy,
	"買い":   schedule.SideBuy,
	"ロング":  schedule.SideBuy,

	"sell":  schedule.SideSell,
	"short": schedule.SideSell,
	"s":     schedule.SideSell,
	"売り":    schedule.SideSell,
	"ショート":  schedule.SideSell,
}

var datetimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	time.RFC3339,
}

var clockLayouts = []string{
	"15:04:05",
	"15:04",
}

// Normalizer 将原始行转换为规范的交易计划记录。
type Normalizer struct {
	LeadTime   time.Duration
	DefaultLot int64
	IDPrefix   string
	Now        func() time.Time
}

// BuildSchedule 逐行构建计划记录。任何一行不合法都会放弃整次加载。
func (n *Normalizer) BuildSchedule(rows []Row) ([]*schedule.Record, error) {
	now := time.Now()
	if n.Now != nil {
		now = n.Now()
	}

	seen := make(map[string]int, len(rows)*2)
	records := make([]*schedule.Record, 0, len(rows)*2)

	appendRecord := func(rec *schedule.Record, line int) error {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("%w: 第%d行: %v", ErrSourceMalformed, line, err)
		}
		key := fmt.Sprintf("%s|%d|%s", rec.Instrument, rec.ExecuteAt.UnixNano(), rec.Action)
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("%w: 第%d行与第%d行重复 (%s %s %s)",
				ErrDuplicateEntry, line, prev, rec.Instrument, rec.Action, rec.ExecuteAt.Format("15:04:05"))
		}
		seen[key] = line
		records = append(records, rec)
		return nil
	}

	for _, row := range rows {
		side, err := normalizeSide(row.Side)
		if err != nil {
			return nil, fmt.Errorf("%w: 第%d行: %v", ErrSourceMalformed, row.Line, err)
		}

		quantity := n.DefaultLot
		if row.Quantity != "" {
			quantity, err = parseQuantity(row.Quantity)
			if err != nil {
				return nil, fmt.Errorf("%w: 第%d行: %v", ErrSourceMalformed, row.Line, err)
			}
		}

		entryAt, err := parseTimestamp(row.EntryAt, now)
		if err != nil {
			return nil, fmt.Errorf("%w: 第%d行: %v", ErrSourceMalformed, row.Line, err)
		}

		entry := &schedule.Record{
			ID:         fmt.Sprintf("%s_%d", n.IDPrefix, row.Line),
			Action:     schedule.ActionEntry,
			Side:       side,
			Instrument: row.Instrument,
			Quantity:   quantity,
			ExecuteAt:  entryAt,
			PrepareAt:  entryAt.Add(-n.LeadTime),
			Status:     schedule.StatusPending,
		}
		if err := appendRecord(entry, row.Line); err != nil {
			return nil, err
		}

		exitAt, hasExit, err := n.exitTime(row, entryAt, now)
		if err != nil {
			return nil, err
		}
		if !hasExit {
			continue
		}

		exit := &schedule.Record{
			ID:            entry.ID + "_exit",
			Action:        schedule.ActionExit,
			Side:          side,
			Instrument:    entry.Instrument,
			Quantity:      entry.Quantity,
			ExecuteAt:     exitAt,
			PrepareAt:     exitAt.Add(-n.LeadTime),
			Status:        schedule.StatusPending,
			LinkedEntryID: entry.ID,
		}
		if err := appendRecord(exit, row.Line); err != nil {
			return nil, err
		}
	}

	schedule.SortRecords(records)
	return records, nil
}

// exitTime 计算平仓时间。保有時間优先于显式的平仓时刻。
func (n *Normalizer) exitTime(row Row, entryAt, now time.Time) (time.Time, bool, error) {
	if row.Hold != "" {
		hold, err := parseHold(row.Hold)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: 第%d行: %v", ErrSourceMalformed, row.Line, err)
		}
		return entryAt.Add(hold), true, nil
	}

	if row.ExitAt != "" {
		exitAt, err := parseTimestamp(row.ExitAt, now)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: 第%d行: %v", ErrSourceMalformed, row.Line, err)
		}
		if !exitAt.After(entryAt) {
			return time.Time{}, false, fmt.Errorf("%w: 第%d行: 平仓时间必须晚于入场时间", ErrSourceMalformed, row.Line)
		}
		return exitAt, true, nil
	}

	return time.Time{}, false, nil
}

// rowsFromTable 将带表头的二维表转换为原始行,整行为空时跳过。
func rowsFromTable(table [][]string) ([]Row, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("%w: 数据源为空", ErrSourceMalformed)
	}

	idx, err := headerIndex(table[0])
	if err != nil {
		return nil, err
	}

	cell := func(cells []string, key string) string {
		pos, ok := idx[key]
		if !ok || pos >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[pos])
	}

	var rows []Row
	for i, cells := range table[1:] {
		row := Row{
			Line:       i + 2,
			Instrument: cell(cells, colInstrument),
			Side:       cell(cells, colSide),
			Quantity:   cell(cells, colQuantity),
			EntryAt:    cell(cells, colEntryAt),
			Hold:       cell(cells, colHold),
			ExitAt:     cell(cells, colExitAt),
		}
		if row.Instrument == "" && row.Side == "" && row.Quantity == "" &&
			row.EntryAt == "" && row.Hold == "" && row.ExitAt == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// headerIndex 将表头映射到规范列,缺少必需列时整次加载失败。
func headerIndex(headers []string) (map[string]int, error) {
	idx := make(map[string]int, len(headers))
	for i, header := range headers {
		if i == 0 {
			header = strings.TrimPrefix(header, "﻿")
		}
		key := strings.ToLower(strings.TrimSpace(header))
		canonical, ok := headerAliases[key]
		if !ok {
			continue
		}
		if _, exists := idx[canonical]; !exists {
			idx[canonical] = i
		}
	}

	for _, required := range []string{colInstrument, colSide, colEntryAt} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("%w: 缺少必需列 %s", ErrSourceMalformed, required)
		}
	}
	return idx, nil
}

func normalizeSide(cell string) (schedule.Side, error) {
	side, ok := sideSynonyms[strings.ToLower(strings.TrimSpace(cell))]
	if !ok {
		return "", fmt.Errorf("无法识别的方向 %q", cell)
	}
	return side, nil
}

// parseQuantity 解析数量,允许整数或整数值的小数写法。
func parseQuantity(cell string) (int64, error) {
	value := strings.TrimSpace(cell)
	if v, err := strconv.ParseInt(value, 10, 64); err == nil {
		if v <= 0 {
			return 0, fmt.Errorf("数量必须为正: %q", cell)
		}
		return v, nil
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("无法解析数量 %q", cell)
	}
	v := int64(f)
	if float64(v) != f {
		return 0, fmt.Errorf("数量必须为整数: %q", cell)
	}
	if v <= 0 {
		return 0, fmt.Errorf("数量必须为正: %q", cell)
	}
	return v, nil
}

// parseTimestamp 解析完整日期时间或当日时刻,仅含时刻时以 now 的日期补全。
func parseTimestamp(cell string, now time.Time) (time.Time, error) {
	value := strings.TrimSpace(cell)
	if value == "" {
		return time.Time{}, fmt.Errorf("时间为空")
	}

	for _, layout := range datetimeLayouts {
		if ts, err := time.ParseInLocation(layout, value, now.Location()); err == nil {
			return ts, nil
		}
	}

	for _, layout := range clockLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return time.Date(now.Year(), now.Month(), now.Day(),
				ts.Hour(), ts.Minute(), ts.Second(), 0, now.Location()), nil
		}
	}

	return time.Time{}, fmt.Errorf("无法解析时间 %q", value)
}

// parseHold 解析持仓时长。纯数字按秒处理,其余按 Go duration 语法。
func parseHold(cell string) (time.Duration, error) {
	value := strings.TrimSpace(cell)
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("保有時間必须为正: %q", cell)
		}
		return time.Duration(secs) * time.Second, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("无法解析保有時間 %q", cell)
	}
	if d <= 0 {
		return 0, fmt.Errorf("保有時間必须为正: %q", cell)
	}
	return d, nil
}
