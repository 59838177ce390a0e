package schedule

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Loader 提供完整的交易计划。
type Loader interface {
	LoadSchedule(ctx context.Context) ([]*Record, error)
}

// Options 控制计划管理行为。
type Options struct {
	GraceWindow time.Duration
}

// Summary 描述一次加载后的计划概览。
type Summary struct {
	Total        int            `json:"total"`
	ByInstrument map[string]int `json:"by_instrument"`
	Earliest     time.Time      `json:"earliest"`
	Latest       time.Time      `json:"latest"`
}

// Manager 持有整份交易计划并管理记录的状态流转。
// 调度核心为单协程模型，Manager 不做并发保护。
type Manager struct {
	loader Loader
	grace  time.Duration
	logger *zap.Logger

	records []*Record
	byID    map[string]*Record
	loadErr error
}

// NewManager 创建计划管理器。
func NewManager(loader Loader, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		loader: loader,
		grace:  opts.GraceWindow,
		logger: logger,
	}
}

// LoadData 加载交易计划。失败时返回 false 并保留原因，不向外抛出错误。
func (m *Manager) LoadData(ctx context.Context) bool {
	records, err := m.loader.LoadSchedule(ctx)
	if err != nil {
		return m.loadFailed(err)
	}

	SortRecords(records)
	byID, err := indexRecords(records)
	if err != nil {
		return m.loadFailed(err)
	}

	m.records = records
	m.byID = byID
	m.loadErr = nil
	m.logger.Info("交易计划加载完成", zap.Int("records", len(records)))
	return true
}

func (m *Manager) loadFailed(err error) bool {
	m.records = nil
	m.byID = nil
	m.loadErr = err
	m.logger.Error("加载交易计划失败", zap.Error(err))
	return false
}

// indexRecords 建立 ID 索引并校验计划级约束：ID 唯一，
// 平仓记录关联的入场记录必须存在且先于其执行。
func indexRecords(records []*Record) (map[string]*Record, error) {
	byID := make(map[string]*Record, len(records))
	for _, rec := range records {
		if _, exists := byID[rec.ID]; exists {
			return nil, fmt.Errorf("schedule: 记录 ID 重复: %s", rec.ID)
		}
		byID[rec.ID] = rec
	}

	for _, rec := range records {
		if rec.Action != ActionExit || rec.LinkedEntryID == "" {
			continue
		}
		entry, ok := byID[rec.LinkedEntryID]
		if !ok {
			return nil, fmt.Errorf("schedule: 记录 %s 关联的入场记录 %s 不在计划内", rec.ID, rec.LinkedEntryID)
		}
		if entry.Action != ActionEntry {
			return nil, fmt.Errorf("schedule: 记录 %s 关联的 %s 不是入场记录", rec.ID, rec.LinkedEntryID)
		}
		if !entry.ExecuteAt.Before(rec.ExecuteAt) {
			return nil, fmt.Errorf("schedule: 记录 %s 必须晚于关联入场记录 %s 执行", rec.ID, rec.LinkedEntryID)
		}
	}

	return byID, nil
}

// LoadFailure 返回最近一次加载失败的原因，加载成功时为 nil。
func (m *Manager) LoadFailure() error {
	return m.loadErr
}

// Summary 统计当前计划的概览信息，不改变任何记录状态。
func (m *Manager) Summary() Summary {
	summary := Summary{ByInstrument: make(map[string]int)}
	for _, rec := range m.records {
		summary.Total++
		summary.ByInstrument[rec.Instrument]++
		if summary.Earliest.IsZero() || rec.ExecuteAt.Before(summary.Earliest) {
			summary.Earliest = rec.ExecuteAt
		}
		if rec.ExecuteAt.After(summary.Latest) {
			summary.Latest = rec.ExecuteAt
		}
	}
	return summary
}

// DueForPreparation 返回准备时间已到的待处理记录，按执行时间升序。
func (m *Manager) DueForPreparation(now time.Time) []*Record {
	var due []*Record
	for _, rec := range m.records {
		if rec.Status == StatusPending && !rec.PrepareAt.After(now) {
			due = append(due, rec)
		}
	}
	return due
}

// DueForExecution 返回执行时间已到的已准备记录，按执行时间升序。
func (m *Manager) DueForExecution(now time.Time) []*Record {
	var due []*Record
	for _, rec := range m.records {
		if rec.Status == StatusPrepared && !rec.ExecuteAt.After(now) {
			due = append(due, rec)
		}
	}
	return due
}

// Mark 将指定记录推进到目标状态。
func (m *Manager) Mark(id string, to Status) error {
	rec, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecord, id)
	}
	if !CanTransition(rec.Status, to) {
		return fmt.Errorf("%w: 记录 %s 无法从 %s 变为 %s", ErrInvalidTransition, id, rec.Status, to)
	}
	rec.Status = to
	return nil
}

// Expire 将执行时间超出宽限期的未完成记录标记为跳过，返回被跳过的记录。
func (m *Manager) Expire(now time.Time) []*Record {
	deadline := now.Add(-m.grace)
	var expired []*Record
	for _, rec := range m.records {
		if rec.Status != StatusPending && rec.Status != StatusPrepared {
			continue
		}
		if !rec.ExecuteAt.Before(deadline) {
			continue
		}
		rec.Status = StatusSkipped
		expired = append(expired, rec)
	}
	return expired
}

// SkipDependents 跳过依赖指定入场记录的未完成平仓记录。
// 入场未能成交时，对应的平仓动作不允许再被触发。
func (m *Manager) SkipDependents(entryID string) []*Record {
	var skipped []*Record
	for _, rec := range m.records {
		if rec.Action != ActionExit || rec.LinkedEntryID != entryID {
			continue
		}
		if rec.Status != StatusPending && rec.Status != StatusPrepared {
			continue
		}
		rec.Status = StatusSkipped
		skipped = append(skipped, rec)
	}
	return skipped
}

// Remaining 返回仍处于待处理或已准备状态的记录数量。
func (m *Manager) Remaining() int {
	count := 0
	for _, rec := range m.records {
		if rec.Status == StatusPending || rec.Status == StatusPrepared {
			count++
		}
	}
	return count
}

// Lookup 按 ID 查找记录。
func (m *Manager) Lookup(id string) (*Record, bool) {
	rec, ok := m.byID[id]
	return rec, ok
}

// Records 返回当前计划内的全部记录，调用方不得修改。
func (m *Manager) Records() []*Record {
	return m.records
}
