package schedule

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Action 表示交易动作类型。
type Action string

const (
	ActionEntry Action = "ENTRY"
	ActionExit  Action = "EXIT"
)

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Status 表示交易记录的生命周期状态。
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusPrepared Status = "PREPARED"
	StatusExecuted Status = "EXECUTED"
	StatusFailed   Status = "FAILED"
	StatusSkipped  Status = "SKIPPED"
)

var (
	// ErrInvalidTransition 表示目标状态不在允许的迁移范围内。
	ErrInvalidTransition = errors.New("schedule: 非法的状态迁移")
	// ErrUnknownRecord 表示计划中不存在该记录。
	ErrUnknownRecord = errors.New("schedule: 未知的交易记录")
)

// 状态只允许单向推进，终态不再变化。
var validTransitions = map[Status][]Status{
	StatusPending:  {StatusPrepared, StatusFailed, StatusSkipped},
	StatusPrepared: {StatusExecuted, StatusFailed, StatusSkipped},
	StatusExecuted: {},
	StatusFailed:   {},
	StatusSkipped:  {},
}

// CanTransition 判断状态能否从 from 推进到 to。
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// Record 表示计划内的一笔交易动作。除 Status 外字段在加载后不再变化。
type Record struct {
	ID            string    `json:"id"`
	Action        Action    `json:"action"`
	Side          Side      `json:"side"`
	Instrument    string    `json:"instrument"`
	Quantity      int64     `json:"quantity"`
	ExecuteAt     time.Time `json:"execute_at"`
	PrepareAt     time.Time `json:"prepare_at"`
	Status        Status    `json:"status"`
	LinkedEntryID string    `json:"linked_entry_id,omitempty"`
}

// Validate 校验记录字段是否满足基本约束。
func (r *Record) Validate() error {
	if r.ID == "" {
		return errors.New("schedule: 记录缺少 ID")
	}
	if r.Action != ActionEntry && r.Action != ActionExit {
		return fmt.Errorf("schedule: 记录 %s 的动作类型 %q 不受支持", r.ID, r.Action)
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("schedule: 记录 %s 的方向 %q 不受支持", r.ID, r.Side)
	}
	if r.Instrument == "" {
		return fmt.Errorf("schedule: 记录 %s 缺少交易品种", r.ID)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("schedule: 记录 %s 的数量必须为正", r.ID)
	}
	if r.ExecuteAt.IsZero() {
		return fmt.Errorf("schedule: 记录 %s 缺少执行时间", r.ID)
	}
	if !r.PrepareAt.Before(r.ExecuteAt) {
		return fmt.Errorf("schedule: 记录 %s 的准备时间必须早于执行时间", r.ID)
	}
	if r.Action == ActionExit && r.LinkedEntryID == "" {
		return fmt.Errorf("schedule: 平仓记录 %s 缺少关联的入场记录", r.ID)
	}
	return nil
}

// SortRecords 按执行时间升序排序，时间相同时按 ID 排序。
func SortRecords(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].ExecuteAt.Equal(records[j].ExecuteAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].ExecuteAt.Before(records[j].ExecuteAt)
	})
}
