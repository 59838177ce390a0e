package risk

import "time"

// StatusType 描述风险评估结果状态。
type StatusType string

const (
	StatusProceed StatusType = "proceed"
	StatusDeny    StatusType = "deny"
)

// Assessment 为开仓评估输出。
type Assessment struct {
	Status    StatusType `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	OpenCount int        `json:"open_count"`
}

// Allowed 报告评估结果是否放行。
func (a Assessment) Allowed() bool {
	return a.Status == StatusProceed
}

// OpenPosition 表示一笔已开仓且尚未平仓的持仓。
type OpenPosition struct {
	RecordID   string    `json:"record_id"`
	Instrument string    `json:"instrument"`
	Side       string    `json:"side"`
	Quantity   int64     `json:"quantity"`
	OpenedAt   time.Time `json:"opened_at"`
}
