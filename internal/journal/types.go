package journal

import (
	"time"

	"fx-pilot/internal/schedule"
)

// EventType 表示运行事件类型。
type EventType string

const (
	EventScheduleLoaded EventType = "schedule_loaded"
	EventLoadFailed     EventType = "load_failed"
	EventPrepared       EventType = "prepared"
	EventExecuted       EventType = "executed"
	EventFailed         EventType = "failed"
	EventSkipped        EventType = "skipped"
	EventRiskRejected   EventType = "risk_rejected"
	EventError          EventType = "error"
)

// Event 封装一次运行事件。
type Event struct {
	Session   string      `json:"session"`
	Type      EventType   `json:"type"`
	RecordID  string      `json:"record_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// RecordPayload 记录单条计划记录的处理结果。
type RecordPayload struct {
	Instrument string    `json:"instrument"`
	Action     string    `json:"action"`
	Side       string    `json:"side"`
	Quantity   int64     `json:"quantity"`
	ExecuteAt  time.Time `json:"execute_at"`
	Status     string    `json:"status"`
	Diagnostic string    `json:"diagnostic,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// SummaryPayload 记录加载后的计划概览。
type SummaryPayload struct {
	Summary schedule.Summary `json:"summary"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func recordPayload(rec *schedule.Record, diagnostic, reason string) RecordPayload {
	return RecordPayload{
		Instrument: rec.Instrument,
		Action:     string(rec.Action),
		Side:       string(rec.Side),
		Quantity:   rec.Quantity,
		ExecuteAt:  rec.ExecuteAt,
		Status:     string(rec.Status),
		Diagnostic: diagnostic,
		Reason:     reason,
	}
}
