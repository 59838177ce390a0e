package execution

import (
	"context"
	"time"

	"fx-pilot/internal/schedule"
)

// Stage 表示执行端动作所处的阶段。
type Stage string

const (
	StagePrepare Stage = "prepare"
	StageExecute Stage = "execute"
)

// Result 为执行端返回的结果摘要。
// Diagnostic 是执行层的原始诊断信息(页面状态、截图引用等),
// 核心只负责记录,不做任何解释。
type Result struct {
	Stage       Stage
	CompletedAt time.Time
	Diagnostic  string
}

// Sink 是外部执行层的唯一边界。浏览器自动化、页面操作与凭证处理
// 全部位于 Sink 实现内部,调度核心只关心调用成功与否。
// 调用会阻塞当前调度节拍,超时控制由实现方通过 ctx 处理。
type Sink interface {
	Prepare(ctx context.Context, rec *schedule.Record) (Result, error)
	Execute(ctx context.Context, rec *schedule.Record) (Result, error)
}
