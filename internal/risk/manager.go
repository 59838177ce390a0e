package risk

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"fx-pilot/internal/config"
	"fx-pilot/internal/schedule"
	"fx-pilot/internal/store"
)

// Manager 负责执行开仓前的风控评估并维护持仓账本。
type Manager struct {
	cfg     config.RiskConfig
	tracker *PositionTracker
	logger  *zap.Logger
}

// NewManager 创建风险管理器。
func NewManager(cfg config.RiskConfig, store *store.Store, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("risk: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tracker, err := NewPositionTracker(store.DB(), logger)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:     cfg,
		tracker: tracker,
		logger:  logger,
	}, nil
}

// EvaluateOpen 判断一笔开仓指令是否允许执行。
func (m *Manager) EvaluateOpen(ctx context.Context, rec *schedule.Record) (Assessment, error) {
	count, err := m.tracker.OpenCount(ctx)
	if err != nil {
		return Assessment{}, err
	}

	result := Assessment{
		Status:    StatusDeny,
		OpenCount: count,
	}

	if m.cfg.MaxLotSize > 0 && rec.Quantity > m.cfg.MaxLotSize {
		result.Reason = fmt.Sprintf("数量 %d 超过单笔上限 %d", rec.Quantity, m.cfg.MaxLotSize)
		m.denied(ctx, rec, result.Reason)
		return result, nil
	}

	if m.cfg.MaxOpenPositions > 0 && count >= m.cfg.MaxOpenPositions {
		result.Reason = fmt.Sprintf("未平仓持仓已达上限 %d", m.cfg.MaxOpenPositions)
		m.denied(ctx, rec, result.Reason)
		return result, nil
	}

	result.Status = StatusProceed
	return result, nil
}

// NoteOpened 在开仓指令成功执行后登记持仓。
func (m *Manager) NoteOpened(ctx context.Context, rec *schedule.Record) error {
	return m.tracker.Open(ctx, OpenPosition{
		RecordID:   rec.ID,
		Instrument: rec.Instrument,
		Side:       string(rec.Side),
		Quantity:   rec.Quantity,
		OpenedAt:   rec.ExecuteAt.UTC(),
	})
}

// NoteClosed 在平仓指令成功执行后移除对应持仓。
// 优先按关联的入场记录匹配，缺少关联时回退到同品种最早的持仓。
func (m *Manager) NoteClosed(ctx context.Context, rec *schedule.Record) error {
	target := rec.LinkedEntryID
	if target == "" {
		oldest, err := m.tracker.OldestOpenID(ctx, rec.Instrument)
		if err != nil {
			return err
		}
		target = oldest
	}

	if target == "" {
		m.logger.Warn("平仓指令未匹配到持仓",
			zap.String("record_id", rec.ID),
			zap.String("instrument", rec.Instrument),
		)
		return m.tracker.LogEvent(ctx, rec.ID, "close_unmatched", "平仓指令未匹配到持仓")
	}

	matched, err := m.tracker.Close(ctx, target)
	if err != nil {
		return err
	}
	if !matched {
		m.logger.Warn("平仓目标持仓不存在",
			zap.String("record_id", rec.ID),
			zap.String("target", target),
		)
		return m.tracker.LogEvent(ctx, rec.ID, "close_unmatched", "平仓目标持仓不存在: "+target)
	}

	return nil
}

// Positions 返回当前未平仓持仓快照。
func (m *Manager) Positions(ctx context.Context) ([]OpenPosition, error) {
	return m.tracker.Snapshot(ctx)
}

func (m *Manager) denied(ctx context.Context, rec *schedule.Record, reason string) {
	m.logger.Warn("风控拒绝开仓",
		zap.String("record_id", rec.ID),
		zap.String("instrument", rec.Instrument),
		zap.Int64("quantity", rec.Quantity),
		zap.String("reason", reason),
	)

	if err := m.tracker.LogEvent(ctx, rec.ID, "open_denied", reason); err != nil {
		m.logger.Warn("写入风险事件失败", zap.Error(err))
	}
}
