package risk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// PositionTracker 维护未平仓持仓的持久化状态。
type PositionTracker struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPositionTracker 创建持仓跟踪器并初始化表结构。
func NewPositionTracker(db *sql.DB, logger *zap.Logger) (*PositionTracker, error) {
	if db == nil {
		return nil, errors.New("risk: 数据库实例不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tracker := &PositionTracker{
		db:     db,
		logger: logger,
	}

	if err := tracker.initSchema(); err != nil {
		return nil, err
	}

	return tracker, nil
}

func (t *PositionTracker) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS open_positions (
			record_id TEXT PRIMARY KEY,
			instrument TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			opened_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS risk_activity_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at TEXT NOT NULL,
			event_type TEXT NOT NULL,
			message TEXT NOT NULL,
			record_id TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_open_positions_instrument ON open_positions(instrument);`,
		`CREATE INDEX IF NOT EXISTS idx_risk_activity_record ON risk_activity_log(record_id);`,
	}

	for _, stmt := range schema {
		if _, err := t.db.Exec(stmt); err != nil {
			return fmt.Errorf("risk: 初始化表结构失败: %w", err)
		}
	}

	return nil
}

// Open 记录一笔新开仓。
func (t *PositionTracker) Open(ctx context.Context, pos OpenPosition) error {
	if pos.RecordID == "" {
		return errors.New("risk: 持仓缺少记录 ID")
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("risk: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	openedAt := pos.OpenedAt
	if openedAt.IsZero() {
		openedAt = time.Now().UTC()
	}

	if _, execErr := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO open_positions (record_id, instrument, side, quantity, opened_at)
		 VALUES (?, ?, ?, ?, ?)`,
		pos.RecordID, pos.Instrument, pos.Side, pos.Quantity, openedAt.Format(time.RFC3339),
	); execErr != nil {
		err = fmt.Errorf("risk: 写入持仓失败: %w", execErr)
		return err
	}

	msg := fmt.Sprintf("开仓 %s %s %d", pos.Instrument, pos.Side, pos.Quantity)
	if logErr := t.logEventTx(ctx, tx, pos.RecordID, "position_opened", msg); logErr != nil {
		err = logErr
		return err
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("risk: 提交事务失败: %w", commitErr)
	}

	return nil
}

// Close 按记录 ID 移除持仓，返回是否存在匹配的持仓。
func (t *PositionTracker) Close(ctx context.Context, recordID string) (bool, error) {
	if recordID == "" {
		return false, errors.New("risk: 缺少记录 ID")
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("risk: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, execErr := tx.ExecContext(ctx, `DELETE FROM open_positions WHERE record_id = ?`, recordID)
	if execErr != nil {
		err = fmt.Errorf("risk: 删除持仓失败: %w", execErr)
		return false, err
	}

	affected, affErr := res.RowsAffected()
	if affErr != nil {
		err = fmt.Errorf("risk: 读取删除结果失败: %w", affErr)
		return false, err
	}

	if affected > 0 {
		if logErr := t.logEventTx(ctx, tx, recordID, "position_closed", "平仓 "+recordID); logErr != nil {
			err = logErr
			return false, err
		}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return false, fmt.Errorf("risk: 提交事务失败: %w", commitErr)
	}

	return affected > 0, nil
}

// OldestOpenID 返回指定品种下最早开仓的记录 ID，无持仓时返回空字符串。
func (t *PositionTracker) OldestOpenID(ctx context.Context, instrument string) (string, error) {
	row := t.db.QueryRowContext(ctx,
		`SELECT record_id FROM open_positions WHERE instrument = ? ORDER BY opened_at ASC, record_id ASC LIMIT 1`,
		instrument,
	)

	var id string
	switch err := row.Scan(&id); {
	case err == nil:
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	default:
		return "", fmt.Errorf("risk: 查询持仓失败: %w", err)
	}
}

// OpenCount 返回当前未平仓持仓数量。
func (t *PositionTracker) OpenCount(ctx context.Context) (int, error) {
	row := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM open_positions`)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("risk: 统计持仓失败: %w", err)
	}

	return count, nil
}

// Snapshot 返回全部未平仓持仓，按开仓时间升序排列。
func (t *PositionTracker) Snapshot(ctx context.Context) ([]OpenPosition, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT record_id, instrument, side, quantity, opened_at FROM open_positions ORDER BY opened_at ASC, record_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("risk: 查询持仓失败: %w", err)
	}
	defer rows.Close()

	positions := make([]OpenPosition, 0, 8)
	for rows.Next() {
		var (
			pos      OpenPosition
			openedAt string
		)
		if err := rows.Scan(&pos.RecordID, &pos.Instrument, &pos.Side, &pos.Quantity, &openedAt); err != nil {
			return nil, fmt.Errorf("risk: 读取持仓失败: %w", err)
		}
		if ts, parseErr := time.Parse(time.RFC3339, openedAt); parseErr == nil {
			pos.OpenedAt = ts
		}
		positions = append(positions, pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("risk: 遍历持仓失败: %w", err)
	}

	return positions, nil
}

// LogEvent 记录风控事件。
func (t *PositionTracker) LogEvent(ctx context.Context, recordID, eventType, message string) error {
	if eventType == "" {
		return errors.New("risk: eventType 不能为空")
	}

	_, err := t.db.ExecContext(ctx,
		`INSERT INTO risk_activity_log (occurred_at, event_type, message, record_id)
		 VALUES (?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), eventType, message, recordID,
	)
	if err != nil {
		return fmt.Errorf("risk: 写入风险事件日志失败: %w", err)
	}

	return nil
}

func (t *PositionTracker) logEventTx(ctx context.Context, tx *sql.Tx, recordID, eventType, message string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO risk_activity_log (occurred_at, event_type, message, record_id)
		 VALUES (?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), eventType, message, recordID,
	)
	if err != nil {
		return fmt.Errorf("risk: 记录风险事件失败: %w", err)
	}
	return nil
}
