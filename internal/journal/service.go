package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fx-pilot/internal/schedule"
	"fx-pilot/internal/store"
)

// Service 负责持久化运行事件。每次进程启动分配一个新的会话 ID,
// 便于跨次运行检索同一份计划的处理轨迹。
type Service struct {
	db      *sql.DB
	session string
	logger  *zap.Logger
}

// NewService 初始化运行日志服务,创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("journal: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:      store.DB(),
		session: newSessionID(),
		logger:  logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS journal_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session TEXT NOT NULL,
	event_type TEXT NOT NULL,
	record_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_events_type ON journal_events(event_type);
CREATE INDEX IF NOT EXISTS idx_journal_events_session ON journal_events(session);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("journal: 初始化表失败: %w", err)
	}
	return nil
}

// Session 返回本次运行的会话 ID。
func (s *Service) Session() string {
	return s.session
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("journal: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Session == "" {
		event.Session = s.session
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO journal_events (session, event_type, record_id, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		event.Session, string(event.Type), event.RecordID, string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("journal: 写入事件失败: %w", err)
	}

	return nil
}

// RecordScheduleLoaded 记录计划加载完成。
func (s *Service) RecordScheduleLoaded(ctx context.Context, summary schedule.Summary) {
	if err := s.Record(ctx, Event{
		Type:    EventScheduleLoaded,
		Payload: SummaryPayload{Summary: summary},
	}); err != nil {
		s.logger.Warn("记录计划加载事件失败", zap.Error(err))
	}
}

// RecordLoadFailure 记录计划加载失败。
func (s *Service) RecordLoadFailure(ctx context.Context, cause error) {
	if err := s.Record(ctx, Event{
		Type:    EventLoadFailed,
		Payload: ErrorPayload{Message: "计划加载失败", Error: cause.Error()},
	}); err != nil {
		s.logger.Warn("记录加载失败事件失败", zap.Error(err))
	}
}

// RecordPrepared 记录准备完成的记录。
func (s *Service) RecordPrepared(ctx context.Context, rec *schedule.Record, diagnostic string) {
	if err := s.Record(ctx, Event{
		Type:     EventPrepared,
		RecordID: rec.ID,
		Payload:  recordPayload(rec, diagnostic, ""),
	}); err != nil {
		s.logger.Warn("记录准备事件失败", zap.Error(err))
	}
}

// RecordExecuted 记录执行完成的记录。
func (s *Service) RecordExecuted(ctx context.Context, rec *schedule.Record, diagnostic string) {
	if err := s.Record(ctx, Event{
		Type:     EventExecuted,
		RecordID: rec.ID,
		Payload:  recordPayload(rec, diagnostic, ""),
	}); err != nil {
		s.logger.Warn("记录执行事件失败", zap.Error(err))
	}
}

// RecordFailed 记录执行失败的记录。
func (s *Service) RecordFailed(ctx context.Context, rec *schedule.Record, cause error) {
	if err := s.Record(ctx, Event{
		Type:     EventFailed,
		RecordID: rec.ID,
		Payload:  recordPayload(rec, "", cause.Error()),
	}); err != nil {
		s.logger.Warn("记录失败事件失败", zap.Error(err))
	}
}

// RecordSkipped 记录被跳过的记录。
func (s *Service) RecordSkipped(ctx context.Context, rec *schedule.Record, reason string) {
	if err := s.Record(ctx, Event{
		Type:     EventSkipped,
		RecordID: rec.ID,
		Payload:  recordPayload(rec, "", reason),
	}); err != nil {
		s.logger.Warn("记录跳过事件失败", zap.Error(err))
	}
}

// RecordRiskRejected 记录被风控拦截的记录。
func (s *Service) RecordRiskRejected(ctx context.Context, rec *schedule.Record, reason string) {
	if err := s.Record(ctx, Event{
		Type:     EventRiskRejected,
		RecordID: rec.ID,
		Payload:  recordPayload(rec, "", reason),
	}); err != nil {
		s.logger.Warn("记录风控拦截事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, cause error) {
	if err := s.Record(ctx, Event{
		Type:    EventError,
		Payload: ErrorPayload{Message: msg, Error: cause.Error()},
	}); err != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(err))
	}
}

// ListEvents 按类型检索最近事件,limit 为 0 时取默认值。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT session, event_type, record_id, payload, created_at FROM journal_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			session  string
			typ      string
			recordID string
			payload  string
			created  string
		)
		if scanErr := rows.Scan(&session, &typ, &recordID, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("journal: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Session:   session,
			Type:      EventType(typ),
			RecordID:  recordID,
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: 读取事件失败: %w", err)
	}

	return events, nil
}
