package reader

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"fx-pilot/internal/config"
)

// sheetsSource 通过服务账号凭证读取 Google Sheets 表格。
type sheetsSource struct {
	cfg    config.GoogleSheetsSourceConfig
	retry  config.RetryConfig
	logger *zap.Logger
}

func (s *sheetsSource) name() string {
	return "google_sheets:" + s.cfg.SpreadsheetID
}

func (s *sheetsSource) fetch(ctx context.Context) ([]Row, error) {
	srv, err := sheets.NewService(ctx,
		option.WithCredentialsFile(s.cfg.CredentialsFile),
		option.WithScopes(sheets.SpreadsheetsReadonlyScope),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: 初始化 Sheets 客户端失败: %v", ErrSourceUnavailable, err)
	}

	values, err := s.fetchWithRetry(ctx, srv)
	if err != nil {
		return nil, err
	}

	return rowsFromTable(valuesToTable(values))
}

func (s *sheetsSource) fetchWithRetry(ctx context.Context, srv *sheets.Service) ([][]interface{}, error) {
	attempt := 0
	delay := s.retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := s.retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := s.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, ctxErr)
		}

		attempt++
		resp, err := srv.Spreadsheets.Values.Get(s.cfg.SpreadsheetID, s.cfg.ReadRange).Context(ctx).Do()
		if err == nil {
			if attempt > 1 {
				s.logger.Info("Sheets 拉取重试后成功", zap.Int("attempts", attempt))
			}
			return resp.Values, nil
		}

		if attempt >= maxAttempts {
			return nil, fmt.Errorf("%w: 拉取 %s 失败: %v", ErrSourceUnavailable, s.cfg.SpreadsheetID, err)
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}
		s.logger.Warn("Sheets 拉取失败，等待重试",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// valuesToTable 将 Sheets 返回的原始值转换为字符串表格。
func valuesToTable(values [][]interface{}) [][]string {
	table := make([][]string, 0, len(values))
	for _, row := range values {
		cells := make([]string, 0, len(row))
		for _, value := range row {
			cells = append(cells, cellString(value))
		}
		table = append(table, cells)
	}
	return table
}

func cellString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
