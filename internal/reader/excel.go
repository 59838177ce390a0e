package reader

import (
	"context"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"
)

// excelSource 读取本地 Excel 工作簿的指定工作表。
type excelSource struct {
	path  string
	sheet string
}

func (s *excelSource) name() string {
	return "excel:" + s.path
}

func (s *excelSource) fetch(ctx context.Context) ([]Row, error) {
	if _, err := os.Stat(s.path); err != nil {
		return nil, fmt.Errorf("%w: 打开 %s 失败: %v", ErrSourceUnavailable, s.path, err)
	}

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: 读取 %s 失败: %v", ErrSourceMalformed, s.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	table, err := f.GetRows(s.sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: 工作表 %q 读取失败: %v", ErrSourceMalformed, s.sheet, err)
	}

	return rowsFromTable(table)
}
