package reader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
)

// csvSource 读取本地 CSV 文件,兼容带 BOM 的导出格式。
type csvSource struct {
	path string
}

func (s *csvSource) name() string {
	return "csv:" + s.path
}

func (s *csvSource) fetch(ctx context.Context) ([]Row, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: 打开 %s 失败: %v", ErrSourceUnavailable, s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	table, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: 解析 %s 失败: %v", ErrSourceMalformed, s.path, err)
	}

	return rowsFromTable(table)
}
