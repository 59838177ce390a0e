package reader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fx-pilot/internal/config"
	"fx-pilot/internal/schedule"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func loadCSV(t *testing.T, content string) ([]*schedule.Record, error) {
	t.Helper()
	r, err := New(config.DataSourceConfig{
		Type: config.SourceCSV,
		CSV:  config.CSVSourceConfig{Path: writeCSV(t, content)},
	}, testTradingConfig(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return r.LoadSchedule(context.Background())
}

func TestCSVLoad_BuildsEntriesAndExits(t *testing.T) {
	records, err := loadCSV(t, "instrument,side,quantity,entry_time,hold\n"+
		"USD/JPY,buy,1000,2026-03-02 15:15:00,60\n"+
		"EUR/USD,sell,,2026-03-02 16:00:00,\n")
	if err != nil {
		t.Fatalf("LoadSchedule failed: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	entry := records[0]
	if entry.ID != "csv_2" || entry.Action != schedule.ActionEntry || entry.Side != schedule.SideBuy {
		t.Fatalf("unexpected first record: %+v", entry)
	}
	wantEntry := time.Date(2026, 3, 2, 15, 15, 0, 0, time.Local)
	if !entry.ExecuteAt.Equal(wantEntry) {
		t.Errorf("entry ExecuteAt = %v, want %v", entry.ExecuteAt, wantEntry)
	}
	if !entry.PrepareAt.Equal(wantEntry.Add(-30 * time.Second)) {
		t.Errorf("entry PrepareAt = %v, want %v", entry.PrepareAt, wantEntry.Add(-30*time.Second))
	}

	exit := records[1]
	if exit.ID != "csv_2_exit" || exit.LinkedEntryID != "csv_2" {
		t.Fatalf("unexpected exit record: %+v", exit)
	}
	if !exit.ExecuteAt.Equal(wantEntry.Add(60 * time.Second)) {
		t.Errorf("exit ExecuteAt = %v, want entry + 60s", exit.ExecuteAt)
	}

	second := records[2]
	if second.ID != "csv_3" || second.Quantity != 1000 {
		t.Fatalf("expected default lot on csv_3, got %+v", second)
	}
	if second.Side != schedule.SideSell {
		t.Errorf("csv_3 side = %s, want SELL", second.Side)
	}
}

func TestCSVLoad_JapaneseHeadersWithBOM(t *testing.T) {
	records, err := loadCSV(t, "﻿通貨ペア,方向,数量,エントリー時刻,クローズ時刻\n"+
		"USD/JPY,買い,500,2026-03-02 15:15:00,2026-03-02 15:45:00\n")
	if err != nil {
		t.Fatalf("LoadSchedule failed: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("expected entry and exit, got %d", len(records))
	}
	if records[0].Side != schedule.SideBuy {
		t.Errorf("side = %s, want BUY", records[0].Side)
	}
	if records[0].Quantity != 500 {
		t.Errorf("quantity = %d, want 500", records[0].Quantity)
	}
	want := time.Date(2026, 3, 2, 15, 45, 0, 0, time.Local)
	if !records[1].ExecuteAt.Equal(want) {
		t.Errorf("exit ExecuteAt = %v, want %v", records[1].ExecuteAt, want)
	}
}

func TestCSVLoad_MissingFileIsUnavailable(t *testing.T) {
	r, err := New(config.DataSourceConfig{
		Type: config.SourceCSV,
		CSV:  config.CSVSourceConfig{Path: filepath.Join(t.TempDir(), "missing.csv")},
	}, testTradingConfig(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = r.LoadSchedule(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestCSVLoad_MissingColumnIsMalformed(t *testing.T) {
	_, err := loadCSV(t, "instrument,quantity,entry_time\nUSD/JPY,1000,15:15:00\n")
	if !errors.Is(err, ErrSourceMalformed) {
		t.Fatalf("expected ErrSourceMalformed, got %v", err)
	}
}

func TestCSVLoad_BadQuantityIsMalformed(t *testing.T) {
	_, err := loadCSV(t, "instrument,side,quantity,entry_time\nUSD/JPY,buy,lots,15:15:00\n")
	if !errors.Is(err, ErrSourceMalformed) {
		t.Fatalf("expected ErrSourceMalformed, got %v", err)
	}
}

func TestCSVLoad_DuplicateRejectsWholeLoad(t *testing.T) {
	_, err := loadCSV(t, "instrument,side,entry_time\n"+
		"USD/JPY,buy,2026-03-02 15:15:00\n"+
		"USD/JPY,sell,2026-03-02 15:15:00\n")
	if !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}
}

func TestCSVLoad_BlankRowsSkipped(t *testing.T) {
	records, err := loadCSV(t, "instrument,side,entry_time\n"+
		"USD/JPY,buy,2026-03-02 15:15:00\n"+
		",,\n")
	if err != nil {
		t.Fatalf("LoadSchedule failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
}
