package ingestlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"barn/internal/validate"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Status 是一次摄取运行的终态。
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run 是摄取运行的审计记录：每个 symbol 每次摄取一条，
// 失败原因与校验报告原样落库，事后排查不靠日志捞。
type Run struct {
	RunID        string
	BatchID      string
	Symbol       string
	Bundle       string
	CalendarName string
	Status       Status
	TotalRaw     int
	Dropped      int
	Rebucketed   int
	Duplicates   int
	Synthesized  int
	Report       *validate.Report
	Error        string
	StartedAt    int64 // Unix ms
	FinishedAt   int64 // Unix ms，running 状态下为 0
}

type runModel struct {
	RunID        string         `gorm:"column:run_id;primaryKey"`
	BatchID      string         `gorm:"column:batch_id;index"`
	Symbol       string         `gorm:"column:symbol;index"`
	Bundle       string         `gorm:"column:bundle;index"`
	CalendarName string         `gorm:"column:calendar"`
	Status       string         `gorm:"column:status"`
	TotalRaw     int            `gorm:"column:total_raw"`
	Dropped      int            `gorm:"column:dropped"`
	Rebucketed   int            `gorm:"column:rebucketed"`
	Duplicates   int            `gorm:"column:duplicates"`
	Synthesized  int            `gorm:"column:synthesized"`
	ReportJSON   datatypes.JSON `gorm:"column:report_json;type:TEXT"`
	Error        string         `gorm:"column:error"`
	StartedAt    int64          `gorm:"column:started_at"`
	FinishedAt   int64          `gorm:"column:finished_at"`
}

func (runModel) TableName() string { return "ingest_runs" }

// Store 基于 Gorm + SQLite 持久化摄取运行记录。
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("ingest log 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Begin 登记一条 running 状态的运行记录并返回分配的 run id。
func (s *Store) Begin(ctx context.Context, batchID, symbol, bundle, calendarName string) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("ingest log 未初始化")
	}
	runID := uuid.NewString()
	m := runModel{
		RunID:        runID,
		BatchID:      batchID,
		Symbol:       symbol,
		Bundle:       bundle,
		CalendarName: calendarName,
		Status:       string(StatusRunning),
		StartedAt:    time.Now().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return "", err
	}
	return runID, nil
}

// Finish 以终态回填一条运行记录。rec 的计数与报告覆盖 Begin 时的零值。
func (s *Store) Finish(ctx context.Context, runID string, rec Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ingest log 未初始化")
	}
	if rec.Status == StatusRunning {
		return fmt.Errorf("Finish 不接受 running 状态")
	}
	updates := map[string]interface{}{
		"status":      string(rec.Status),
		"total_raw":   rec.TotalRaw,
		"dropped":     rec.Dropped,
		"rebucketed":  rec.Rebucketed,
		"duplicates":  rec.Duplicates,
		"synthesized": rec.Synthesized,
		"error":       rec.Error,
		"finished_at": time.Now().UnixMilli(),
	}
	if rec.Report != nil {
		raw, err := json.Marshal(rec.Report)
		if err != nil {
			return fmt.Errorf("序列化校验报告失败: %w", err)
		}
		updates["report_json"] = datatypes.JSON(raw)
	}
	res := s.db.WithContext(ctx).Model(&runModel{}).Where("run_id = ?", runID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("运行记录不存在: %s", runID)
	}
	return nil
}

// Get 按 run id 读取一条运行记录。
func (s *Store) Get(ctx context.Context, runID string) (Run, error) {
	if s == nil || s.db == nil {
		return Run{}, fmt.Errorf("ingest log 未初始化")
	}
	var m runModel
	if err := s.db.WithContext(ctx).First(&m, "run_id = ?", runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Run{}, fmt.Errorf("运行记录不存在: %s", runID)
		}
		return Run{}, err
	}
	return fromModel(m)
}

// Recent 返回最近的运行记录，按开始时间倒序。
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("ingest log 未初始化")
	}
	if limit <= 0 {
		limit = 50
	}
	var models []runModel
	if err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		run, err := fromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// Batch 返回一个批次内的全部运行记录。
func (s *Store) Batch(ctx context.Context, batchID string) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("ingest log 未初始化")
	}
	var models []runModel
	if err := s.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("symbol ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		run, err := fromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func fromModel(m runModel) (Run, error) {
	run := Run{
		RunID:        m.RunID,
		BatchID:      m.BatchID,
		Symbol:       m.Symbol,
		Bundle:       m.Bundle,
		CalendarName: m.CalendarName,
		Status:       Status(m.Status),
		TotalRaw:     m.TotalRaw,
		Dropped:      m.Dropped,
		Rebucketed:   m.Rebucketed,
		Duplicates:   m.Duplicates,
		Synthesized:  m.Synthesized,
		Error:        m.Error,
		StartedAt:    m.StartedAt,
		FinishedAt:   m.FinishedAt,
	}
	if len(m.ReportJSON) > 0 {
		var report validate.Report
		if err := json.Unmarshal(m.ReportJSON, &report); err != nil {
			return Run{}, fmt.Errorf("解析校验报告失败 (run %s): %w", m.RunID, err)
		}
		run.Report = &report
	}
	return run, nil
}
