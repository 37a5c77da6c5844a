package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quantcore/internal/pipeline"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("journal entry not found")

// Entry 一条信号日志。Bundle 保存完整分析输出，其余列用于检索。
type Entry struct {
	ID           string         `gorm:"column:id;primaryKey" json:"id"`
	Source       string         `gorm:"column:source;index" json:"source"`
	Symbol       string         `gorm:"column:symbol;index:idx_journal_symbol_time" json:"symbol"`
	BarTime      int64          `gorm:"column:bar_time;index:idx_journal_symbol_time" json:"bar_time"`
	SignalType   string         `gorm:"column:signal_type" json:"signal_type"`
	Strength     int            `gorm:"column:strength" json:"strength"`
	Confidence   float64        `gorm:"column:confidence" json:"confidence"`
	Score        float64        `gorm:"column:score" json:"score"`
	MarketRegime string         `gorm:"column:market_regime" json:"market_regime"`
	Trend        string         `gorm:"column:trend" json:"trend"`
	Price        float64        `gorm:"column:price" json:"price"`
	StopLoss     float64        `gorm:"column:stop_loss" json:"stop_loss"`
	Bundle       datatypes.JSON `gorm:"column:bundle;type:TEXT" json:"bundle"`
	Warnings     datatypes.JSON `gorm:"column:warnings;type:TEXT" json:"warnings,omitempty"`
	CreatedAt    int64          `gorm:"column:created_at;autoCreateTime:milli" json:"created_at"`
}

func (Entry) TableName() string { return "signal_journal" }

// Decode 还原完整的分析输出。
func (e Entry) Decode() (pipeline.Bundle, error) {
	var b pipeline.Bundle
	if len(e.Bundle) == 0 {
		return b, nil
	}
	err := json.Unmarshal(e.Bundle, &b)
	return b, err
}

// Query 列表过滤条件，零值表示不过滤。
type Query struct {
	Symbol     string
	SignalType string
	Since      time.Time
	Limit      int
}

// Store 基于 gorm 的信号日志。
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return NewFromDB(db)
}

func NewFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
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

// NewEntry 从分析输出构造日志行，不落库。
func NewEntry(source string, b pipeline.Bundle) (Entry, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return Entry{}, fmt.Errorf("encode bundle %s: %w", b.Symbol, err)
	}
	e := Entry{
		ID:           uuid.NewString(),
		Source:       source,
		Symbol:       b.Symbol,
		BarTime:      b.Time.UnixMilli(),
		SignalType:   string(b.Signal.Type),
		Strength:     b.Signal.Strength,
		Confidence:   b.Signal.Confidence,
		Score:        b.Score,
		MarketRegime: b.MarketRegime,
		Trend:        string(b.Trend.State),
		Price:        b.Price,
		StopLoss:     b.Risk.StopLoss,
		Bundle:       datatypes.JSON(raw),
	}
	if len(b.Warnings) > 0 {
		w, err := json.Marshal(b.Warnings)
		if err != nil {
			return Entry{}, err
		}
		e.Warnings = datatypes.JSON(w)
	}
	return e, nil
}

// Record 写入单条分析结果。
func (s *Store) Record(ctx context.Context, source string, b pipeline.Bundle) (Entry, error) {
	e, err := NewEntry(source, b)
	if err != nil {
		return Entry{}, err
	}
	if err := s.db.WithContext(ctx).Create(&e).Error; err != nil {
		return Entry{}, err
	}
	return e, nil
}

// RecordBatch 在一个事务内写入多条。
func (s *Store) RecordBatch(ctx context.Context, source string, bundles []pipeline.Bundle) ([]Entry, error) {
	if len(bundles) == 0 {
		return nil, nil
	}
	entries := make([]Entry, 0, len(bundles))
	for _, b := range bundles {
		e, err := NewEntry(source, b)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&entries, 200).Error
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	var e Entry
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

// List 按 bar 时间倒序返回。
func (s *Store) List(ctx context.Context, q Query) ([]Entry, error) {
	tx := s.db.WithContext(ctx).Model(&Entry{})
	if sym := strings.TrimSpace(q.Symbol); sym != "" {
		tx = tx.Where("symbol = ?", sym)
	}
	if q.SignalType != "" {
		tx = tx.Where("signal_type = ?", q.SignalType)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("bar_time >= ?", q.Since.UnixMilli())
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []Entry
	err := tx.Order("bar_time DESC").Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// Count 各信号类型的数量。
func (s *Store) Count(ctx context.Context, symbol string) (map[string]int64, error) {
	type row struct {
		SignalType string
		N          int64
	}
	var rows []row
	tx := s.db.WithContext(ctx).Model(&Entry{}).Select("signal_type, COUNT(*) AS n")
	if symbol != "" {
		tx = tx.Where("symbol = ?", symbol)
	}
	if err := tx.Group("signal_type").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.SignalType] = r.N
	}
	return out, nil
}
