package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"robotrader/internal/trading"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the sqlite trade journal. It keeps a durable record of every
// round trip and is the source of truth for position rehydration after a
// restart.
type Store struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// New opens (and migrates) the journal at path.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: database path cannot be empty")
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
	return newStore(db)
}

// NewFromDB wraps an existing gorm handle (used by tests with an in-memory
// database).
func NewFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("store: gorm db cannot be nil")
	}
	return newStore(db)
}

func newStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&TradeModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db, nowFn: time.Now}, nil
}

// RecordBuy journals a filled buy as an open trade.
func (s *Store) RecordBuy(code, name string, qty int64, price float64, meta trading.Metadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		raw = []byte("{}")
	}
	rec := TradeModel{
		Code:     code,
		Name:     name,
		Quantity: qty,
		BuyPrice: price,
		Status:   TradeStatusOpen,
		Metadata: raw,
		BoughtAt: s.nowFn().Unix(),
	}
	return s.db.Create(&rec).Error
}

// RecordSell closes the most recent open trade for the code with the sell
// price and realized figures. A sell without a matching open trade is
// journaled as a standalone closed row rather than dropped.
func (s *Store) RecordSell(code string, qty int64, price float64, pnl float64) error {
	var rec TradeModel
	err := s.db.
		Where("code = ? AND status = ?", code, TradeStatusOpen).
		Order("bought_at DESC, id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		rec = TradeModel{
			Code:     code,
			Quantity: qty,
			Status:   TradeStatusClosed,
		}
		rec.applySell(price, pnl, s.nowFn())
		return s.db.Create(&rec).Error
	}
	if err != nil {
		return err
	}

	rec.Status = TradeStatusClosed
	rec.applySell(price, pnl, s.nowFn())
	return s.db.Save(&rec).Error
}

func (m *TradeModel) applySell(price, pnl float64, now time.Time) {
	m.SellPrice = price
	m.PnL = pnl
	if m.BuyPrice > 0 {
		m.ProfitRate = (price - m.BuyPrice) / m.BuyPrice * 100
	}
	m.SoldAt = now.Unix()
}

// OpenTrades returns all open trades, newest first. Used to rebuild
// positions on startup.
func (s *Store) OpenTrades() ([]TradeModel, error) {
	var recs []TradeModel
	if err := s.db.
		Where("status = ?", TradeStatusOpen).
		Order("bought_at DESC, id DESC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// RecentTrades returns the newest limit trades, open or closed.
func (s *Store) RecentTrades(limit int) ([]TradeModel, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []TradeModel
	if err := s.db.
		Order("COALESCE(sold_at, bought_at) DESC, id DESC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// DecodeMetadata unmarshals a journaled trade's entry parameters.
func DecodeMetadata(m TradeModel) trading.Metadata {
	var meta trading.Metadata
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return meta
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
