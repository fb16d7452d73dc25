package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/pipbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - Tracker state + trade log persistence
// ═══════════════════════════════════════════════════════════════════════════════
//
// DSN "postgres://..." uses PostgreSQL, anything else is a SQLite file path.
// Tracker state is keyed by (symbol, date); last write wins.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Database struct {
	db *gorm.DB
}

// Models

// TrackerState is one instrument's tracker for one trading day
type TrackerState struct {
	ID                 uint                   `gorm:"primaryKey;autoIncrement"`
	Symbol             string                 `gorm:"uniqueIndex:idx_symbol_date;size:32"`
	Date               string                 `gorm:"uniqueIndex:idx_symbol_date;size:10"`
	StartPrice         decimal.Decimal        `gorm:"type:decimal(20,8)"`
	StartPriceTime     time.Time
	PriceType          string                 `gorm:"size:8"`
	LastThresholdPrice decimal.NullDecimal    `gorm:"type:decimal(20,8)"`
	Direction          string                 `gorm:"size:8"`
	PositionOpen       bool
	Entries            int
	History            []types.ThresholdEvent `gorm:"serializer:json"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TradeLog records every order attempt and its outcome
type TradeLog struct {
	ID        string          `gorm:"primaryKey;size:36"`
	Symbol    string          `gorm:"index;size:32"`
	Date      string          `gorm:"index;size:10"`
	Action    string          // OPEN, CLOSE
	Side      string          // BUY, SELL
	Reason    string          // continuation, reversal
	Price     decimal.Decimal `gorm:"type:decimal(20,8)"`
	Volume    decimal.Decimal `gorm:"type:decimal(20,8)"`
	OrderID   string
	Status    string          `gorm:"index"` // placed, failed
	Error     string
	CreatedAt time.Time
}

// New opens the database and migrates the schema
func New(dsn string) (*Database, error) {
	var db *gorm.DB
	var err error

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("💾 Database connected (PostgreSQL)")
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("💾 Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&TrackerState{}, &TradeLog{}); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// Close releases the underlying connection pool
func (d *Database) Close() {
	if sqlDB, err := d.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// TRACKER STATE
// ═══════════════════════════════════════════════════════════════════════════════

// Upsert writes a snapshot, replacing any row for the same (symbol, date)
func (d *Database) Upsert(ctx context.Context, snap types.TrackerSnapshot) error {
	row := fromSnapshot(snap)
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"start_price", "start_price_time", "price_type", "last_threshold_price",
			"direction", "position_open", "entries", "history", "updated_at",
		}),
	}).Create(&row).Error
}

// LoadAll returns the most recent snapshot for every symbol
func (d *Database) LoadAll(ctx context.Context) (map[string]types.TrackerSnapshot, error) {
	var rows []TrackerState
	err := d.db.WithContext(ctx).Order("date ASC").Order("updated_at ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]types.TrackerSnapshot, len(rows))
	for _, r := range rows {
		out[r.Symbol] = r.snapshot()
	}
	return out, nil
}

// LoadDate returns all snapshots for one trading date
func (d *Database) LoadDate(ctx context.Context, date string) ([]types.TrackerSnapshot, error) {
	var rows []TrackerState
	err := d.db.WithContext(ctx).Where("date = ?", date).Order("symbol ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]types.TrackerSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.snapshot())
	}
	return out, nil
}

func fromSnapshot(s types.TrackerSnapshot) TrackerState {
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return TrackerState{
		Symbol:             s.Symbol,
		Date:               s.Date(),
		StartPrice:         s.Reference.Price,
		StartPriceTime:     s.Reference.Time.UTC(),
		PriceType:          s.Reference.PriceType,
		LastThresholdPrice: s.LastThresholdPrice,
		Direction:          string(s.Direction),
		PositionOpen:       s.PositionOpen,
		Entries:            s.Entries,
		History:            s.History,
		UpdatedAt:          updated.UTC(),
	}
}

func (r TrackerState) snapshot() types.TrackerSnapshot {
	return types.TrackerSnapshot{
		Symbol: r.Symbol,
		Reference: types.ReferencePoint{
			Symbol:    r.Symbol,
			Price:     r.StartPrice,
			Time:      r.StartPriceTime.UTC(),
			Date:      r.Date,
			PriceType: r.PriceType,
		},
		LastThresholdPrice: r.LastThresholdPrice,
		Direction:          types.Direction(r.Direction),
		PositionOpen:       r.PositionOpen,
		Entries:            r.Entries,
		History:            r.History,
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// TRADE LOG
// ═══════════════════════════════════════════════════════════════════════════════

// LogTrade appends an order attempt to the trade log
func (d *Database) LogTrade(ctx context.Context, t *TradeLog) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return d.db.WithContext(ctx).Create(t).Error
}

// GetRecentTrades returns the latest trade log rows, newest first
func (d *Database) GetRecentTrades(ctx context.Context, limit int) ([]types.TradeRecord, error) {
	var rows []TradeLog
	err := d.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]types.TradeRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.TradeRecord{
			ID:        r.ID,
			Symbol:    r.Symbol,
			Action:    r.Action,
			Side:      r.Side,
			Price:     r.Price,
			Volume:    r.Volume,
			Status:    r.Status,
			Error:     r.Error,
			Timestamp: r.CreatedAt,
		})
	}
	return out, nil
}
