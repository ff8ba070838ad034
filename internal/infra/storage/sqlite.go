package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RunReport is the summary of one bot session.
// Ratios are nullable: they are undefined without losses or without trades.
type RunReport struct {
	ID           uint      `gorm:"primaryKey"`
	StartedAt    time.Time `gorm:"index"`
	EndedAt      time.Time `gorm:"index"`
	ProductID    int
	NetPnL       float64
	ProfitFactor *float64
	WinRate      *float64
	TradeCount   int
	AvgHoldSec   *float64
	AskEntry     int
	BidEntry     int
	AskCancel    int
	BidCancel    int
	Wins         int
	Losses       int
}

// Storage persists run reports in SQLite.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at path
func NewStorage(path string) (*Storage, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&RunReport{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// SaveReport inserts one session summary.
func (s *Storage) SaveReport(ctx context.Context, r *RunReport) error {
	return s.db.WithContext(ctx).Create(r).Error
}

// RecentReports returns up to limit reports, newest first.
func (s *Storage) RecentReports(ctx context.Context, limit int) ([]RunReport, error) {
	var reports []RunReport
	err := s.db.WithContext(ctx).Order("ended_at desc").Limit(limit).Find(&reports).Error
	return reports, err
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
