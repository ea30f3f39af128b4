// Package scan records QR scan acknowledgements reported by clients.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amoylab/botgate/internal/common/config"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ErrMissingFields is returned when a scan lacks its user or payload
var ErrMissingFields = errors.New("userId and qrData are required")

// Event is one acknowledged scan
type Event struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    string    `json:"userId" gorm:"type:varchar(128);index;not null"`
	QRData    string    `json:"qrData" gorm:"type:text;not null"`
	ScannedAt time.Time `json:"scannedAt" gorm:"index"`
}

// TableName implements gorm's tabler
func (Event) TableName() string {
	return "scan_events"
}

// Store persists scan events
type Store interface {
	// Record stores a scan for userID
	Record(ctx context.Context, userID, qrData string) (*Event, error)

	// ListByUser returns the latest scans for userID, newest first
	ListByUser(ctx context.Context, userID string, limit int) ([]*Event, error)

	// Close releases the underlying connection
	Close() error
}

// DBStore implements Store with gorm
type DBStore struct {
	logger *zap.Logger
	db     *gorm.DB
}

var _ Store = (*DBStore)(nil)

// New opens the configured database and migrates the schema
func New(logger *zap.Logger, cfg *config.DatabaseConfig) (*DBStore, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dialector = postgres.Open(cfg.GetDSN())
	case "mysql":
		dialector = mysql.Open(cfg.GetDSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.GetDSN())
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Type == "sqlite" {
		// in-memory databases are per connection
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &DBStore{
		logger: logger.Named("scan.store"),
		db:     db,
	}, nil
}

// Record implements Store.Record
func (s *DBStore) Record(ctx context.Context, userID, qrData string) (*Event, error) {
	if userID == "" || qrData == "" {
		return nil, ErrMissingFields
	}
	ev := &Event{
		UserID:    userID,
		QRData:    qrData,
		ScannedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, err
	}
	s.logger.Info("qr scan recorded", zap.String("user_id", userID), zap.Uint("id", ev.ID))
	return ev, nil
}

// ListByUser implements Store.ListByUser
func (s *DBStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Event, error) {
	var events []*Event
	q := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("scanned_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&events).Error
	return events, err
}

// Close implements Store.Close
func (s *DBStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
