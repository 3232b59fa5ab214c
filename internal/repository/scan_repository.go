package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/foodscan/internal/logging"
)

// ErrNotFound is returned when no scan matches.
var ErrNotFound = errors.New("scan not found")

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 20

// ScanRecord is a persisted successful classification.
type ScanRecord struct {
	ID          uint      `gorm:"primaryKey"`
	ScanID      string    `gorm:"column:scan_id;uniqueIndex;size:64"`
	FoodName    string    `gorm:"column:food_name;size:255"`
	Origin      string    `gorm:"column:origin;size:255"`
	SpiceLevel  string    `gorm:"column:spice_level;size:64"`
	Ingredients []string  `gorm:"column:ingredients;type:text;serializer:json"`
	Source      string    `gorm:"column:source;size:32"`
	AssetSHA1   string    `gorm:"column:asset_sha1;index;size:40"`
	Width       int       `gorm:"column:width"`
	Height      int       `gorm:"column:height"`
	CreatedAt   time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (ScanRecord) TableName() string {
	return "scan_records"
}

// ScanRepository provides persistence APIs for scan history.
type ScanRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewScanRepository creates a new repository instance.
func NewScanRepository(db *gorm.DB, logger *zap.Logger) *ScanRepository {
	return &ScanRepository{
		db:             db,
		logger:         logger.Named("scan_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *ScanRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&ScanRecord{})
	})
}

// Save persists a scan record.
func (r *ScanRepository) Save(ctx context.Context, record *ScanRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	return r.executeWithRetry(ctx, "repository.save_scan", record.ScanID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// List returns the most recent scans first.
func (r *ScanRepository) List(ctx context.Context, limit int) ([]*ScanRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var records []*ScanRecord
	err := r.executeWithRetry(ctx, "repository.list_scans", "", func() error {
		records = nil
		return r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// FindByScanID retrieves the record for scanID or ErrNotFound.
func (r *ScanRepository) FindByScanID(ctx context.Context, scanID string) (*ScanRecord, error) {
	var record ScanRecord
	err := r.executeWithRetry(ctx, "repository.find_scan", scanID, func() error {
		return r.db.WithContext(ctx).First(&record, "scan_id = ?", scanID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, logging.NewOperationError("repository.find_scan", scanID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *ScanRepository) executeWithRetry(ctx context.Context, operation, scanID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, scanID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, scanID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, scanID, err)
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, scanID, err)
}

func isTransientError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
