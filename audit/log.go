package audit

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUnavailable wraps transient storage failures. The consumer retries them.
var ErrUnavailable = errors.New("audit log unavailable")

// Log stores audit rows. Append must be a conditional insert keyed on
// EventID: a row that already exists reports inserted=false and no error.
type Log interface {
	Append(ctx context.Context, row *LoginAuditLog) (inserted bool, err error)
}

// GormLog implements [Log] with gorm's ON CONFLICT DO NOTHING clause.
type GormLog struct {
	db *gorm.DB
}

// NewGormLog wraps db. Call Migrate before first use.
func NewGormLog(db *gorm.DB) *GormLog {
	return &GormLog{db: db}
}

// Migrate creates the audit table.
func (l *GormLog) Migrate(ctx context.Context) error {
	if err := l.db.WithContext(ctx).AutoMigrate(&LoginAuditLog{}); err != nil {
		return fmt.Errorf("failed to migrate audit table: %w", err)
	}
	return nil
}

// Append inserts row unless its event_id is already stored.
func (l *GormLog) Append(ctx context.Context, row *LoginAuditLog) (bool, error) {
	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Count returns the number of rows stored for eventID.
func (l *GormLog) Count(ctx context.Context, eventID string) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&LoginAuditLog{}).Where("event_id = ?", eventID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}
