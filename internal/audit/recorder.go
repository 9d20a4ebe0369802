package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Recorder writes audit events
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// NopRecorder discards events
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, event Event) error { return nil }

// GormRecorder stores events in the issuance_audit_logs table
type GormRecorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects gorm to postgres for the audit trail
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	return db, nil
}

// NewGormRecorder migrates the audit table and returns a recorder
func NewGormRecorder(db *gorm.DB, logger *zap.Logger) (*GormRecorder, error) {
	if err := db.AutoMigrate(&AuditLog{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit table: %w", err)
	}
	return &GormRecorder{db: db, logger: logger}, nil
}

func (r *GormRecorder) Record(ctx context.Context, event Event) error {
	entry, err := toModel(event)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	r.logger.Debug("Audit event recorded",
		zap.String("issuance_id", event.IssuanceID),
		zap.String("action", event.Action),
	)
	return nil
}

// ListForIssuance returns the audit trail of one issuance, oldest first
func (r *GormRecorder) ListForIssuance(ctx context.Context, issuanceID string) ([]AuditLog, error) {
	var logs []AuditLog
	err := r.db.WithContext(ctx).
		Where("issuance_id = ?", issuanceID).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return logs, nil
}

func toModel(event Event) (*AuditLog, error) {
	details := event.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit details: %w", err)
	}

	at := event.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return &AuditLog{
		ID:         uuid.New(),
		IssuanceID: event.IssuanceID,
		TemplateID: event.TemplateID,
		Action:     event.Action,
		Stage:      event.Stage,
		Details:    datatypes.JSON(raw),
		CreatedAt:  at,
	}, nil
}
