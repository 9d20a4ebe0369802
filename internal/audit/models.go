package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Audit actions
const (
	ActionIssued     = "issuance.completed"
	ActionFailed     = "issuance.failed"
	ActionDownloaded = "issuance.downloaded"
	ActionVerified   = "issuance.verified"
)

// AuditLog is one row of the audit trail
type AuditLog struct {
	ID         uuid.UUID      `json:"id" gorm:"primaryKey;type:uuid"`
	IssuanceID string         `json:"issuance_id" gorm:"not null;index"`
	TemplateID string         `json:"template_id" gorm:"index"`
	Action     string         `json:"action" gorm:"not null;index"`
	Stage      string         `json:"stage,omitempty"`
	Details    datatypes.JSON `json:"details" gorm:"type:jsonb"`
	CreatedAt  time.Time      `json:"created_at" gorm:"not null"`
}

func (AuditLog) TableName() string {
	return "issuance_audit_logs"
}

// Event is something worth recording about an issuance
type Event struct {
	IssuanceID string
	TemplateID string
	Action     string
	Stage      string
	Details    map[string]interface{}
	At         time.Time
}
