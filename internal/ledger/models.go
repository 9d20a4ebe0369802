package ledger

import (
	"errors"
	"time"

	"github.com/jmoiron/sqlx/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	ErrRecordNotFound      = errors.New("issuance not found")
	ErrIssuanceInProgress  = errors.New("issuance in progress")
	ErrIssuanceFailed      = errors.New("issuance previously failed")
	ErrIdempotencyConflict = errors.New("issuance id reused with different input")
	ErrAlreadyFinalized    = errors.New("issuance already finalized")
	ErrLeaseLost           = errors.New("issuance lease taken over")
)

// IssuanceRecord is one row of the issuance ledger
type IssuanceRecord struct {
	IssuanceID       string         `json:"issuance_id" db:"issuance_id"`
	TemplateID       string         `json:"template_id" db:"template_id"`
	Fields           types.JSONText `json:"fields" db:"fields"`
	RequestDigest    string         `json:"request_digest" db:"request_digest"`
	ContentID        string         `json:"content_id,omitempty" db:"content_id"`
	ArtifactRef      string         `json:"artifact_ref,omitempty" db:"artifact_ref"`
	VerificationCode string         `json:"verification_code,omitempty" db:"verification_code"`
	Status           Status         `json:"status" db:"status"`
	FailureReason    string         `json:"failure_reason,omitempty" db:"failure_reason"`
	Attempts         int            `json:"attempts" db:"attempts"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// BeginRequest opens an issuance
type BeginRequest struct {
	IssuanceID    string
	TemplateID    string
	Fields        types.JSONText
	RequestDigest string
}

// Completion is the outcome recorded on success
type Completion struct {
	ContentID        string
	ArtifactRef      string
	VerificationCode string
}
