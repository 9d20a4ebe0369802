package issuance

import (
	"context"
	"errors"
	"fmt"

	"certificate-portal/certificate-backend/internal/artifacts"
	"certificate-portal/certificate-backend/internal/binding"
	"certificate-portal/certificate-backend/internal/fonts"
	"certificate-portal/certificate-backend/internal/ledger"
	"certificate-portal/certificate-backend/internal/render"
	"certificate-portal/certificate-backend/internal/templates"
)

var (
	ErrInvalidRequest = errors.New("invalid issuance request")
	ErrNotCompleted   = errors.New("issuance not completed")
	ErrInvalidCode    = errors.New("malformed verification code")
)

// ErrorKind groups errors by how callers should react to them
type ErrorKind string

const (
	// KindInput errors need a corrected request; never retried
	KindInput ErrorKind = "input"
	// KindNotFound is a read of something that does not exist
	KindNotFound ErrorKind = "not_found"
	// KindResource errors point at missing fonts or artifacts; operator facing
	KindResource ErrorKind = "resource"
	// KindRendering errors are deterministic for the same input
	KindRendering ErrorKind = "rendering"
	// KindConcurrency errors can be retried by the caller after a backoff
	KindConcurrency ErrorKind = "concurrency"
	// KindFailed means the issuance id already ended in failure
	KindFailed ErrorKind = "failed"
	// KindCanceled means the caller went away
	KindCanceled ErrorKind = "canceled"
	// KindTransient covers storage and ledger outages
	KindTransient ErrorKind = "transient"
)

// Classify maps an error from any pipeline component onto its kind
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, binding.ErrMissingField),
		errors.Is(err, binding.ErrTypeMismatch),
		errors.Is(err, binding.ErrUnknownField),
		errors.Is(err, templates.ErrTemplateNotFound),
		errors.Is(err, templates.ErrTemplateInvalid),
		errors.Is(err, templates.ErrAssetNotFound),
		errors.Is(err, ledger.ErrIdempotencyConflict),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidCode):
		return KindInput
	case errors.Is(err, ledger.ErrRecordNotFound):
		return KindNotFound
	case errors.Is(err, fonts.ErrFontNotFound),
		errors.Is(err, artifacts.ErrArtifactNotFound):
		return KindResource
	case errors.Is(err, render.ErrRenderOverflow),
		errors.Is(err, render.ErrFontEmbed):
		return KindRendering
	case errors.Is(err, ledger.ErrIssuanceInProgress),
		errors.Is(err, ledger.ErrLeaseLost),
		errors.Is(err, ErrNotCompleted):
		return KindConcurrency
	case errors.Is(err, ledger.ErrIssuanceFailed):
		return KindFailed
	}
	return KindTransient
}

// StageError is returned when an issuance ends in the failed state
type StageError struct {
	IssuanceID string
	Stage      string
	Err        error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("issuance %s failed at %s: %v", e.IssuanceID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
