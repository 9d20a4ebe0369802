package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Repository is the issuance ledger. Every state change is a single
// conditional statement, so concurrent callers cannot both win.
type Repository interface {
	Begin(ctx context.Context, req BeginRequest) (*IssuanceRecord, error)
	Complete(ctx context.Context, issuanceID string, attempt int, result Completion) (*IssuanceRecord, error)
	Fail(ctx context.Context, issuanceID string, attempt int, reason string) error
	Get(ctx context.Context, issuanceID string) (*IssuanceRecord, error)
	FindByVerificationCode(ctx context.Context, code string) (*IssuanceRecord, error)
	ListStalePending(ctx context.Context, limit int) ([]*IssuanceRecord, error)
}

const recordColumns = `issuance_id, template_id, fields, request_digest, content_id, artifact_ref,
	verification_code, status, failure_reason, attempts, created_at, updated_at`

// SQLRepository implements Repository on postgres or sqlite through sqlx
type SQLRepository struct {
	db           *sqlx.DB
	leaseTimeout time.Duration
	now          func() time.Time
}

// NewSQLRepository creates a ledger. A pending issuance whose lease is older
// than leaseTimeout may be taken over by a new Begin.
func NewSQLRepository(db *sqlx.DB, leaseTimeout time.Duration) *SQLRepository {
	return &SQLRepository{
		db:           db,
		leaseTimeout: leaseTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Begin opens an issuance. An existing record is returned as is when
// completed, with ErrIssuanceFailed when failed, and with
// ErrIssuanceInProgress while another attempt holds its lease.
func (r *SQLRepository) Begin(ctx context.Context, req BeginRequest) (*IssuanceRecord, error) {
	now := r.now()
	query := r.db.Rebind(`
		INSERT INTO issuances (
			issuance_id, template_id, fields, request_digest, status, attempts, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (issuance_id) DO NOTHING
	`)

	res, err := r.db.ExecContext(ctx, query,
		req.IssuanceID, req.TemplateID, req.Fields, req.RequestDigest, StatusPending, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to begin issuance: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to begin issuance: %w", err)
	}
	if inserted == 1 {
		return &IssuanceRecord{
			IssuanceID:    req.IssuanceID,
			TemplateID:    req.TemplateID,
			Fields:        req.Fields,
			RequestDigest: req.RequestDigest,
			Status:        StatusPending,
			Attempts:      1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}, nil
	}

	existing, err := r.Get(ctx, req.IssuanceID)
	if err != nil {
		return nil, err
	}
	if existing.RequestDigest != req.RequestDigest {
		return existing, ErrIdempotencyConflict
	}

	switch existing.Status {
	case StatusCompleted:
		return existing, nil
	case StatusFailed:
		return existing, ErrIssuanceFailed
	}

	if now.Sub(existing.UpdatedAt) < r.leaseTimeout {
		return existing, ErrIssuanceInProgress
	}
	return r.takeOver(ctx, existing, now)
}

// takeOver claims an expired pending issuance. The attempt counter is the
// lease token: only one caller can move it forward.
func (r *SQLRepository) takeOver(ctx context.Context, existing *IssuanceRecord, now time.Time) (*IssuanceRecord, error) {
	query := r.db.Rebind(`
		UPDATE issuances SET attempts = attempts + 1, updated_at = ?
		WHERE issuance_id = ? AND status = ? AND attempts = ?
	`)
	res, err := r.db.ExecContext(ctx, query, now, existing.IssuanceID, StatusPending, existing.Attempts)
	if err != nil {
		return nil, fmt.Errorf("failed to take over issuance: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to take over issuance: %w", err)
	} else if n == 0 {
		return existing, ErrIssuanceInProgress
	}
	return r.Get(ctx, existing.IssuanceID)
}

// Complete records the artifact of a pending issuance held at attempt
func (r *SQLRepository) Complete(ctx context.Context, issuanceID string, attempt int, result Completion) (*IssuanceRecord, error) {
	query := r.db.Rebind(`
		UPDATE issuances
		SET status = ?, content_id = ?, artifact_ref = ?, verification_code = ?, updated_at = ?
		WHERE issuance_id = ? AND status = ? AND attempts = ?
	`)
	res, err := r.db.ExecContext(ctx, query,
		StatusCompleted, result.ContentID, result.ArtifactRef, result.VerificationCode, r.now(),
		issuanceID, StatusPending, attempt,
	)
	if err := r.finalized(ctx, res, err, issuanceID, attempt); err != nil {
		return nil, fmt.Errorf("failed to complete issuance: %w", err)
	}
	return r.Get(ctx, issuanceID)
}

// Fail records a terminal failure of a pending issuance held at attempt
func (r *SQLRepository) Fail(ctx context.Context, issuanceID string, attempt int, reason string) error {
	query := r.db.Rebind(`
		UPDATE issuances SET status = ?, failure_reason = ?, updated_at = ?
		WHERE issuance_id = ? AND status = ? AND attempts = ?
	`)
	res, err := r.db.ExecContext(ctx, query,
		StatusFailed, reason, r.now(),
		issuanceID, StatusPending, attempt,
	)
	if err := r.finalized(ctx, res, err, issuanceID, attempt); err != nil {
		return fmt.Errorf("failed to fail issuance: %w", err)
	}
	return nil
}

// finalized explains why a terminal update touched no row
func (r *SQLRepository) finalized(ctx context.Context, res sql.Result, err error, issuanceID string, attempt int) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	current, err := r.Get(ctx, issuanceID)
	if err != nil {
		return err
	}
	if current.Status != StatusPending {
		return ErrAlreadyFinalized
	}
	if current.Attempts != attempt {
		return ErrLeaseLost
	}
	return fmt.Errorf("issuance %s was not updated", issuanceID)
}

func (r *SQLRepository) Get(ctx context.Context, issuanceID string) (*IssuanceRecord, error) {
	query := r.db.Rebind(`SELECT ` + recordColumns + ` FROM issuances WHERE issuance_id = ?`)

	var record IssuanceRecord
	if err := r.db.GetContext(ctx, &record, query, issuanceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get issuance: %w", err)
	}
	return normalize(&record), nil
}

// FindByVerificationCode returns the completed issuance carrying code
func (r *SQLRepository) FindByVerificationCode(ctx context.Context, code string) (*IssuanceRecord, error) {
	query := r.db.Rebind(`
		SELECT ` + recordColumns + ` FROM issuances
		WHERE verification_code = ? AND status = ?
		ORDER BY created_at
		LIMIT 1
	`)

	var record IssuanceRecord
	if err := r.db.GetContext(ctx, &record, query, code, StatusCompleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to find issuance by code: %w", err)
	}
	return normalize(&record), nil
}

// ListStalePending returns pending issuances whose lease has expired, oldest first
func (r *SQLRepository) ListStalePending(ctx context.Context, limit int) ([]*IssuanceRecord, error) {
	query := r.db.Rebind(`
		SELECT ` + recordColumns + ` FROM issuances
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at
		LIMIT ?
	`)

	var records []*IssuanceRecord
	cutoff := r.now().Add(-r.leaseTimeout)
	if err := r.db.SelectContext(ctx, &records, query, StatusPending, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale issuances: %w", err)
	}
	for _, record := range records {
		normalize(record)
	}
	return records, nil
}

// normalize pins timestamps to UTC; sqlite hands them back in the local zone
func normalize(record *IssuanceRecord) *IssuanceRecord {
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record
}
