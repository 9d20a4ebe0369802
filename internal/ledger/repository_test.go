package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRepository(t *testing.T) (*SQLRepository, *testClock) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.Join(t.TempDir(), "ledger.db"))
	db, err := sqlx.Open("sqlite3", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, EnsureSchema(context.Background(), db))
	// idempotent
	require.NoError(t, EnsureSchema(context.Background(), db))

	clock := &testClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	repo := NewSQLRepository(db, 10*time.Minute)
	repo.now = clock.Now
	return repo, clock
}

func beginRequest(id string) BeginRequest {
	return BeginRequest{
		IssuanceID:    id,
		TemplateID:    "T1",
		Fields:        types.JSONText(`{"recipientName":"Ada Lovelace"}`),
		RequestDigest: "digest-1",
	}
}

func TestBeginCreatesPendingRecord(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	record, err := repo.Begin(ctx, beginRequest("iss-1"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, record.Status)
	assert.Equal(t, 1, record.Attempts)

	stored, err := repo.Get(ctx, "iss-1")
	require.NoError(t, err)
	assert.Equal(t, "T1", stored.TemplateID)
	assert.JSONEq(t, `{"recipientName":"Ada Lovelace"}`, string(stored.Fields))
	assert.True(t, record.CreatedAt.Equal(stored.CreatedAt))
}

func TestBeginPendingIsInProgress(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Begin(ctx, beginRequest("iss-1"))
	require.NoError(t, err)

	record, err := repo.Begin(ctx, beginRequest("iss-1"))
	assert.ErrorIs(t, err, ErrIssuanceInProgress)
	assert.Equal(t, StatusPending, record.Status)
}

func TestBeginCompletedShortCircuits(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	record, err := repo.Begin(ctx, beginRequest("iss-1"))
	require.NoError(t, err)

	completed, err := repo.Complete(ctx, "iss-1", record.Attempts, Completion{
		ContentID:        "cid",
		ArtifactRef:      "certificates/ci/cid.pdf",
		VerificationCode: "ABCDE-FGHJK-MNPQR",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
	assert.Equal(t, "certificates/ci/cid.pdf", completed.ArtifactRef)

	again, err := repo.Begin(ctx, beginRequest("iss-1"))
	require.NoError(t, err)
	assert.Equal(t, completed, again)
}

func TestTerminalTransitionsApplyOnce(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	record, err := repo.Begin(ctx, beginRequest("iss-1"))
	require.NoError(t, err)

	_, err = repo.Complete(ctx, "iss-1", record.Attempts, Completion{ContentID: "a"})
	require.NoError(t, err)

	_, err = repo.Complete(ctx, "iss-1", record.Attempts, Completion{ContentID: "b"})
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
	err = repo.Fail(ctx, "iss-1", record.Attempts, "late failure")
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	stored, err := repo.Get(ctx, "iss-1")
	require.NoError(t, err)
	assert.Equal(t, "a", stored.ContentID)
	assert.Empty(t, stored.FailureReason)
}

func TestBeginFailedIsTerminal(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	record, err := repo.Begin(ctx, beginRequest("iss-1"))
	require.NoError(t, err)
	require.NoError(t, repo.Fail(ctx, "iss-1", record.Attempts, "font not found"))

	failed, err := repo.Begin(ctx, beginRequest("iss-1"))
	assert.ErrorIs(t, err, ErrIssuanceFailed)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "font not found", failed.FailureReason)
}

func TestBeginIdempotencyConflict(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Begin(ctx, beginRequest("iss-1"))
	require.NoError(t, err)

	other := beginRequest("iss-1")
	other.RequestDigest = "digest-2"
	_, err = repo.Begin(ctx, other)
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
}

func TestBeginTakesOverExpiredLease(t *testing.T) {
	repo, clock := newTestRepository(t)
	ctx := context.Background()

	first, err := repo.Begin(ctx, beginRequest("iss-1"))
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)

	stale, err := repo.ListStalePending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "iss-1", stale[0].IssuanceID)

	second, err := repo.Begin(ctx, beginRequest("iss-1"))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Attempts)

	// the lease was renewed
	stale, err = repo.ListStalePending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	_, err = repo.Complete(ctx, "iss-1", first.Attempts, Completion{ContentID: "old"})
	assert.ErrorIs(t, err, ErrLeaseLost)

	completed, err := repo.Complete(ctx, "iss-1", second.Attempts, Completion{ContentID: "new"})
	require.NoError(t, err)
	assert.Equal(t, "new", completed.ContentID)
}

func TestFindByVerificationCode(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	record, err := repo.Begin(ctx, beginRequest("iss-1"))
	require.NoError(t, err)

	_, err = repo.FindByVerificationCode(ctx, "ABCDE-FGHJK-MNPQR")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	_, err = repo.Complete(ctx, "iss-1", record.Attempts, Completion{VerificationCode: "ABCDE-FGHJK-MNPQR"})
	require.NoError(t, err)

	found, err := repo.FindByVerificationCode(ctx, "ABCDE-FGHJK-MNPQR")
	require.NoError(t, err)
	assert.Equal(t, "iss-1", found.IssuanceID)
}

func TestGetNotFound(t *testing.T) {
	repo, _ := newTestRepository(t)
	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	err = repo.Fail(context.Background(), "missing", 1, "x")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestConcurrentBeginSingleWinner(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.Begin(ctx, beginRequest("iss-1"))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrIssuanceInProgress):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)
}
