package issuance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"certificate-portal/certificate-backend/internal/ledger"
)

// StaleLister finds pending issuances whose lease has expired
type StaleLister interface {
	ListStalePending(ctx context.Context, limit int) ([]*ledger.IssuanceRecord, error)
}

// ReconcileSummary reports one reconciler pass
type ReconcileSummary struct {
	Scanned   int
	Completed int
	Failed    int
	Skipped   int
}

// Reconciler re-drives issuances left pending by a crashed or timed out
// attempt. Completed artifacts are found again through the content id, so a
// resumed issuance does not render twice.
type Reconciler struct {
	service   Service
	stale     StaleLister
	batchSize int
	timeout   time.Duration
	cron      *cron.Cron
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
}

func NewReconciler(service Service, stale StaleLister, batchSize int, logger *zap.Logger) *Reconciler {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Reconciler{
		service:   service,
		stale:     stale,
		batchSize: batchSize,
		timeout:   30 * time.Minute,
		logger:    logger,
	}
}

// Start schedules passes on a cron expression ("@every 5m" style descriptors
// are accepted). Overlapping passes are skipped.
func (r *Reconciler) Start(schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("reconciler already running")
	}

	logger := cronLogger{r.logger.Sugar()}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("Reconcile pass failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to add reconcile job: %w", err)
	}

	c.Start()
	r.cron = c
	r.running = true
	r.logger.Info("Reconciler started", zap.String("schedule", schedule), zap.Int("batch_size", r.batchSize))
	return nil
}

// Stop stops scheduling and waits for a running pass to finish
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	<-r.cron.Stop().Done()
	r.running = false
	r.logger.Info("Reconciler stopped")
}

// RunOnce resumes up to one batch of stale issuances
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileSummary, error) {
	var summary ReconcileSummary

	records, err := r.stale.ListStalePending(ctx, r.batchSize)
	if err != nil {
		return summary, fmt.Errorf("failed to list stale issuances: %w", err)
	}
	summary.Scanned = len(records)

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		_, err := r.service.Resume(ctx, record.IssuanceID)
		switch {
		case err == nil:
			summary.Completed++
		case errors.Is(err, ledger.ErrIssuanceInProgress), errors.Is(err, ledger.ErrLeaseLost):
			summary.Skipped++
		default:
			summary.Failed++
			r.logger.Warn("Failed to resume issuance",
				zap.String("issuance_id", record.IssuanceID),
				zap.String("kind", string(Classify(err))),
				zap.Error(err),
			)
		}
	}

	if summary.Scanned > 0 {
		r.logger.Info("Reconcile pass finished",
			zap.Int("scanned", summary.Scanned),
			zap.Int("completed", summary.Completed),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped),
		)
	}
	return summary, nil
}

// cronLogger adapts zap to cron's logging interface
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
