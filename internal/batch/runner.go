package batch

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"certificate-portal/certificate-backend/internal/issuance"
	"certificate-portal/certificate-backend/internal/ledger"
)

// Issuer is the part of the issuance service a batch needs
type Issuer interface {
	Issue(ctx context.Context, req issuance.Request) (*ledger.IssuanceRecord, error)
}

// Result is the outcome of one roster row
type Result struct {
	Line             int
	IssuanceID       string
	TemplateID       string
	Status           string
	ContentID        string
	VerificationCode string
	Kind             issuance.ErrorKind
	Err              error
}

// Summary counts results by outcome
type Summary struct {
	Total     int
	Completed int
	Failed    int
}

type Runner struct {
	issuer          Issuer
	defaultTemplate string
	concurrency     int
	logger          *zap.Logger
}

func NewRunner(issuer Issuer, defaultTemplate string, concurrency int, logger *zap.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		issuer:          issuer,
		defaultTemplate: defaultTemplate,
		concurrency:     concurrency,
		logger:          logger,
	}
}

// Run issues every row, at most concurrency at a time. A failing row does
// not stop the batch; cancelling ctx does. Results keep roster order.
func (r *Runner) Run(ctx context.Context, roster *Roster) ([]Result, Summary, error) {
	started := time.Now()
	results := make([]Result, len(roster.Rows))
	var completed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, row := range roster.Rows {
		if err := gctx.Err(); err != nil {
			results[i] = r.skipped(row, err)
			continue
		}
		g.Go(func() error {
			results[i] = r.issueRow(gctx, row)
			if results[i].Err == nil {
				completed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Total: len(roster.Rows), Completed: int(completed.Load())}
	summary.Failed = summary.Total - summary.Completed

	r.logger.Info("Batch finished",
		zap.Int("total", summary.Total),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", time.Since(started)),
	)
	return results, summary, ctx.Err()
}

// skipped records a row that was never issued because the batch was cancelled
func (r *Runner) skipped(row Row, err error) Result {
	templateID := row.TemplateID
	if templateID == "" {
		templateID = r.defaultTemplate
	}
	return Result{
		Line:       row.Line,
		IssuanceID: row.IssuanceID,
		TemplateID: templateID,
		Status:     string(ledger.StatusFailed),
		Kind:       issuance.Classify(err),
		Err:        err,
	}
}

func (r *Runner) issueRow(ctx context.Context, row Row) Result {
	templateID := row.TemplateID
	if templateID == "" {
		templateID = r.defaultTemplate
	}
	result := Result{Line: row.Line, IssuanceID: row.IssuanceID, TemplateID: templateID}

	record, err := r.issuer.Issue(ctx, issuance.Request{
		IssuanceID: row.IssuanceID,
		TemplateID: templateID,
		Fields:     row.Fields,
	})
	if err != nil {
		result.Status = string(ledger.StatusFailed)
		result.Kind = issuance.Classify(err)
		result.Err = err
		r.logger.Warn("Roster row failed",
			zap.Int("line", row.Line),
			zap.String("template_id", templateID),
			zap.String("kind", string(result.Kind)),
			zap.Error(err),
		)
		return result
	}

	result.IssuanceID = record.IssuanceID
	result.Status = string(record.Status)
	result.ContentID = record.ContentID
	result.VerificationCode = record.VerificationCode
	return result
}
