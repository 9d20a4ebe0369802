package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"certificate-portal/certificate-backend/internal/binding"
	"certificate-portal/certificate-backend/internal/issuance"
	"certificate-portal/certificate-backend/internal/ledger"
)

type MockIssuer struct {
	mock.Mock
}

func (m *MockIssuer) Issue(ctx context.Context, req issuance.Request) (*ledger.IssuanceRecord, error) {
	args := m.Called(ctx, req)
	record, _ := args.Get(0).(*ledger.IssuanceRecord)
	return record, args.Error(1)
}

func TestReadCSV(t *testing.T) {
	roster, err := ReadCSV(strings.NewReader(
		"\ufeffissuance_id, recipientName,date\n" +
			"iss-1,Ada Lovelace,2025-03-01\n" +
			",,\n" +
			",Grace Hopper,\n",
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"issuance_id", "recipientName", "date"}, roster.Columns)
	require.Len(t, roster.Rows, 2)
	assert.Equal(t, Row{
		Line:       2,
		IssuanceID: "iss-1",
		Fields:     map[string]any{"recipientName": "Ada Lovelace", "date": "2025-03-01"},
	}, roster.Rows[0])
	assert.Equal(t, Row{
		Line:   4,
		Fields: map[string]any{"recipientName": "Grace Hopper"},
	}, roster.Rows[1])
}

func TestReadCSVRejectsBadHeaders(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("name,name\nA,B\n"))
	assert.ErrorIs(t, err, ErrInvalidRoster)

	_, err = ReadCSV(strings.NewReader("name,\nA,B\n"))
	assert.ErrorIs(t, err, ErrInvalidRoster)

	_, err = ReadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrInvalidRoster)

	_, err = ReadCSV(strings.NewReader("name\nA,B\n"))
	assert.ErrorIs(t, err, ErrInvalidRoster)
}

func TestReadRosterXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]string{"template_id", "recipientName"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]string{"T1", "Ada Lovelace"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]string{"", "Grace Hopper"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	roster, err := ReadRoster(path, "")
	require.NoError(t, err)
	require.Len(t, roster.Rows, 2)
	assert.Equal(t, "T1", roster.Rows[0].TemplateID)
	assert.Equal(t, "", roster.Rows[1].TemplateID)
	assert.Equal(t, "Grace Hopper", roster.Rows[1].Fields["recipientName"])

	_, err = ReadRoster(path, "Missing")
	assert.ErrorIs(t, err, ErrInvalidRoster)
}

func TestReadRosterUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := ReadRoster(path, "")
	assert.ErrorIs(t, err, ErrInvalidRoster)
}

func TestRunnerIssuesEveryRow(t *testing.T) {
	issuer := &MockIssuer{}
	issuer.On("Issue", mock.Anything, issuance.Request{
		IssuanceID: "iss-1",
		TemplateID: "T1",
		Fields:     map[string]any{"recipientName": "Ada"},
	}).Return(&ledger.IssuanceRecord{
		IssuanceID:       "iss-1",
		Status:           ledger.StatusCompleted,
		ContentID:        "cid",
		VerificationCode: "ABCDE-FGHJK-MNPQR",
	}, nil)
	issuer.On("Issue", mock.Anything, issuance.Request{
		TemplateID: "T2",
		Fields:     map[string]any{},
	}).Return(nil, &binding.MissingFieldError{Name: "recipientName"})

	roster := &Roster{Rows: []Row{
		{Line: 2, IssuanceID: "iss-1", Fields: map[string]any{"recipientName": "Ada"}},
		{Line: 3, TemplateID: "T2", Fields: map[string]any{}},
	}}

	results, summary, err := NewRunner(issuer, "T1", 4, zap.NewNop()).Run(context.Background(), roster)
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 2, Completed: 1, Failed: 1}, summary)

	require.Len(t, results, 2)
	assert.Equal(t, "completed", results[0].Status)
	assert.Equal(t, "ABCDE-FGHJK-MNPQR", results[0].VerificationCode)
	assert.Equal(t, "failed", results[1].Status)
	assert.Equal(t, issuance.KindInput, results[1].Kind)
	assert.ErrorIs(t, results[1].Err, binding.ErrMissingField)
	issuer.AssertExpectations(t)
}

type slowIssuer struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowIssuer) Issue(ctx context.Context, req issuance.Request) (*ledger.IssuanceRecord, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return &ledger.IssuanceRecord{IssuanceID: req.IssuanceID, Status: ledger.StatusCompleted}, nil
}

func TestRunnerBoundsConcurrency(t *testing.T) {
	issuer := &slowIssuer{}
	roster := &Roster{}
	for i := 0; i < 20; i++ {
		roster.Rows = append(roster.Rows, Row{Line: i + 2, Fields: map[string]any{}})
	}

	_, summary, err := NewRunner(issuer, "T1", 3, zap.NewNop()).Run(context.Background(), roster)
	require.NoError(t, err)
	assert.Equal(t, 20, summary.Completed)
	assert.LessOrEqual(t, issuer.peak.Load(), int32(3))
}

func TestRunnerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	roster := &Roster{Rows: []Row{{Line: 2, Fields: map[string]any{}}}}
	_, _, err := NewRunner(&slowIssuer{}, "T1", 1, zap.NewNop()).Run(ctx, roster)
	assert.ErrorIs(t, err, context.Canceled)
}

// cancelingIssuer completes the first row and cancels the batch
type cancelingIssuer struct {
	cancel context.CancelFunc
}

func (c *cancelingIssuer) Issue(ctx context.Context, req issuance.Request) (*ledger.IssuanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.cancel()
	return &ledger.IssuanceRecord{IssuanceID: req.IssuanceID, Status: ledger.StatusCompleted}, nil
}

func TestRunnerCanceledMidBatchMarksRemainingRows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roster := &Roster{}
	for i := 0; i < 4; i++ {
		roster.Rows = append(roster.Rows, Row{Line: i + 2, IssuanceID: fmt.Sprintf("iss-%d", i), Fields: map[string]any{}})
	}

	results, summary, err := NewRunner(&cancelingIssuer{cancel: cancel}, "T1", 1, zap.NewNop()).Run(ctx, roster)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 4)

	assert.Equal(t, "completed", results[0].Status)
	for i, res := range results[1:] {
		assert.Equal(t, roster.Rows[i+1].Line, res.Line)
		assert.Equal(t, roster.Rows[i+1].IssuanceID, res.IssuanceID)
		assert.Equal(t, "T1", res.TemplateID)
		assert.Equal(t, "failed", res.Status)
		assert.Equal(t, issuance.KindCanceled, res.Kind)
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
	assert.Equal(t, Summary{Total: 4, Completed: 1, Failed: 3}, summary)

	report := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, WriteReport(report, results))
	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "context canceled"))
}

func TestWriteReport(t *testing.T) {
	results := []Result{
		{Line: 2, IssuanceID: "iss-1", TemplateID: "T1", Status: "completed", ContentID: "cid", VerificationCode: "ABCDE-FGHJK-MNPQR"},
		{Line: 3, TemplateID: "T1", Status: "failed", Kind: issuance.KindInput, Err: errors.New("missing field")},
	}
	dir := t.TempDir()

	xlsxPath := filepath.Join(dir, "report.xlsx")
	require.NoError(t, WriteReport(xlsxPath, results))
	f, err := excelize.OpenFile(xlsxPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Issuances")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, reportColumns, rows[0])
	assert.Equal(t, "ABCDE-FGHJK-MNPQR", rows[1][5])
	assert.Equal(t, "missing field", rows[2][7])

	csvPath := filepath.Join(dir, "report.csv")
	require.NoError(t, WriteReport(csvPath, results))
	roster, err := ReadRoster(csvPath, "")
	require.NoError(t, err)
	require.Len(t, roster.Rows, 2)
	assert.Equal(t, "iss-1", roster.Rows[0].IssuanceID)

	assert.Error(t, WriteReport(filepath.Join(dir, "report.pdf"), results))
}
