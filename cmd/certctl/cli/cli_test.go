package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certificate-portal/certificate-backend/internal/config"
)

const award = `id: award
version: 1
name: Award
page:
  size: A4
  orientation: landscape
placeholders:
  - name: recipientName
    type: text
    required: true
    box: {x: 30, y: 80, width: 237, height: 24}
    font: {family: Helvetica, style: bold, size: 28}
    align: center
  - name: course
    type: text
    default: Go Fundamentals
    box: {x: 30, y: 115, width: 237, height: 12}
    font: {family: Helvetica, size: 14}
    align: center
`

const fancy = `id: fancy
version: 1
name: Fancy
page:
  size: A4
placeholders:
  - name: recipientName
    type: text
    box: {x: 30, y: 80, width: 150, height: 24}
    font: {family: Garamond, size: 28}
`

const broken = `id: broken
version: 1
name: Broken
page:
  size: A4
placeholders:
  - name: recipientName
    type: colour
    box: {x: 30, y: 80, width: 0, height: 24}
    font: {family: Helvetica, size: 28}
`

type env struct {
	cfg        *config.Config
	configPath string
}

func setup(t *testing.T, extra map[string]string) *env {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Database.Driver = "sqlite3"
	cfg.Database.Path = filepath.Join(root, "ledger.db")
	cfg.Paths = config.PathsConfig{
		Uploads:   filepath.Join(root, "uploads"),
		Fonts:     filepath.Join(root, "fonts"),
		Templates: filepath.Join(root, "certificate_templates"),
	}
	cfg.Issuance.VerificationSecret = "cli-secret"
	cfg.Issuance.VerifyURL = "https://certs.example.org/verify/%s"
	cfg.Logging.Level = "error"

	require.NoError(t, os.MkdirAll(cfg.Paths.Fonts, 0o755))
	require.NoError(t, os.MkdirAll(cfg.Paths.Templates, 0o755))
	files := map[string]string{"award.yaml": award}
	for name, body := range extra {
		files[name] = body
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.Templates, name), []byte(body), 0o644))
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	configPath := filepath.Join(root, "config.json")
	require.NoError(t, os.WriteFile(configPath, data, 0o644))

	return &env{cfg: cfg, configPath: configPath}
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := New()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestIssueAndVerify(t *testing.T) {
	e := setup(t, nil)
	pdfPath := filepath.Join(t.TempDir(), "ada.pdf")

	out, err := e.run(t, "issue", "--template", "award", "--id", "cli-1", "-f", "recipientName=Ada Lovelace", "--out", pdfPath)
	require.NoError(t, err)

	var record struct {
		IssuanceID       string `json:"issuance_id"`
		Status           string `json:"status"`
		VerificationCode string `json:"verification_code"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &record))
	assert.Equal(t, "cli-1", record.IssuanceID)
	assert.Equal(t, "completed", record.Status)
	require.NotEmpty(t, record.VerificationCode)

	data, err := os.ReadFile(pdfPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))

	out, err = e.run(t, "verify", record.VerificationCode)
	require.NoError(t, err)
	assert.Contains(t, out, `"issuance_id": "cli-1"`)
	assert.Contains(t, out, "Ada Lovelace")
}

func TestIssueRejectsMalformedField(t *testing.T) {
	e := setup(t, nil)

	_, err := e.run(t, "issue", "--template", "award", "-f", "recipientName")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name=value")
}

func TestVerifyUnknownCode(t *testing.T) {
	e := setup(t, nil)

	_, err := e.run(t, "verify", "AAAA-BBBB-CCCC")
	assert.Error(t, err)
}

func TestBatchWritesReport(t *testing.T) {
	e := setup(t, nil)
	dir := t.TempDir()
	roster := filepath.Join(dir, "roster.csv")
	report := filepath.Join(dir, "report.csv")
	require.NoError(t, os.WriteFile(roster, []byte("issuance_id,recipientName,course\nb-1,Ada Lovelace,\nb-2,Grace Hopper,COBOL\n"), 0o644))

	out, err := e.run(t, "batch", "--template", "award", "--report", report, roster)
	require.NoError(t, err)
	assert.Contains(t, out, "2 rows: 2 completed, 0 failed")

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), "b-1")
	assert.Contains(t, string(data), "b-2")

	// re-running the roster reuses the completed issuances
	out, err = e.run(t, "batch", "--template", "award", roster)
	require.NoError(t, err)
	assert.Contains(t, out, "2 completed")
}

func TestBatchFailsWhenARowFails(t *testing.T) {
	e := setup(t, nil)
	roster := filepath.Join(t.TempDir(), "roster.csv")
	require.NoError(t, os.WriteFile(roster, []byte("recipientName,unknownField\nAda,x\n"), 0o644))

	out, err := e.run(t, "batch", "--template", "award", roster)
	require.Error(t, err)
	assert.Contains(t, out, "1 rows: 0 completed, 1 failed")
}

func TestTemplatesList(t *testing.T) {
	e := setup(t, map[string]string{"fancy.yaml": fancy})

	out, err := e.run(t, "templates", "list")
	require.NoError(t, err)
	assert.Equal(t, []string{"award", "fancy"}, strings.Fields(out))
}

func TestTemplatesValidate(t *testing.T) {
	e := setup(t, map[string]string{"fancy.yaml": fancy, "broken.yaml": broken})

	out, err := e.run(t, "templates", "validate", "award")
	require.NoError(t, err)
	assert.Contains(t, out, "ok      award")

	out, err = e.run(t, "templates", "validate")
	require.Error(t, err)
	assert.Contains(t, out, "invalid broken")
	assert.Contains(t, out, "invalid fancy")
	assert.Contains(t, out, "Garamond")
	assert.Contains(t, err.Error(), "2 of 3 templates invalid")
}

func TestTemplatesValidateWithoutConfig(t *testing.T) {
	e := setup(t, nil)
	var out bytes.Buffer
	cmd := New()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--config", filepath.Join(t.TempDir(), "missing.json"),
		"templates", "validate",
		"--templates-dir", e.cfg.Paths.Templates,
		"--fonts-dir", e.cfg.Paths.Fonts,
	})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "ok      award")
}

func TestFontsList(t *testing.T) {
	e := setup(t, nil)

	out, err := e.run(t, "fonts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "FAMILY")
	assert.Contains(t, out, "Helvetica")
	assert.Contains(t, out, "(core)")
}

func TestReconcileWithNothingStale(t *testing.T) {
	e := setup(t, nil)

	out, err := e.run(t, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "0 stale")
}
