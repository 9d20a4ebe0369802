package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"certificate-portal/certificate-backend/internal/config"
	"certificate-portal/certificate-backend/internal/fonts"
	"certificate-portal/certificate-backend/internal/issuance"
	"certificate-portal/certificate-backend/internal/ledger"
)

const diploma = `id: diploma
version: 2
name: Diploma
page:
  size: Letter
placeholders:
  - name: recipientName
    type: text
    required: true
    box: {x: 20, y: 80, width: 170, height: 20}
    font: {family: Times, style: italic, size: 24}
    align: center
`

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = NewLogger(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func testConfig(t *testing.T) *config.Config {
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
	cfg.Issuance.VerificationSecret = "secret"
	cfg.Issuance.VerifyURL = "https://certs.example.org/verify/%s"
	cfg.Audit.Enabled = true

	require.NoError(t, os.MkdirAll(cfg.Paths.Fonts, 0o755))
	require.NoError(t, os.MkdirAll(cfg.Paths.Templates, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.Templates, "diploma.yaml"), []byte(diploma), 0o644))
	return cfg
}

func TestNewWiresIssuance(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Ping(ctx))

	record, err := a.Service.Issue(ctx, issuance.Request{
		IssuanceID: "iss-1",
		TemplateID: "diploma",
		Fields:     map[string]any{"recipientName": "Ada Lovelace"},
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, record.Status)
	assert.FileExists(t, filepath.Join(cfg.Paths.Uploads, filepath.FromSlash(record.ArtifactRef)))

	verified, err := a.Service.Verify(ctx, record.VerificationCode)
	require.NoError(t, err)
	assert.Equal(t, "iss-1", verified.IssuanceID)
}

func TestNewFailsOnMissingDirectories(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.RemoveAll(cfg.Paths.Fonts))

	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.ErrorIs(t, err, fonts.ErrFontDirMissing)

	cfg = testConfig(t)
	require.NoError(t, os.RemoveAll(cfg.Paths.Templates))

	_, err = New(context.Background(), cfg, zap.NewNop())
	assert.ErrorIs(t, err, os.ErrNotExist)
}
