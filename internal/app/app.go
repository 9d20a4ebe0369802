package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"certificate-portal/certificate-backend/internal/artifacts"
	"certificate-portal/certificate-backend/internal/audit"
	"certificate-portal/certificate-backend/internal/config"
	"certificate-portal/certificate-backend/internal/fonts"
	"certificate-portal/certificate-backend/internal/issuance"
	"certificate-portal/certificate-backend/internal/ledger"
	"certificate-portal/certificate-backend/internal/notify"
	"certificate-portal/certificate-backend/internal/render"
	"certificate-portal/certificate-backend/internal/templates"
	"certificate-portal/certificate-backend/pkg/security"
	"certificate-portal/certificate-backend/pkg/storage"
)

// NewLogger builds a production (json) or development (console) logger at
// the configured level
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		level = parsed
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

// OpenDatabase connects the ledger database and makes sure its schema exists
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*sqlx.DB, error) {
	logger.Info("Connecting to database", zap.String("driver", cfg.Driver), zap.String("url", cfg.RedactedURL()))

	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxConnections > 0 {
			db.SetMaxOpenConns(cfg.MaxConnections)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.MaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.MaxLifetime.Std())
		}
	}

	if err := ledger.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// App holds the wired issuance components
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *sqlx.DB
	Templates *templates.Store
	Fonts     *fonts.Registry
	Artifacts artifacts.Store
	Ledger    *ledger.SQLRepository
	Service   issuance.Service

	closers []func() error
}

// New wires every component from cfg. Missing template or font directories
// are fatal here rather than at request time.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	tmplStore, err := templates.NewStore(cfg.Paths.Templates, logger)
	if err != nil {
		return nil, err
	}
	a.Templates = tmplStore

	registry, err := fonts.NewRegistry(cfg.Paths.Fonts, fonts.Fallback{
		Family: cfg.Fonts.FallbackFamily,
		Style:  cfg.Fonts.FallbackStyle,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.Fonts = registry

	store, err := newArtifactStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Artifacts = store

	db, err := OpenDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)
	a.Ledger = ledger.NewSQLRepository(db, cfg.Issuance.LeaseTimeout.Std())

	recorder, err := a.newRecorder(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	var publisher notify.Publisher = notify.NopPublisher{}
	if cfg.Notify.SNSTopicARN != "" {
		publisher, err = notify.NewSNSPublisherFromConfig(ctx, cfg.Notify.Region, cfg.Notify.SNSTopicARN, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Service = issuance.NewService(issuance.Dependencies{
		Templates: tmplStore,
		Fonts:     registry,
		Renderer:  render.NewEngine(logger),
		Artifacts: store,
		Ledger:    a.Ledger,
		Codes:     security.NewCodeGenerator(cfg.Issuance.VerificationSecret),
		Audit:     recorder,
		Notifier:  publisher,
	}, issuance.Options{
		RetryAttempts: cfg.Issuance.RetryAttempts,
		RetryDelay:    cfg.Issuance.RetryDelay.Std(),
		VerifyURL:     cfg.Issuance.VerifyURL,
		PresignTTL:    cfg.Storage.S3.PresignTTL.Std(),
	}, logger)

	return a, nil
}

func newArtifactStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (artifacts.Store, error) {
	if cfg.Storage.Backend != "s3" {
		return artifacts.NewFileStore(cfg.Paths.Uploads, logger)
	}

	s3cfg := cfg.Storage.S3
	client, err := storage.NewS3ClientFromOptions(ctx, storage.S3Options{
		Region:          s3cfg.Region,
		Endpoint:        s3cfg.Endpoint,
		AccessKeyID:     s3cfg.AccessKeyID,
		SecretAccessKey: s3cfg.SecretAccessKey,
		UsePathStyle:    s3cfg.UsePathStyle,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Using S3 artifact storage", zap.String("bucket", s3cfg.Bucket), zap.String("prefix", s3cfg.Prefix))
	return artifacts.NewS3Store(client, s3cfg.Bucket, s3cfg.Prefix, logger), nil
}

// newRecorder opens the audit trail. It lives in postgres next to the ledger.
func (a *App) newRecorder(cfg *config.Config) (audit.Recorder, error) {
	if !cfg.Audit.Enabled {
		return audit.NopRecorder{}, nil
	}
	if cfg.Database.Driver != "postgres" {
		a.Logger.Warn("Audit trail requires postgres, disabling", zap.String("driver", cfg.Database.Driver))
		return audit.NopRecorder{}, nil
	}

	gdb, err := audit.Open(cfg.Database.GetDatabaseURL())
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get audit connection: %w", err)
	}
	a.closers = append(a.closers, sqlDB.Close)
	return audit.NewGormRecorder(gdb, a.Logger)
}

// Ping checks the ledger database
func (a *App) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return a.DB.PingContext(ctx)
}

// Close releases database connections
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
