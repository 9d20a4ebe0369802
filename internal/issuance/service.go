package issuance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"certificate-portal/certificate-backend/internal/artifacts"
	"certificate-portal/certificate-backend/internal/audit"
	"certificate-portal/certificate-backend/internal/binding"
	"certificate-portal/certificate-backend/internal/ledger"
	"certificate-portal/certificate-backend/internal/notify"
	"certificate-portal/certificate-backend/internal/render"
	"certificate-portal/certificate-backend/internal/templates"
	"certificate-portal/certificate-backend/pkg/security"
	"certificate-portal/certificate-backend/pkg/workflows"
)

// issuanceNamespace scopes derived issuance ids
var issuanceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:certificate-backend:issuance"))

type Service interface {
	Issue(ctx context.Context, req Request) (*ledger.IssuanceRecord, error)
	Resume(ctx context.Context, issuanceID string) (*ledger.IssuanceRecord, error)
	Get(ctx context.Context, issuanceID string) (*ledger.IssuanceRecord, error)
	Download(ctx context.Context, issuanceID string) (*Artifact, error)
	Verify(ctx context.Context, code string) (*ledger.IssuanceRecord, error)
}

// Request asks for one certificate. IssuanceID is the caller's idempotency
// key; when empty one is derived from the template id and fields.
type Request struct {
	IssuanceID string         `json:"issuance_id"`
	TemplateID string         `json:"template_id"`
	Fields     map[string]any `json:"fields"`
}

// Artifact is a completed certificate. URL is set instead of Data when the
// backing store hands out direct links.
type Artifact struct {
	Record *ledger.IssuanceRecord
	Data   []byte
	URL    string
}

// TemplateSource resolves templates and their image assets
type TemplateSource interface {
	Resolve(ctx context.Context, id string) (*templates.Template, error)
	ReadAsset(ref string) ([]byte, error)
}

// Renderer turns a bound document into PDF bytes
type Renderer interface {
	Render(ctx context.Context, doc *binding.BoundDocument, fonts render.FontSet, opts render.Options) ([]byte, error)
}

// Dependencies are the pipeline components. Audit and Notifier may be nil.
type Dependencies struct {
	Templates TemplateSource
	Fonts     render.FontSource
	Renderer  Renderer
	Artifacts artifacts.Store
	Ledger    ledger.Repository
	Codes     *security.CodeGenerator
	Audit     audit.Recorder
	Notifier  notify.Publisher
}

type Options struct {
	RetryAttempts int
	RetryDelay    time.Duration
	// VerifyURL is a printf pattern taking the verification code
	VerifyURL string
	// PresignTTL enables direct download links on stores that support them
	PresignTTL time.Duration
}

type issuanceService struct {
	templates TemplateSource
	fonts     render.FontSource
	renderer  Renderer
	artifacts artifacts.Store
	ledger    ledger.Repository
	codes     *security.CodeGenerator
	audit     audit.Recorder
	notifier  notify.Publisher
	machine   *workflows.StateMachine
	opts      Options
	logger    *zap.Logger
}

func NewService(deps Dependencies, opts Options, logger *zap.Logger) Service {
	if deps.Audit == nil {
		deps.Audit = audit.NopRecorder{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NopPublisher{}
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	return &issuanceService{
		templates: deps.Templates,
		fonts:     deps.Fonts,
		renderer:  deps.Renderer,
		artifacts: deps.Artifacts,
		ledger:    deps.Ledger,
		codes:     deps.Codes,
		audit:     deps.Audit,
		notifier:  deps.Notifier,
		machine:   workflows.NewPipelineStateMachine(),
		opts:      opts,
		logger:    logger,
	}
}

// DeriveIssuanceID returns the issuance id used when a request carries none:
// a name-based UUID over the template id and the canonical field encoding.
func DeriveIssuanceID(templateID string, fields []byte) string {
	name := append([]byte(templateID+"\x00"), fields...)
	return uuid.NewSHA1(issuanceNamespace, name).String()
}

// RequestDigest fingerprints a request so a reused issuance id with different
// input can be detected
func RequestDigest(templateID string, fields []byte) string {
	h := sha256.New()
	h.Write([]byte(templateID))
	h.Write([]byte{0})
	h.Write(fields)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *issuanceService) Issue(ctx context.Context, req Request) (*ledger.IssuanceRecord, error) {
	if req.TemplateID == "" {
		return nil, fmt.Errorf("%w: template_id is required", ErrInvalidRequest)
	}
	fields := req.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: fields are not encodable: %v", ErrInvalidRequest, err)
	}

	issuanceID := req.IssuanceID
	if issuanceID == "" {
		issuanceID = DeriveIssuanceID(req.TemplateID, raw)
	}
	return s.start(ctx, ledger.BeginRequest{
		IssuanceID:    issuanceID,
		TemplateID:    req.TemplateID,
		Fields:        raw,
		RequestDigest: RequestDigest(req.TemplateID, raw),
	}, fields)
}

func (s *issuanceService) start(ctx context.Context, begin ledger.BeginRequest, fields map[string]any) (*ledger.IssuanceRecord, error) {
	logger := s.logger.With(zap.String("issuance_id", begin.IssuanceID), zap.String("template_id", begin.TemplateID))

	record, err := retry(ctx, s, "ledger begin", func(ctx context.Context) (*ledger.IssuanceRecord, error) {
		return s.ledger.Begin(ctx, begin)
	})
	if err != nil {
		if errors.Is(err, ledger.ErrIssuanceFailed) && record != nil {
			// derived ids repeat for identical input, so name the way out
			err = fmt.Errorf("%w: %s; submit a new issuance_id to retry", err, record.FailureReason)
		}
		logger.Info("Issuance not started", zap.String("kind", string(Classify(err))), zap.Error(err))
		return record, err
	}
	if record.Status == ledger.StatusCompleted {
		logger.Info("Issuance already completed", zap.String("content_id", record.ContentID))
		return record, nil
	}

	return s.run(ctx, record, fields, logger)
}

// Resume re-drives a pending issuance whose lease has expired, using the
// field snapshot stored in the ledger
func (s *issuanceService) Resume(ctx context.Context, issuanceID string) (*ledger.IssuanceRecord, error) {
	existing, err := s.ledger.Get(ctx, issuanceID)
	if err != nil {
		return nil, err
	}
	if existing.Status == ledger.StatusCompleted {
		return existing, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(existing.Fields, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode stored fields for %s: %w", issuanceID, err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return s.start(ctx, ledger.BeginRequest{
		IssuanceID:    existing.IssuanceID,
		TemplateID:    existing.TemplateID,
		Fields:        existing.Fields,
		RequestDigest: existing.RequestDigest,
	}, fields)
}

func (s *issuanceService) run(ctx context.Context, record *ledger.IssuanceRecord, fields map[string]any, logger *zap.Logger) (*ledger.IssuanceRecord, error) {
	started := time.Now()
	tracker := workflows.NewTracker(s.machine, workflows.StageReceived)
	fail := func(err error) (*ledger.IssuanceRecord, error) {
		return nil, s.fail(ctx, record, tracker, err, logger)
	}

	if err := tracker.Advance(workflows.StageResolving); err != nil {
		return fail(err)
	}
	tmpl, err := s.templates.Resolve(ctx, record.TemplateID)
	if err != nil {
		return fail(err)
	}

	if err := tracker.Advance(workflows.StageBinding); err != nil {
		return fail(err)
	}
	doc, err := binding.Bind(tmpl, fields)
	if err != nil {
		return fail(err)
	}

	if err := tracker.Advance(workflows.StageRendering); err != nil {
		return fail(err)
	}
	fontSet, err := render.LoadFonts(tmpl, s.fonts)
	if err != nil {
		return fail(err)
	}
	pattern := s.verifyPattern(tmpl)
	contentID, err := artifacts.ContentID(artifacts.ContentInput{
		EngineVersion:   render.EngineVersion,
		TemplateID:      tmpl.ID,
		TemplateVersion: tmpl.Version,
		TemplateDigest:  tmpl.Digest,
		Values:          doc.Values,
		Fonts:           fontSet.Digests(),
		Verification:    s.codes.KeyID() + "|" + pattern,
	})
	if err != nil {
		return fail(err)
	}
	code := s.codes.Code(contentID)
	logger = logger.With(zap.String("content_id", contentID))

	existing, err := retry(ctx, s, "artifact lookup", func(ctx context.Context) (lookup, error) {
		ref, found, err := s.artifacts.Lookup(ctx, contentID)
		return lookup{ref: ref, found: found}, err
	})
	if err != nil {
		return fail(err)
	}
	ref, reused := existing.ref, existing.found

	var data []byte
	if !reused {
		opts := render.Options{VerificationCode: code, Assets: s.templates}
		if s.opts.VerifyURL != "" {
			opts.VerifyURL = fmt.Sprintf(s.opts.VerifyURL, code)
		}
		data, err = s.renderer.Render(ctx, doc, fontSet, opts)
		if err != nil {
			return fail(err)
		}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	// Past this point the request context no longer applies
	durable := context.WithoutCancel(ctx)

	if err := tracker.Advance(workflows.StageStoring); err != nil {
		return fail(err)
	}
	if !reused {
		ref, err = retry(durable, s, "artifact put", func(ctx context.Context) (string, error) {
			return s.artifacts.Put(ctx, contentID, data)
		})
		if err != nil {
			return fail(err)
		}
	}

	if err := tracker.Advance(workflows.StageRecording); err != nil {
		return fail(err)
	}
	completed, err := retry(durable, s, "ledger complete", func(ctx context.Context) (*ledger.IssuanceRecord, error) {
		return s.ledger.Complete(ctx, record.IssuanceID, record.Attempts, ledger.Completion{
			ContentID:        contentID,
			ArtifactRef:      ref,
			VerificationCode: code,
		})
	})
	if err != nil {
		return fail(err)
	}

	if err := tracker.Advance(workflows.StageCompleted); err != nil {
		return fail(err)
	}
	logger.Info("Certificate issued",
		zap.String("artifact_ref", ref),
		zap.Bool("artifact_reused", reused),
		zap.Int("attempt", record.Attempts),
		zap.Duration("duration", time.Since(started)),
	)
	s.announce(durable, completed, logger)
	return completed, nil
}

func (s *issuanceService) verifyPattern(tmpl *templates.Template) string {
	if tmpl.Verification != nil && tmpl.Verification.URL != "" {
		return tmpl.Verification.URL
	}
	return s.opts.VerifyURL
}

// fail moves the issuance to failed and records why. A lost lease means
// another attempt owns the record, so it is left alone.
func (s *issuanceService) fail(ctx context.Context, record *ledger.IssuanceRecord, tracker *workflows.Tracker, cause error, logger *zap.Logger) error {
	stage := tracker.Current()
	if err := tracker.Advance(workflows.StageFailed); err != nil {
		logger.Error("Invalid stage transition", zap.Error(err))
	}
	stageErr := &StageError{IssuanceID: record.IssuanceID, Stage: stage, Err: cause}
	kind := Classify(cause)
	fields := []zap.Field{zap.String("stage", stage), zap.String("kind", string(kind)), zap.Error(cause)}

	if errors.Is(cause, ledger.ErrLeaseLost) {
		logger.Warn("Issuance lease lost", fields...)
		return stageErr
	}

	durable := context.WithoutCancel(ctx)
	reason := fmt.Sprintf("%s: %v", stage, cause)
	_, err := retry(durable, s, "ledger fail", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.ledger.Fail(ctx, record.IssuanceID, record.Attempts, reason)
	})
	if err != nil {
		logger.Error("Failed to record issuance failure", append(fields, zap.NamedError("ledger_error", err))...)
	}

	switch kind {
	case KindInput, KindRendering, KindCanceled:
		logger.Info("Issuance failed", fields...)
	default:
		logger.Error("Issuance failed", fields...)
	}

	s.record(durable, audit.Event{
		IssuanceID: record.IssuanceID,
		TemplateID: record.TemplateID,
		Action:     audit.ActionFailed,
		Stage:      stage,
		Details:    map[string]interface{}{"kind": string(kind), "reason": reason},
	}, logger)
	return stageErr
}

func (s *issuanceService) announce(ctx context.Context, record *ledger.IssuanceRecord, logger *zap.Logger) {
	s.record(ctx, audit.Event{
		IssuanceID: record.IssuanceID,
		TemplateID: record.TemplateID,
		Action:     audit.ActionIssued,
		Stage:      workflows.StageCompleted,
		Details: map[string]interface{}{
			"content_id":   record.ContentID,
			"artifact_ref": record.ArtifactRef,
			"attempt":      record.Attempts,
		},
	}, logger)

	err := s.notifier.Publish(ctx, notify.Event{
		Type:             notify.EventIssuanceCompleted,
		IssuanceID:       record.IssuanceID,
		TemplateID:       record.TemplateID,
		ContentID:        record.ContentID,
		ArtifactRef:      record.ArtifactRef,
		VerificationCode: record.VerificationCode,
		OccurredAt:       record.UpdatedAt,
	})
	if err != nil {
		logger.Warn("Failed to publish completion event", zap.Error(err))
	}
}

// record writes an audit event; the trail never fails an issuance
func (s *issuanceService) record(ctx context.Context, event audit.Event, logger *zap.Logger) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if err := s.audit.Record(ctx, event); err != nil {
		logger.Warn("Failed to record audit event", zap.String("action", event.Action), zap.Error(err))
	}
}

func (s *issuanceService) Get(ctx context.Context, issuanceID string) (*ledger.IssuanceRecord, error) {
	return s.ledger.Get(ctx, issuanceID)
}

func (s *issuanceService) Download(ctx context.Context, issuanceID string) (*Artifact, error) {
	record, err := s.ledger.Get(ctx, issuanceID)
	if err != nil {
		return nil, err
	}
	switch record.Status {
	case ledger.StatusFailed:
		return nil, fmt.Errorf("%w: %s", ledger.ErrIssuanceFailed, record.FailureReason)
	case ledger.StatusPending:
		return nil, ErrNotCompleted
	}

	out := &Artifact{Record: record}
	if presigner, ok := s.artifacts.(artifacts.Presigner); ok && s.opts.PresignTTL > 0 {
		out.URL, err = presigner.PresignedURL(ctx, record.ArtifactRef, s.opts.PresignTTL)
	} else {
		out.Data, err = s.artifacts.Get(ctx, record.ArtifactRef)
	}
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.Event{
		IssuanceID: record.IssuanceID,
		TemplateID: record.TemplateID,
		Action:     audit.ActionDownloaded,
		Details:    map[string]interface{}{"presigned": out.URL != ""},
	}, s.logger.With(zap.String("issuance_id", record.IssuanceID)))
	return out, nil
}

// Verify looks up a completed issuance by the code printed on it
func (s *issuanceService) Verify(ctx context.Context, code string) (*ledger.IssuanceRecord, error) {
	if !security.ValidCode(code) {
		return nil, ErrInvalidCode
	}
	record, err := s.ledger.FindByVerificationCode(ctx, security.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.Event{
		IssuanceID: record.IssuanceID,
		TemplateID: record.TemplateID,
		Action:     audit.ActionVerified,
	}, s.logger.With(zap.String("issuance_id", record.IssuanceID)))
	return record, nil
}
