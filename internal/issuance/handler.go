package issuance

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"certificate-portal/certificate-backend/internal/ledger"
	"certificate-portal/certificate-backend/internal/templates"
)

// IdempotencyHeader carries the issuance id when the body does not
const IdempotencyHeader = "Idempotency-Key"

// TemplateCatalog lists and resolves templates for the read endpoints
type TemplateCatalog interface {
	List(ctx context.Context) ([]string, error)
	Resolve(ctx context.Context, id string) (*templates.Template, error)
}

// Handler handles HTTP requests for certificate issuance
type Handler struct {
	service Service
	catalog TemplateCatalog
	logger  *zap.Logger
}

func NewHandler(service Service, catalog TemplateCatalog, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		catalog: catalog,
		logger:  logger,
	}
}

// RegisterRoutes registers issuance routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	certificates := router.Group("/certificates")
	{
		certificates.POST("", h.issue)
		certificates.GET("/:id", h.get)
		certificates.GET("/:id/download", h.download)
	}

	router.GET("/verify/:code", h.verify)

	tmpl := router.Group("/templates")
	{
		tmpl.GET("", h.listTemplates)
		tmpl.GET("/:id", h.getTemplate)
	}
}

// issue handles POST /api/v1/certificates
func (h *Handler) issue(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": KindInput})
		return
	}
	if req.IssuanceID == "" {
		req.IssuanceID = c.GetHeader(IdempotencyHeader)
	}

	record, err := h.service.Issue(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

// get handles GET /api/v1/certificates/:id
func (h *Handler) get(c *gin.Context) {
	record, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// download handles GET /api/v1/certificates/:id/download
func (h *Handler) download(c *gin.Context) {
	artifact, err := h.service.Download(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if artifact.URL != "" {
		c.Redirect(http.StatusFound, artifact.URL)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.pdf"`, artifact.Record.IssuanceID))
	c.Header("ETag", `"`+artifact.Record.ContentID+`"`)
	c.Data(http.StatusOK, "application/pdf", artifact.Data)
}

// verify handles GET /api/v1/verify/:code
func (h *Handler) verify(c *gin.Context) {
	record, err := h.service.Verify(c.Request.Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, ledger.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"valid": false})
			return
		}
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":       true,
		"issuance_id": record.IssuanceID,
		"template_id": record.TemplateID,
		"content_id":  record.ContentID,
		"issued_at":   record.UpdatedAt,
		"fields":      record.Fields,
	})
}

// listTemplates handles GET /api/v1/templates
func (h *Handler) listTemplates(c *gin.Context) {
	ids, err := h.catalog.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": ids})
}

// getTemplate handles GET /api/v1/templates/:id
func (h *Handler) getTemplate(c *gin.Context) {
	tmpl, err := h.catalog.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	kind := Classify(err)
	status := StatusFor(err)
	body := gin.H{"error": err.Error(), "kind": kind}

	var stageErr *StageError
	if errors.As(err, &stageErr) {
		body["stage"] = stageErr.Stage
		body["issuance_id"] = stageErr.IssuanceID
	}
	if kind == KindInput {
		if problems := problemsOf(err); len(problems) > 1 {
			body["problems"] = problems
		}
	}
	if kind == KindConcurrency {
		c.Header("Retry-After", "1")
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
	c.JSON(status, body)
}

// StatusFor maps an error onto the HTTP status reported to callers
func StatusFor(err error) int {
	switch Classify(err) {
	case KindInput:
		switch {
		case errors.Is(err, templates.ErrTemplateNotFound):
			return http.StatusNotFound
		case errors.Is(err, ledger.ErrIdempotencyConflict):
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRendering:
		return http.StatusUnprocessableEntity
	case KindConcurrency, KindFailed:
		return http.StatusConflict
	case KindTransient, KindCanceled:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// problemsOf flattens joined errors into one message each
func problemsOf(err error) []string {
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		return nil
	}
	var out []string
	for _, e := range joined.Unwrap() {
		out = append(out, e.Error())
	}
	return out
}
