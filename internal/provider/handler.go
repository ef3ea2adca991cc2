// Package provider implements the host platform's plugin protocol on top of
// the assessment backend. Every host-facing failure on export and create is
// answered with a 200 envelope the host can render.
package provider

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/celerix-dev/assessment-bridge/internal/middleware"
	"github.com/celerix-dev/assessment-bridge/internal/platform/logger"
	"github.com/celerix-dev/assessment-bridge/internal/platform/tracing"
	"github.com/celerix-dev/assessment-bridge/internal/vault"
	"github.com/celerix-dev/assessment-bridge/pkg/sdk"
)

const maxBodyBytes = 1 << 20

// Config holds the adapter settings the handlers need.
type Config struct {
	Name         string
	APIKey       string
	APIKeyHeader string
	// PublicURL is the base of record and report links sent to the host.
	PublicURL   string
	WebhookURL  string
	PlatformURL string
	SigningKey  string
}

type Handler struct {
	backend sdk.Backend
	cfg     Config
	log     *logger.Logger
	tracer  trace.Tracer
}

func NewHandler(backend sdk.Backend, cfg Config, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Name == "" {
		cfg.Name = "ExampleAssessments Provider"
	}
	return &Handler{
		backend: backend,
		cfg:     cfg,
		log:     log.With("component", "provider"),
		tracer:  tracing.Tracer("provider"),
	}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/hello", h.Hello)
	r.POST("/", h.Describe)
	r.POST(metaEndpoint, h.Export)
	r.POST(submitEndpoint, h.CreateAssessment)
	r.POST(webhookEndpoint, h.Webhook)
}

func (h *Handler) Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"Message": "Hello, World!"})
}

func (h *Handler) Describe(c *gin.Context) {
	c.JSON(http.StatusOK, NewDescriptor(h.cfg.Name, h.cfg.APIKeyHeader))
}

// Export returns the dynamic form. A failed package lookup leaves the test
// selector empty instead of failing the form.
func (h *Handler) Export(c *gin.Context) {
	if !middleware.Authorized(c, h.cfg.APIKeyHeader, h.cfg.APIKey) {
		h.log.Warn("export rejected", "reason", "missing or invalid api key")
		c.JSON(http.StatusOK, UnauthorizedForm())
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "provider.Export")
	defer span.End()

	options := []SelectOption{}
	pkgs, err := h.backend.ListPackages(ctx)
	if err != nil {
		span.RecordError(err)
		h.log.Warn("listing packages failed", "error", err)
	} else {
		options = PackageOptions(pkgs)
	}
	span.SetAttributes(attribute.Int("packages.count", len(options)))
	c.JSON(http.StatusOK, ExportForm(options))
}

func (h *Handler) CreateAssessment(c *gin.Context) {
	if !middleware.Authorized(c, h.cfg.APIKeyHeader, h.cfg.APIKey) {
		c.JSON(http.StatusOK, Failure(ToastFor(sdk.ErrUnauthorized)))
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "provider.CreateAssessment")
	defer span.End()

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("create request malformed", "error", err)
		c.JSON(http.StatusOK, Failure(ToastFor(sdk.ErrMalformedPayload)))
		return
	}

	payload, err := BuildCreateRequest(req, h.cfg.WebhookURL, h.cfg.PlatformURL)
	if err != nil {
		h.log.Warn("create request rejected", "error", err)
		c.JSON(http.StatusOK, Failure(ToastFor(err)))
		return
	}

	rec, err := h.backend.CreateAssessment(ctx, payload)
	if err != nil {
		span.RecordError(err)
		h.log.Error("create assessment failed", "package_id", payload.PackageID, "error", err)
		c.JSON(http.StatusOK, Failure(ToastFor(err)))
		return
	}

	span.SetAttributes(attribute.String("assessment.id", rec.ID))
	h.log.Info("assessment created", "assessment_id", rec.ID, "package_id", rec.PackageID)
	base := h.publicURL(c)
	if base == "" {
		base = strings.TrimRight(req.ConfigValue(baseURLConfigKey), "/")
	}
	c.JSON(http.StatusOK, Success(rec, base))
}

// Webhook re-maps a relay notification for the host. With a signing key
// configured the X-Verify signature over the notification is mandatory.
func (h *Handler) Webhook(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body", "code": "malformed_payload"})
		return
	}

	n, signed, err := DecodeWebhook(raw)
	if err != nil {
		h.log.Warn("webhook rejected", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "malformed_payload"})
		return
	}

	if h.cfg.SigningKey != "" && !vault.Verify(signed, []byte(h.cfg.SigningKey), c.GetHeader(vault.SignatureHeader)) {
		h.log.Warn("webhook signature mismatch", "assessment_id", n.ID)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
		return
	}

	h.log.Info("webhook received", "assessment_id", n.ID, "status", n.Status)
	c.JSON(http.StatusOK, UpdateFor(n, h.publicURL(c)))
}

// publicURL prefers the configured base and falls back to the host's
// apiBaseURL header. Creation additionally falls back to the apiBaseURL value
// in the request body.
func (h *Handler) publicURL(c *gin.Context) string {
	if h.cfg.PublicURL != "" {
		return h.cfg.PublicURL
	}
	return strings.TrimRight(c.GetHeader(BaseURLHeader), "/")
}
